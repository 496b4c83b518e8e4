package pagemap

import "github.com/hypatia-hypervisor/hypatia/kernel/cpuhw"

// readCR3Fn and writeCR3Fn are the seams tests substitute; in production
// they are cpuhw.ReadCR3/cpuhw.WriteCR3.
var (
	readCR3Fn  = cpuhw.ReadCR3
	writeCR3Fn = cpuhw.WriteCR3
)

// FlushTLB re-writes CR3 with its current value, the standard way to flush
// every non-global TLB entry on amd64.
func FlushTLB() {
	writeCR3Fn(readCR3Fn())
}

// ScopedFlush returns a function that performs FlushTLB; callers defer the
// returned function so the flush happens on every exit path out of the
// scope it guards.
func ScopedFlush() func() {
	return FlushTLB
}
