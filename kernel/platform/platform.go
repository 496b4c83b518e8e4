package platform

import (
	"github.com/hypatia-hypervisor/hypatia/kernel/boot"
	"github.com/hypatia-hypervisor/hypatia/kernel/cpuhw"
)

// loadGDTFn, loadIDTFn and loadTRFn are the seams tests substitute; in
// production they are cpuhw's bodyless, asm-backed primitives.
var (
	loadGDTFn = cpuhw.LoadGDT
	loadIDTFn = cpuhw.LoadIDT
	loadTRFn  = cpuhw.LoadTR
)

var started bool

// Start installs the GDT, TSS and IDT and loads all three.
// It is idempotent in the sense that calling it more than once is a fatal
// platform_misconfigured error: the loader's own contract promises this
// runs exactly once, and a second call would mean cold-boot sequencing has
// gone wrong.
func Start() {
	if started {
		boot.Panic(&boot.Error{Module: "platform", Message: "platform.Start called more than once"})
	}
	started = true

	tss.IST1 = stackTop(ist1Stack[:])
	tss.IST3 = stackTop(ist3Stack[:])

	installGDT()
	installIDT()
}
