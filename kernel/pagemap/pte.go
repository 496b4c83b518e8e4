// Package pagemap implements the recursive 4-level amd64 page table: atomic
// page-table entries, a top-down walk over the self-mapped virtual windows,
// translation, range construction, and the side-loaded foreign-root slot
// used to manipulate another address space's tables from within the
// current one.
//
// The four levels are not a runtime type hierarchy; each is a row in a
// small table of constants (base, side-base, shift), and the level-specific
// arithmetic is a switch over those rows.
package pagemap

import (
	"sync/atomic"
	"unsafe"

	"github.com/hypatia-hypervisor/hypatia/kernel/addr"
)

// Flag describes a bit in a page table entry.
type Flag uint64

// The flag set a PTE can carry. Bit layout matches the amd64 MMU's page
// table entry format.
const (
	FlagPresent      Flag = 1 << 0
	FlagWrite        Flag = 1 << 1
	FlagUser         Flag = 1 << 2
	FlagWriteThrough Flag = 1 << 3
	FlagNoCache      Flag = 1 << 4
	FlagAccessed     Flag = 1 << 5
	FlagDirty        Flag = 1 << 6
	FlagHuge         Flag = 1 << 7
	FlagGlobal       Flag = 1 << 8
	FlagNX           Flag = 1 << 63
)

// ptePhysMask selects bits 12..51, the 40-bit frame address a PTE carries.
const ptePhysMask uint64 = 0x000F_FFFF_FFFF_F000

// PTE is a single 64-bit page table entry. PTEs are always accessed through
// a *PTE obtained from a self-map or side-map window; the value type itself
// carries no pointer.
type PTE uint64

// New constructs a PTE value pointing at hpa with the given flags. It
// panics if hpa is not frame-aligned, since an unaligned frame address can
// never arise from a legitimate allocation or decode.
func New(hpa addr.HPA, flags Flag) PTE {
	if !hpa.IsAligned(12) {
		panic("pagemap: frame address is not page-aligned")
	}
	return PTE(uint64(hpa.Uintptr())&ptePhysMask | uint64(flags))
}

// Frame returns the physical frame address this entry names.
func (p PTE) Frame() addr.HPA {
	return addr.NewHPA(uint64(p) & ptePhysMask)
}

// Flags returns the full flag word of the entry.
func (p PTE) Flags() Flag {
	return Flag(uint64(p) &^ ptePhysMask)
}

// HasFlags reports whether every bit in flags is set.
func (p PTE) HasFlags(flags Flag) bool {
	return uint64(p)&uint64(flags) == uint64(flags)
}

// IsPresent reports whether the PRESENT bit is set.
func (p PTE) IsPresent() bool { return p.HasFlags(FlagPresent) }

// IsBig reports whether the HUGE bit is set (a leaf at L3 or L2).
func (p PTE) IsBig() bool { return p.HasFlags(FlagHuge) }

// IsZero reports whether the entry is the all-zero value.
func (p PTE) IsZero() bool { return p == 0 }

// loadRelaxed reads *p with relaxed ordering: whole-PTE reads used to
// traverse the walk are not synchronizing on their own, only the presence
// check that follows them is meaningful.
func loadRelaxed(p *PTE) PTE {
	return PTE(atomic.LoadUint64((*uint64)(unsafe.Pointer(p))))
}

// storeRelaxed installs *p with relaxed ordering. Used for initial
// installation of a whole entry, which is never concurrently
// observed by another mutator.
func storeRelaxed(p *PTE, v PTE) {
	atomic.StoreUint64((*uint64)(unsafe.Pointer(p)), uint64(v))
}

// Clear zeroes *p.
func Clear(p *PTE) {
	storeRelaxed(p, 0)
}

// Assign installs v into *p as a whole-word relaxed store.
func Assign(p *PTE, v PTE) {
	storeRelaxed(p, v)
}

// Enable sets flags on *p via an acquire/release compare-and-swap loop, so
// that the change is visible before a paired TLB flush is observed.
func Enable(p *PTE, flags Flag) {
	raw := (*uint64)(unsafe.Pointer(p))
	for {
		old := atomic.LoadUint64(raw)
		next := old | uint64(flags)
		if old == next || atomic.CompareAndSwapUint64(raw, old, next) {
			return
		}
	}
}

// Disable clears flags on *p via the same acquire/release CAS loop as Enable.
func Disable(p *PTE, flags Flag) {
	raw := (*uint64)(unsafe.Pointer(p))
	for {
		old := atomic.LoadUint64(raw)
		next := old &^ uint64(flags)
		if old == next || atomic.CompareAndSwapUint64(raw, old, next) {
			return
		}
	}
}

// Load reads *p with relaxed ordering. Exported for callers (walk, Translate)
// that need the entry's value without mutating it.
func Load(p *PTE) PTE {
	return loadRelaxed(p)
}

// Format renders a PTE the way the loader's diagnostic log does:
// "{X|-}:0x{frame}:{GHDAC}{U}{W}{R}" where the leading X marks an
// executable entry (NX clear), the middle 0x field is the frame address
// with no padding, and the trailing eight characters mark
// Global/Huge/Dirty/Accessed/NoCache/User/Write/Present, each a dash when
// clear. NoCache renders as a struck-through C (U+0043 U+0336) instead of a
// plain dash-to-letter toggle, since "no cache" is best read as the cache
// indicator crossed out rather than as a enabled/disabled letter.
func Format(p PTE) string {
	exec := byte('X')
	if p.HasFlags(FlagNX) {
		exec = '-'
	}

	flagByte := func(set bool, c byte) string {
		if !set {
			return "-"
		}
		return string(c)
	}

	out := string(exec) + ":0x" + hex(uint64(p.Frame())) + ":" +
		flagByte(p.HasFlags(FlagGlobal), 'G') +
		flagByte(p.HasFlags(FlagHuge), 'H') +
		flagByte(p.HasFlags(FlagDirty), 'D') +
		flagByte(p.HasFlags(FlagAccessed), 'A')

	if p.HasFlags(FlagNoCache) {
		out += "C̶"
	} else {
		out += "-"
	}

	out += flagByte(p.HasFlags(FlagUser), 'U') +
		flagByte(p.HasFlags(FlagWrite), 'W') +
		flagByte(p.HasFlags(FlagPresent), 'R')

	return out
}

// hex renders v as lowercase hex with no leading zeros, matching the
// "0xabc000" style debug output expects.
func hex(v uint64) string {
	if v == 0 {
		return "0"
	}
	const digits = "0123456789abcdef"
	var buf [16]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v&0xF]
		v >>= 4
	}
	return string(buf[i:])
}
