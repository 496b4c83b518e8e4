package pagemap

import "github.com/hypatia-hypervisor/hypatia/kernel/addr"

// level describes one of the four paging levels' fixed recursive-mapping
// windows: the virtual base at which every entry at this
// level is addressable through the self-map, the equivalent base through
// the side-map, and the shift used to fold a virtual address down to this
// level's cumulative index.
type level struct {
	selfBase uintptr
	sideBase uintptr
	shift    uint
}

// levels[0] is L4, levels[3] is L1. pageLevels is the number of levels a
// full walk traverses.
const pageLevels = 4

var levels = [pageLevels]level{
	{selfBase: 0xFFFF_FFFF_FFFF_F000, sideBase: 0xFFFF_FFFF_FFFF_E000, shift: 39},
	{selfBase: 0xFFFF_FFFF_FFE0_0000, sideBase: 0xFFFF_FFFF_FFC0_0000, shift: 30},
	{selfBase: 0xFFFF_FFFF_C000_0000, sideBase: 0xFFFF_FFFF_8000_0000, shift: 21},
	{selfBase: 0xFFFF_FF80_0000_0000, sideBase: 0xFFFF_FF00_0000_0000, shift: 12},
}

// windowSize is the byte span of the self/side window for level index i (0
// = L4 .. 3 = L1): 4 KiB for the single L4 table, scaling up by 512x per
// level below it (L3 = 2 MiB, L2 = 1 GiB, L1 = 512 GiB).
func windowSize(i int) uintptr {
	return uintptr(1) << uint(12+9*i)
}

// index folds va down to its cumulative index at this level: the value i
// such that selfBase + i*8 is the virtual address of the entry governing
// va. This is exactly addr.VAddr[addr.K4].Index, reused here so the two
// packages agree on the one recursive-addressing formula instead of
// keeping two copies of it.
func index(va uintptr, lvl int) uintptr {
	v := addr.MustNew[addr.K4](va &^ 0xFFF)
	return v.Index(lvl)
}

// entryAddr returns the virtual address of the PTE governing va at lvl,
// through either the self-map or (if side is true) the side-map window.
func entryAddr(va uintptr, lvl int, side bool) uintptr {
	l := levels[lvl]
	base := l.selfBase
	if side {
		base = l.sideBase
	}
	return base + index(va, lvl)*8
}

// inAnyWindow reports whether va falls inside any of the eight self/side
// recursive-mapping windows: no leaf may
// ever be mapped there, since doing so would corrupt the recursive map
// itself.
func inAnyWindow(va uintptr) bool {
	for i, l := range levels {
		sz := windowSize(i)
		if va >= l.selfBase && va-l.selfBase < sz {
			return true
		}
		if va >= l.sideBase && va-l.sideBase < sz {
			return true
		}
	}
	return false
}
