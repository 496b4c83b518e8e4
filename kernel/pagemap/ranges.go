package pagemap

import (
	"errors"

	"github.com/hypatia-hypervisor/hypatia/kernel/addr"
)

// ErrShareTooSmall is returned by ShareRange when the remaining length is
// smaller than a single 4 KiB page, so no level's entry can cover it.
var ErrShareTooSmall = errors.New("pagemap: shared region is smaller than one page")

// ensureInterior walks the L4, L3 and L2 entries for va, installing a
// freshly allocated PRESENT|WRITE child table at any level found missing
// (when allowAlloc is true). It never touches the L1 entry. This is the
// shared core behind Map's interior path and MakeRanges/MakeSharedRanges.
func ensureInterior(va uintptr, allowAlloc bool, alloc AllocFunc) error {
	for lvl := 0; lvl < pageLevels-1; lvl++ {
		pte := (*PTE)(ptePtrFn(entryAddr(va, lvl, false)))
		entry := Load(pte)

		if entry.IsPresent() {
			if entry.IsBig() {
				return ErrNoHugePageSupport
			}
			continue
		}

		if !allowAlloc {
			return ErrAllocatorFailed
		}

		childFrame, err := alloc()
		if err != nil {
			return ErrAllocatorFailed
		}

		Assign(pte, New(childFrame.HPA(), FlagPresent|FlagWrite))

		childTableAddr := levels[lvl+1].selfBase + index(va, lvl)*4096
		zeroFn(childTableAddr, 4096)
	}

	return nil
}

// Range is a half-open span of 4 KiB virtual pages, [Start, End).
type Range struct {
	Start addr.VAddr[addr.K4]
	End   addr.VAddr[addr.K4]
}

// forEachPage calls fn with the virtual address of every 4 KiB page in r.
func (r Range) forEachPage(fn func(va uintptr)) {
	const pageSize = 1 << 12
	for va := r.Start.Addr(); va < r.End.Addr(); va += pageSize {
		fn(va)
	}
}

// MakeRanges ensures that the L4, L3 and L2 entries along every 4 KiB step
// of every range in ranges exist, allocating PRESENT|WRITE interior frames
// through alloc as needed. L1 entries are left untouched.
func MakeRanges(ranges []Range, alloc AllocFunc) error {
	for _, r := range ranges {
		var rErr error
		r.forEachPage(func(va uintptr) {
			if rErr != nil {
				return
			}
			rErr = ensureInterior(va, true, alloc)
		})
		if rErr != nil {
			return rErr
		}
	}
	return nil
}

// MakeSharedRanges does what MakeRanges does and additionally, at the L4
// step of every range, copies the current root's freshly-installed L4
// entry into the side-loaded root's L4 slot for the same address -
// producing an address space that shares the entire subtree below L4 with
// the current one for those ranges. sideRoot must already be
// side-loaded via SideLoad before this is called.
func MakeSharedRanges(ranges []Range, alloc AllocFunc) error {
	for _, r := range ranges {
		var rErr error
		r.forEachPage(func(va uintptr) {
			if rErr != nil {
				return
			}
			if rErr = ensureInterior(va, true, alloc); rErr != nil {
				return
			}

			selfL4 := (*PTE)(ptePtrFn(entryAddr(va, 0, false)))
			sideL4 := (*PTE)(ptePtrFn(entryAddr(va, 0, true)))
			Assign(sideL4, Load(selfL4))
		})
		if rErr != nil {
			return rErr
		}
	}
	return nil
}

// ShareRange copies the entry governing va from the current space into the
// side-loaded space, choosing the coarsest level (L4 down to L1) whose
// window still fits within [va, va+remaining) - creating intermediate
// side-map levels through alloc as needed so the copied entry is
// reachable.
func ShareRange(va uintptr, remaining uintptr, alloc AllocFunc) error {
	if alloc == nil {
		alloc = failingAlloc
	}

	for lvl := 0; lvl < pageLevels; lvl++ {
		levelSize := uintptr(1) << uint(12+9*(pageLevels-1-lvl))
		aligned := va%levelSize == 0
		fits := remaining >= levelSize

		if !aligned || !fits {
			continue
		}

		// Every more-significant side-map level down to lvl must exist
		// before the entry itself is written.
		for parent := 0; parent < lvl; parent++ {
			sidePTE := (*PTE)(ptePtrFn(entryAddr(va, parent, true)))
			if Load(sidePTE).IsPresent() {
				continue
			}

			childFrame, err := alloc()
			if err != nil {
				return ErrAllocatorFailed
			}
			Assign(sidePTE, New(childFrame.HPA(), FlagPresent|FlagWrite))

			childTableAddr := levels[parent+1].sideBase + index(va, parent)*4096
			zeroFn(childTableAddr, 4096)
		}

		selfPTE := (*PTE)(ptePtrFn(entryAddr(va, lvl, false)))
		sidePTE := (*PTE)(ptePtrFn(entryAddr(va, lvl, true)))
		Assign(sidePTE, Load(selfPTE))
		return nil
	}

	// remaining was smaller than one 4 KiB page, so no level can fit.
	return ErrShareTooSmall
}

// UnmapRootRanges clears only the L4 entries covering every range, leaving
// the subtrees they pointed to untouched in physical memory:
// used to turn a fully-populated Task prototype address space into a root
// that holds nothing but its self-map slot plus whatever has already been
// shared out via MakeSharedRanges/ShareRange.
func UnmapRootRanges(ranges []Range) {
	seen := map[uintptr]bool{}
	for _, r := range ranges {
		r.forEachPage(func(va uintptr) {
			l4Addr := entryAddr(va, 0, false)
			if seen[l4Addr] {
				return
			}
			seen[l4Addr] = true
			Clear((*PTE)(ptePtrFn(l4Addr)))
		})
	}
}
