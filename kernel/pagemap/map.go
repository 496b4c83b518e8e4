package pagemap

import (
	"errors"

	"github.com/hypatia-hypervisor/hypatia/kernel/addr"
	"github.com/hypatia-hypervisor/hypatia/kernel/cpuhw"
)

// Permission is the R/W/X triple requested for a leaf mapping.
type Permission struct {
	Read, Write, Exec bool
}

// AllocFunc returns a fresh, zero-filled 4 KiB frame for use as an interior
// page table, or an error if none is available.
type AllocFunc func() (addr.Frame[addr.K4], error)

var (
	// ErrAlreadyMapped is returned when Map's target L1 entry is already
	// present.
	ErrAlreadyMapped = errors.New("pagemap: virtual address is already mapped")
	// ErrAllocatorFailed is returned when an interior table is missing and
	// either allocation is not allowed or the caller's AllocFunc fails; the
	// AllocFunc's own error is not carried along.
	ErrAllocatorFailed = errors.New("pagemap: interior frame allocation failed")
	// ErrForbiddenRegion is returned when va falls inside a self- or
	// side-map window.
	ErrForbiddenRegion = errors.New("pagemap: address falls within a self- or side-map window")
	// ErrNoHugePageSupport is returned by Map when it encounters an
	// existing HUGE interior entry along the path; only 4 KiB leaves are
	// ever installed by this package.
	ErrNoHugePageSupport = errors.New("pagemap: huge interior entries are not supported by Map")

	// zeroFn clears a freshly allocated interior table's self-mapped
	// contents. It reaches the table through ptePtrFn, so tests that back
	// the recursive map with plain Go memory need not replace it.
	zeroFn = func(vaddr uintptr, size uintptr) {
		p := (*[1 << 30]byte)(ptePtrFn(vaddr))[:size:size]
		for i := range p {
			p[i] = 0
		}
	}

	// flushFn is the TLB-invalidation primitive used after installing or
	// removing a leaf. Overridden by tests.
	flushFn = cpuhw.InvalidatePage
)

// failingAlloc always fails; MapLeaf passes it to Map since every interior
// node along a MapLeaf call is expected to already exist.
func failingAlloc() (addr.Frame[addr.K4], error) {
	return addr.Frame[addr.K4]{}, ErrAllocatorFailed
}

// Map installs frame as the leaf mapping for va with the given permission,
// allocating any missing interior tables via alloc when allowAlloc is
// true. It is the one operation that mutates the page tree on the path
// from L4 down to the L1 leaf.
func Map(va addr.VAddr[addr.K4], frame addr.Frame[addr.K4], perm Permission, allowAlloc bool, alloc AllocFunc) error {
	if inAnyWindow(va.Addr()) {
		return ErrForbiddenRegion
	}
	if alloc == nil {
		alloc = failingAlloc
	}

	if err := ensureInterior(va.Addr(), allowAlloc, alloc); err != nil {
		return err
	}

	leafPTE := (*PTE)(ptePtrFn(entryAddr(va.Addr(), pageLevels-1, false)))
	if Load(leafPTE).IsPresent() {
		return ErrAlreadyMapped
	}

	flags := leafFlags(perm)
	Assign(leafPTE, New(frame.HPA(), flags))
	flushFn(va.Addr())

	return nil
}

// MapLeaf installs frame at va, requiring every interior table along the
// path to already exist.
func MapLeaf(va addr.VAddr[addr.K4], frame addr.Frame[addr.K4], perm Permission) error {
	return Map(va, frame, perm, false, failingAlloc)
}

// leafFlags converts a Permission into the hardware flag encoding: R
// implies PRESENT, W implies WRITE, the absence of X sets NX.
func leafFlags(perm Permission) Flag {
	var flags Flag
	if perm.Read {
		flags |= FlagPresent
	}
	if perm.Write {
		flags |= FlagWrite
	}
	if !perm.Exec {
		flags |= FlagNX
	}
	return flags
}

// Unmap clears the L1 entry governing va, leaving every interior table
// intact.
func Unmap(va addr.VAddr[addr.K4]) error {
	pte, ok := pteFor(va.Addr())
	if !ok {
		return ErrNotMapped
	}
	Clear(pte)
	flushFn(va.Addr())
	return nil
}
