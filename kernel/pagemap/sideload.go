package pagemap

import (
	"errors"

	"github.com/hypatia-hypervisor/hypatia/kernel/addr"
)

// ErrSideLoadBusy is returned by SideLoad when slot 510 already names a
// foreign root.
var ErrSideLoadBusy = errors.New("pagemap: a side-loaded address space is already active")

// ErrNoSideLoad is returned by UnloadSide when slot 510 is empty.
var ErrNoSideLoad = errors.New("pagemap: no side-loaded address space is active")

// sideSlot is the L4 slot index reserved for the side-loaded foreign
// root; slot 511 is the self-map.
const sideSlot = 510

var sideLoadActive bool

func sideSlotAddr() uintptr {
	return levels[0].selfBase + sideSlot*8
}

// SideLoad installs root as the foreign address space reachable through the
// side-map windows: it writes root into L4 slot 510 of the
// current address space and flushes the TLB. Only one side-loaded space
// may be active at a time.
func SideLoad(root addr.HPA) error {
	if sideLoadActive {
		return ErrSideLoadBusy
	}

	defer ScopedFlush()()

	pte := (*PTE)(ptePtrFn(sideSlotAddr()))
	Assign(pte, New(root, FlagPresent|FlagWrite))
	sideLoadActive = true
	return nil
}

// UnloadSide clears L4 slot 510 and returns the root that was previously
// side-loaded there.
func UnloadSide() (addr.HPA, error) {
	if !sideLoadActive {
		return 0, ErrNoSideLoad
	}

	defer ScopedFlush()()

	pte := (*PTE)(ptePtrFn(sideSlotAddr()))
	prev := Load(pte).Frame()
	Clear(pte)
	sideLoadActive = false
	return prev, nil
}
