package pagemap

import (
	"errors"

	"github.com/hypatia-hypervisor/hypatia/kernel/addr"
)

// ErrNotMapped is returned by Translate when va's walk never reaches a
// present leaf.
var ErrNotMapped = errors.New("pagemap: virtual address is not mapped")

// Translate resolves va to the physical address it currently maps to,
// combining the terminal frame's address with the residual low bits of va.
// A big-page leaf at L3 or L2 is a valid terminal result with a
// correspondingly wider residual.
func Translate(va uintptr) (addr.HPA, error) {
	res := Walk(va)

	if res.BigAt != -1 {
		// L3 (index 1) covers a 1 GiB leaf (30 residual bits); L2 (index 2)
		// covers a 2 MiB leaf (21 residual bits).
		residualShift := uint(30)
		if res.BigAt == 2 {
			residualShift = 21
		}
		frame := uint64(res.Entries[res.BigAt].Frame())
		residual := uint64(va) & ((uint64(1) << residualShift) - 1)
		return addr.NewHPA(frame | residual), nil
	}

	if res.Reached != pageLevels || !res.Entries[pageLevels-1].IsPresent() {
		return 0, ErrNotMapped
	}

	frame := uint64(res.Entries[pageLevels-1].Frame())
	residual := uint64(va) & 0xFFF
	return addr.NewHPA(frame | residual), nil
}
