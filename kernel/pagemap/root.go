package pagemap

import (
	"github.com/hypatia-hypervisor/hypatia/kernel/addr"
	"github.com/hypatia-hypervisor/hypatia/kernel/config"
)

// directMapFn resolves a physical frame address to a virtual address at
// which it is already writable, used only while constructing a brand-new,
// not-yet-active root: the loader's fixed high-base direct map
// makes the usual self-map temporary-mapping dance unnecessary for any
// frame below 4 GiB, which every frame the loader ever allocates is.
// Overridden by tests.
var directMapFn = config.DirectMap

// NewRoot initializes rootFrame as a fresh address-space root: it zeroes
// the frame and installs the self-map invariant, slot 511 pointing at the
// root itself with PRESENT|WRITE.
func NewRoot(rootFrame addr.Frame[addr.K4]) addr.HPA {
	rootVA := directMapFn(rootFrame.HPA())

	zeroFn(rootVA, 4096)

	const selfSlot = 511
	selfEntryVA := rootVA + selfSlot*8
	pte := (*PTE)(ptePtrFn(selfEntryVA))
	Assign(pte, New(rootFrame.HPA(), FlagPresent|FlagWrite))

	return rootFrame.HPA()
}
