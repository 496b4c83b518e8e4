package platform

import (
	"unsafe"

	"github.com/hypatia-hypervisor/hypatia/kernel/config"
)

// idtEntries is the number of vectors a 256-entry IDT covers.
const idtEntries = 256

// idtGate is a 64-bit interrupt-gate descriptor.
type idtGate struct {
	offsetLow  uint16
	selector   uint16
	istAndZero uint8
	typeAttr   uint8
	offsetMid  uint16
	offsetHigh uint32
	reserved   uint32
}

const (
	gateTypeInterrupt = 0x8E // present, DPL 0, 64-bit interrupt gate
)

var idt [idtEntries]idtGate

type idtPtr struct {
	limit uint16
	base  uint64
}

// setGate installs handlerAddr as the entry for vector, using the IST slot
// ist (0 means "no IST, use the current stack").
func setGate(vector int, handlerAddr uintptr, ist uint8) {
	idt[vector] = idtGate{
		offsetLow:  uint16(handlerAddr),
		selector:   selCode64,
		istAndZero: ist & 0x7,
		typeAttr:   gateTypeInterrupt,
		offsetMid:  uint16(handlerAddr >> 16),
		offsetHigh: uint32(handlerAddr >> 32),
	}
}

// installIDT points every vector at the shared default stub, then
// overrides the three vectors that need a dedicated IST: debug and NMI run
// on IST1, double-fault runs on IST3 (the assignments are named constants
// in kernel/config rather than magic numbers here).
func installIDT() {
	defaultAddr := trapStubDefaultAddr()
	for v := 0; v < idtEntries; v++ {
		setGate(v, defaultAddr, 0)
	}

	setGate(config.VectorDebug, trapStubDebugAddr(), config.ISTDebug)
	setGate(config.VectorNMI, trapStubNMIAddr(), config.ISTNMI)
	setGate(config.VectorDoubleFault, trapStubDoubleFaultAddr(), config.ISTDoubleFault)

	ptr := idtPtr{
		limit: uint16(unsafe.Sizeof(idt) - 1),
		base:  uint64(uintptr(unsafe.Pointer(&idt))),
	}
	loadIDTFn(uintptr(unsafe.Pointer(&ptr)))
}
