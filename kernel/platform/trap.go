package platform

import (
	"unsafe"

	"github.com/hypatia-hypervisor/hypatia/kernel/boot"
)

// Frame is the canonical register-save frame the trap dispatch stub builds
// before calling into Go. Field order mirrors the stack layout
// commonTrap leaves behind, lowest address first: the general-purpose
// registers the stub pushed, then the vector number and error code (pushed
// by the per-vector stub, with a synthetic zero error code for vectors the
// CPU does not supply one for), then what the CPU itself pushed.
type Frame struct {
	RAX, RBX, RCX, RDX uint64
	RSI, RDI, RBP      uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64

	Vector    uint64
	ErrorCode uint64

	RIP, CS, RFlags, RSP, SS uint64
}

// DefaultHandler handles every trap delivered during boot: it prints and
// halts through kernel/boot, since no supervisor policy has taken over
// control of the trap table yet.
var DefaultHandler = func(f *Frame) {
	boot.Panic(&boot.Error{Module: "platform", Message: "unhandled trap"})
}

// dispatchTrap is called by every assembly stub in trap_amd64.s once the
// Frame has been assembled on the stack. It is exported to assembly via
// its Go symbol name (·dispatchTrap(SB)).
func dispatchTrap(f *Frame) {
	DefaultHandler(f)
}

// The four trap entry points implemented in trap_amd64.s: one shared
// default stub installed at every vector, and three dedicated stubs for
// the vectors that carry a distinct IST (debug, NMI, double-fault) and
// therefore need their own vector number baked in rather than sharing the
// default stub's.
func trapStubDefault()
func trapStubDebug()
func trapStubNMI()
func trapStubDoubleFault()

// funcAddr extracts the code address of a bodyless, asm-backed Go
// function. Early boot code cannot use reflect (it is not safe before the
// Go runtime is fully up), so this dereferences the function value's code
// pointer directly.
func funcAddr(fn func()) uintptr {
	return **(**uintptr)(unsafe.Pointer(&fn))
}

func trapStubDefaultAddr() uintptr      { return funcAddr(trapStubDefault) }
func trapStubDebugAddr() uintptr        { return funcAddr(trapStubDebug) }
func trapStubNMIAddr() uintptr          { return funcAddr(trapStubNMI) }
func trapStubDoubleFaultAddr() uintptr  { return funcAddr(trapStubDoubleFault) }
