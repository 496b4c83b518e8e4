package boot

import (
	"github.com/hypatia-hypervisor/hypatia/kernel/cpuhw"
	"github.com/hypatia-hypervisor/hypatia/kernel/kfmt"
)

// haltFn is mocked by tests; it is cpuhw.Halt in production.
var haltFn = cpuhw.Halt

var errUnknownPanic = &Error{Module: "boot", Message: "unknown cause"}

// Panic prints the supplied cause as a delimited frame over the active
// kfmt.Sink and halts the processor. Panic never returns.
//
// The accepted cause types mirror what can reach this call in a
// freestanding binary before the Go runtime's full panic/recover machinery
// is trustworthy: a *Error raised by one of the loader's subsystems, a
// plain string, or anything satisfying the error interface.
func Panic(cause interface{}) {
	var err *Error

	switch t := cause.(type) {
	case *Error:
		err = t
	case string:
		errUnknownPanic.Message = t
		err = errUnknownPanic
	case error:
		errUnknownPanic.Message = t.Error()
		err = errUnknownPanic
	case nil:
		err = nil
	default:
		errUnknownPanic.Message = "unrecognized panic value"
		err = errUnknownPanic
	}

	kfmt.Printf("PANIC: ")
	if err != nil {
		kfmt.Printf("[%s] %s", err.Module, err.Message)
	}
	kfmt.Printf("\nSystem halted.")

	haltFn()
}
