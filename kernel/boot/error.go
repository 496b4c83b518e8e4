// Package boot provides the loader's error type and its fatal-failure path.
//
// Fatal errors are a struct with a module name and a message. Callers
// either keep one as a package-level variable or build one at the point of
// failure just before handing it to Panic.
package boot

// Error identifies a fatal condition raised by one of the loader's
// subsystems.
type Error struct {
	Module  string
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
