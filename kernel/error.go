// Package kernel contains the types shared by every early-boot subsystem.
package kernel

// Error describes a kernel error. Kernel errors are declared as global
// variables holding a pointer to an Error: the boot path runs before any heap
// exists, so errors.New and fmt.Errorf are not available.
//
// Whether an error is fatal is decided by the caller. The boot sequencer
// hands fatal errors to kfmt.Panic; everything else is returned to the code
// that asked for the failed operation.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
