//go:build 386 || amd64

// Package cpu exposes the privileged x86 instructions needed by the early
// boot code. Every function in this package is implemented in assembly.
package cpu

// EnableInterrupts enables interrupt handling (STI).
func EnableInterrupts()

// DisableInterrupts disables interrupt handling (CLI).
func DisableInterrupts()

// Halt disables interrupts and stops instruction execution. Halt never
// returns.
func Halt()

// WaitForInterrupt enables interrupts and stops instruction execution until
// the next interrupt has been serviced (STI; HLT).
func WaitForInterrupt()

// SpinHint tells the processor that the caller is inside a busy-wait loop
// (PAUSE).
func SpinHint()

// PortWriteByte writes a uint8 value to the requested port.
func PortWriteByte(port uint16, val uint8)

// PortReadByte reads a uint8 value from the requested port.
func PortReadByte(port uint16) uint8

// LoadGDT loads the GDT register from the 6-byte pseudo-descriptor stored at
// regAddr.
func LoadGDT(regAddr uintptr)

// LoadIDT loads the IDT register from the 6-byte pseudo-descriptor stored at
// regAddr.
func LoadIDT(regAddr uintptr)

// StoreIDT stores the current contents of the IDT register at regAddr.
func StoreIDT(regAddr uintptr)

// ReloadSegments reloads CS with the code selector and DS, ES and SS with the
// data selector. FS and GS are left to the runtime's TLS setup.
func ReloadSegments(code, data uint16)

// Native forwards descriptor table and interrupt flag operations to the
// processor. Its zero value is ready to use.
type Native struct{}

// DisableInterrupts executes CLI.
func (Native) DisableInterrupts() { DisableInterrupts() }

// EnableInterrupts executes STI.
func (Native) EnableInterrupts() { EnableInterrupts() }

// LoadGDT executes LGDT.
func (Native) LoadGDT(regAddr uintptr) { LoadGDT(regAddr) }

// ReloadSegments reloads the segment registers.
func (Native) ReloadSegments(code, data uint16) { ReloadSegments(code, data) }

// LoadIDT executes LIDT.
func (Native) LoadIDT(regAddr uintptr) { LoadIDT(regAddr) }

// StoreIDT executes SIDT.
func (Native) StoreIDT(regAddr uintptr) { StoreIDT(regAddr) }
