// Package gate builds the interrupt descriptor table (IDT) for 32-bit
// protected mode.
//
// The table is filled while interrupts are disabled and becomes read-only
// once loaded: interrupt handlers read it without taking a lock.
package gate

import "kcore/kernel"

// GateType selects how the processor enters a handler.
type GateType uint8

// Gate types.
const (
	Task        GateType = 0x5
	Interrupt16 GateType = 0x6
	Trap16      GateType = 0x7
	Interrupt32 GateType = 0xE
	Trap32      GateType = 0xF
)

// String implements fmt.Stringer for GateType.
func (t GateType) String() string {
	switch t {
	case Task:
		return "task"
	case Interrupt16:
		return "int16"
	case Trap16:
		return "trap16"
	case Interrupt32:
		return "int32"
	case Trap32:
		return "trap32"
	default:
		return "invalid"
	}
}

// ErrInvalidPrivilege is returned by NewDescriptor for privilege levels above
// 3.
var ErrInvalidPrivilege = &kernel.Error{Module: "idt", Message: "invalid privilege level"}

// Descriptor is a packed gate descriptor:
//
//	bits  0-15 handler offset 0:15
//	bits 16-31 code segment selector
//	bits 40-43 gate type
//	bits 45-46 privilege level required for INT n
//	bit  47    present
//	bits 48-63 handler offset 16:31
type Descriptor uint64

const presentBit = 1 << 47

// NewDescriptor returns a present gate that transfers control to handler
// using the code segment selector.
func NewDescriptor(handler uintptr, selector uint16, typ GateType, dpl uint8) (Descriptor, *kernel.Error) {
	if dpl > 3 {
		return 0, ErrInvalidPrivilege
	}

	offset := uint32(handler)
	return Descriptor(offset&0xFFFF) |
		Descriptor(selector)<<16 |
		Descriptor(typ&0xF)<<40 |
		Descriptor(dpl)<<45 |
		presentBit |
		Descriptor(offset>>16)<<48, nil
}

// Offset returns the handler address.
func (d Descriptor) Offset() uint32 {
	return uint32(d)&0xFFFF | uint32(d>>48)<<16
}

// Selector returns the code segment selector.
func (d Descriptor) Selector() uint16 { return uint16(d >> 16) }

// Type returns the gate type.
func (d Descriptor) Type() GateType { return GateType(d>>40) & 0xF }

// DPL returns the privilege level required to invoke the gate with INT n.
func (d Descriptor) DPL() uint8 { return uint8(d>>45) & 3 }

// Present reports whether the present bit is set.
func (d Descriptor) Present() bool { return d&presentBit != 0 }
