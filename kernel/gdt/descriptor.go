// Package gdt builds and loads the global descriptor table used in 32-bit
// protected mode.
package gdt

import (
	"kcore/kernel"
	"kcore/kernel/mem"
)

// AccessBit is a bit of a segment descriptor's access byte.
type AccessBit uint8

// Access byte bits. The descriptor privilege level occupies bits 5-6 and is
// set through Segment.Privilege.
const (
	Accessed   AccessBit = 1 << 0
	ReadWrite  AccessBit = 1 << 1
	Direction  AccessBit = 1 << 2
	Executable AccessBit = 1 << 3
	NotSystem  AccessBit = 1 << 4
	Present    AccessBit = 1 << 7
)

// Flag nibble bits, stored in bits 52-55 of a descriptor.
const (
	flagLongMode        = 1 << 1
	flagOperandSize32   = 1 << 2
	flagPageGranularity = 1 << 3
)

const (
	dplShift = 5
	dplMask  = 3 << dplShift

	// MaxLimit is the largest encodable limit.
	MaxLimit = 0xFFFFF
)

var (
	// ErrInvalidPrivilege is returned when a privilege level above 3 is
	// requested.
	ErrInvalidPrivilege = &kernel.Error{Module: "gdt", Message: "invalid privilege level"}

	// ErrLongModeOperandSize is returned for a long mode segment that
	// also selects a 32-bit operand size.
	ErrLongModeOperandSize = &kernel.Error{Module: "gdt", Message: "cannot set long mode with 32 bit segment"}

	// ErrLongModeNotExecutable is returned for a long mode segment that
	// is not executable.
	ErrLongModeNotExecutable = &kernel.Error{Module: "gdt", Message: "cannot set long mode on non-executable segment"}

	// ErrLimitTooLarge is returned for a byte granular segment whose limit
	// does not fit in 20 bits.
	ErrLimitTooLarge = &kernel.Error{Module: "gdt", Message: "segment limit too large for byte granularity"}
)

// Descriptor is a packed segment descriptor:
//
//	bits  0-15 limit 0:15
//	bits 16-39 base 0:23
//	bits 40-47 access byte
//	bits 48-51 limit 16:19
//	bits 52-55 flags
//	bits 56-63 base 24:31
type Descriptor uint64

// Base returns the segment base address.
func (d Descriptor) Base() uint32 {
	return uint32(d>>16)&0xFFFFFF | uint32(d>>56)<<24
}

// Limit returns the raw 20-bit limit field.
func (d Descriptor) Limit() uint32 {
	return uint32(d)&0xFFFF | uint32(d>>48)&0xF<<16
}

// EffectiveLimit returns the offset of the last addressable byte of the
// segment, scaling the limit for page granular segments.
func (d Descriptor) EffectiveLimit() uint32 {
	if d.PageGranular() {
		return d.Limit()<<mem.PageShift | uint32(mem.PageSize-1)
	}
	return d.Limit()
}

// Access returns the access byte.
func (d Descriptor) Access() uint8 {
	return uint8(d >> 40)
}

// Flags returns the 4-bit flags field.
func (d Descriptor) Flags() uint8 {
	return uint8(d>>52) & 0xF
}

// Has reports whether bit is set in the access byte.
func (d Descriptor) Has(bit AccessBit) bool {
	return d.Access()&uint8(bit) != 0
}

// Present reports whether the segment is present.
func (d Descriptor) Present() bool { return d.Has(Present) }

// Executable reports whether the descriptor describes a code segment.
func (d Descriptor) Executable() bool { return d.Has(Executable) }

// DPL returns the descriptor privilege level.
func (d Descriptor) DPL() uint8 {
	return (d.Access() & dplMask) >> dplShift
}

// PageGranular reports whether the limit is expressed in 4K pages.
func (d Descriptor) PageGranular() bool { return d.Flags()&flagPageGranularity != 0 }

// OperandSize32 reports whether the segment defaults to 32-bit operands.
func (d Descriptor) OperandSize32() bool { return d.Flags()&flagOperandSize32 != 0 }

// LongMode reports whether the segment is a 64-bit code segment.
func (d Descriptor) LongMode() bool { return d.Flags()&flagLongMode != 0 }

func pack(base, limit uint32, access, flags uint8) Descriptor {
	return Descriptor(limit&0xFFFF) |
		Descriptor(base&0xFFFFFF)<<16 |
		Descriptor(access)<<40 |
		Descriptor(limit>>16&0xF)<<48 |
		Descriptor(flags&0xF)<<52 |
		Descriptor(base>>24)<<56
}

// Segment assembles a Descriptor. Each setter returns an updated copy;
// validation happens once, in Build.
type Segment struct {
	base      uint32
	limit     uint32
	access    uint8
	privilege uint8

	pageGranular  bool
	operandSize32 bool
	longMode      bool
}

// NewSegment starts a descriptor for a segment at base whose last byte is at
// offset limit.
func NewSegment(base, limit uint32) Segment {
	return Segment{base: base, limit: limit}
}

// Toggle flips bit in the access byte.
func (s Segment) Toggle(bit AccessBit) Segment {
	s.access ^= uint8(bit)
	return s
}

// Privilege sets the descriptor privilege level. Levels above 3 are
// rejected by Build.
func (s Segment) Privilege(level uint8) Segment {
	s.privilege = level
	return s
}

// PageGranularity selects whether the limit is counted in 4K pages.
func (s Segment) PageGranularity(enable bool) Segment {
	s.pageGranular = enable
	return s
}

// OperandSize32 selects 32-bit default operand size.
func (s Segment) OperandSize32(enable bool) Segment {
	s.operandSize32 = enable
	return s
}

// LongMode marks the segment as a 64-bit code segment.
func (s Segment) LongMode(enable bool) Segment {
	s.longMode = enable
	return s
}

// Build validates the segment and packs it. Page granular limits are
// divided by the page size before being stored.
func (s Segment) Build() (Descriptor, *kernel.Error) {
	if s.privilege > 3 {
		return 0, ErrInvalidPrivilege
	}

	if s.longMode {
		if s.operandSize32 {
			return 0, ErrLongModeOperandSize
		}
		if s.access&uint8(Executable) == 0 {
			return 0, ErrLongModeNotExecutable
		}
	}

	var flags uint8
	limit := s.limit
	if s.pageGranular {
		flags |= flagPageGranularity
		limit >>= mem.PageShift
	} else if limit > MaxLimit {
		return 0, ErrLimitTooLarge
	}
	if s.operandSize32 {
		flags |= flagOperandSize32
	}
	if s.longMode {
		flags |= flagLongMode
	}

	access := s.access&^dplMask | s.privilege<<dplShift
	return pack(s.base, limit, access, flags), nil
}
