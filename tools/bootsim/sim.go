package main

import (
	"fmt"
	"unsafe"

	"kcore/kernel/irq"
)

// simCPU stands in for the processor. Descriptor table loads copy the
// pseudo-descriptor into the emulated register instead of executing LGDT or
// LIDT.
type simCPU struct {
	interruptsEnabled bool
	gdtr, idtr        [6]byte
	cs, ds            uint16
	ops               []string
}

func (c *simCPU) DisableInterrupts() {
	c.interruptsEnabled = false
	c.ops = append(c.ops, "cli")
}

func (c *simCPU) EnableInterrupts() {
	c.interruptsEnabled = true
	c.ops = append(c.ops, "sti")
}

func (c *simCPU) LoadGDT(regAddr uintptr) {
	c.gdtr = *(*[6]byte)(unsafe.Pointer(regAddr))
	c.ops = append(c.ops, "lgdt")
}

func (c *simCPU) ReloadSegments(code, data uint16) {
	c.cs, c.ds = code, data
	c.ops = append(c.ops, fmt.Sprintf("reload cs=0x%x ds=0x%x", code, data))
}

func (c *simCPU) LoadIDT(regAddr uintptr) {
	c.idtr = *(*[6]byte)(unsafe.Pointer(regAddr))
	c.ops = append(c.ops, "lidt")
}

func (c *simCPU) StoreIDT(regAddr uintptr) {
	*(*[6]byte)(unsafe.Pointer(regAddr)) = c.idtr
	c.ops = append(c.ops, "sidt")
}

// sim8259 models the state of a single 8259 controller that the kernel
// relies on: the initialization sequence, the mask register and the
// in-service register.
type sim8259 struct {
	offset uint8
	imr    uint8
	irr    uint8
	isr    uint8

	// icwStep is the next initialization word expected on the data port,
	// or 0 once the controller is operational.
	icwStep int
	needs4  bool
	eois    int
}

const (
	icw1Init = 0x10
	icw1ICW4 = 0x01
	ocw2EOI  = 0x20
)

func (c *sim8259) writeCommand(value uint8) {
	switch {
	case value&icw1Init != 0:
		c.icwStep = 2
		c.needs4 = value&icw1ICW4 != 0
		c.imr, c.isr, c.irr = 0, 0, 0
	case value == ocw2EOI:
		// Non-specific EOI clears the highest priority in-service line.
		c.isr &^= c.isr & -c.isr
		c.eois++
	}
}

func (c *sim8259) writeData(value uint8) {
	switch c.icwStep {
	case 2:
		c.offset = value &^ 7
		c.icwStep = 3
	case 3:
		c.icwStep = 0
		if c.needs4 {
			c.icwStep = 4
		}
	case 4:
		c.icwStep = 0
	default:
		c.imr = value
	}
}

// portAccess is an entry of the simulated bus trace.
type portAccess struct {
	Write bool
	Port  uint16
	Value uint8
}

func (a portAccess) String() string {
	if a.Write {
		return fmt.Sprintf("out 0x%02x <- 0x%02x", a.Port, a.Value)
	}
	return fmt.Sprintf("in  0x%02x -> 0x%02x", a.Port, a.Value)
}

// simBus routes port I/O to a master/slave 8259 pair and logs every access.
// Other ports read as zero.
type simBus struct {
	master, slave sim8259
	trace         []portAccess
}

func (b *simBus) ReadByte(port uint16) uint8 {
	var value uint8
	switch port {
	case irq.MasterCommandPort:
		value = b.master.irr
	case irq.MasterDataPort:
		value = b.master.imr
	case irq.SlaveCommandPort:
		value = b.slave.irr
	case irq.SlaveDataPort:
		value = b.slave.imr
	}

	b.trace = append(b.trace, portAccess{Port: port, Value: value})
	return value
}

func (b *simBus) WriteByte(port uint16, value uint8) {
	switch port {
	case irq.MasterCommandPort:
		b.master.writeCommand(value)
	case irq.MasterDataPort:
		b.master.writeData(value)
	case irq.SlaveCommandPort:
		b.slave.writeCommand(value)
	case irq.SlaveDataPort:
		b.slave.writeData(value)
	}

	b.trace = append(b.trace, portAccess{Write: true, Port: port, Value: value})
}

// raise asserts line and returns the vector the CPU would receive. The
// second result is false when the line, or the cascade line for a slave
// line, is masked.
func (b *simBus) raise(line uint8) (uint8, bool) {
	const cascadeBit = 1 << 2

	if line >= 8 {
		bit := uint8(1) << (line - 8)
		b.slave.irr |= bit
		if b.slave.imr&bit != 0 || b.master.imr&cascadeBit != 0 {
			return 0, false
		}
		b.slave.irr &^= bit
		b.slave.isr |= bit
		b.master.isr |= cascadeBit
		return b.slave.offset + line - 8, true
	}

	bit := uint8(1) << line
	b.master.irr |= bit
	if b.master.imr&bit != 0 {
		return 0, false
	}
	b.master.irr &^= bit
	b.master.isr |= bit
	return b.master.offset + line, true
}

// inService reports whether either controller still has an unacknowledged
// interrupt.
func (b *simBus) inService() bool {
	return b.master.isr != 0 || b.slave.isr != 0
}
