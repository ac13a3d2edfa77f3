// Package ioport tracks ownership of the x86 I/O port address space.
//
// A driver claims each port it talks to and receives a Port capability. Only
// one capability per port address can be live at a time, so two subsystems
// can never drive the same hardware register concurrently.
package ioport

import (
	"sync/atomic"

	"kcore/kernel"
	"kcore/kernel/cpu"
	"kcore/kernel/sync"
)

// NumPorts is the size of the I/O port address space.
const NumPorts = 1 << 16

// ErrPortClaimed is returned by Claim when the port is already owned.
var ErrPortClaimed = &kernel.Error{Module: "ioport", Message: "port already claimed"}

// Bus performs single-byte I/O port accesses.
type Bus interface {
	ReadByte(port uint16) uint8
	WriteByte(port uint16, value uint8)
}

// cpuBus issues IN and OUT instructions.
type cpuBus struct{}

func (cpuBus) ReadByte(port uint16) uint8         { return cpu.PortReadByte(port) }
func (cpuBus) WriteByte(port uint16, value uint8) { cpu.PortWriteByte(port, value) }

// Allocator hands out Port capabilities. The zero value is ready to use and
// accesses ports with the CPU's IN and OUT instructions. An Allocator must
// outlive every Port it hands out.
//
// Every claim is stamped with a fresh generation. A Port is live only while
// the generation it carries is the one recorded for its address, so copies
// of a released Port stay dead after the address is claimed again.
type Allocator struct {
	bus Bus

	// live holds the generation of the current owner of each address, or
	// 0 when the address is free. It is written with the claim lock held
	// and read atomically by port accesses, which may run in ISRs.
	live [NumPorts]uint32

	// lastGen is the most recently issued generation.
	lastGen sync.Mutex[uint32]
}

// NewAllocator returns an Allocator whose ports access the given bus.
func NewAllocator(bus Bus) *Allocator {
	return &Allocator{bus: bus}
}

// Claim takes ownership of the port at addr. It returns ErrPortClaimed
// without blocking if another capability for addr is live.
func (a *Allocator) Claim(addr uint16) (Port, *kernel.Error) {
	guard := a.lastGen.Lock()
	defer guard.Unlock()

	if atomic.LoadUint32(&a.live[addr]) != 0 {
		return Port{}, ErrPortClaimed
	}

	gen := guard.Value()
	if *gen++; *gen == 0 {
		*gen = 1
	}
	atomic.StoreUint32(&a.live[addr], *gen)

	bus := a.bus
	if bus == nil {
		bus = cpuBus{}
	}

	return Port{addr: addr, gen: *gen, owner: a, bus: bus}, nil
}

// Claimed reports whether a capability for addr is currently live.
func (a *Allocator) Claimed(addr uint16) bool {
	return atomic.LoadUint32(&a.live[addr]) != 0
}

func (a *Allocator) owns(addr uint16, gen uint32) bool {
	return atomic.LoadUint32(&a.live[addr]) == gen
}

func (a *Allocator) release(addr uint16, gen uint32) {
	guard := a.lastGen.Lock()
	defer guard.Unlock()

	atomic.CompareAndSwapUint32(&a.live[addr], gen, 0)
}

// Port is a capability for a single I/O port. Its zero value is a released
// port. Copies of a Port share its claim: once any of them is released, all
// of them read as zero and drop writes.
type Port struct {
	addr  uint16
	gen   uint32
	owner *Allocator
	bus   Bus
}

// Addr returns the port address.
func (p *Port) Addr() uint16 {
	return p.addr
}

// live reports whether p still holds the claim it was created with.
func (p *Port) live() bool {
	return p.owner != nil && p.owner.owns(p.addr, p.gen)
}

// ReadByte reads a byte from the port. A released port reads as zero.
func (p *Port) ReadByte() uint8 {
	if !p.live() {
		return 0
	}
	return p.bus.ReadByte(p.addr)
}

// WriteByte writes a byte to the port. Writes to a released port are
// dropped.
func (p *Port) WriteByte(value uint8) {
	if !p.live() {
		return
	}
	p.bus.WriteByte(p.addr, value)
}

// Release gives up ownership of the port so it can be claimed again.
// Releasing an already released port has no effect.
func (p *Port) Release() {
	if p.owner == nil {
		return
	}
	p.owner.release(p.addr, p.gen)
	p.owner = nil
}
