package irq

import (
	"kcore/kernel"
	"kcore/kernel/ioport"
	"kcore/kernel/kfmt"
)

// I/O ports of the cascaded 8259 pair.
const (
	MasterCommandPort uint16 = 0x20
	MasterDataPort    uint16 = 0x21
	SlaveCommandPort  uint16 = 0xA0
	SlaveDataPort     uint16 = 0xA1
)

// Default vector offsets. At power-up the master delivers IRQs 0-7 on
// vectors 0x08-0x0F, which collide with CPU exceptions.
const (
	MasterOffset uint8 = 0x20
	SlaveOffset  uint8 = 0x28
)

// NumIRQs is the number of interrupt lines served by the PIC pair.
const NumIRQs = 16

const (
	// icw1Init starts the initialization sequence and announces that ICW4
	// follows.
	icw1Init = 0x11

	// icw4Mode8086 selects 8086/88 mode.
	icw4Mode8086 = 0x01

	// cascadeLine is the master line the slave is wired to.
	cascadeLine = 2

	cmdEndOfInterrupt = 0x20
)

// ErrPICPortClaimed is returned by NewPIC if any of the controller ports is
// owned by someone else.
var ErrPICPortClaimed = &kernel.Error{Module: "pic", Message: "PIC port already claimed"}

// PIC drives the master/slave 8259 programmable interrupt controllers. A PIC
// owns its ports and must not be copied once in use.
type PIC struct {
	masterCmd, masterData ioport.Port
	slaveCmd, slaveData   ioport.Port

	masterOffset, slaveOffset uint8

	// masks holds the interrupt mask register of each controller. A set
	// bit disables the line.
	masks [2]uint8
}

// NewPIC claims the four controller ports. Every line starts out masked.
func NewPIC(ports *ioport.Allocator) (PIC, *kernel.Error) {
	var claimed [4]ioport.Port
	for i, addr := range [4]uint16{MasterCommandPort, MasterDataPort, SlaveCommandPort, SlaveDataPort} {
		port, err := ports.Claim(addr)
		if err != nil {
			for j := range claimed[:i] {
				claimed[j].Release()
			}
			return PIC{}, ErrPICPortClaimed
		}
		claimed[i] = port
	}

	return PIC{
		masterCmd:    claimed[0],
		masterData:   claimed[1],
		slaveCmd:     claimed[2],
		slaveData:    claimed[3],
		masterOffset: 8,
		slaveOffset:  0x70,
		masks:        [2]uint8{0xFF, 0xFF},
	}, nil
}

// Remap reprograms both controllers to deliver their lines starting at the
// given vectors and restores the current masks.
func (p *PIC) Remap(masterOffset, slaveOffset uint8) {
	p.masterCmd.WriteByte(icw1Init)
	p.slaveCmd.WriteByte(icw1Init)

	p.masterData.WriteByte(masterOffset)
	p.slaveData.WriteByte(slaveOffset)

	p.masterData.WriteByte(1 << cascadeLine)
	p.slaveData.WriteByte(cascadeLine)

	p.masterData.WriteByte(icw4Mode8086)
	p.slaveData.WriteByte(icw4Mode8086)

	p.masterData.WriteByte(p.masks[0])
	p.slaveData.WriteByte(p.masks[1])

	p.masterOffset, p.slaveOffset = masterOffset, slaveOffset
	kfmt.Printf("[pic] remapped to 0x%x/0x%x, masks 0x%2x/0x%2x\n", masterOffset, slaveOffset, p.masks[0], p.masks[1])
}

// Vector returns the interrupt vector that line is delivered on.
func (p *PIC) Vector(line uint8) uint8 {
	if line < 8 {
		return p.masterOffset + line
	}
	return p.slaveOffset + line - 8
}

// Line maps vector back to an interrupt line. The second result is false if
// the PIC does not deliver on vector.
func (p *PIC) Line(vector uint32) (uint8, bool) {
	switch {
	case vector >= uint32(p.masterOffset) && vector < uint32(p.masterOffset)+8:
		return uint8(vector - uint32(p.masterOffset)), true
	case vector >= uint32(p.slaveOffset) && vector < uint32(p.slaveOffset)+8:
		return uint8(vector-uint32(p.slaveOffset)) + 8, true
	default:
		return 0, false
	}
}

// Unmask enables line. Enabling a slave line also enables the cascade line
// on the master.
func (p *PIC) Unmask(line uint8) {
	if line >= 8 {
		p.setMask(0, cascadeLine, false)
	}
	p.setMask(line/8, line%8, false)
}

// Mask disables line.
func (p *PIC) Mask(line uint8) {
	p.setMask(line/8, line%8, true)
}

// Masks returns the interrupt mask registers of the master and the slave.
func (p *PIC) Masks() (uint8, uint8) {
	return p.masks[0], p.masks[1]
}

func (p *PIC) setMask(chip, bit uint8, masked bool) {
	old := p.masks[chip]
	if masked {
		p.masks[chip] |= 1 << bit
	} else {
		p.masks[chip] &^= 1 << bit
	}

	if p.masks[chip] == old {
		return
	}

	if chip == 0 {
		p.masterData.WriteByte(p.masks[0])
	} else {
		p.slaveData.WriteByte(p.masks[1])
	}
}

// EOI acknowledges the interrupt on line. Lines served by the slave must be
// acknowledged on both controllers.
func (p *PIC) EOI(line uint8) {
	if line >= 8 {
		p.slaveCmd.WriteByte(cmdEndOfInterrupt)
	}
	p.masterCmd.WriteByte(cmdEndOfInterrupt)
}

// Release gives up the controller ports.
func (p *PIC) Release() {
	p.masterCmd.Release()
	p.masterData.Release()
	p.slaveCmd.Release()
	p.slaveData.Release()
}
