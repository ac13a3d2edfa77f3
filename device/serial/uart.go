// Package serial drives a 16550-compatible UART as a polled, transmit-only
// console. It gives the kernel log a destination that does not depend on
// any display hardware.
package serial

import (
	"io"

	"kcore/kernel"
	"kcore/kernel/ioport"
	"kcore/kernel/kfmt"
)

// Base I/O ports of the standard PC serial ports.
const (
	COM1 uint16 = 0x3F8
	COM2 uint16 = 0x2F8
)

// Register offsets from the base port. With the DLAB bit of the line
// control register set, offsets 0 and 1 hold the baud rate divisor.
const (
	regData = iota
	regInterruptEnable
	regFIFOControl
	regLineControl
	regModemControl
	regLineStatus
	regModemStatus
	regScratch

	numRegisters
)

const (
	lineControlDLAB = 0x80
	lineControl8N1  = 0x03

	// Enable and clear both FIFOs with a 14 byte trigger level.
	fifoControlEnable = 0xC7

	// DTR, RTS and OUT2.
	modemControlReady = 0x0B

	lineStatusTxEmpty = 0x20

	scratchPattern = 0xAE

	// baseClock is the UART input clock divided by 16.
	baseClock = 115200

	// txSpinLimit bounds the wait for the transmitter so a missing or
	// wedged UART cannot hang the caller.
	txSpinLimit = 1 << 16
)

var (
	// ErrPortsClaimed is returned by Attach when any of the UART registers
	// is owned by another driver.
	ErrPortsClaimed = &kernel.Error{Module: "serial", Message: "UART ports already claimed"}

	// ErrNoDevice is returned by DriverInit when no UART answers at the
	// attached base port.
	ErrNoDevice = &kernel.Error{Module: "serial", Message: "no UART detected"}

	// ErrInvalidBaudRate is returned by DriverInit when the requested rate
	// cannot be derived from the UART clock.
	ErrInvalidBaudRate = &kernel.Error{Module: "serial", Message: "unsupported baud rate"}
)

// UART is a 16550 serial port. A UART owns its register ports and must not
// be copied once attached.
type UART struct {
	base     uint16
	baudRate uint32
	regs     [numRegisters]ioport.Port
	ready    bool
}

// Attach claims the eight registers starting at base. The line is
// programmed for baudRate when DriverInit runs.
func (u *UART) Attach(ports *ioport.Allocator, base uint16, baudRate uint32) *kernel.Error {
	for i := range u.regs {
		port, err := ports.Claim(base + uint16(i))
		if err != nil {
			for j := 0; j < i; j++ {
				u.regs[j].Release()
			}
			return ErrPortsClaimed
		}
		u.regs[i] = port
	}

	u.base = base
	u.baudRate = baudRate
	u.ready = false
	return nil
}

// DriverName implements device.Driver.
func (u *UART) DriverName() string {
	return "serial_16550"
}

// DriverVersion implements device.Driver.
func (u *UART) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// DriverInit probes for the UART through its scratch register, then
// programs the baud rate divisor, 8N1 framing and the FIFOs. Interrupts
// stay disabled; output is polled.
func (u *UART) DriverInit(w io.Writer) *kernel.Error {
	if u.baudRate == 0 || u.baudRate > baseClock || baseClock%u.baudRate != 0 {
		return ErrInvalidBaudRate
	}

	u.regs[regScratch].WriteByte(scratchPattern)
	if u.regs[regScratch].ReadByte() != scratchPattern {
		return ErrNoDevice
	}

	divisor := uint16(baseClock / u.baudRate)

	u.regs[regInterruptEnable].WriteByte(0)
	u.regs[regLineControl].WriteByte(lineControlDLAB)
	u.regs[regData].WriteByte(uint8(divisor))
	u.regs[regInterruptEnable].WriteByte(uint8(divisor >> 8))
	u.regs[regLineControl].WriteByte(lineControl8N1)
	u.regs[regFIFOControl].WriteByte(fifoControlEnable)
	u.regs[regModemControl].WriteByte(modemControlReady)

	u.ready = true
	kfmt.Fprintf(w, "[serial] port 0x%x at %d baud\n", u.base, u.baudRate)
	return nil
}

// Write transmits p, translating "\n" to "\r\n". Nothing is sent before
// DriverInit succeeds.
func (u *UART) Write(p []byte) (int, error) {
	if !u.ready {
		return len(p), nil
	}

	for _, b := range p {
		if b == '\n' {
			u.transmit('\r')
		}
		u.transmit(b)
	}
	return len(p), nil
}

func (u *UART) transmit(b byte) {
	for spins := 0; spins < txSpinLimit; spins++ {
		if u.regs[regLineStatus].ReadByte()&lineStatusTxEmpty != 0 {
			break
		}
	}
	u.regs[regData].WriteByte(b)
}

// Detach releases the register ports.
func (u *UART) Detach() {
	for i := range u.regs {
		u.regs[i].Release()
	}
	u.ready = false
}
