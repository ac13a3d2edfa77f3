package kmain

import (
	"kcore/kernel"
	"kcore/kernel/ioport"
	"kcore/kernel/irq"
)

// Keyboard reads raw scan codes from the PS/2 controller when IRQ1 fires.
// Decoding the scan codes is left to the consumer.
type Keyboard struct {
	port     ioport.Port
	consumer func(uint8)
}

// Init claims the controller data port. consumer may be nil, in which case
// scan codes are read and dropped.
func (kb *Keyboard) Init(ports *ioport.Allocator, consumer func(uint8)) *kernel.Error {
	port, err := ports.Claim(KeyboardDataPort)
	if err != nil {
		return err
	}

	kb.port = port
	kb.consumer = consumer
	return nil
}

// HandleInterrupt implements irq.Handler. The controller keeps the line
// asserted until the data port is read, so the scan code is always consumed.
func (kb *Keyboard) HandleInterrupt(_ *irq.Frame) {
	scanCode := kb.port.ReadByte()
	if kb.consumer != nil {
		kb.consumer(scanCode)
	}
}
