// Package irq routes CPU exceptions and hardware interrupts to Go handlers
// and drives the legacy 8259 interrupt controllers.
//
// Handlers run with interrupts disabled on the stack of the interrupted
// code. They must not acquire locks that foreground code may hold.
package irq

import (
	"kcore/kernel"
	"kcore/kernel/gate"
	"kcore/kernel/gdt"
	"kcore/kernel/kfmt"
)

// Handler services an interrupt. It receives the saved register state of
// the interrupted code.
type Handler interface {
	HandleInterrupt(frame *Frame)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(frame *Frame)

// HandleInterrupt calls f(frame).
func (f HandlerFunc) HandleInterrupt(frame *Frame) {
	f(frame)
}

var (
	// panicFn is mocked by tests.
	panicFn = kfmt.Panic

	// active is the dispatcher invoked by the interrupt entry code.
	active *Dispatcher

	frameDumpWriter = kfmt.PrefixWriter{Sink: kfmt.ActiveWriter(), Prefix: []byte("[irq] ")}

	// ErrUnhandledInterrupt reaches kfmt.Panic when an interrupt arrives
	// for a vector without a handler.
	ErrUnhandledInterrupt = &kernel.Error{Module: "irq", Message: "unhandled interrupt"}

	// ErrInvalidLine is returned for interrupt lines outside the PIC range.
	ErrInvalidLine = &kernel.Error{Module: "irq", Message: "invalid interrupt line"}

	// ErrInvalidException is returned for vectors outside the exception
	// range.
	ErrInvalidException = &kernel.Error{Module: "irq", Message: "invalid exception number"}
)

// Dispatcher holds the exception and IRQ handler tables. Handlers must be
// registered before the matching interrupt can fire: the tables are read by
// the interrupt entry code without locking.
type Dispatcher struct {
	pic        *PIC
	exceptions [gate.NumExceptions]Handler
	irqs       [NumIRQs]Handler
}

// NewDispatcher returns a Dispatcher that acknowledges hardware interrupts on
// pic.
func NewDispatcher(pic *PIC) Dispatcher {
	return Dispatcher{pic: pic}
}

// HandleException registers handler for the CPU exception num.
func (d *Dispatcher) HandleException(num gate.InterruptNumber, handler Handler) *kernel.Error {
	if num >= gate.NumExceptions {
		return ErrInvalidException
	}

	d.exceptions[num] = handler
	return nil
}

// HandleIRQ registers handler for the hardware interrupt line and unmasks
// the line.
func (d *Dispatcher) HandleIRQ(line uint8, handler Handler) *kernel.Error {
	if line >= NumIRQs {
		return ErrInvalidLine
	}

	d.irqs[line] = handler
	d.pic.Unmask(line)
	return nil
}

// Install points the exception and IRQ gates of idt at the interrupt entry
// code, fills the remaining gates with the fallback entry and makes d the
// active dispatcher. The PIC must already be remapped and d must stay in
// place while interrupts are enabled.
func (d *Dispatcher) Install(idt *gate.IDT) *kernel.Error {
	for num := 0; num < gate.NumExceptions; num++ {
		if err := setGate(idt, uint8(num), EntryPoint(num)); err != nil {
			return err
		}
	}

	for line := uint8(0); line < NumIRQs; line++ {
		if err := setGate(idt, d.pic.Vector(line), EntryPoint(gate.NumExceptions+int(line))); err != nil {
			return err
		}
	}

	filled, err := idt.FillUnused(FallbackEntryPoint(), gdt.CodeSelector)
	if err != nil {
		return err
	}

	kfmt.Printf("[irq] installed %d exception and %d irq gates, %d fallback gates\n", gate.NumExceptions, NumIRQs, filled)
	active = d
	return nil
}

func setGate(idt *gate.IDT, vector uint8, handler uintptr) *kernel.Error {
	desc, err := gate.NewDescriptor(handler, gdt.CodeSelector, gate.Interrupt32, 0)
	if err != nil {
		return err
	}
	return idt.Set(vector, desc)
}

// Dispatch invokes the handler registered for frame.Vector. Hardware
// interrupts are acknowledged after their handler returns; an IRQ without a
// handler is acknowledged and dropped. Any other vector without a handler is
// fatal.
func (d *Dispatcher) Dispatch(frame *Frame) {
	if frame.Vector < gate.NumExceptions {
		if handler := d.exceptions[frame.Vector]; handler != nil {
			handler.HandleInterrupt(frame)
			return
		}
		unhandled(frame)
		return
	}

	if line, ok := d.pic.Line(frame.Vector); ok {
		if handler := d.irqs[line]; handler != nil {
			handler.HandleInterrupt(frame)
		} else {
			kfmt.Printf("[irq] spurious interrupt on line %d\n", line)
		}
		d.pic.EOI(line)
		return
	}

	unhandled(frame)
}

func unhandled(frame *Frame) {
	kfmt.Printf("[irq] unhandled interrupt, vector 0x%x\n", frame.Vector)
	frame.DumpTo(&frameDumpWriter)
	panicFn(ErrUnhandledInterrupt)
}

// dispatch is called by the interrupt entry code.
func dispatch(frame *Frame) {
	if active == nil {
		unhandled(frame)
		return
	}
	active.Dispatch(frame)
}
