package gate

import (
	"unsafe"

	"kcore/kernel"
	"kcore/kernel/gdt"
	"kcore/kernel/kfmt"
	"kcore/kernel/sync"
)

// NumEntries is the number of gates in the IDT.
const NumEntries = 256

var (
	// ErrAlreadyLoaded is returned when the table is modified or loaded
	// after it has been installed.
	ErrAlreadyLoaded = &kernel.Error{Module: "idt", Message: "interrupt table already loaded"}

	// ErrIncomplete is returned by Load if a gate is not present.
	ErrIncomplete = &kernel.Error{Module: "idt", Message: "interrupt table has empty gates"}
)

// Table holds one gate per interrupt vector.
type Table [NumEntries]Descriptor

// Loader installs an interrupt table on the processor. cpu.Native
// implements it.
type Loader interface {
	LoadIDT(regAddr uintptr)
	StoreIDT(regAddr uintptr)
	EnableInterrupts()
}

type idtState struct {
	table  Table
	loaded bool
}

// IDT is the process-wide interrupt table. It must not move once loaded.
type IDT struct {
	state sync.Mutex[idtState]
}

// Set installs d at vector num. It fails once the table has been loaded.
func (idt *IDT) Set(num uint8, d Descriptor) *kernel.Error {
	guard := idt.state.Lock()
	defer guard.Unlock()

	state := guard.Value()
	if state.loaded {
		return ErrAlreadyLoaded
	}

	state.table[num] = d
	return nil
}

// Entry returns the gate at vector num.
func (idt *IDT) Entry(num uint8) Descriptor {
	guard := idt.state.Lock()
	defer guard.Unlock()
	return guard.Value().table[num]
}

// FillUnused points every gate without a handler address at handler, using
// a 32-bit interrupt gate. An empty gate turns a stray interrupt into a
// double fault instead of a call to a handler. It returns the number of
// gates that were filled.
func (idt *IDT) FillUnused(handler uintptr, selector uint16) (int, *kernel.Error) {
	dummy, err := NewDescriptor(handler, selector, Interrupt32, 0)
	if err != nil {
		return 0, err
	}

	guard := idt.state.Lock()
	defer guard.Unlock()

	state := guard.Value()
	if state.loaded {
		return 0, ErrAlreadyLoaded
	}

	var filled int
	for i, d := range state.table {
		if d.Offset() == 0 {
			state.table[i] = dummy
			filled++
		}
	}
	return filled, nil
}

// Complete reports whether every gate is present.
func (idt *IDT) Complete() bool {
	guard := idt.state.Lock()
	defer guard.Unlock()

	for _, d := range guard.Value().table {
		if !d.Present() {
			return false
		}
	}
	return true
}

// Pointer returns the pseudo-descriptor describing the table.
func (idt *IDT) Pointer() gdt.Pointer {
	guard := idt.state.Lock()
	defer guard.Unlock()
	return pointerTo(&guard.Value().table)
}

func pointerTo(t *Table) gdt.Pointer {
	return gdt.Pointer{
		Limit: uint16(len(t)*8 - 1),
		Base:  uint32(uintptr(unsafe.Pointer(t))),
	}
}

// idtr holds the pseudo-descriptor handed to LIDT and SIDT.
var idtr [6]byte

// Load points the IDT register at the table and enables interrupts. Every
// gate must be present. The table can only be loaded once; afterwards it is
// read-only.
func (idt *IDT) Load(loader Loader) *kernel.Error {
	if err := idt.install(loader); err != nil {
		return err
	}

	// The table lock is released by now, so no ISR can find it held.
	loader.EnableInterrupts()
	return nil
}

func (idt *IDT) install(loader Loader) *kernel.Error {
	guard := idt.state.Lock()
	defer guard.Unlock()

	state := guard.Value()
	if state.loaded {
		return ErrAlreadyLoaded
	}

	for _, d := range state.table {
		if !d.Present() {
			return ErrIncomplete
		}
	}

	loader.StoreIDT(uintptr(unsafe.Pointer(&idtr)))
	printIDTR("old")

	idtr = pointerTo(&state.table).Encode()
	loader.LoadIDT(uintptr(unsafe.Pointer(&idtr)))
	state.loaded = true

	loader.StoreIDT(uintptr(unsafe.Pointer(&idtr)))
	printIDTR("new")
	return nil
}

func printIDTR(label string) {
	limit := uint16(idtr[0]) | uint16(idtr[1])<<8
	base := uint32(idtr[2]) | uint32(idtr[3])<<8 | uint32(idtr[4])<<16 | uint32(idtr[5])<<24
	kfmt.Printf("[idt] %s idtr: limit=0x%x base=0x%x\n", label, limit, base)
}
