package kmain

import (
	"unsafe"

	"kcore/kernel"
	"kcore/kernel/gate"
	"kcore/kernel/gdt"
	"kcore/kernel/hal/multiboot"
	"kcore/kernel/ioport"
	"kcore/kernel/irq"
	"kcore/kernel/kfmt"
	"kcore/kernel/mem"
	"kcore/kernel/mem/allocator"
)

// Processor loads descriptor tables and toggles the interrupt flag.
// cpu.Native implements it.
type Processor interface {
	gdt.Loader
	gate.Loader
}

// KeyboardDataPort is the PS/2 controller data port.
const KeyboardDataPort uint16 = 0x60

const (
	keyboardIRQ = 1

	selfTestCells    = 100
	selfTestCellSize = mem.Size(4)
)

type stage uint8

const (
	stageNone stage = iota
	stageMemory
	stageGDT
	stageInterrupts
)

var (
	// ErrOutOfOrder is returned when a boot stage runs twice or before the
	// stage it depends on.
	ErrOutOfOrder = &kernel.Error{Module: "kmain", Message: "boot stage invoked out of order"}

	// ErrSelfTestFailed is returned by InitMemory when the allocator does
	// not hand back the memory it was given.
	ErrSelfTestFailed = &kernel.Error{Module: "kmain", Message: "allocator self test failed"}

	gdtDumpWriter = kfmt.PrefixWriter{Sink: kfmt.ActiveWriter(), Prefix: []byte("[gdt] ")}
	gpfDumpWriter = kfmt.PrefixWriter{Sink: kfmt.ActiveWriter(), Prefix: []byte("[gpf] ")}

	errGeneralProtectionFault = &kernel.Error{Module: "kmain", Message: "general protection fault"}

	// panicFn is mocked by tests.
	panicFn = kfmt.Panic
)

// Core holds the state built while the kernel boots. The three Init stages
// must run once each, in order: memory, GDT, interrupts. A Core must not be
// moved once InitGDT has run; the processor keeps pointers into it.
type Core struct {
	cpu   Processor
	ports *ioport.Allocator
	stage stage

	Memory     allocator.Locked
	GDT        gdt.Table
	IDT        gate.IDT
	PIC        irq.PIC
	Dispatcher irq.Dispatcher
	Keyboard   Keyboard
}

// NewCore returns a Core that programs proc and claims hardware ports from
// ports.
func NewCore(proc Processor, ports *ioport.Allocator) *Core {
	return &Core{cpu: proc, ports: ports}
}

func (c *Core) advance(from, to stage) *kernel.Error {
	if c.stage != from {
		return ErrOutOfOrder
	}
	c.stage = to
	return nil
}

// InitMemory prints the memory map, sets up the boot allocator outside the
// kernel image at [kernelStart, kernelEnd) and checks that it works.
func (c *Core) InitMemory(memMap multiboot.MemoryMap, kernelStart, kernelEnd uintptr) *kernel.Error {
	if err := c.advance(stageNone, stageMemory); err != nil {
		return err
	}

	multiboot.PrintMemoryMap(kfmt.ActiveWriter(), memMap)

	if err := c.Memory.Init(memMap, kernelStart, kernelEnd); err != nil {
		return err
	}

	return c.selfTestAllocator()
}

// selfTestAllocator fills a batch of cells with known values, reads them
// back and frees them. The arena must be empty again afterwards.
func (c *Core) selfTestAllocator() *kernel.Error {
	var cells [selfTestCells]uintptr

	for i := range cells {
		addr, err := c.Memory.Alloc(selfTestCellSize, uintptr(selfTestCellSize))
		if err != nil {
			return err
		}
		cells[i] = addr
		*(*uint32)(unsafe.Pointer(addr)) = uint32(i) ^ 0xA5A5A5A5
	}

	ok := true
	for i, addr := range cells {
		if *(*uint32)(unsafe.Pointer(addr)) != uint32(i)^0xA5A5A5A5 {
			ok = false
		}
	}

	// Scrub the test pattern before handing the cells back.
	mem.Memset(cells[0], 0, mem.Size(cells[selfTestCells-1]-cells[0])+selfTestCellSize)
	for _, addr := range cells {
		c.Memory.Free(addr)
	}

	stats := c.Memory.Stats()
	if !ok || stats.AllocCount != 0 || stats.Next != stats.Start {
		return ErrSelfTestFailed
	}

	kfmt.Printf("[kmain] allocator self test passed, %dK free\n", uint64(stats.Free()/mem.Kb))
	return nil
}

// InitGDT installs the flat code and data segments and reloads the segment
// registers. Interrupts are disabled on return.
func (c *Core) InitGDT() *kernel.Error {
	if err := c.advance(stageMemory, stageGDT); err != nil {
		return err
	}

	table, err := gdt.NewFlatTable()
	if err != nil {
		return err
	}

	c.GDT = table
	gdt.Load(&c.GDT, c.cpu)
	gdt.Dump(&gdtDumpWriter, &c.GDT)
	return nil
}

// InitInterrupts remaps the PIC, installs the exception and IRQ handlers,
// loads the IDT and enables interrupts. Scan codes read from the keyboard
// are passed to onScanCode, which runs in interrupt context.
func (c *Core) InitInterrupts(onScanCode func(uint8)) *kernel.Error {
	if err := c.advance(stageGDT, stageInterrupts); err != nil {
		return err
	}

	var err *kernel.Error
	if c.PIC, err = irq.NewPIC(c.ports); err != nil {
		return err
	}
	c.PIC.Remap(irq.MasterOffset, irq.SlaveOffset)

	c.Dispatcher = irq.NewDispatcher(&c.PIC)
	if err = c.Dispatcher.HandleException(gate.GPFException, irq.HandlerFunc(generalProtectionFault)); err != nil {
		return err
	}

	if err = c.Keyboard.Init(c.ports, onScanCode); err != nil {
		return err
	}
	if err = c.Dispatcher.HandleIRQ(keyboardIRQ, &c.Keyboard); err != nil {
		return err
	}

	if err = c.Dispatcher.Install(&c.IDT); err != nil {
		return err
	}

	return c.IDT.Load(c.cpu)
}

func generalProtectionFault(frame *irq.Frame) {
	kfmt.Printf("[gpf] general protection fault, error code 0x%x\n", frame.ErrorCode)
	frame.DumpTo(&gpfDumpWriter)
	panicFn(errGeneralProtectionFault)
}
