package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"kcore/kernel/gate"
	"kcore/kernel/gdt"
	"kcore/kernel/hal/multiboot"
	"kcore/kernel/ioport"
	"kcore/kernel/irq"
	"kcore/kernel/kfmt"
	"kcore/kernel/mem"
	"kcore/kernel/mem/allocator"
)

// runWith routes kernel output to w for the duration of fn.
func runWith(w io.Writer, fn func(io.Writer) error) error {
	kfmt.SetOutputSink(w)
	defer kfmt.SetOutputSink(nil)
	return fn(w)
}

// execute runs fn against stdout and maps its result to an exit status.
func execute(name string, fn func(io.Writer) error) subcommands.ExitStatus {
	if err := runWith(os.Stdout, fn); err != nil {
		logrus.WithError(err).Errorf("%s failed", name)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// machineFlag is embedded by commands that read a machine description.
type machineFlag struct {
	path string
}

func (m *machineFlag) setFlags(f *flag.FlagSet) {
	f.StringVar(&m.path, "machine", "", "machine description (.toml, .yaml or .yml)")
}

func (m *machineFlag) load() (*Machine, error) {
	if m.path == "" {
		return nil, fmt.Errorf("-machine is required")
	}

	machine, err := LoadMachine(m.path)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"name":    machine.Name,
		"regions": len(machine.Memory),
		"allocs":  len(machine.Allocs),
	}).Debugf("loaded machine description from %s", m.path)
	return machine, nil
}

// Mmap implements subcommands.Command for the "mmap" command.
type Mmap struct {
	machineFlag
	infoPath string
}

// Name implements subcommands.Command.Name.
func (*Mmap) Name() string { return "mmap" }

// Synopsis implements subcommands.Command.Synopsis.
func (*Mmap) Synopsis() string { return "decode and print a boot memory map" }

// Usage implements subcommands.Command.Usage.
func (*Mmap) Usage() string {
	return `mmap (-machine FILE | -info FILE) - decode and print a boot memory map.

A raw dump given with -info holds the multiboot information record followed
by mmap_length bytes of memory map entries.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Mmap) SetFlags(f *flag.FlagSet) {
	c.machineFlag.setFlags(f)
	f.StringVar(&c.infoPath, "info", "", "raw multiboot information dump")
}

// Execute implements subcommands.Command.Execute.
func (c *Mmap) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return execute(c.Name(), c.run)
}

func (c *Mmap) run(w io.Writer) error {
	if c.infoPath == "" {
		machine, err := c.load()
		if err != nil {
			return err
		}
		multiboot.PrintMemoryMap(w, machine.MemoryMap())
		return nil
	}

	data, err := os.ReadFile(c.infoPath)
	if err != nil {
		return err
	}

	memMap, err := decodeInfoDump(w, data)
	if err != nil {
		return fmt.Errorf("%s: %w", c.infoPath, err)
	}
	multiboot.PrintMemoryMap(w, memMap)
	return nil
}

// decodeInfoDump prints the information record at the start of data and
// returns the memory map stored after it.
func decodeInfoDump(w io.Writer, data []byte) (multiboot.MemoryMap, error) {
	info, kerr := multiboot.DecodeInfo(data)
	if kerr != nil {
		return multiboot.MemoryMap{}, kerr
	}

	fmt.Fprintf(w, "flags: 0x%08x, mem_lower: %dK, mem_upper: %dK\n", info.Flags, info.MemLower, info.MemUpper)
	if info.Flags&multiboot.FlagMemoryMap == 0 {
		return multiboot.MemoryMap{}, multiboot.ErrNoMemoryMap
	}

	mmap := data[multiboot.InfoSize:]
	if uint64(len(mmap)) < uint64(info.MmapLength) {
		return multiboot.MemoryMap{}, fmt.Errorf("memory map truncated: %d of %d bytes", len(mmap), info.MmapLength)
	}
	return multiboot.NewMemoryMap(mmap[:info.MmapLength]), nil
}

// Alloc implements subcommands.Command for the "alloc" command.
type Alloc struct {
	machineFlag
	kernelELF string
	release   bool
}

// Name implements subcommands.Command.Name.
func (*Alloc) Name() string { return "alloc" }

// Synopsis implements subcommands.Command.Synopsis.
func (*Alloc) Synopsis() string { return "replay an allocation script against the boot allocator" }

// Usage implements subcommands.Command.Usage.
func (*Alloc) Usage() string {
	return `alloc -machine FILE [-kernel ELF] [-release] - replay the allocations listed in the machine description.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Alloc) SetFlags(f *flag.FlagSet) {
	c.machineFlag.setFlags(f)
	f.StringVar(&c.kernelELF, "kernel", "", "kernel ELF image providing the image bounds")
	f.BoolVar(&c.release, "release", false, "free every allocation at the end of the script")
}

// Execute implements subcommands.Command.Execute.
func (c *Alloc) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return execute(c.Name(), c.run)
}

func (c *Alloc) run(w io.Writer) error {
	machine, err := c.load()
	if err != nil {
		return err
	}
	if c.kernelELF != "" {
		machine.Kernel.ELF = c.kernelELF
	}

	var bump allocator.BumpAllocator
	if err := initAllocator(&bump, machine); err != nil {
		return err
	}

	var live []uintptr
	for i, req := range machine.Allocs {
		addr, kerr := bump.Alloc(mem.Size(req.Size), uintptr(req.Align))
		if kerr != nil {
			fmt.Fprintf(w, "alloc %d: size=%d align=%d: %s\n", i, req.Size, req.Align, kerr.Message)
			continue
		}
		live = append(live, addr)
		fmt.Fprintf(w, "alloc %d: size=%d align=%d -> 0x%x\n", i, req.Size, req.Align, addr)
	}

	if c.release {
		for _, addr := range live {
			bump.Free(addr)
		}
	}

	printStats(w, bump.Stats())
	return nil
}

func initAllocator(bump *allocator.BumpAllocator, machine *Machine) error {
	start, end, err := machine.KernelBounds()
	if err != nil {
		return err
	}
	logrus.Debugf("kernel image at [0x%x, 0x%x)", start, end)

	if kerr := bump.Init(machine.MemoryMap(), uintptr(start), uintptr(end)); kerr != nil {
		return fmt.Errorf("allocator init: %w", kerr)
	}
	return nil
}

func printStats(w io.Writer, stats allocator.Stats) {
	fmt.Fprintf(w, "arena: [0x%x, 0x%x), next: 0x%x, live: %d, free: %d bytes\n",
		stats.Start, stats.End, stats.Next, stats.AllocCount, uint64(stats.Free()))
}

// GDT implements subcommands.Command for the "gdt" command.
type GDT struct{}

// Name implements subcommands.Command.Name.
func (*GDT) Name() string { return "gdt" }

// Synopsis implements subcommands.Command.Synopsis.
func (*GDT) Synopsis() string { return "build and dump the flat GDT" }

// Usage implements subcommands.Command.Usage.
func (*GDT) Usage() string {
	return `gdt - build the flat GDT, load it into a simulated CPU and dump it.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*GDT) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (c *GDT) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return execute(c.Name(), c.run)
}

func (c *GDT) run(w io.Writer) error {
	var cpu simCPU
	table, err := loadGDT(&cpu)
	if err != nil {
		return err
	}

	gdt.Dump(w, table)
	fmt.Fprintf(w, "gdtr: % x\n", cpu.gdtr)
	fmt.Fprintf(w, "cs: 0x%x, ds/es/ss: 0x%x\n", cpu.cs, cpu.ds)
	return nil
}

func loadGDT(cpu *simCPU) (*gdt.Table, error) {
	table, kerr := gdt.NewFlatTable()
	if kerr != nil {
		return nil, kerr
	}

	gdt.Load(&table, cpu)
	return &table, nil
}

// IDT implements subcommands.Command for the "idt" command.
type IDT struct {
	verbose bool
}

// Name implements subcommands.Command.Name.
func (*IDT) Name() string { return "idt" }

// Synopsis implements subcommands.Command.Synopsis.
func (*IDT) Synopsis() string { return "build the IDT and summarize its gates" }

// Usage implements subcommands.Command.Usage.
func (*IDT) Usage() string {
	return `idt [-v] - build the IDT with the interrupt entry points, fill the unused gates and load it into a simulated CPU.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *IDT) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.verbose, "v", false, "print every gate")
}

// Execute implements subcommands.Command.Execute.
func (c *IDT) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return execute(c.Name(), c.run)
}

func (c *IDT) run(w io.Writer) error {
	var (
		cpu simCPU
		bus simBus
		idt gate.IDT
	)

	if _, err := installInterrupts(&cpu, &bus, &idt); err != nil {
		return err
	}

	var exceptions, hardware, fallback int
	fallbackAddr := uint32(irq.FallbackEntryPoint())
	for vector := 0; vector < gate.NumEntries; vector++ {
		desc := idt.Entry(uint8(vector))
		switch {
		case desc.Offset() == fallbackAddr:
			fallback++
		case vector < gate.NumExceptions:
			exceptions++
		default:
			hardware++
		}

		if c.verbose {
			fmt.Fprintf(w, "0x%02x: offset=0x%08x selector=0x%x type=%s dpl=%d\n",
				vector, desc.Offset(), desc.Selector(), desc.Type(), desc.DPL())
		}
	}

	fmt.Fprintf(w, "exception gates: %d, irq gates: %d, fallback gates: %d\n", exceptions, hardware, fallback)
	fmt.Fprintf(w, "idtr: % x, interrupts enabled: %t\n", cpu.idtr, cpu.interruptsEnabled)
	return nil
}

// installInterrupts programs the simulated PIC pair, points the IDT at the
// interrupt entry code and loads it.
func installInterrupts(cpu *simCPU, bus *simBus, idt *gate.IDT) (*irq.Dispatcher, error) {
	pic, kerr := irq.NewPIC(ioport.NewAllocator(bus))
	if kerr != nil {
		return nil, kerr
	}

	pic.Remap(irq.MasterOffset, irq.SlaveOffset)

	dispatcher := irq.NewDispatcher(&pic)
	if kerr = dispatcher.Install(idt); kerr != nil {
		return nil, kerr
	}
	if kerr = idt.Load(cpu); kerr != nil {
		return nil, kerr
	}
	return &dispatcher, nil
}

// PIC implements subcommands.Command for the "pic" command.
type PIC struct {
	machineFlag
}

// Name implements subcommands.Command.Name.
func (*PIC) Name() string { return "pic" }

// Synopsis implements subcommands.Command.Synopsis.
func (*PIC) Synopsis() string { return "program a simulated 8259 pair and raise interrupts" }

// Usage implements subcommands.Command.Usage.
func (*PIC) Usage() string {
	return `pic -machine FILE - remap a simulated 8259 pair, then raise and dispatch the IRQs listed in the machine description.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *PIC) SetFlags(f *flag.FlagSet) {
	c.machineFlag.setFlags(f)
}

// Execute implements subcommands.Command.Execute.
func (c *PIC) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return execute(c.Name(), c.run)
}

func (c *PIC) run(w io.Writer) error {
	machine, err := c.load()
	if err != nil {
		return err
	}

	var bus simBus
	pic, kerr := irq.NewPIC(ioport.NewAllocator(&bus))
	if kerr != nil {
		return kerr
	}
	pic.Remap(irq.MasterOffset, irq.SlaveOffset)

	fmt.Fprintln(w, "remap:")
	for _, access := range bus.trace {
		fmt.Fprintf(w, "  %s\n", access)
	}
	fmt.Fprintf(w, "offsets: master 0x%02x, slave 0x%02x\n", bus.master.offset, bus.slave.offset)

	dispatcher := irq.NewDispatcher(&pic)
	for _, line := range machine.IRQs {
		line := uint8(line)
		handler := irq.HandlerFunc(func(frame *irq.Frame) {
			fmt.Fprintf(w, "irq %d handled on vector 0x%02x\n", line, frame.Vector)
		})
		if kerr := dispatcher.HandleIRQ(line, handler); kerr != nil {
			return kerr
		}
	}

	for _, line := range machine.IRQs {
		vector, delivered := bus.raise(uint8(line))
		if !delivered {
			fmt.Fprintf(w, "irq %d masked\n", line)
			continue
		}
		dispatcher.Dispatch(&irq.Frame{Vector: uint32(vector)})
	}

	master, slave := pic.Masks()
	fmt.Fprintf(w, "masks: master 0x%02x, slave 0x%02x, eoi: master %d, slave %d, pending acknowledgement: %t\n",
		master, slave, bus.master.eois, bus.slave.eois, bus.inService())
	return nil
}

// Trace implements subcommands.Command for the "trace" command.
type Trace struct {
	machineFlag
}

// Name implements subcommands.Command.Name.
func (*Trace) Name() string { return "trace" }

// Synopsis implements subcommands.Command.Synopsis.
func (*Trace) Synopsis() string { return "run the boot stages in order and print their log" }

// Usage implements subcommands.Command.Usage.
func (*Trace) Usage() string {
	return `trace -machine FILE - run memory, GDT and interrupt setup in boot order against simulated hardware.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Trace) SetFlags(f *flag.FlagSet) {
	c.machineFlag.setFlags(f)
}

// Execute implements subcommands.Command.Execute.
func (c *Trace) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return execute(c.Name(), c.run)
}

func (c *Trace) run(w io.Writer) error {
	machine, err := c.load()
	if err != nil {
		return err
	}

	var (
		cpu  simCPU
		bus  simBus
		idt  gate.IDT
		bump allocator.BumpAllocator
	)

	fmt.Fprintln(w, "== memory ==")
	multiboot.PrintMemoryMap(w, machine.MemoryMap())
	if err := initAllocator(&bump, machine); err != nil {
		return err
	}

	fmt.Fprintln(w, "== gdt ==")
	table, err := loadGDT(&cpu)
	if err != nil {
		return err
	}
	gdt.Dump(&kfmt.PrefixWriter{Sink: w, Prefix: []byte("[gdt] ")}, table)

	fmt.Fprintln(w, "== interrupts ==")
	if _, err := installInterrupts(&cpu, &bus, &idt); err != nil {
		return err
	}

	fmt.Fprintln(w, "== cpu ==")
	for _, op := range cpu.ops {
		fmt.Fprintf(w, "  %s\n", op)
	}
	return nil
}
