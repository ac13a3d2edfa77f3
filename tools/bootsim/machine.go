package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"kcore/kernel/hal/multiboot"
)

// Machine describes the hardware the boot sequence is simulated against.
type Machine struct {
	Name string `toml:"name" yaml:"name"`

	Kernel KernelImage `toml:"kernel" yaml:"kernel"`

	// Memory lists the regions reported by the bootloader, in order.
	Memory []Region `toml:"memory" yaml:"memory"`

	// Allocs is the allocation script replayed by the alloc command.
	Allocs []Allocation `toml:"allocs" yaml:"allocs"`

	// IRQs lists the interrupt lines raised after the PIC is programmed.
	IRQs []int `toml:"irqs" yaml:"irqs"`
}

// KernelImage locates the kernel in physical memory. When ELF is set, the
// bounds are read from the image's symbol table instead.
type KernelImage struct {
	Start uint64 `toml:"start" yaml:"start"`
	End   uint64 `toml:"end" yaml:"end"`
	ELF   string `toml:"elf" yaml:"elf"`
}

// Region is a memory map entry.
type Region struct {
	Base   uint64 `toml:"base" yaml:"base"`
	Length uint64 `toml:"length" yaml:"length"`
	Type   string `toml:"type" yaml:"type"`
}

// Allocation is a single boot allocator request.
type Allocation struct {
	Size  uint64 `toml:"size" yaml:"size"`
	Align uint64 `toml:"align" yaml:"align"`
}

// memoryTypes maps the region type names accepted in machine descriptions to
// multiboot memory types.
var memoryTypes = map[string]multiboot.MemoryEntryType{
	"available": multiboot.MemAvailable,
	"reserved":  multiboot.MemReserved,
	"acpi":      multiboot.MemAcpiReclaimable,
	"nvs":       multiboot.MemNvs,
	"bad":       multiboot.MemBad,
}

// LoadMachine reads a machine description. The format is picked from the
// file extension: .toml, .yaml or .yml.
func LoadMachine(path string) (*Machine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	m, err := DecodeMachine(data, strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	// A relative image path is relative to the description.
	if m.Kernel.ELF != "" && !filepath.IsAbs(m.Kernel.ELF) {
		m.Kernel.ELF = filepath.Join(filepath.Dir(path), m.Kernel.ELF)
	}
	return m, nil
}

// DecodeMachine parses a machine description in the given format and
// validates it.
func DecodeMachine(data []byte, format string) (*Machine, error) {
	var m Machine

	switch format {
	case "toml":
		md, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&m)
		if err != nil {
			return nil, err
		}
		if undecoded := md.Undecoded(); len(undecoded) != 0 {
			return nil, fmt.Errorf("unknown key %q", undecoded[0].String())
		}
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&m); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported machine description format %q", format)
	}

	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Machine) validate() error {
	if len(m.Memory) == 0 {
		return fmt.Errorf("machine %q: no memory regions", m.Name)
	}

	for i, r := range m.Memory {
		if _, ok := memoryTypes[r.Type]; !ok {
			return fmt.Errorf("machine %q: memory region %d: unknown type %q", m.Name, i, r.Type)
		}
	}

	if m.Kernel.ELF == "" && m.Kernel.End < m.Kernel.Start {
		return fmt.Errorf("machine %q: kernel end 0x%x below start 0x%x", m.Name, m.Kernel.End, m.Kernel.Start)
	}

	for _, line := range m.IRQs {
		if line < 0 || line >= 16 {
			return fmt.Errorf("machine %q: irq %d out of range", m.Name, line)
		}
	}
	return nil
}

// MemoryMap encodes the regions the way the bootloader hands them over.
func (m *Machine) MemoryMap() multiboot.MemoryMap {
	entries := make([]multiboot.MemoryMapEntry, 0, len(m.Memory))
	for _, r := range m.Memory {
		entries = append(entries, multiboot.MemoryMapEntry{
			PhysAddress: r.Base,
			Length:      r.Length,
			Type:        memoryTypes[r.Type],
		})
	}
	return multiboot.NewMemoryMap(multiboot.EncodeMemoryMap(entries))
}

// KernelBounds returns the physical start and end of the kernel image.
func (m *Machine) KernelBounds() (uint64, uint64, error) {
	if m.Kernel.ELF == "" {
		return m.Kernel.Start, m.Kernel.End, nil
	}
	return elfKernelBounds(m.Kernel.ELF)
}
