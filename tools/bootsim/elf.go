package main

import (
	"debug/elf"
	"fmt"
)

// Linker script symbols marking the bounds of the loaded kernel image.
const (
	kernelStartSymbol = "_kernel_start"
	kernelEndSymbol   = "_kernel_end"
)

// elfKernelBounds resolves the kernel image bounds from the symbol table of
// the kernel ELF file.
func elfKernelBounds(imgFile string) (uint64, uint64, error) {
	f, err := elf.Open(imgFile)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	symbols, err := f.Symbols()
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", imgFile, err)
	}

	var start, end uint64
	var foundStart, foundEnd bool
	for _, symbol := range symbols {
		switch symbol.Name {
		case kernelStartSymbol:
			start, foundStart = symbol.Value, true
		case kernelEndSymbol:
			end, foundEnd = symbol.Value, true
		}
	}

	switch {
	case !foundStart:
		return 0, 0, fmt.Errorf("%s: could not locate address of %q", imgFile, kernelStartSymbol)
	case !foundEnd:
		return 0, 0, fmt.Errorf("%s: could not locate address of %q", imgFile, kernelEndSymbol)
	case end < start:
		return 0, 0, fmt.Errorf("%s: kernel end 0x%x below start 0x%x", imgFile, end, start)
	}

	return start, end, nil
}
