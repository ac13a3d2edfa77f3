package multiboot

import (
	"io"

	"kcore/kernel/kfmt"
)

// PrintMemoryMap writes one line per region followed by the total amount of
// usable memory.
func PrintMemoryMap(w io.Writer, m MemoryMap) {
	var totalKb uint64

	kfmt.Fprintf(w, "----- multiboot mmap -----\n")
	kfmt.Fprintf(w, "num entries: %d\n", m.Len())
	m.Visit(func(entry MemoryMapEntry) bool {
		kfmt.Fprintf(w, "size: %d, len: %dK, addr: 0x%16x, type: %s\n",
			entry.Size,
			entry.Length/1024,
			entry.PhysAddress,
			entry.Type.String(),
		)

		if entry.Type == MemAvailable {
			totalKb += entry.Length / 1024
		}
		return true
	})
	kfmt.Fprintf(w, "total usable: %dK\n", totalKb)
}
