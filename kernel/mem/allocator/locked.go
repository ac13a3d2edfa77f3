package allocator

import (
	"kcore/kernel"
	"kcore/kernel/hal/multiboot"
	"kcore/kernel/mem"
	"kcore/kernel/sync"
)

// Locked is a BumpAllocator that can be shared between callers. Every
// operation holds a spin mutex for its duration.
type Locked struct {
	mutex sync.Mutex[BumpAllocator]
}

// Init sets up the arena. See BumpAllocator.Init.
func (l *Locked) Init(memMap multiboot.MemoryMap, kernelStart, kernelEnd uintptr) *kernel.Error {
	guard := l.mutex.Lock()
	defer guard.Unlock()
	return guard.Value().Init(memMap, kernelStart, kernelEnd)
}

// Alloc reserves size bytes aligned to align. See BumpAllocator.Alloc.
func (l *Locked) Alloc(size mem.Size, align uintptr) (uintptr, *kernel.Error) {
	guard := l.mutex.Lock()
	defer guard.Unlock()
	return guard.Value().Alloc(size, align)
}

// Free releases an allocation. See BumpAllocator.Free.
func (l *Locked) Free(addr uintptr) {
	guard := l.mutex.Lock()
	defer guard.Unlock()
	guard.Value().Free(addr)
}

// Stats returns a snapshot of the allocator state.
func (l *Locked) Stats() Stats {
	guard := l.mutex.Lock()
	defer guard.Unlock()
	return guard.Value().Stats()
}
