// Package sync provides the busy-waiting lock primitives used before a
// scheduler exists.
//
// Interrupt service routines must not acquire a lock that foreground code may
// hold: the ISR would spin forever on a lock that can only be released once
// the ISR returns. Data shared with ISRs is instead updated before interrupts
// are enabled or through single I/O instructions.
package sync

import (
	"sync/atomic"

	"kcore/kernel/cpu"
)

var (
	// spinHintFn is invoked on every iteration of the busy-wait loop. Tests
	// replace it with runtime.Gosched.
	spinHintFn = cpu.SpinHint
)

const (
	unlocked uint32 = iota
	locked
)

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available. Its zero value is an unlocked lock.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for !atomic.CompareAndSwapUint32(&l.state, unlocked, locked) {
		// Spin on a plain load so that waiters do not keep the cache
		// line in exclusive state.
		for atomic.LoadUint32(&l.state) != unlocked {
			spinHintFn()
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.CompareAndSwapUint32(&l.state, unlocked, locked)
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, unlocked)
}

// IsLocked reports whether the lock is currently held.
func (l *Spinlock) IsLocked() bool {
	return atomic.LoadUint32(&l.state) == locked
}
