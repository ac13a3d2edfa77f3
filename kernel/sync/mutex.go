package sync

// Mutex guards a value of type T with a Spinlock. The value can only be
// reached through the Guard returned by Lock, so it is never read or written
// without holding the lock.
type Mutex[T any] struct {
	lock  Spinlock
	value T
}

// NewMutex returns a Mutex guarding value.
func NewMutex[T any](value T) Mutex[T] {
	return Mutex[T]{value: value}
}

// Guard is proof that its holder owns the lock of a Mutex.
type Guard[T any] struct {
	mutex *Mutex[T]
}

// Lock spins until the mutex is acquired and returns a guard for it. The
// caller must call Unlock on the returned guard exactly once, typically via
// defer.
func (m *Mutex[T]) Lock() Guard[T] {
	m.lock.Acquire()
	return Guard[T]{mutex: m}
}

// TryLock acquires the mutex if it is free. The returned bool is false if
// the mutex is held elsewhere, in which case the guard is unusable.
func (m *Mutex[T]) TryLock() (Guard[T], bool) {
	if !m.lock.TryToAcquire() {
		return Guard[T]{}, false
	}
	return Guard[T]{mutex: m}, true
}

// IsLocked reports whether the mutex is currently held.
func (m *Mutex[T]) IsLocked() bool {
	return m.lock.IsLocked()
}

// Value returns a pointer to the protected value. The pointer must not be
// retained after Unlock. Value returns nil for a released guard.
func (g *Guard[T]) Value() *T {
	if g.mutex == nil {
		return nil
	}
	return &g.mutex.value
}

// Unlock releases the mutex. Further calls on a released guard are no-ops.
func (g *Guard[T]) Unlock() {
	if g.mutex == nil {
		return
	}
	g.mutex.lock.Release()
	g.mutex = nil
}
