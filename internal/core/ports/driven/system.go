package driven

import "context"

// Lock is a held advisory lock.
type Lock interface {
	// Unlock releases the lock. Safe to call more than once.
	Unlock() error
}

// Locker acquires cross-process advisory locks by name.
type Locker interface {
	// TryLock acquires name without waiting.
	// Returns domain.ErrLockHeld when another process holds it.
	TryLock(name string) (Lock, error)

	// Lock waits until name is acquired or ctx is done.
	Lock(ctx context.Context, name string) (Lock, error)
}

// ChangeNotifier signals when a watched file changes.
type ChangeNotifier interface {
	// Changes delivers a value after writes to the watched file. Bursts
	// are coalesced.
	Changes() <-chan struct{}

	// Close stops watching.
	Close() error
}

// MemoryProbe reports available system memory.
type MemoryProbe interface {
	AvailableMB() (uint64, error)
}
