package namedsem

import "time"

// Semaphore provides cross-process synchronization using named semaphores.
// Processes that agree on a name coordinate through the same kernel object
// without knowing each other's process IDs or numeric IPC keys.
//
// Create a semaphore with CreateNamedSemaphore and attach to an existing one
// with OpenNamedSemaphore. Both processes must use the same name.
//
// Example:
//
//	sem, _ := namedsem.CreateNamedSemaphore("printer", 1)
//	defer sem.Close()
//
//	sem.Acquire()
//	// critical section - access shared resource
//	sem.Release(1)
type Semaphore interface {
	// Acquire blocks until the semaphore can be decremented.
	Acquire() error

	// Release increments the semaphore by n, potentially unblocking waiters.
	Release(n int) error

	// TryAcquire attempts to decrement the semaphore without blocking.
	// Returns true if acquired, false if the semaphore was not available.
	TryAcquire() (bool, error)

	// AcquireTimeout attempts to acquire with a maximum wait time in milliseconds.
	// Returns true if acquired, false if the timeout elapsed.
	AcquireTimeout(timeoutMs int) (bool, error)

	// Close releases the handle. The kernel object and key-file are only
	// destroyed when the handle owns them.
	Close() error
}

var _ Semaphore = (*NamedSemaphore)(nil)

// AccessMode selects how a handle binds to the kernel object.
type AccessMode int

const (
	// Open attaches to the object, creating it only if nobody has yet.
	Open AccessMode = iota
	// Create attaches like Open but claims ownership of the object's lifetime
	// even when another process won the creation race.
	Create
)

func (m AccessMode) String() string {
	switch m {
	case Open:
		return "open"
	case Create:
		return "create"
	}
	return "unknown"
}

// Ownership records which shared resources a handle must destroy on cleanup.
type Ownership int

const (
	NotOwned        Ownership = iota // attach only
	OwnsKeyFileOnly                  // created the key-file, lost the semaphore race
	OwnsBoth                         // responsible for key-file and kernel object
)

func (o Ownership) ownsKeyFile() bool {
	return o == OwnsKeyFileOnly || o == OwnsBoth
}

func (o Ownership) ownsKernelObject() bool {
	return o == OwnsBoth
}

func (o Ownership) String() string {
	switch o {
	case NotOwned:
		return "not-owned"
	case OwnsKeyFileOnly:
		return "owns-key-file"
	case OwnsBoth:
		return "owns-both"
	}
	return "unknown"
}

// OpResult is the outcome of a timed adjustment.
type OpResult int

const (
	// OpOK means the count was adjusted.
	OpOK OpResult = iota
	// OpTimedOut means the wait ran out before the count could be adjusted.
	OpTimedOut
	// OpError means the adjustment failed; the accompanying error says why.
	OpError
)

func (r OpResult) String() string {
	switch r {
	case OpOK:
		return "ok"
	case OpTimedOut:
		return "timed-out"
	case OpError:
		return "error"
	}
	return "unknown"
}

// millis converts the millisecond timeouts of the Semaphore interface.
func millis(ms int) time.Duration {
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms) * time.Millisecond
}
