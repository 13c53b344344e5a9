// Package namedsem provides named counting semaphores shared between
// unrelated processes on one host, built on System V semaphores.
//
// Processes that agree on a textual name meet at the same kernel object
// without exchanging process IDs or numeric IPC keys.
//
// # Naming
//
// A name is hashed with SHA-256 into a key-file path:
//
//	/tmp/zipc_systemsem_<64 hex digits>
//
// The zero-byte key-file (mode 0640) is the rendezvous token. Its identity
// is turned into an IPC key the same way ftok(3) does with project id 'Z',
// so C and C++ programs using the same scheme share the semaphore. The
// kernel object has one member and mode 0600.
//
// # Creating and Attaching
//
//	// owner: creates the semaphore (or claims an existing one) with 3 permits
//	sem, err := namedsem.CreateNamedSemaphore("render-slots", 3)
//	defer sem.Close()
//
//	// users: attach without touching the count
//	sem, err := namedsem.OpenNamedSemaphore("render-slots")
//
// Creation is race-safe: every process tries an exclusive create and falls
// back to attaching, so exactly one wins. The winner, and any handle opened
// in Create mode, owns the object and sets its count. Attaching never resets
// the count. Owned objects and key-files are destroyed by Close; objects
// are never destroyed implicitly at process exit.
//
// # Acquiring and Releasing
//
//	if err := sem.Acquire(); err != nil {
//	    return err
//	}
//	defer sem.Release(1)
//
//	ok, err := sem.AcquireTimeout(200) // milliseconds
//
//	res, err := sem.AdjustTimeout(-2, time.Second) // OpOK, OpTimedOut or OpError
//
// Adjustments carry SEM_UNDO, so the kernel reverts them if the process dies
// while holding permits. Signal interruptions are retried. If the kernel
// object is removed while a handle uses it, the handle re-resolves the name
// and retries the operation once.
//
// # Diagnostics
//
// Handles report structured events to an optional Observer. LogrusObserver
// writes them to a logrus logger and EventStream encodes them as
// MessagePack frames for another process to read with EventReader.
//
// # Platform Support
//
// The kernel layer is implemented for linux/amd64, linux/arm64 and
// linux/riscv64. Elsewhere kernel operations return ErrNotSupported.
package namedsem
