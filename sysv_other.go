//go:build !(linux && (amd64 || arm64 || riscv64))

package namedsem

import "time"

const (
	ipcCreat = 01000
	ipcExcl  = 02000
)

// Stub kernel layer for platforms without the System V semaphore syscalls.
// Key-file management still works; every kernel operation returns
// ErrNotSupported.

func ftok(path string, proj byte) (int, error) {
	return unresolved, ErrNotSupported
}

func semget(key, nsems, flag int) (int, error) {
	return unresolved, ErrNotSupported
}

func semSetVal(id, v int) error {
	return ErrNotSupported
}

func semGetVal(id int) (int, error) {
	return 0, ErrNotSupported
}

func semGetNCnt(id int) (int, error) {
	return 0, ErrNotSupported
}

func semRemove(id int) error {
	return ErrNotSupported
}

func semop(id, delta int, nowait bool, deadline *time.Time) error {
	return ErrNotSupported
}

func isTimeout(err error) bool { return false }

func isStale(err error) bool { return false }

func isExist(err error) bool { return false }
