//go:build linux && (amd64 || arm64 || riscv64)

package namedsem

import (
	"os"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// semctl commands hidden from x/sys/unix.
const (
	cmdGetVal  = 12
	cmdGetNCnt = 14
	cmdSetVal  = 16

	semUndo = 0x1000

	ipcCreat = unix.IPC_CREAT
	ipcExcl  = unix.IPC_EXCL
)

type sembuf struct {
	SemNum uint16
	SemOp  int16
	SemFlg int16
}

// ftok reproduces the glibc key derivation so that C programs calling
// ftok(path, proj) land on the same kernel key.
func ftok(path string, proj byte) (int, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return unresolved, &os.PathError{Op: "ftok", Path: path, Err: err}
	}
	k := uint32(proj)<<24 | (uint32(st.Dev)&0xff)<<16 | uint32(st.Ino)&0xffff
	return int(int32(k)), nil
}

func semget(key, nsems, flag int) (int, error) {
	id, _, e := unix.Syscall(unix.SYS_SEMGET, uintptr(int32(key)), uintptr(nsems), uintptr(flag))
	if e != 0 {
		return unresolved, e
	}
	return int(id), nil
}

func semctl(id, num, cmd, arg int) (int, error) {
	r, _, e := unix.Syscall6(unix.SYS_SEMCTL, uintptr(id), uintptr(num), uintptr(cmd), uintptr(arg), 0, 0)
	if e != 0 {
		return 0, e
	}
	return int(r), nil
}

// semSetVal passes the value directly: union semun travels by value.
func semSetVal(id, v int) error {
	_, err := semctl(id, 0, cmdSetVal, v)
	return err
}

func semGetVal(id int) (int, error) {
	return semctl(id, 0, cmdGetVal, 0)
}

func semGetNCnt(id int) (int, error) {
	return semctl(id, 0, cmdGetNCnt, 0)
}

func semRemove(id int) error {
	_, err := semctl(id, 0, unix.IPC_RMID, 0)
	return err
}

// semop applies delta to the single member of id with SEM_UNDO. A nil
// deadline blocks indefinitely. Signal interruptions are retried; the timed
// form retries with whatever time is left.
func semop(id, delta int, nowait bool, deadline *time.Time) error {
	flags := int16(semUndo)
	if nowait {
		flags |= unix.IPC_NOWAIT
	}
	op := sembuf{SemNum: 0, SemOp: int16(delta), SemFlg: flags}
	for {
		var ts *unix.Timespec
		if deadline != nil {
			remaining := time.Until(*deadline)
			if remaining < 0 {
				remaining = 0
			}
			t := unix.NsecToTimespec(remaining.Nanoseconds())
			ts = &t
		}
		_, _, e := unix.Syscall6(unix.SYS_SEMTIMEDOP, uintptr(id), uintptr(unsafe.Pointer(&op)), 1,
			uintptr(unsafe.Pointer(ts)), 0, 0)
		switch e {
		case 0:
			return nil
		case unix.EINTR:
			continue
		}
		return e
	}
}

// isTimeout reports whether a semop error means the operation could not
// complete in time (or at all, for IPC_NOWAIT).
func isTimeout(err error) bool {
	return errors.Is(err, unix.EAGAIN)
}

// isStale reports whether the kernel says the semaphore id no longer refers
// to a live object.
func isStale(err error) bool {
	return errors.Is(err, unix.EINVAL) || errors.Is(err, unix.EIDRM)
}

func isExist(err error) bool {
	return errors.Is(err, unix.EEXIST)
}
