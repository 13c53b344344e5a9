package namedsem

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidName is returned when a handle is configured with an empty name.
	ErrInvalidName = errors.New("namedsem: semaphore name must not be empty")

	// ErrNegativeRelease is returned by Release for a negative count.
	// No kernel call is made.
	ErrNegativeRelease = errors.New("namedsem: release count is negative")

	// ErrNotConfigured is returned by operations on a handle that was never
	// given a name.
	ErrNotConfigured = errors.New("namedsem: semaphore is not configured")

	// ErrNotSupported is returned on platforms without System V semaphores.
	ErrNotSupported = errors.New("namedsem: System V semaphores are not supported on this platform")
)

// ResourceError reports a failure to create or attach to one of the shared
// resources behind a name: the key-file or the kernel semaphore object.
// The handle is left unresolved and the operation may be retried.
type ResourceError struct {
	Op   string // "keyfile", "ftok", "semget", "setval"
	Path string // key-file path
	Err  error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("namedsem: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}

// IsResourceError reports whether err is, or wraps, a *ResourceError.
func IsResourceError(err error) bool {
	var re *ResourceError
	return errors.As(err, &re)
}
