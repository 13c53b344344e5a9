package namedsem

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

// maxStaleRetries bounds how often one adjustment re-resolves after finding
// the kernel object gone.
const maxStaleRetries = 1

// Acquire takes one permit, blocking until one is available.
func (s *NamedSemaphore) Acquire() error {
	return s.Adjust(-1)
}

// Release returns n permits. Releasing zero permits is a no-op.
func (s *NamedSemaphore) Release(n int) error {
	if n == 0 {
		return nil
	}
	if n < 0 {
		s.emitDelta(EventInvalidRelease, n, ErrNegativeRelease)
		return ErrNegativeRelease
	}
	return s.Adjust(n)
}

// TryAcquire takes one permit if one is available right now.
func (s *NamedSemaphore) TryAcquire() (bool, error) {
	res, err := s.adjust(-1, true, nil)
	return res == OpOK, err
}

// AcquireTimeout takes one permit, waiting at most timeoutMs milliseconds.
func (s *NamedSemaphore) AcquireTimeout(timeoutMs int) (bool, error) {
	res, err := s.AdjustTimeout(-1, millis(timeoutMs))
	return res == OpOK, err
}

// Adjust adds delta to the count, blocking while the result would be
// negative. The adjustment is undone by the kernel if this process exits
// without compensating for it. A delta of zero returns immediately without
// touching the kernel object.
func (s *NamedSemaphore) Adjust(delta int) error {
	_, err := s.adjust(delta, false, nil)
	return err
}

// AdjustTimeout is Adjust with a bound on the wait. Running out of time
// yields OpTimedOut and a nil error.
func (s *NamedSemaphore) AdjustTimeout(delta int, timeout time.Duration) (OpResult, error) {
	if timeout < 0 {
		timeout = 0
	}
	deadline := time.Now().Add(timeout)
	return s.adjust(delta, false, &deadline)
}

func (s *NamedSemaphore) adjust(delta int, nowait bool, deadline *time.Time) (OpResult, error) {
	if delta < math.MinInt16 || delta > math.MaxInt16 {
		return OpError, errors.Errorf("namedsem: adjustment %d out of range", delta)
	}
	// semop treats zero as wait-for-zero.
	if delta == 0 {
		return OpOK, nil
	}
	for attempt := 0; ; attempt++ {
		if _, err := s.resolve(s.mode); err != nil {
			return OpError, err
		}
		err := semop(s.semID, delta, nowait, deadline)
		switch {
		case err == nil:
			return OpOK, nil
		case (nowait || deadline != nil) && isTimeout(err):
			return OpTimedOut, nil
		case isStale(err) && attempt < maxStaleRetries:
			s.emitDelta(EventStaleHandle, delta, err)
			// The id is dead; cleanup must not try to remove it.
			s.semID = unresolved
			s.cleanup()
			continue
		}
		err = errors.Wrapf(err, "namedsem: semop %d on %q", delta, s.name)
		s.emitDelta(EventAdjustFailed, delta, err)
		return OpError, err
	}
}

// Value returns the current count.
func (s *NamedSemaphore) Value() (int, error) {
	if _, err := s.resolve(s.mode); err != nil {
		return 0, err
	}
	v, err := semGetVal(s.semID)
	return v, errors.Wrapf(err, "namedsem: reading value of %q", s.name)
}

// Waiters returns the number of processes blocked decrementing the count.
func (s *NamedSemaphore) Waiters() (int, error) {
	if _, err := s.resolve(s.mode); err != nil {
		return 0, err
	}
	n, err := semGetNCnt(s.semID)
	return n, errors.Wrapf(err, "namedsem: reading waiters of %q", s.name)
}
