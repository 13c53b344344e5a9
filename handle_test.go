//go:build linux && (amd64 || arm64 || riscv64)

package namedsem

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireSysV skips the test when the kernel refuses System V semaphores,
// as happens in some sandboxes.
func requireSysV(t *testing.T) {
	t.Helper()
	id, err := semget(0, 1, semaphoreMode|ipcCreat) // IPC_PRIVATE
	if err != nil {
		t.Skipf("System V semaphores unavailable: %v", err)
	}
	_ = semRemove(id)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) observe(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) has(kind EventKind) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}

func (l *eventLog) count(kind EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func testOptions(t *testing.T) Options {
	return Options{KeyDir: t.TempDir()}
}

func mustValue(t *testing.T, s *NamedSemaphore) int {
	t.Helper()
	v, err := s.Value()
	require.NoError(t, err)
	return v
}

func TestCreateAndOpen(t *testing.T) {
	requireSysV(t)
	opts := testOptions(t)

	owner, err := CreateNamedSemaphore("jobs", 5, opts)
	require.NoError(t, err)
	t.Cleanup(func() { owner.Close() })

	assert.True(t, owner.Created())
	assert.Equal(t, OwnsBoth, owner.Ownership())
	assert.Equal(t, "jobs", owner.Key())
	assert.Equal(t, keyFilePath(opts.KeyDir, "jobs"), owner.KeyFile())
	assert.Equal(t, 5, mustValue(t, owner))

	user, err := OpenNamedSemaphore("jobs", opts)
	require.NoError(t, err)
	defer user.Close()

	assert.False(t, user.Created())
	assert.Equal(t, NotOwned, user.Ownership())
	ownerKey, ok := owner.SysVKey()
	require.True(t, ok)
	userKey, ok := user.SysVKey()
	require.True(t, ok)
	assert.Equal(t, ownerKey, userKey)
	assert.Equal(t, 5, mustValue(t, user))
}

func TestAttachDoesNotReinitialize(t *testing.T) {
	requireSysV(t)
	opts := testOptions(t)

	owner, err := CreateNamedSemaphore("pool", 5, opts)
	require.NoError(t, err)
	t.Cleanup(func() { owner.Close() })

	second, err := OpenNamedSemaphore("pool", opts)
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.Acquire())
	defer second.Release(1)

	third := NewNamedSemaphore(opts)
	require.NoError(t, third.Configure("pool", 999, Open))
	defer third.Close()

	assert.Equal(t, NotOwned, third.Ownership())
	assert.Equal(t, 4, mustValue(t, third))
}

func TestCreateModeClaimsExistingObject(t *testing.T) {
	requireSysV(t)
	opts := testOptions(t)

	first, err := OpenNamedSemaphore("claimed", opts)
	require.NoError(t, err)
	assert.True(t, first.Created())

	second, err := CreateNamedSemaphore("claimed", 2, opts)
	require.NoError(t, err)
	assert.False(t, second.Created())
	assert.Equal(t, OwnsBoth, second.Ownership())
	assert.Equal(t, 2, mustValue(t, first))

	require.NoError(t, second.Close())
	_, err = os.Stat(first.KeyFile())
	assert.True(t, os.IsNotExist(err), "owner removed the key-file")
	// second already destroyed the object; closing first finds it gone
	assert.NoError(t, first.Close())
}

func TestCreateRace(t *testing.T) {
	requireSysV(t)
	opts := testOptions(t)

	const racers = 8
	handles := make([]*NamedSemaphore, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := CreateNamedSemaphore("race", 3, opts)
			assert.NoError(t, err)
			handles[i] = s
		}(i)
	}
	wg.Wait()
	for _, h := range handles {
		require.NotNil(t, h)
	}
	t.Cleanup(func() {
		for _, h := range handles {
			h.Close()
		}
	})

	creators := 0
	key, _ := handles[0].SysVKey()
	for _, h := range handles {
		if h.Created() {
			creators++
		}
		k, ok := h.SysVKey()
		assert.True(t, ok)
		assert.Equal(t, key, k)
		assert.Equal(t, OwnsBoth, h.Ownership())
	}
	assert.Equal(t, 1, creators)
	assert.Equal(t, 3, mustValue(t, handles[0]))
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	requireSysV(t)
	s, err := CreateNamedSemaphore("roundtrip", 2, testOptions(t))
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 50; i++ {
		require.NoError(t, s.Acquire())
		require.NoError(t, s.Release(1))
	}
	assert.Equal(t, 2, mustValue(t, s))

	require.NoError(t, s.Adjust(-2))
	assert.Equal(t, 0, mustValue(t, s))
	require.NoError(t, s.Release(2))
	assert.Equal(t, 2, mustValue(t, s))
}

func TestReleaseRejectsNegative(t *testing.T) {
	requireSysV(t)
	log := &eventLog{}
	opts := testOptions(t)
	opts.Observer = log.observe
	s, err := CreateNamedSemaphore("negative", 1, opts)
	require.NoError(t, err)
	defer s.Close()

	assert.ErrorIs(t, s.Release(-1), ErrNegativeRelease)
	assert.True(t, log.has(EventInvalidRelease))
	assert.NoError(t, s.Release(0))
	assert.Equal(t, 1, mustValue(t, s))
}

func TestAdjustOutOfRange(t *testing.T) {
	requireSysV(t)
	s, err := CreateNamedSemaphore("range", 1, testOptions(t))
	require.NoError(t, err)
	defer s.Close()

	assert.Error(t, s.Adjust(1<<16))
	assert.Equal(t, 1, mustValue(t, s))
}

func TestAdjustByZeroReturnsImmediately(t *testing.T) {
	requireSysV(t)
	s, err := CreateNamedSemaphore("zero", 2, testOptions(t))
	require.NoError(t, err)
	defer s.Close()

	start := time.Now()
	res, err := s.AdjustTimeout(0, time.Second)
	require.NoError(t, err)
	assert.Equal(t, OpOK, res)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	require.NoError(t, s.Adjust(0))
	assert.Equal(t, 2, mustValue(t, s))
}

func TestTimedAdjustTimesOut(t *testing.T) {
	requireSysV(t)
	s, err := CreateNamedSemaphore("empty", 0, testOptions(t))
	require.NoError(t, err)
	defer s.Close()

	start := time.Now()
	res, err := s.AdjustTimeout(-1, 200*time.Millisecond)
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Equal(t, OpTimedOut, res)
	assert.GreaterOrEqual(t, int64(elapsed), int64(150*time.Millisecond))
	assert.Less(t, int64(elapsed), int64(2*time.Second))

	ok, err := s.AcquireTimeout(20)
	assert.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.TryAcquire()
	assert.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Release(1))
	ok, err = s.TryAcquire()
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestTimedAdjustWokenByRelease(t *testing.T) {
	requireSysV(t)
	opts := testOptions(t)
	owner, err := CreateNamedSemaphore("handoff", 0, opts)
	require.NoError(t, err)
	defer owner.Close()

	done := make(chan OpResult, 1)
	go func() {
		waiter, err := OpenNamedSemaphore("handoff", opts)
		if err != nil {
			done <- OpError
			return
		}
		res, _ := waiter.AdjustTimeout(-1, 5*time.Second)
		done <- res
	}()

	waitForWaiters(t, owner, 1)
	require.NoError(t, owner.Release(1))
	assert.Equal(t, OpOK, <-done)
}

func TestCleanupIdempotent(t *testing.T) {
	requireSysV(t)
	s, err := CreateNamedSemaphore("idempotent", 1, testOptions(t))
	require.NoError(t, err)

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	_, ok := s.SysVKey()
	assert.False(t, ok)
	assert.Equal(t, NotOwned, s.Ownership())

	assert.NoError(t, NewNamedSemaphore(Options{}).Close())
}

func TestConfigureRejectsEmptyName(t *testing.T) {
	s := NewNamedSemaphore(Options{KeyDir: t.TempDir()})
	assert.ErrorIs(t, s.Configure("", 1, Create), ErrInvalidName)
	assert.ErrorIs(t, s.Acquire(), ErrNotConfigured)
	assert.ErrorIs(t, s.Remove(), ErrNotConfigured)
}

func TestConfigureSameNameOpenIsNoop(t *testing.T) {
	requireSysV(t)
	log := &eventLog{}
	opts := testOptions(t)
	opts.Observer = log.observe
	s, err := CreateNamedSemaphore("noop", 3, opts)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Acquire())

	require.NoError(t, s.Configure("noop", 10, Open))
	assert.True(t, log.has(EventAlreadyConfigured))
	assert.Equal(t, 2, mustValue(t, s))
	require.NoError(t, s.Release(1))
}

func TestConfigureReinitializes(t *testing.T) {
	requireSysV(t)
	s, err := CreateNamedSemaphore("reinit", 2, testOptions(t))
	require.NoError(t, err)
	defer s.Close()
	key, _ := s.SysVKey()

	require.NoError(t, s.Configure("reinit", 7, Create))
	assert.Equal(t, 7, mustValue(t, s))
	again, _ := s.SysVKey()
	assert.Equal(t, key, again)
	assert.Equal(t, OwnsBoth, s.Ownership())
}

func TestConfigureRebindReleasesPrevious(t *testing.T) {
	requireSysV(t)
	s, err := CreateNamedSemaphore("before", 1, testOptions(t))
	require.NoError(t, err)
	oldFile := s.KeyFile()

	require.NoError(t, s.Configure("after", 4, Create))
	defer s.Close()
	_, err = os.Stat(oldFile)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, "after", s.Key())
	assert.Equal(t, 4, mustValue(t, s))
}

func TestResolveFailureLeavesHandleUnresolved(t *testing.T) {
	log := &eventLog{}
	opts := Options{KeyDir: filepath.Join(t.TempDir(), "missing"), Observer: log.observe}

	_, err := CreateNamedSemaphore("nowhere", 1, opts)
	require.Error(t, err)
	assert.True(t, IsResourceError(err))
	assert.True(t, log.has(EventResolveFailed))

	s := NewNamedSemaphore(opts)
	require.Error(t, s.Configure("nowhere", 1, Create))
	_, ok := s.SysVKey()
	assert.False(t, ok)
	assert.Equal(t, NotOwned, s.Ownership())
}

func TestStaleObjectRecovery(t *testing.T) {
	requireSysV(t)
	log := &eventLog{}
	opts := testOptions(t)

	owner, err := CreateNamedSemaphore("stale", 1, opts)
	require.NoError(t, err)

	userOpts := opts
	userOpts.Observer = log.observe
	user := NewNamedSemaphore(userOpts)
	require.NoError(t, user.Configure("stale", 1, Open))
	defer user.Close()
	assert.Equal(t, NotOwned, user.Ownership())

	require.NoError(t, owner.Close())

	require.NoError(t, user.Acquire())
	assert.True(t, log.has(EventStaleHandle))
	assert.True(t, user.Created(), "user recreated the object")
	assert.Equal(t, 0, mustValue(t, user))
}

func TestBlockedWaiterRecoversFromRemoval(t *testing.T) {
	requireSysV(t)
	opts := testOptions(t)

	owner, err := CreateNamedSemaphore("vanish", 0, opts)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		waiter := NewNamedSemaphore(opts)
		if err := waiter.Configure("vanish", 1, Open); err != nil {
			done <- err
			return
		}
		defer waiter.Close()
		done <- waiter.Acquire()
	}()

	waitForWaiters(t, owner, 1)
	require.NoError(t, owner.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter did not recover from removal")
	}
}

func TestSecondLossWithinOneCallFails(t *testing.T) {
	requireSysV(t)
	log := &eventLog{}
	opts := testOptions(t)

	owner, err := CreateNamedSemaphore("twice", 0, opts)
	require.NoError(t, err)

	waiterOpts := opts
	waiterOpts.Observer = log.observe
	waiter := NewNamedSemaphore(waiterOpts)
	require.NoError(t, waiter.Configure("twice", 0, Open))

	done := make(chan error, 1)
	go func() {
		done <- waiter.Acquire()
	}()

	waitForWaiters(t, owner, 1)
	require.NoError(t, owner.Close())

	// The waiter re-resolves and blocks again, possibly on an object this
	// handle creates if it gets there first.
	deadline := time.Now().Add(5 * time.Second)
	for !log.has(EventStaleHandle) {
		if time.Now().After(deadline) {
			t.Fatal("waiter never noticed the removal")
		}
		time.Sleep(5 * time.Millisecond)
	}
	killer, err := OpenNamedSemaphore("twice", opts)
	require.NoError(t, err)
	waitForWaiters(t, killer, 1)
	require.NoError(t, killer.Remove())

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, isStale(err), "unexpected error %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("second removal did not fail the blocked acquire")
	}
	assert.Equal(t, 1, log.count(EventStaleHandle))
	assert.True(t, log.has(EventAdjustFailed))
	assert.NoError(t, waiter.Close())
}

func TestCloseAfterExternalRemoval(t *testing.T) {
	requireSysV(t)
	log := &eventLog{}
	opts := testOptions(t)
	opts.Observer = log.observe

	owner, err := CreateNamedSemaphore("gone", 1, opts)
	require.NoError(t, err)
	other, err := OpenNamedSemaphore("gone", Options{KeyDir: opts.KeyDir})
	require.NoError(t, err)
	require.NoError(t, other.Remove())

	assert.NoError(t, owner.Close())
	assert.False(t, log.has(EventRemoveFailed))
}

func TestRemoveByNonOwner(t *testing.T) {
	requireSysV(t)
	opts := testOptions(t)

	owner, err := CreateNamedSemaphore("doomed", 1, opts)
	require.NoError(t, err)
	user, err := OpenNamedSemaphore("doomed", opts)
	require.NoError(t, err)

	require.NoError(t, user.Remove())
	_, err = os.Stat(owner.KeyFile())
	assert.True(t, os.IsNotExist(err))
	_, err = owner.Value()
	assert.Error(t, err)
}

func waitForWaiters(t *testing.T, s *NamedSemaphore, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if w, err := s.Waiters(); err == nil && w >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("never saw %d waiter(s)", n)
}
