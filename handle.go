package namedsem

import (
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

const unresolved = -1

// Options configures a NamedSemaphore.
type Options struct {
	// KeyDir is the directory holding key-files. Defaults to DefaultKeyDir.
	// Processes only meet if they use the same directory.
	KeyDir string

	// Observer receives diagnostic events. May be nil.
	Observer Observer
}

// KeyFilePath returns the key-file path for name under o.KeyDir.
func (o Options) KeyFilePath(name string) string {
	if o.KeyDir == "" {
		return KeyFilePath(name)
	}
	return keyFilePath(o.KeyDir, name)
}

// NamedSemaphore is a counting semaphore shared between processes that
// agree on a name. The name is hashed into a key-file path, the key-file's
// identity into a System V IPC key, and the key into a kernel semaphore
// with a single member.
//
// The kernel object outlives the process. It is destroyed only when a handle
// that owns it is closed; see Ownership.
//
// A NamedSemaphore is not safe for concurrent use by multiple goroutines.
// Share the name instead and give each goroutine its own handle.
type NamedSemaphore struct {
	name         string
	keyDir       string
	keyFile      string
	key          int
	semID        int
	initialValue int
	mode         AccessMode
	ownership    Ownership
	created      bool
	observer     Observer
}

// NewNamedSemaphore returns an unconfigured handle. Call Configure to bind it
// to a name.
func NewNamedSemaphore(opts Options) *NamedSemaphore {
	if opts.KeyDir == "" {
		opts.KeyDir = DefaultKeyDir
	}
	return &NamedSemaphore{
		keyDir:   opts.KeyDir,
		key:      unresolved,
		semID:    unresolved,
		observer: opts.Observer,
	}
}

// CreateNamedSemaphore creates or takes ownership of the semaphore called
// name and sets its count to initialValue. A negative initialValue leaves
// the count untouched.
func CreateNamedSemaphore(name string, initialValue int, opts ...Options) (*NamedSemaphore, error) {
	s := NewNamedSemaphore(firstOptions(opts))
	if err := s.Configure(name, initialValue, Create); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenNamedSemaphore attaches to the semaphore called name without changing
// its count. If no process has created it yet, it is created with a count of
// zero and this handle becomes its owner.
func OpenNamedSemaphore(name string, opts ...Options) (*NamedSemaphore, error) {
	s := NewNamedSemaphore(firstOptions(opts))
	if err := s.Configure(name, -1, Open); err != nil {
		return nil, err
	}
	return s, nil
}

func firstOptions(opts []Options) Options {
	if len(opts) > 0 {
		return opts[0]
	}
	return Options{}
}

// Configure binds the handle to name and resolves the kernel object.
//
// Reconfiguring with the same name in Open mode does nothing. Reconfiguring
// with the same name in Create mode on a handle that already owns the
// semaphore re-initializes the count to initialValue while keeping the kernel
// object. Any other change releases the previous binding first.
func (s *NamedSemaphore) Configure(name string, initialValue int, mode AccessMode) error {
	if name == "" {
		return ErrInvalidName
	}
	if name == s.name && mode == Open {
		if s.key != unresolved {
			s.emit(EventAlreadyConfigured, nil)
			return nil
		}
		_, err := s.resolve(mode)
		return err
	}
	if name == s.name && mode == Create && s.ownership == OwnsBoth {
		s.initialValue = initialValue
		s.mode = mode
		s.key = unresolved
		s.semID = unresolved
		_, err := s.resolve(mode)
		return err
	}

	s.cleanup()

	s.name = name
	s.initialValue = initialValue
	s.mode = mode
	s.keyFile = keyFilePath(s.keyDir, name)
	_, err := s.resolve(mode)
	return err
}

// resolve returns the IPC key of the kernel object, creating or attaching to
// it on first use. On failure the handle is cleaned up and left unresolved.
func (s *NamedSemaphore) resolve(mode AccessMode) (int, error) {
	if s.key != unresolved {
		return s.key, nil
	}
	if s.name == "" {
		return unresolved, ErrNotConfigured
	}

	built, err := ensureKeyFile(s.keyFile)
	if err != nil {
		s.emit(EventResolveFailed, err)
		return unresolved, err
	}
	s.ownership = NotOwned
	if built == keyFileCreated {
		s.ownership = OwnsKeyFileOnly
		s.emit(EventKeyFileCreated, nil)
	}

	key, err := ftok(s.keyFile, projectID)
	if err != nil {
		return unresolved, s.fail(&ResourceError{Op: "ftok", Path: s.keyFile, Err: err})
	}

	id, err := semget(key, 1, semaphoreMode|ipcCreat|ipcExcl)
	switch {
	case err == nil:
		s.ownership = OwnsBoth
		s.created = true
	case isExist(err):
		id, err = semget(key, 1, semaphoreMode|ipcCreat)
		if err != nil {
			return unresolved, s.fail(&ResourceError{Op: "semget", Path: s.keyFile, Err: err})
		}
		if mode == Create {
			s.ownership = OwnsBoth
		}
	default:
		return unresolved, s.fail(&ResourceError{Op: "semget", Path: s.keyFile, Err: err})
	}
	s.key, s.semID = key, id
	if s.created {
		s.emit(EventCreated, nil)
	} else {
		s.emit(EventAttached, nil)
	}

	if s.ownership.ownsKernelObject() && s.initialValue >= 0 {
		if err := semSetVal(s.semID, s.initialValue); err != nil {
			return unresolved, s.fail(&ResourceError{Op: "setval", Path: s.keyFile, Err: err})
		}
		s.emitDelta(EventInitialized, s.initialValue, nil)
	}
	return s.key, nil
}

// fail reports a resolution failure and releases whatever this handle owns.
func (s *NamedSemaphore) fail(err error) error {
	s.emit(EventResolveFailed, err)
	s.cleanup()
	return err
}

// cleanup forgets the kernel object and destroys the shared resources this
// handle owns. It is idempotent. A kernel object that no longer exists counts
// as removed. Other removal failures are reported to the observer and
// returned, but the handle is reset regardless.
func (s *NamedSemaphore) cleanup() error {
	var result *multierror.Error
	s.key = unresolved
	if s.ownership.ownsKeyFile() {
		if err := removeKeyFile(s.keyFile); err != nil {
			s.emit(EventRemoveFailed, err)
			result = multierror.Append(result, err)
		}
	}
	if s.ownership.ownsKernelObject() && s.semID != unresolved {
		switch err := semRemove(s.semID); {
		case err == nil, isStale(err):
			// A stale id means another owner removed it first.
			s.emit(EventRemoved, nil)
		default:
			err = errors.Wrapf(err, "removing semaphore %d", s.semID)
			s.emit(EventRemoveFailed, err)
			result = multierror.Append(result, err)
		}
	}
	s.semID = unresolved
	s.ownership = NotOwned
	s.created = false
	return result.ErrorOrNil()
}

// Close drops the binding. If the handle owns the semaphore, the kernel
// object and the key-file are destroyed, which wakes every blocked waiter in
// other processes with a stale-handle error.
func (s *NamedSemaphore) Close() error {
	return s.cleanup()
}

// Remove destroys the semaphore and its key-file whether or not this handle
// created them.
func (s *NamedSemaphore) Remove() error {
	if s.name == "" {
		return ErrNotConfigured
	}
	if err := s.Configure(s.name, -1, Create); err != nil {
		return err
	}
	return s.cleanup()
}

// Key returns the logical name the handle is bound to.
func (s *NamedSemaphore) Key() string {
	return s.name
}

// KeyFile returns the key-file path derived from the name.
func (s *NamedSemaphore) KeyFile() string {
	return s.keyFile
}

// SysVKey returns the IPC key and whether the handle is resolved.
func (s *NamedSemaphore) SysVKey() (int, bool) {
	return s.key, s.key != unresolved
}

// Mode returns the access mode of the last Configure call.
func (s *NamedSemaphore) Mode() AccessMode {
	return s.mode
}

// Ownership reports which shared resources Close will destroy.
func (s *NamedSemaphore) Ownership() Ownership {
	return s.ownership
}

// Created reports whether this handle won the exclusive creation of the
// current kernel object, as opposed to claiming it through Create mode.
func (s *NamedSemaphore) Created() bool {
	return s.created
}

func (s *NamedSemaphore) emit(kind EventKind, err error) {
	s.emitDelta(kind, 0, err)
}

func (s *NamedSemaphore) emitDelta(kind EventKind, delta int, err error) {
	if s.observer == nil {
		return
	}
	ev := Event{
		Kind:    kind,
		Name:    s.name,
		KeyFile: s.keyFile,
		Key:     s.key,
		SemID:   s.semID,
		Delta:   delta,
		Time:    time.Now(),
	}
	if err != nil {
		ev.Err = err.Error()
	}
	s.observer(ev)
}
