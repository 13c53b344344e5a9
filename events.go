package namedsem

import (
	"time"

	"github.com/sirupsen/logrus"
)

// EventKind identifies what happened to a semaphore handle.
type EventKind string

const (
	// EventKeyFileCreated is emitted when this handle creates the key-file.
	EventKeyFileCreated EventKind = "keyfile-created"
	// EventCreated is emitted when this handle creates the kernel object.
	EventCreated EventKind = "created"
	// EventAttached is emitted when the kernel object already existed.
	EventAttached EventKind = "attached"
	// EventInitialized is emitted after the count is set to the initial value.
	EventInitialized EventKind = "initialized"
	// EventAlreadyConfigured is emitted when Configure finds the handle bound
	// to the name already.
	EventAlreadyConfigured EventKind = "already-configured"
	// EventRemoved is emitted when the kernel object is gone after cleanup.
	EventRemoved EventKind = "removed"
	// EventStaleHandle is emitted when the kernel object vanished during an
	// adjustment and the handle re-resolves.
	EventStaleHandle EventKind = "stale-handle"
	// EventResolveFailed is emitted when creating or attaching fails.
	EventResolveFailed EventKind = "resolve-failed"
	// EventRemoveFailed is emitted when the key-file or the kernel object
	// cannot be destroyed.
	EventRemoveFailed EventKind = "remove-failed"
	// EventAdjustFailed is emitted when an adjustment fails for good.
	EventAdjustFailed EventKind = "adjust-failed"
	// EventInvalidRelease is emitted when Release is called with a negative
	// count.
	EventInvalidRelease EventKind = "invalid-release"
)

// Failure reports whether the event describes something that went wrong.
func (k EventKind) Failure() bool {
	switch k {
	case EventResolveFailed, EventRemoveFailed, EventAdjustFailed, EventInvalidRelease:
		return true
	}
	return false
}

// Event is a structured diagnostic emitted by a NamedSemaphore.
type Event struct {
	Kind    EventKind `msgpack:"kind"`
	Name    string    `msgpack:"name"`
	KeyFile string    `msgpack:"key_file"`
	Key     int       `msgpack:"key"`
	SemID   int       `msgpack:"sem_id"`
	Delta   int       `msgpack:"delta,omitempty"`
	Err     string    `msgpack:"err,omitempty"`
	Time    time.Time `msgpack:"time"`
}

// Observer receives events from a handle. It is called synchronously from
// the operation that produced the event and must not call back into the
// handle.
type Observer func(Event)

// MultiObserver fans an event out to every non-nil observer.
func MultiObserver(observers ...Observer) Observer {
	return func(ev Event) {
		for _, o := range observers {
			if o != nil {
				o(ev)
			}
		}
	}
}

// LogrusObserver logs failures at warning level and everything else at
// debug level.
func LogrusObserver(log logrus.FieldLogger) Observer {
	return func(ev Event) {
		entry := log.WithFields(logrus.Fields{
			"sem":     ev.Name,
			"keyfile": ev.KeyFile,
			"key":     ev.Key,
			"semid":   ev.SemID,
		})
		if ev.Delta != 0 {
			entry = entry.WithField("delta", ev.Delta)
		}
		if ev.Err != "" {
			entry = entry.WithField("error", ev.Err)
		}
		if ev.Kind.Failure() {
			entry.Warn(string(ev.Kind))
		} else {
			entry.Debug(string(ev.Kind))
		}
	}
}
