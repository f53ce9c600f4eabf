package engine

import (
	"time"

	"reel/internal/playback"
	"reel/internal/services"
)

// ErrorKind classifies engine failures.
type ErrorKind = services.ErrorKind

// Failure kinds surfaced on events.
const (
	KindNone             = services.KindNone
	KindFetchFailed      = services.KindFetchFailed
	KindMediaLoadFailed  = services.KindMediaLoadFailed
	KindMediaStalled     = services.KindMediaStalled
	KindCacheWriteFailed = services.KindCacheWriteFailed
)

// KindOf classifies err, returning KindNone for unclassified errors.
func KindOf(err error) ErrorKind { return services.KindOf(err) }

// EventType names an engine event.
type EventType string

const (
	EventActivationChanged EventType = "activation_changed"
	EventStateChanged      EventType = "state_changed"
	EventEnded             EventType = "ended"
	EventError             EventType = "error"
	EventFetchFailed       EventType = "fetch_failed"
	EventItemsAppended     EventType = "items_appended"
	EventUnlocked          EventType = "unlocked"
)

// Event is delivered to subscribers after the turn that raised it.
type Event struct {
	Type       EventType
	ItemID     string
	PreviousID string
	From       playback.State
	To         playback.State
	Kind       ErrorKind
	Cursor     string
	Items      []string
	Err        error
	Retryable  bool
	At         time.Time
}

// Listener receives engine events.
type Listener func(Event)
