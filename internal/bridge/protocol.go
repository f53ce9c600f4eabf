package bridge

import (
	"time"

	"reel/internal/engine"
	"reel/internal/feed"
	"reel/internal/logging"
	"reel/internal/viewport"
)

// Server-to-host message types.
const (
	MessageEvent   = "event"
	MessageCommand = "command"
	MessageError   = "error"
)

// Host-to-server message types.
const (
	HostMounted    = "mounted"
	HostUnmounted  = "unmounted"
	HostReady      = "ready"
	HostEnded      = "ended"
	HostError      = "error"
	HostTime       = "time"
	HostVisibility = "visibility"
	HostGesture    = "gesture"
	HostTap        = "tap"
)

// Media command operations sent to the host.
const (
	OpLoad    = "load"
	OpPlay    = "play"
	OpPause   = "pause"
	OpMute    = "mute"
	OpSeek    = "seek"
	OpRelease = "release"
)

// Message is one frame sent to the host.
type Message struct {
	Type    string        `json:"type"`
	Event   *EventPayload `json:"event,omitempty"`
	Command *Command      `json:"command,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// Command instructs the host's media element for one item.
type Command struct {
	Op      string  `json:"op"`
	ItemID  string  `json:"item_id"`
	URL     string  `json:"url,omitempty"`
	Cached  bool    `json:"cached,omitempty"`
	Muted   *bool   `json:"muted,omitempty"`
	Seconds float64 `json:"seconds,omitempty"`
}

// EventPayload is the wire form of engine.Event.
type EventPayload struct {
	Type       string    `json:"type"`
	ItemID     string    `json:"item_id,omitempty"`
	PreviousID string    `json:"previous_id,omitempty"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	Cursor     string    `json:"cursor,omitempty"`
	Items      []string  `json:"items,omitempty"`
	Error      string    `json:"error,omitempty"`
	Retryable  bool      `json:"retryable,omitempty"`
	At         time.Time `json:"at"`
}

// HostMessage is one frame received from the host.
type HostMessage struct {
	Type     string            `json:"type"`
	ItemID   string            `json:"item_id,omitempty"`
	Samples  []viewport.Sample `json:"samples,omitempty"`
	Gesture  string            `json:"gesture,omitempty"`
	Current  float64           `json:"current,omitempty"`
	Duration float64           `json:"duration,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Snapshot engine.Snapshot `json:"snapshot"`
	Clients  int             `json:"clients"`
}

// ItemsResponse is returned by GET /api/items.
type ItemsResponse struct {
	Items   []feed.Item `json:"items"`
	Cursor  string      `json:"cursor"`
	HasMore bool        `json:"has_more"`
}

// VisibilityRequest is the body of POST /api/visibility.
type VisibilityRequest struct {
	Samples []viewport.Sample `json:"samples"`
}

// GestureRequest is the body of POST /api/gesture.
type GestureRequest struct {
	Kind string `json:"kind"`
}

// TapRequest is the body of POST /api/tap.
type TapRequest struct {
	ItemID string `json:"item_id"`
}

// UnlockResponse reports whether a gesture or tap unlocked audio.
type UnlockResponse struct {
	Unlocked bool `json:"unlocked"`
}

// MoreResponse is returned by POST /api/more.
type MoreResponse struct {
	Added []string `json:"added"`
	Kind  string   `json:"kind,omitempty"`
	Error string   `json:"error,omitempty"`
}

// LogStreamResponse is returned by GET /api/logs.
type LogStreamResponse struct {
	Events []logging.LogEvent `json:"events"`
	Next   uint64             `json:"next"`
}

func eventPayload(ev engine.Event) *EventPayload {
	payload := &EventPayload{
		Type:       string(ev.Type),
		ItemID:     ev.ItemID,
		PreviousID: ev.PreviousID,
		Kind:       string(ev.Kind),
		Cursor:     ev.Cursor,
		Items:      ev.Items,
		Retryable:  ev.Retryable,
		At:         ev.At,
	}
	switch ev.Type {
	case engine.EventStateChanged, engine.EventEnded, engine.EventError:
		payload.From = ev.From.String()
		payload.To = ev.To.String()
	}
	if ev.Err != nil {
		payload.Error = ev.Err.Error()
	}
	return payload
}
