package bridge

import (
	"sync"

	"reel/internal/playback"
)

// RemoteElement is a playback.Element living in the host UI. Commands are
// queued to the host connection; position and duration come back through
// time messages. Play cannot observe the host's result, so failures arrive
// later as error messages.
type RemoteElement struct {
	itemID string
	send   func(Command) bool

	mu       sync.Mutex
	muted    bool
	playing  bool
	current  float64
	duration float64
	released bool
}

var _ playback.Element = (*RemoteElement)(nil)

// NewRemoteElement creates an element for itemID. send queues a command and
// reports false when the connection is gone or backed up.
func NewRemoteElement(itemID string, duration float64, send func(Command) bool) *RemoteElement {
	return &RemoteElement{itemID: itemID, send: send, duration: duration, muted: true}
}

// ItemID returns the controlled item.
func (e *RemoteElement) ItemID() string { return e.itemID }

func (e *RemoteElement) Load(src playback.Source) error {
	url := src.URL
	if src.Local() {
		url = MediaPath(e.itemID)
	}
	if !e.dispatch(Command{Op: OpLoad, ItemID: e.itemID, URL: url, Cached: src.Local()}) {
		return errConnectionGone
	}
	e.mu.Lock()
	e.current = 0
	e.playing = false
	e.mu.Unlock()
	return nil
}

func (e *RemoteElement) Play() error {
	if !e.dispatch(Command{Op: OpPlay, ItemID: e.itemID}) {
		return errConnectionGone
	}
	e.mu.Lock()
	e.playing = true
	e.mu.Unlock()
	return nil
}

func (e *RemoteElement) Pause() {
	e.dispatch(Command{Op: OpPause, ItemID: e.itemID})
	e.mu.Lock()
	e.playing = false
	e.mu.Unlock()
}

func (e *RemoteElement) SetMuted(muted bool) {
	e.dispatch(Command{Op: OpMute, ItemID: e.itemID, Muted: &muted})
	e.mu.Lock()
	e.muted = muted
	e.mu.Unlock()
}

func (e *RemoteElement) Seek(seconds float64) {
	e.dispatch(Command{Op: OpSeek, ItemID: e.itemID, Seconds: seconds})
	e.mu.Lock()
	e.current = seconds
	e.mu.Unlock()
}

func (e *RemoteElement) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

func (e *RemoteElement) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration
}

func (e *RemoteElement) Release() {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return
	}
	e.released = true
	e.playing = false
	e.mu.Unlock()
	e.dispatch(Command{Op: OpRelease, ItemID: e.itemID})
}

// Muted reports the last mute state sent to the host.
func (e *RemoteElement) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}

// UpdateTime records a position report from the host.
func (e *RemoteElement) UpdateTime(current, duration float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if current >= 0 {
		e.current = current
	}
	if duration > 0 {
		e.duration = duration
	}
}

func (e *RemoteElement) dispatch(cmd Command) bool {
	e.mu.Lock()
	released := e.released && cmd.Op != OpRelease
	e.mu.Unlock()
	if released || e.send == nil {
		return false
	}
	return e.send(cmd)
}
