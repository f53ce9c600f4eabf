package sim

import (
	"errors"
	"sync"

	"reel/internal/playback"
)

var errReleased = errors.New("element released")

// Element is a headless playback.Element. Its position only moves when the
// runner advances it.
type Element struct {
	itemID   string
	duration float64

	mu       sync.Mutex
	source   playback.Source
	loaded   bool
	pending  bool
	playing  bool
	muted    bool
	current  float64
	released bool
}

var _ playback.Element = (*Element)(nil)

// NewElement returns an element for itemID with the given media duration.
func NewElement(itemID string, duration float64) *Element {
	if duration <= 0 {
		duration = 15
	}
	return &Element{itemID: itemID, duration: duration, muted: true}
}

func (e *Element) Load(src playback.Source) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return errReleased
	}
	e.source = src
	e.loaded = true
	e.pending = true
	e.playing = false
	e.current = 0
	return nil
}

func (e *Element) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return errReleased
	}
	if !e.loaded {
		return errors.New("play before load")
	}
	e.playing = true
	return nil
}

func (e *Element) Pause() {
	e.mu.Lock()
	e.playing = false
	e.mu.Unlock()
}

func (e *Element) SetMuted(muted bool) {
	e.mu.Lock()
	e.muted = muted
	e.mu.Unlock()
}

func (e *Element) Seek(seconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = min(max(seconds, 0), e.duration)
}

func (e *Element) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

func (e *Element) Duration() float64 {
	return e.duration
}

func (e *Element) Release() {
	e.mu.Lock()
	e.released = true
	e.playing = false
	e.mu.Unlock()
}

// ItemID returns the item this element renders.
func (e *Element) ItemID() string { return e.itemID }

// Source returns the last loaded source.
func (e *Element) Source() playback.Source {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.source
}

// Playing reports whether the element is running.
func (e *Element) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// Muted reports the current mute state.
func (e *Element) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}

// TakeReady reports a load that has not been announced as ready yet and
// marks it announced.
func (e *Element) TakeReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.pending || e.released {
		return false
	}
	e.pending = false
	return true
}

// Advance moves a playing element forward by seconds. It returns the new
// position and whether playback reached the end.
func (e *Element) Advance(seconds float64) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.playing || e.released {
		return e.current, false
	}
	e.current = min(e.current+seconds, e.duration)
	if e.current >= e.duration {
		e.playing = false
		return e.current, true
	}
	return e.current, false
}
