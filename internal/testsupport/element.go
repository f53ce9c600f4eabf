package testsupport

import (
	"fmt"
	"sync"

	"reel/internal/playback"
)

// RecordingElement is a playback.Element that records every call.
type RecordingElement struct {
	mu       sync.Mutex
	calls    []string
	source   playback.Source
	muted    bool
	playing  bool
	released bool
	current  float64
	duration float64

	// LoadErr and PlayErr, when set, are returned by Load and Play.
	LoadErr error
	PlayErr error
}

var _ playback.Element = (*RecordingElement)(nil)

// NewRecordingElement returns an element reporting the given duration.
func NewRecordingElement(duration float64) *RecordingElement {
	return &RecordingElement{duration: duration}
}

func (e *RecordingElement) record(call string) {
	e.calls = append(e.calls, call)
}

func (e *RecordingElement) Load(src playback.Source) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("load")
	e.source = src
	return e.LoadErr
}

func (e *RecordingElement) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("play")
	if e.PlayErr != nil {
		return e.PlayErr
	}
	e.playing = true
	return nil
}

func (e *RecordingElement) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("pause")
	e.playing = false
}

func (e *RecordingElement) SetMuted(muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record(fmt.Sprintf("muted=%t", muted))
	e.muted = muted
}

func (e *RecordingElement) Seek(seconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record(fmt.Sprintf("seek=%g", seconds))
	e.current = seconds
}

func (e *RecordingElement) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

func (e *RecordingElement) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration
}

func (e *RecordingElement) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("release")
	e.playing = false
	e.released = true
}

// SetCurrentTime simulates playback progress.
func (e *RecordingElement) SetCurrentTime(seconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = seconds
}

// Calls returns a copy of the recorded calls.
func (e *RecordingElement) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// Count returns how many times call was recorded.
func (e *RecordingElement) Count(call string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if c == call {
			n++
		}
	}
	return n
}

// ResetCalls clears the call log.
func (e *RecordingElement) ResetCalls() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = nil
}

func (e *RecordingElement) Source() playback.Source {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.source
}

func (e *RecordingElement) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}

func (e *RecordingElement) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

func (e *RecordingElement) Released() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.released
}
