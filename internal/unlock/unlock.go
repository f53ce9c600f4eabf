// Package unlock records the first qualifying user gesture of a session.
// Audible playback is only allowed once a gesture has unlocked audio, and
// the unlock is never revoked.
package unlock

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Gesture kinds reported by the host.
const (
	GestureTap            = "tap"
	GestureUnmute         = "unmute"
	GestureDoubleTapLike  = "double_tap_like"
	GestureScroll         = "scroll"
	GestureSwipe          = "swipe"
	GestureKeyboardScroll = "keyboard_scroll"
)

var qualifying = map[string]struct{}{
	GestureTap:           {},
	GestureUnmute:        {},
	GestureDoubleTapLike: {},
}

// Qualifies reports whether kind may unlock audio. Scroll-like gestures never
// do.
func Qualifies(kind string) bool {
	_, ok := qualifying[strings.ToLower(strings.TrimSpace(kind))]
	return ok
}

// State is the session's audio unlock flag. The zero value is locked.
type State struct {
	unlocked atomic.Bool
	once     sync.Once
	by       atomic.Value
}

// New returns a locked State.
func New() *State { return &State{} }

// RecordGesture unlocks audio on the first qualifying gesture and returns
// true exactly once. Callers must unmute active playback in the same turn.
func (s *State) RecordGesture(kind string) bool {
	if !Qualifies(kind) {
		return false
	}
	first := false
	s.once.Do(func() {
		s.by.Store(strings.ToLower(strings.TrimSpace(kind)))
		s.unlocked.Store(true)
		first = true
	})
	return first
}

// IsUnlocked reports whether audio has been unlocked.
func (s *State) IsUnlocked() bool { return s.unlocked.Load() }

// UnlockedBy returns the gesture kind that unlocked audio, or "".
func (s *State) UnlockedBy() string {
	if v, ok := s.by.Load().(string); ok {
		return v
	}
	return ""
}
