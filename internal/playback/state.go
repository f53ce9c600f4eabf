package playback

import "fmt"

// State is an item's playback state.
type State uint8

const (
	Idle State = iota
	Loading
	ReadyMuted
	PlayingMuted
	ReadyUnmuted
	PlayingUnmuted
	Paused
	Ended
	Error
)

var stateNames = [...]string{
	Idle:           "idle",
	Loading:        "loading",
	ReadyMuted:     "ready_muted",
	PlayingMuted:   "playing_muted",
	ReadyUnmuted:   "ready_unmuted",
	PlayingUnmuted: "playing_unmuted",
	Paused:         "paused",
	Ended:          "ended",
	Error:          "error",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// MarshalText renders the state label for JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the labels produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	state, ok := ParseState(string(text))
	if !ok {
		return fmt.Errorf("unknown playback state %q", text)
	}
	*s = state
	return nil
}

// ParseState maps a label back to a State.
func ParseState(label string) (State, bool) {
	for idx, name := range stateNames {
		if name == label {
			return State(idx), true
		}
	}
	return Idle, false
}

// Playing reports whether s is one of the playing states.
func (s State) Playing() bool { return s == PlayingMuted || s == PlayingUnmuted }

// Audible reports whether the element is unmuted in s.
func (s State) Audible() bool { return s == ReadyUnmuted || s == PlayingUnmuted }

// Event is a named input to the state machine.
type Event string

const (
	EventActivated        Event = "activated"
	EventDeactivated      Event = "deactivated"
	EventReady            Event = "ready"
	EventUnlocked         Event = "unlocked"
	EventEnded            Event = "ended"
	EventFailed           Event = "failed"
	EventPauseTap         Event = "pause_tap"
	EventResumeTap        Event = "resume_tap"
	EventReadinessTimeout Event = "readiness_timeout"
)

// Cond is the context a transition is evaluated in.
type Cond struct {
	Active   bool
	Unlocked bool
}

func playingFor(c Cond) State {
	if c.Unlocked {
		return PlayingUnmuted
	}
	return PlayingMuted
}

// Next applies one explicit event to s without automatic settlement.
// Events that do not apply leave the state unchanged.
func Next(s State, e Event, c Cond) State {
	if s == Error {
		return Error
	}
	if e == EventFailed {
		return Error
	}
	switch s {
	case Idle:
		if e == EventActivated {
			return Loading
		}
	case Loading:
		if e == EventReady {
			return ReadyMuted
		}
	case PlayingMuted:
		switch e {
		case EventDeactivated, EventPauseTap:
			return Paused
		case EventUnlocked:
			return PlayingUnmuted
		case EventEnded:
			return Ended
		}
	case PlayingUnmuted:
		switch e {
		case EventDeactivated, EventPauseTap:
			return Paused
		case EventEnded:
			return Ended
		}
	case Paused, Ended:
		switch e {
		case EventActivated:
			if c.Active {
				return playingFor(c)
			}
		case EventResumeTap:
			if c.Active {
				return playingFor(c)
			}
		}
	}
	return s
}

// settle performs the automatic step out of a ready state, if any.
func settle(s State, c Cond) (State, bool) {
	switch s {
	case ReadyMuted:
		switch {
		case c.Active:
			return playingFor(c), true
		case c.Unlocked:
			return ReadyUnmuted, true
		}
	case ReadyUnmuted:
		if c.Active {
			return PlayingUnmuted, true
		}
	}
	return s, false
}

// Transition applies e to s and then any automatic steps, returning every
// state passed through after s. An empty result means e did not apply.
func Transition(s State, e Event, c Cond) []State {
	var path []State
	next := Next(s, e, c)
	if next != s {
		path = append(path, next)
	}
	for {
		settled, ok := settle(next, c)
		if !ok {
			return path
		}
		next = settled
		path = append(path, next)
	}
}
