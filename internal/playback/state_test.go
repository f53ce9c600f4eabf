package playback

import (
	"strings"
	"testing"
)

func TestTransitionTable(t *testing.T) {
	locked := Cond{Active: true}
	unlocked := Cond{Active: true, Unlocked: true}
	offLocked := Cond{}
	offUnlocked := Cond{Unlocked: true}

	cases := []struct {
		name  string
		from  State
		event Event
		cond  Cond
		want  []State
	}{
		{"idle activates into loading", Idle, EventActivated, locked, []State{Loading}},
		{"idle ignores ready", Idle, EventReady, locked, nil},
		{"ready while active and locked plays muted", Loading, EventReady, locked, []State{ReadyMuted, PlayingMuted}},
		{"ready while active and unlocked plays unmuted", Loading, EventReady, unlocked, []State{ReadyMuted, PlayingUnmuted}},
		{"ready while inactive waits muted", Loading, EventReady, offLocked, []State{ReadyMuted}},
		{"ready while inactive after unlock waits unmuted", Loading, EventReady, offUnlocked, []State{ReadyMuted, ReadyUnmuted}},
		{"loading stays loading when deactivated", Loading, EventDeactivated, offLocked, nil},
		{"ready muted unlock while inactive", ReadyMuted, EventUnlocked, offUnlocked, []State{ReadyUnmuted}},
		{"ready muted activation plays", ReadyMuted, EventActivated, locked, []State{PlayingMuted}},
		{"ready unmuted activation plays unmuted", ReadyUnmuted, EventActivated, unlocked, []State{PlayingUnmuted}},
		{"unlock while playing muted", PlayingMuted, EventUnlocked, unlocked, []State{PlayingUnmuted}},
		{"deactivate pauses", PlayingMuted, EventDeactivated, offLocked, []State{Paused}},
		{"pause tap pauses", PlayingUnmuted, EventPauseTap, unlocked, []State{Paused}},
		{"resume preserves muted", Paused, EventResumeTap, locked, []State{PlayingMuted}},
		{"resume preserves unmuted", Paused, EventActivated, unlocked, []State{PlayingUnmuted}},
		{"inactive resume tap ignored", Paused, EventResumeTap, offLocked, nil},
		{"completion ends", PlayingUnmuted, EventEnded, unlocked, []State{Ended}},
		{"ended replays on activation", Ended, EventActivated, locked, []State{PlayingMuted}},
		{"ended replays on resume tap", Ended, EventResumeTap, unlocked, []State{PlayingUnmuted}},
		{"failure from any state", PlayingMuted, EventFailed, locked, []State{Error}},
		{"error is terminal", Error, EventActivated, unlocked, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Transition(tc.from, tc.event, tc.cond)
			if len(got) != len(tc.want) {
				t.Fatalf("Transition(%s, %s) = %v want %v", tc.from, tc.event, got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("Transition(%s, %s) = %v want %v", tc.from, tc.event, got, tc.want)
				}
			}
		})
	}
}

func TestStateLabels(t *testing.T) {
	for s := Idle; s <= Error; s++ {
		parsed, ok := ParseState(s.String())
		if !ok || parsed != s {
			t.Fatalf("label round trip failed for %d (%q)", s, s.String())
		}
	}
	if !PlayingMuted.Playing() || Paused.Playing() {
		t.Fatal("Playing() misclassifies states")
	}
	if !ReadyUnmuted.Audible() || PlayingMuted.Audible() {
		t.Fatal("Audible() misclassifies states")
	}
	text, _ := PlayingUnmuted.MarshalText()
	if string(text) != "playing_unmuted" {
		t.Fatalf("unexpected text %q", text)
	}
	var decoded State
	if err := decoded.UnmarshalText(text); err != nil || decoded != PlayingUnmuted {
		t.Fatalf("UnmarshalText = %v, %v", decoded, err)
	}
	if err := decoded.UnmarshalText([]byte("buffering")); err == nil {
		t.Fatal("expected unknown label to fail")
	}
}

func TestVirtualClockOrdersAndStops(t *testing.T) {
	clock := NewVirtualClock()
	var fired []string
	clock.AfterFunc(2e9, func() { fired = append(fired, "b") })
	stop := clock.AfterFunc(1e9, func() { fired = append(fired, "stopped") })
	clock.AfterFunc(1e9, func() {
		fired = append(fired, "a")
		clock.AfterFunc(5e8, func() { fired = append(fired, "nested") })
	})
	if !stop() {
		t.Fatal("expected pending timer to stop")
	}
	if clock.Pending() != 2 {
		t.Fatalf("pending = %d", clock.Pending())
	}
	clock.Advance(2e9)
	if got := strings.Join(fired, ","); got != "a,nested,b" {
		t.Fatalf("fired = %s", got)
	}
	if clock.Now() != 2e9 || clock.Pending() != 0 {
		t.Fatalf("now=%v pending=%d", clock.Now(), clock.Pending())
	}
	if stop() {
		t.Fatal("stop after advance should report false")
	}
}
