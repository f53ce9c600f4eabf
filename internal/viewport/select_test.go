package viewport

import (
	"math"
	"testing"
)

func positions(ids ...string) func(string) (int, bool) {
	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}
	return func(id string) (int, bool) {
		pos, ok := index[id]
		return pos, ok
	}
}

func TestSelect(t *testing.T) {
	pos := positions("a", "b", "c")
	cases := []struct {
		name    string
		samples []Sample
		current string
		want    string
	}{
		{"none visible", []Sample{{"a", 0.2}, {"b", 0.49}}, "", ""},
		{"single candidate", []Sample{{"a", 0.2}, {"b", 0.8}}, "", "b"},
		{"threshold inclusive", []Sample{{"a", 0.5}}, "", "a"},
		{"max ratio wins", []Sample{{"a", 0.55}, {"b", 0.9}}, "", "b"},
		{"tie goes to lowest position", []Sample{{"c", 0.7}, {"b", 0.7}}, "", "b"},
		{"hysteresis keeps current", []Sample{{"a", 0.6}, {"b", 0.62}}, "a", "a"},
		{"margin boundary keeps current", []Sample{{"a", 0.6}, {"b", 0.65}}, "a", "a"},
		{"challenger beyond margin switches", []Sample{{"a", 0.6}, {"b", 0.7}}, "a", "b"},
		{"current below threshold releases", []Sample{{"a", 0.4}, {"b", 0.55}}, "a", "b"},
		{"current gone means none", []Sample{{"a", 0.1}}, "a", ""},
		{"ratios clamp", []Sample{{"a", 1.4}, {"b", 1.0}}, "", "a"},
		{"nan never qualifies", []Sample{{"a", math.NaN()}, {"b", 0.55}}, "", "b"},
		{"nan current releases", []Sample{{"a", math.NaN()}}, "a", ""},
		{"nan cannot displace current", []Sample{{"a", 0.6}, {"b", math.NaN()}}, "a", "a"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Select(tc.samples, tc.current, pos, DefaultThreshold, DefaultMargin); got != tc.want {
				t.Fatalf("Select = %q want %q", got, tc.want)
			}
		})
	}
}

func TestActivatorObserveAndForget(t *testing.T) {
	act := NewActivator(0.5, 0.05, positions("v1", "v2", "v3"))

	change, changed := act.Observe([]Sample{{"v1", 0.9}, {"v2", 0.1}})
	if !changed || change.Previous != "" || change.Current != "v1" {
		t.Fatalf("unexpected first change: %+v %v", change, changed)
	}
	if _, changed := act.Observe([]Sample{{"v1", 0.6}, {"v2", 0.62}}); changed {
		t.Fatal("hysteresis should hold v1")
	}
	change, changed = act.Observe([]Sample{{"v2", 0.7}})
	if !changed || change.Previous != "v1" || change.Current != "v2" {
		t.Fatalf("expected switch to v2: %+v", change)
	}

	if _, changed := act.Forget("v1"); changed {
		t.Fatal("forgetting an inactive item must not change activation")
	}
	change, changed = act.Forget("v2")
	if !changed || change.Previous != "v2" || change.Current != "" {
		t.Fatalf("expected activation to clear: %+v %v", change, changed)
	}
	if act.Active() != "" {
		t.Fatalf("expected none active, got %q", act.Active())
	}
}

func TestActivatorForgetFallsBackToNextCandidate(t *testing.T) {
	act := NewActivator(0.5, 0.05, positions("v1", "v2"))
	act.Observe([]Sample{{"v1", 0.8}, {"v2", 0.6}})
	change, changed := act.Forget("v1")
	if !changed || change.Previous != "v1" || change.Current != "v2" {
		t.Fatalf("expected fallback to v2: %+v %v", change, changed)
	}
	if r, ok := act.Ratio("v2"); !ok || r != 0.6 {
		t.Fatalf("unexpected ratio for v2: %v %v", r, ok)
	}
}

func TestActivatorAtMostOneActive(t *testing.T) {
	act := NewActivator(0.5, 0.05, positions("a", "b", "c", "d"))
	batches := [][]Sample{
		{{"a", 1}},
		{{"a", 0.5}, {"b", 0.5}},
		{{"a", 0.3}, {"b", 0.7}},
		{{"b", 0.5}, {"c", 0.5}, {"d", 0.56}},
		{{"b", 0}, {"c", 0}, {"d", 0}},
	}
	for i, batch := range batches {
		act.Observe(batch)
		active := act.Active()
		if active == "" {
			continue
		}
		if r, _ := act.Ratio(active); r < 0.5 {
			t.Fatalf("batch %d: active %q below threshold", i, active)
		}
	}
	if act.Active() != "" {
		t.Fatalf("expected none active at the end, got %q", act.Active())
	}
}
