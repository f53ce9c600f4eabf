package viewport

import "sync"

// Change describes an activation transition. Previous or Current may be
// empty for "none".
type Change struct {
	Previous string
	Current  string
}

// Activator tracks the latest visibility ratio per mounted item and the
// single active item derived from them.
type Activator struct {
	threshold float64
	margin    float64
	position  func(string) (int, bool)

	mu     sync.Mutex
	ratios map[string]float64
	active string
}

// NewActivator creates an activator. position maps an item id to its list
// index for tie-breaking.
func NewActivator(threshold, margin float64, position func(string) (int, bool)) *Activator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if margin < 0 {
		margin = DefaultMargin
	}
	return &Activator{
		threshold: threshold,
		margin:    margin,
		position:  position,
		ratios:    make(map[string]float64),
	}
}

// Observe folds a batch of samples into the known ratios and recomputes the
// active item. The boolean is false when activation did not change.
func (a *Activator) Observe(batch []Sample) (Change, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range batch {
		if s.ItemID == "" {
			continue
		}
		a.ratios[s.ItemID] = clamp(s.Ratio)
	}
	return a.recomputeLocked()
}

// Forget removes an unmounted item. If it was active, activation moves to the
// best remaining candidate or to none.
func (a *Activator) Forget(id string) (Change, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.ratios, id)
	if a.active != id {
		return Change{}, false
	}
	a.active = ""
	change, changed := a.recomputeLocked()
	if !changed {
		return Change{Previous: id}, true
	}
	change.Previous = id
	return change, true
}

// Active returns the active item id, or "".
func (a *Activator) Active() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Ratio returns the last observed ratio for id.
func (a *Activator) Ratio(id string) (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.ratios[id]
	return r, ok
}

func (a *Activator) recomputeLocked() (Change, bool) {
	samples := make([]Sample, 0, len(a.ratios))
	for id, ratio := range a.ratios {
		samples = append(samples, Sample{ItemID: id, Ratio: ratio})
	}
	next := Select(samples, a.active, a.position, a.threshold, a.margin)
	if next == a.active {
		return Change{}, false
	}
	change := Change{Previous: a.active, Current: next}
	a.active = next
	return change, true
}
