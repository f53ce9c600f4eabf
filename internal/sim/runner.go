package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"reel/internal/engine"
	"reel/internal/feed"
	"reel/internal/logging"
	"reel/internal/playback"
	"reel/internal/services"
	"reel/internal/unlock"
	"reel/internal/viewport"
)

// Actions recorded in the timeline.
const (
	ActionStart      = "start"
	ActionScrollDown = "scroll_down"
	ActionScrollUp   = "scroll_up"
	ActionWatch      = "watch"
	ActionTap        = "tap"
	ActionUnmute     = "unmute"
)

// Defaults for Options.
const (
	DefaultTick        = 500 * time.Millisecond
	DefaultWatchTicks  = 4
	DefaultMountAhead  = 2
	DefaultMountBehind = 1
)

// Options configures a simulation run.
type Options struct {
	Engine *engine.Engine
	// Clock must be the engine's scheduler for readiness timeouts to fire
	// with simulated time. Nil leaves timers on the engine's own clock.
	Clock       *playback.VirtualClock
	Steps       int
	Seed        uint64
	Tick        time.Duration
	WatchTicks  int
	MountAhead  int
	MountBehind int
	// Stalled items load but never report ready.
	Stalled []string
	Logger  *slog.Logger
}

// Step is one row of the timeline.
type Step struct {
	Index    int            `json:"index"`
	Action   string         `json:"action"`
	ActiveID string         `json:"active_id,omitempty"`
	State    playback.State `json:"state"`
	Muted    bool           `json:"muted"`
	Position float64        `json:"position"`
	Events   []string       `json:"events,omitempty"`
}

// Report summarizes a run.
type Report struct {
	Steps         []Step   `json:"steps"`
	Completed     []string `json:"completed"`
	Errors        int      `json:"errors"`
	FetchFailures int      `json:"fetch_failures"`
	Items         int      `json:"items"`
	Elapsed       string   `json:"elapsed"`
}

type runner struct {
	eng     *engine.Engine
	clock   *playback.VirtualClock
	opts    Options
	rng     *rand.Rand
	logger  *slog.Logger
	stalled map[string]bool

	elements map[string]*Element
	ready    map[string]bool
	position int

	mu        sync.Mutex
	notes     []string
	completed []string
	errors    int
	fetchFail int
}

// Run scrolls through the engine's feed for opts.Steps steps. The engine's
// first page is loaded if the feed is empty. Every element mounted by the
// run is unmounted before Run returns.
func Run(ctx context.Context, opts Options) (Report, error) {
	if opts.Engine == nil {
		return Report{}, services.Wrap(services.ErrValidation, "sim", "run", "engine is required", nil)
	}
	if opts.Steps < 0 {
		return Report{}, services.Wrap(services.ErrValidation, "sim", "run", "steps must be non-negative", nil)
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.WatchTicks <= 0 {
		opts.WatchTicks = DefaultWatchTicks
	}
	if opts.MountAhead <= 0 {
		opts.MountAhead = DefaultMountAhead
	}
	if opts.MountBehind <= 0 {
		opts.MountBehind = DefaultMountBehind
	}

	r := &runner{
		eng:      opts.Engine,
		clock:    opts.Clock,
		opts:     opts,
		rng:      rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		logger:   logging.NewComponentLogger(opts.Logger, "sim"),
		stalled:  make(map[string]bool, len(opts.Stalled)),
		elements: make(map[string]*Element),
		ready:    make(map[string]bool),
	}
	for _, id := range opts.Stalled {
		r.stalled[id] = true
	}

	unsubscribe := r.eng.Subscribe(r.observe)
	defer unsubscribe()
	defer r.unmountAll()

	if r.eng.Sequencer().Len() == 0 {
		if _, err := r.eng.RequestMore(ctx); err != nil {
			return r.report(nil), fmt.Errorf("load first page: %w", err)
		}
	}
	if r.eng.Sequencer().Len() == 0 {
		return r.report(nil), services.Wrap(services.ErrValidation, "sim", "run", "feed is empty", nil)
	}

	steps := make([]Step, 0, opts.Steps+1)
	r.scrollTo(-1, 0)
	r.finish(1)
	steps = append(steps, r.record(0, ActionStart))

	for i := 1; i <= opts.Steps; i++ {
		if err := ctx.Err(); err != nil {
			return r.report(steps), err
		}
		action := r.pick()
		ticks := 1
		switch action {
		case ActionScrollDown:
			if !r.scrollDown(ctx) {
				action = ActionWatch
				ticks = opts.WatchTicks
			}
		case ActionScrollUp:
			r.scrollTo(r.position, r.position-1)
		case ActionTap:
			r.eng.HandleTap(r.eng.ActiveItemID())
		case ActionUnmute:
			r.eng.RecordGesture(unlock.GestureUnmute)
		default:
			ticks = opts.WatchTicks
		}
		r.finish(ticks)
		step := r.record(i, action)
		r.logger.Debug("simulation step",
			logging.Int("step", i),
			logging.String("action", action),
			logging.String(logging.FieldItemID, step.ActiveID),
			logging.String(logging.FieldState, step.State.String()),
		)
		steps = append(steps, step)
	}
	return r.report(steps), nil
}

func (r *runner) pick() string {
	roll := r.rng.IntN(100)
	switch {
	case roll < 35:
		return ActionScrollDown
	case roll < 43:
		if r.position == 0 {
			return ActionWatch
		}
		return ActionScrollUp
	case roll < 53:
		return ActionTap
	case roll < 60:
		return ActionUnmute
	default:
		return ActionWatch
	}
}

func (r *runner) scrollDown(ctx context.Context) bool {
	seq := r.eng.Sequencer()
	if r.position+1 >= seq.Len() && seq.HasMore() {
		if _, err := r.eng.RequestMore(ctx); err != nil {
			r.logger.Debug("page fetch failed during scroll", logging.Error(err))
		}
	}
	if r.position+1 >= seq.Len() {
		return false
	}
	r.scrollTo(r.position, r.position+1)
	if seq.NeedsMore(r.position) && !r.eng.Snapshot().Fetching {
		if _, err := r.eng.RequestMore(ctx); err != nil {
			r.logger.Debug("lookahead fetch failed", logging.Error(err))
		}
	}
	return true
}

// scrollTo mounts the window around target and reports a two-frame swipe:
// a midpoint where both items share the viewport, then target alone.
func (r *runner) scrollTo(from, target int) {
	items := r.eng.Items()
	if target < 0 || target >= len(items) {
		return
	}
	r.syncMounts(items, target)
	to := items[target].ID
	if from >= 0 && from < len(items) && from != target {
		prev := items[from].ID
		r.eng.ObserveVisibility([]viewport.Sample{{ItemID: prev, Ratio: 0.55}, {ItemID: to, Ratio: 0.45}})
		r.eng.ObserveVisibility([]viewport.Sample{{ItemID: prev, Ratio: 0}, {ItemID: to, Ratio: 1}})
	} else {
		r.eng.ObserveVisibility([]viewport.Sample{{ItemID: to, Ratio: 1}})
	}
	// Activation may prune the head of the list.
	r.position = max(r.eng.Sequencer().IndexOf(to), 0)
}

func (r *runner) syncMounts(items []feed.Item, center int) {
	lo := max(center-r.opts.MountBehind, 0)
	hi := min(center+r.opts.MountAhead, len(items)-1)
	keep := make(map[string]bool, hi-lo+1)
	for i := lo; i <= hi; i++ {
		keep[items[i].ID] = true
	}
	for _, id := range r.mountedIDs() {
		if !keep[id] {
			r.eng.Unmount(id)
			delete(r.elements, id)
			delete(r.ready, id)
		}
	}
	for i := lo; i <= hi; i++ {
		item := items[i]
		if _, ok := r.elements[item.ID]; ok {
			continue
		}
		el := NewElement(item.ID, item.DurationSeconds)
		if err := r.eng.Mount(item.ID, el); err != nil {
			r.logger.Warn("mount failed", logging.String(logging.FieldItemID, item.ID), logging.Error(err))
			continue
		}
		r.elements[item.ID] = el
	}
}

// finish reports loads as ready, then lets ticks of simulated time pass.
func (r *runner) finish(ticks int) {
	r.announceReady()
	for range ticks {
		r.tick()
		r.announceReady()
	}
}

func (r *runner) announceReady() {
	for _, id := range r.mountedIDs() {
		if r.stalled[id] {
			continue
		}
		if r.elements[id].TakeReady() {
			r.ready[id] = true
			r.eng.MediaReady(id)
		}
	}
}

func (r *runner) tick() {
	if r.clock != nil {
		r.clock.Advance(r.opts.Tick)
	}
	seconds := r.opts.Tick.Seconds()
	for _, id := range r.mountedIDs() {
		if !r.ready[id] {
			continue
		}
		el := r.elements[id]
		if !el.Playing() {
			continue
		}
		pos, ended := el.Advance(seconds)
		if ended {
			r.eng.MediaEnded(id)
			continue
		}
		r.eng.MediaProgress(id, pos, el.Duration())
	}
}

func (r *runner) record(index int, action string) Step {
	step := Step{Index: index, Action: action, ActiveID: r.eng.ActiveItemID()}
	if state, ok := r.eng.PlaybackState(step.ActiveID); ok {
		step.State = state
	}
	if el, ok := r.elements[step.ActiveID]; ok {
		step.Muted = el.Muted()
		step.Position = el.CurrentTime()
	}
	r.mu.Lock()
	step.Events = r.notes
	r.notes = nil
	r.mu.Unlock()
	return step
}

func (r *runner) observe(ev engine.Event) {
	var note string
	switch ev.Type {
	case engine.EventActivationChanged:
		if ev.ItemID == "" {
			note = "no active item"
		} else {
			note = "activate " + ev.ItemID
		}
	case engine.EventStateChanged:
		note = fmt.Sprintf("%s %s>%s", ev.ItemID, ev.From, ev.To)
	case engine.EventEnded:
		note = ev.ItemID + " ended"
	case engine.EventError:
		note = fmt.Sprintf("%s error: %s", ev.ItemID, ev.Kind)
	case engine.EventFetchFailed:
		note = fmt.Sprintf("fetch failed: %s", ev.Kind)
	case engine.EventItemsAppended:
		note = fmt.Sprintf("+%d items", len(ev.Items))
	case engine.EventUnlocked:
		note = "audio unlocked"
	default:
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, note)
	switch ev.Type {
	case engine.EventEnded:
		if !slices.Contains(r.completed, ev.ItemID) {
			r.completed = append(r.completed, ev.ItemID)
		}
	case engine.EventError:
		r.errors++
	case engine.EventFetchFailed:
		r.fetchFail++
	}
}

func (r *runner) report(steps []Step) Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep := Report{
		Steps:         steps,
		Completed:     slices.Clone(r.completed),
		Errors:        r.errors,
		FetchFailures: r.fetchFail,
		Items:         r.eng.Sequencer().Len(),
	}
	if r.clock != nil {
		rep.Elapsed = r.clock.Now().String()
	}
	return rep
}

func (r *runner) mountedIDs() []string {
	ids := make([]string, 0, len(r.elements))
	for id := range r.elements {
		ids = append(ids, id)
	}
	seq := r.eng.Sequencer()
	slices.SortFunc(ids, func(a, b string) int { return seq.IndexOf(a) - seq.IndexOf(b) })
	return ids
}

func (r *runner) unmountAll() {
	for _, id := range r.mountedIDs() {
		r.eng.Unmount(id)
	}
	r.elements = make(map[string]*Element)
	r.ready = make(map[string]bool)
}
