package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"reel/internal/config"
	"reel/internal/contentcache"
	"reel/internal/feed"
	"reel/internal/logging"
	"reel/internal/playback"
	"reel/internal/prefetch"
	"reel/internal/services"
	"reel/internal/unlock"
	"reel/internal/viewport"
)

// DefaultProgressInterval is how often the active item's position is
// reported while it plays.
const DefaultProgressInterval = time.Second

// ProgressReporter receives watch progress for the playing item.
type ProgressReporter interface {
	ReportProgress(ctx context.Context, itemID string, current, duration float64) error
}

// Options configures an Engine. Cache, Prefetcher, and Progress are optional.
type Options struct {
	Source           feed.PageSource
	Cache            *contentcache.Cache
	Prefetcher       *prefetch.Prefetcher
	Progress         ProgressReporter
	Unlock           *unlock.State
	Scheduler        playback.Scheduler
	Lookahead        int
	RetainBehind     int
	Threshold        float64
	Margin           float64
	ReadinessTimeout time.Duration
	ProgressInterval time.Duration
	SessionID        string
	Logger           *slog.Logger
}

type mount struct {
	ctrl    *playback.Controller
	element playback.Element
}

type progressReport struct {
	itemID   string
	current  float64
	duration float64
}

// Engine is one feed playback session.
type Engine struct {
	sessionID        string
	seq              *feed.Sequencer
	activator        *viewport.Activator
	unlock           *unlock.State
	cache            *contentcache.Cache
	prefetch         *prefetch.Prefetcher
	progress         ProgressReporter
	sched            playback.Scheduler
	readiness        time.Duration
	retainBehind     int
	progressInterval time.Duration
	sampler          *logging.ProgressSampler
	logger           *slog.Logger

	// mu is the turn lock.
	mu       sync.Mutex
	mounted  map[string]*mount
	outbox   []Event
	reports  []progressReport
	draining bool
	fetching bool
	now      func() time.Time

	lifeMu  sync.Mutex
	running bool
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	subMu   sync.Mutex
	subs    map[int]Listener
	nextSub int
}

// New builds an engine. It does not fetch or start background work until
// Start.
func New(opts Options) *Engine {
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	logger := logging.NewComponentLogger(opts.Logger, "engine").With(logging.String(logging.FieldSessionID, sessionID))
	state := opts.Unlock
	if state == nil {
		state = unlock.New()
	}
	sched := opts.Scheduler
	if sched == nil {
		sched = playback.WallClock
	}
	interval := opts.ProgressInterval
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	e := &Engine{
		sessionID:        sessionID,
		unlock:           state,
		cache:            opts.Cache,
		prefetch:         opts.Prefetcher,
		progress:         opts.Progress,
		sched:            sched,
		readiness:        opts.ReadinessTimeout,
		retainBehind:     opts.RetainBehind,
		progressInterval: interval,
		sampler:          logging.NewProgressSampler(25),
		logger:           logger,
		mounted:          make(map[string]*mount),
		now:              time.Now,
		subs:             make(map[int]Listener),
	}
	e.seq = feed.NewSequencer(opts.Source, opts.Lookahead, opts.Logger)
	e.activator = viewport.NewActivator(opts.Threshold, opts.Margin, e.position)
	return e
}

// NewFromConfig builds an engine from cfg around the given collaborators.
func NewFromConfig(cfg *config.Config, source feed.PageSource, cache *contentcache.Cache, pf *prefetch.Prefetcher, progress ProgressReporter, logger *slog.Logger) *Engine {
	return New(Options{
		Source:           source,
		Cache:            cache,
		Prefetcher:       pf,
		Progress:         progress,
		Lookahead:        cfg.Feed.Lookahead,
		RetainBehind:     cfg.Feed.RetainBehind,
		Threshold:        cfg.Viewport.ActivationThreshold,
		Margin:           cfg.Viewport.SwitchMargin,
		ReadinessTimeout: cfg.ReadinessTimeout(),
		ProgressInterval: cfg.ProgressInterval(),
		Logger:           logger,
	})
}

// SessionID identifies this engine session.
func (e *Engine) SessionID() string { return e.sessionID }

// Start begins background work: the prefetch workers, the progress ticker,
// and the first page fetch when the list is empty.
func (e *Engine) Start(ctx context.Context) error {
	e.lifeMu.Lock()
	if e.running {
		e.lifeMu.Unlock()
		return errors.New("engine already running")
	}
	runCtx, cancel := context.WithCancel(services.WithSessionID(ctx, e.sessionID))
	if err := e.prefetch.Start(runCtx); err != nil {
		cancel()
		e.lifeMu.Unlock()
		return err
	}
	e.runCtx = runCtx
	e.cancel = cancel
	e.running = true
	if e.progress != nil {
		e.wg.Add(1)
		go e.runProgress(runCtx)
	}
	e.lifeMu.Unlock()

	e.logger.Info("engine started",
		logging.Bool("cache_enabled", e.cache != nil),
		logging.Bool("prefetch_enabled", e.prefetch != nil),
		logging.Bool("progress_enabled", e.progress != nil),
	)
	e.turn(func() {
		if e.seq.NeedsMore(e.activeIndexLocked()) {
			e.fetchMoreLocked()
		}
	})
	return nil
}

// Stop halts background work and releases every mounted item.
func (e *Engine) Stop() {
	e.lifeMu.Lock()
	if !e.running {
		e.lifeMu.Unlock()
		return
	}
	cancel := e.cancel
	e.running = false
	e.cancel = nil
	e.lifeMu.Unlock()

	cancel()
	e.wg.Wait()
	e.prefetch.Stop()
	e.turn(func() {
		for id, m := range e.mounted {
			m.ctrl.Release()
			delete(e.mounted, id)
		}
	})
	e.logger.Info("engine stopped")
}

// goBackground runs fn on a goroutine tied to the engine's lifetime. It
// reports false when the engine is not running.
func (e *Engine) goBackground(fn func(ctx context.Context)) bool {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if !e.running {
		return false
	}
	ctx := e.runCtx
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(ctx)
	}()
	return true
}

// Subscribe registers fn for every later event. The returned function
// removes it.
func (e *Engine) Subscribe(fn Listener) func() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	return func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
}

// Mount attaches a media element for id. An item that is already active
// starts loading at once; remounting replaces the previous controller.
func (e *Engine) Mount(id string, el playback.Element) error {
	if id == "" || el == nil {
		return services.Wrap(services.ErrValidation, "engine", "mount", "item id and element are required", nil)
	}
	item, ok := e.seq.Item(e.seq.IndexOf(id))
	if !ok {
		return services.Wrap(services.ErrNotFound, "engine", "mount", "item "+id+" is not in the feed", nil)
	}
	e.turn(func() {
		if prev, ok := e.mounted[id]; ok {
			prev.ctrl.Release()
		}
		ctrl := playback.NewController(playback.Options{
			ItemID:           id,
			MediaURL:         item.MediaURL,
			Element:          el,
			Unlock:           e.unlock,
			Cache:            e.cache,
			Prefetcher:       e.prefetch,
			Scheduler:        turnScheduler{e: e},
			ReadinessTimeout: e.readiness,
			Logger:           e.logger,
			Notify:           e.onChange,
		})
		e.mounted[id] = &mount{ctrl: ctrl, element: el}
		if e.activator.Active() == id {
			ctrl.Activate()
		}
	})
	return nil
}

// Unmount releases id's controller, element, cache handle, timers, and any
// pending prefetch. Activation falls to the best remaining candidate.
func (e *Engine) Unmount(id string) {
	e.turn(func() {
		if m, ok := e.mounted[id]; ok {
			m.ctrl.Release()
			delete(e.mounted, id)
		}
		e.prefetch.Cancel(id)
		if change, changed := e.activator.Forget(id); changed {
			e.applyActivationLocked(change)
		}
	})
}

// ObserveVisibility applies a batch of visibility samples.
func (e *Engine) ObserveVisibility(samples []viewport.Sample) {
	e.turn(func() {
		if change, changed := e.activator.Observe(samples); changed {
			e.applyActivationLocked(change)
		}
	})
}

// RecordGesture registers a user gesture. The first qualifying gesture
// unlocks audio and unmutes the active item within the same turn.
func (e *Engine) RecordGesture(kind string) bool {
	var unlocked bool
	e.turn(func() {
		unlocked = e.recordGestureLocked(kind)
	})
	return unlocked
}

// HandleTap handles a tap on id. The session's first tap only unlocks audio;
// later taps on the active item toggle pause. It reports whether the tap
// unlocked audio.
func (e *Engine) HandleTap(id string) bool {
	var unlocked bool
	e.turn(func() {
		if e.recordGestureLocked(unlock.GestureTap) {
			unlocked = true
			return
		}
		m, ok := e.mounted[id]
		if !ok || e.activator.Active() != id {
			return
		}
		m.ctrl.TogglePause()
	})
	return unlocked
}

func (e *Engine) recordGestureLocked(kind string) bool {
	if !e.unlock.RecordGesture(kind) {
		return false
	}
	e.logger.Info("audio unlocked", logging.String("gesture", kind))
	e.emitLocked(Event{Type: EventUnlocked})
	active := e.activator.Active()
	if m, ok := e.mounted[active]; ok {
		m.ctrl.Unlocked()
	}
	for id, m := range e.mounted {
		if id != active {
			m.ctrl.Unlocked()
		}
	}
	return true
}

// MediaReady reports that id's element can play.
func (e *Engine) MediaReady(id string) {
	e.withController(id, (*playback.Controller).MediaReady)
}

// MediaEnded reports that id played to completion.
func (e *Engine) MediaEnded(id string) {
	e.turn(func() {
		m, ok := e.mounted[id]
		if !ok {
			return
		}
		if m.ctrl.State().Playing() {
			_, duration := m.ctrl.Position()
			e.reports = append(e.reports, progressReport{itemID: id, current: duration, duration: duration})
		}
		m.ctrl.MediaEnded()
	})
}

// MediaError reports an element failure for id.
func (e *Engine) MediaError(id string, err error) {
	e.turn(func() {
		if m, ok := e.mounted[id]; ok {
			m.ctrl.MediaError(err)
		}
	})
}

// MediaProgress records a position update from the host and logs it at
// coarse percentage steps.
func (e *Engine) MediaProgress(id string, current, duration float64) {
	e.turn(func() {
		m, ok := e.mounted[id]
		if !ok || !m.ctrl.State().Playing() || duration <= 0 {
			return
		}
		percent := current / duration * 100
		if e.sampler.ShouldLog(percent, id) {
			e.logger.Info("playback progress",
				logging.String(logging.FieldItemID, id),
				logging.Float64("percent", percent),
				logging.String(logging.FieldState, m.ctrl.State().String()),
			)
		}
	})
}

func (e *Engine) withController(id string, fn func(*playback.Controller)) {
	e.turn(func() {
		if m, ok := e.mounted[id]; ok {
			fn(m.ctrl)
		}
	})
}

// RequestMore fetches and merges the next page. Fetch failures are returned
// and emitted as fetch_failed; loaded items are unaffected.
func (e *Engine) RequestMore(ctx context.Context) ([]feed.Item, error) {
	cursor := e.seq.Cursor()
	added, err := e.seq.LoadMore(ctx)
	e.turn(func() {
		if err != nil {
			var fetchErr *feed.FetchError
			if errors.As(err, &fetchErr) {
				cursor = fetchErr.Cursor
			}
			e.emitLocked(Event{
				Type:      EventFetchFailed,
				Cursor:    cursor,
				Kind:      KindOf(err),
				Err:       err,
				Retryable: services.Retryable(err),
			})
			return
		}
		if len(added) == 0 {
			return
		}
		ids := make([]string, 0, len(added))
		for _, item := range added {
			ids = append(ids, item.ID)
		}
		e.emitLocked(Event{Type: EventItemsAppended, Cursor: cursor, Items: ids})
		if index := e.activeIndexLocked(); index >= 0 {
			e.prefetch.OnActiveIndexChanged(index, e.seq.Items())
		}
	})
	return added, err
}

// fetchMoreLocked starts a background page fetch unless one is running or
// the engine is stopped.
func (e *Engine) fetchMoreLocked() {
	if e.fetching {
		return
	}
	e.fetching = e.goBackground(func(ctx context.Context) {
		_, _ = e.RequestMore(ctx)
		e.turn(func() { e.fetching = false })
	})
}

func (e *Engine) applyActivationLocked(change viewport.Change) {
	if m, ok := e.mounted[change.Previous]; ok {
		m.ctrl.Deactivate()
	}
	e.emitLocked(Event{Type: EventActivationChanged, ItemID: change.Current, PreviousID: change.Previous})
	if m, ok := e.mounted[change.Current]; ok {
		m.ctrl.Activate()
	}
	e.pruneLocked(change.Current)
	index := e.seq.IndexOf(change.Current)
	e.prefetch.OnActiveIndexChanged(index, e.seq.Items())
	e.logger.Debug("activation changed",
		logging.Args(append(logging.TransitionAttrs("activation", change.Previous, change.Current, "visibility"),
			logging.String(logging.FieldItemID, change.Current),
			logging.Int("index", index),
		)...)...,
	)
	if change.Current != "" && e.seq.NeedsMore(index) {
		e.fetchMoreLocked()
	}
}

// pruneLocked drops items more than retainBehind before the active one.
// Mounted items are never dropped. Zero retention keeps everything.
func (e *Engine) pruneLocked(active string) {
	if e.retainBehind <= 0 || active == "" {
		return
	}
	keepFrom := e.seq.IndexOf(active) - e.retainBehind
	if keepFrom <= 0 {
		return
	}
	for id := range e.mounted {
		if i := e.seq.IndexOf(id); i >= 0 && i < keepFrom {
			keepFrom = i
		}
	}
	if n := e.seq.Prune(keepFrom); n > 0 {
		e.logger.Debug("pruned feed items",
			logging.Int("removed", n),
			logging.Int("remaining", e.seq.Len()),
		)
	}
}

func (e *Engine) onChange(c playback.Change) {
	e.emitLocked(Event{Type: EventStateChanged, ItemID: c.ItemID, From: c.From, To: c.To})
	switch c.To {
	case playback.Ended:
		e.emitLocked(Event{Type: EventEnded, ItemID: c.ItemID, From: c.From, To: c.To})
	case playback.Error:
		kind := KindOf(c.Err)
		e.emitLocked(Event{Type: EventError, ItemID: c.ItemID, From: c.From, To: c.To, Kind: kind, Err: c.Err})
	}
}

func (e *Engine) position(id string) (int, bool) {
	index := e.seq.IndexOf(id)
	return index, index >= 0
}

func (e *Engine) activeIndexLocked() int {
	active := e.activator.Active()
	if active == "" {
		return -1
	}
	return e.seq.IndexOf(active)
}

// ClearCache empties the content cache, revoking outstanding handles.
func (e *Engine) ClearCache() error {
	if err := e.cache.Clear(); err != nil {
		return err
	}
	e.turn(func() {
		if index := e.activeIndexLocked(); index >= 0 {
			e.prefetch.OnActiveIndexChanged(index, e.seq.Items())
		}
	})
	return nil
}
