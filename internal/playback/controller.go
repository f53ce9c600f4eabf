package playback

import (
	"log/slog"
	"time"

	"reel/internal/logging"
	"reel/internal/services"
)

// DefaultReadinessTimeout bounds how long a loading item waits before the
// controller forces a play attempt.
const DefaultReadinessTimeout = 2 * time.Second

// Change is one state step of one item.
type Change struct {
	ItemID string
	From   State
	To     State
	Event  Event
	Err    error
}

// Options configures a Controller.
type Options struct {
	ItemID           string
	MediaURL         string
	Element          Element
	Unlock           UnlockState
	Cache            Cache
	Prefetcher       Prefetcher
	Scheduler        Scheduler
	ReadinessTimeout time.Duration
	Logger           *slog.Logger
	// Notify receives every state step in order.
	Notify func(Change)
}

// Controller owns one mounted item's playback lifecycle.
type Controller struct {
	itemID    string
	mediaURL  string
	element   Element
	unlock    UnlockState
	cache     Cache
	prefetch  Prefetcher
	sched     Scheduler
	readiness time.Duration
	logger    *slog.Logger
	notify    func(Change)

	state     State
	active    bool
	source    Source
	holding   bool
	forced    bool
	stopTimer func() bool
	timerGen  uint64
	err       error
	released  bool
}

// NewController creates a controller in Idle.
func NewController(opts Options) *Controller {
	readiness := opts.ReadinessTimeout
	if readiness <= 0 {
		readiness = DefaultReadinessTimeout
	}
	sched := opts.Scheduler
	if sched == nil {
		sched = WallClock
	}
	logger := logging.NewComponentLogger(opts.Logger, "playback").With(logging.String(logging.FieldItemID, opts.ItemID))
	return &Controller{
		itemID:    opts.ItemID,
		mediaURL:  opts.MediaURL,
		element:   opts.Element,
		unlock:    opts.Unlock,
		cache:     opts.Cache,
		prefetch:  opts.Prefetcher,
		sched:     sched,
		readiness: readiness,
		logger:    logger,
		notify:    opts.Notify,
	}
}

// ItemID returns the controlled item.
func (c *Controller) ItemID() string { return c.itemID }

// State returns the current playback state.
func (c *Controller) State() State { return c.state }

// Active reports whether the item is the active one.
func (c *Controller) Active() bool { return c.active }

// Err returns the failure that moved the item to Error.
func (c *Controller) Err() error { return c.err }

// Source returns the bound media source.
func (c *Controller) Source() Source { return c.source }

// Position returns the element's current time and duration in seconds.
func (c *Controller) Position() (float64, float64) {
	if c.element == nil || c.released {
		return 0, 0
	}
	return c.element.CurrentTime(), c.element.Duration()
}

func (c *Controller) cond() Cond {
	unlocked := c.unlock != nil && c.unlock.IsUnlocked()
	return Cond{Active: c.active, Unlocked: unlocked}
}

// Activate marks the item active: an idle item starts loading, a paused or
// ended item resumes.
func (c *Controller) Activate() {
	if c.released {
		return
	}
	c.active = true
	if c.state == Loading {
		// Still loading from an earlier activation: reclaim the foreground
		// and restart the readiness window.
		c.holdForeground()
		c.forced = false
		c.armTimer(c.onReadinessTimeout)
		return
	}
	c.apply(EventActivated)
}

// Deactivate marks the item inactive and pauses it if playing.
func (c *Controller) Deactivate() {
	if c.released {
		return
	}
	c.active = false
	if c.state == Loading {
		c.releaseForeground()
		if c.forced && c.element != nil {
			// A forced play attempt must not keep running off screen.
			c.element.Pause()
		}
		c.forced = false
	}
	c.apply(EventDeactivated)
}

// MediaReady reports that the element can play.
func (c *Controller) MediaReady() {
	if c.released || c.state != Loading {
		return
	}
	c.cancelTimer()
	c.releaseForeground()
	c.apply(EventReady)
}

// Unlocked tells the controller audio was just unlocked. Playing audio is
// unmuted in place, without pausing or seeking.
func (c *Controller) Unlocked() {
	if c.released {
		return
	}
	switch c.state {
	case Paused, Ended:
		if c.element != nil {
			c.element.SetMuted(false)
		}
	}
	c.apply(EventUnlocked)
}

// MediaEnded reports playback completion.
func (c *Controller) MediaEnded() {
	if c.released {
		return
	}
	c.apply(EventEnded)
}

// MediaError reports an element failure.
func (c *Controller) MediaError(err error) {
	if c.released {
		return
	}
	if err == nil {
		err = services.Wrap(services.ErrExternal, "playback", "media", "element reported an error", nil)
	}
	c.fail(services.KindMediaLoadFailed, err)
}

// TogglePause pauses a playing item or resumes a paused or ended one.
func (c *Controller) TogglePause() {
	if c.released {
		return
	}
	if c.state.Playing() {
		c.apply(EventPauseTap)
		return
	}
	c.apply(EventResumeTap)
}

// Release tears the controller down: timers stop, the element and any cache
// handle are released. The controller ignores all later input.
func (c *Controller) Release() {
	if c.released {
		return
	}
	c.cancelTimer()
	c.releaseForeground()
	if c.element != nil {
		c.element.Release()
	}
	if c.source.Handle != nil {
		c.source.Handle.Release()
	}
	c.released = true
	c.active = false
}

func (c *Controller) apply(e Event) {
	for _, next := range Transition(c.state, e, c.cond()) {
		from := c.state
		c.state = next
		c.logger.Debug("playback state changed",
			logging.Args(logging.TransitionAttrs("state", from.String(), next.String(), string(e))...)...)
		if c.notify != nil {
			c.notify(Change{ItemID: c.itemID, From: from, To: next, Event: e})
		}
		c.enter(from, next)
		if c.state != next {
			// enter failed the item and already reported it.
			return
		}
	}
}

// enter performs the element side effects of arriving in to.
func (c *Controller) enter(from, to State) {
	switch to {
	case Loading:
		c.startLoad()
	case ReadyUnmuted:
		if c.element != nil {
			c.element.SetMuted(false)
		}
	case PlayingMuted, PlayingUnmuted:
		if c.element == nil {
			return
		}
		if from == PlayingMuted && to == PlayingUnmuted {
			c.element.SetMuted(false)
			return
		}
		c.element.SetMuted(to == PlayingMuted)
		if err := c.element.Play(); err != nil {
			c.failAfter(to, services.KindMediaLoadFailed, err)
		}
	case Paused:
		if c.element != nil {
			c.element.Pause()
		}
	case Ended:
		if c.element != nil {
			c.element.Pause()
			c.element.Seek(0)
		}
	}
}

func (c *Controller) startLoad() {
	c.source = Source{ItemID: c.itemID, URL: c.mediaURL}
	if c.cache != nil {
		if handle, ok := c.cache.Get(c.itemID); ok {
			c.source.Handle = handle
		}
	}
	if !c.source.Local() && c.prefetch != nil {
		c.prefetch.Backfill(c.itemID, c.mediaURL)
	}
	c.holdForeground()
	c.logger.Debug("loading media",
		logging.Bool("cached", c.source.Local()),
		logging.String("source", c.source.Location()),
	)
	if c.element != nil {
		c.element.SetMuted(true)
		if err := c.element.Load(c.source); err != nil {
			c.failAfter(Loading, services.KindMediaLoadFailed, err)
			return
		}
	}
	c.armTimer(c.onReadinessTimeout)
}

func (c *Controller) onReadinessTimeout() {
	if c.released || c.state != Loading {
		return
	}
	if !c.active {
		// Nothing to force while off screen; readiness will settle it.
		return
	}
	if c.forced {
		c.fail(services.KindMediaStalled, ErrStalled)
		return
	}
	c.forced = true
	logging.WarnWithContext(c.logger, "media not ready; forcing playback", "media_readiness_timeout",
		logging.Duration("timeout", c.readiness),
		logging.String(logging.FieldErrorHint, "check network throughput to the media host"),
		logging.String(logging.FieldImpact, "playback may start late or fail as stalled"),
	)
	if c.element != nil {
		c.element.SetMuted(!c.cond().Unlocked)
		if err := c.element.Play(); err != nil {
			c.fail(services.KindMediaStalled, err)
			return
		}
	}
	c.armTimer(c.onReadinessTimeout)
}

// failAfter fails the item unless a nested transition already moved it on.
func (c *Controller) failAfter(expected State, kind services.ErrorKind, err error) {
	if c.state != expected {
		return
	}
	c.fail(kind, err)
}

func (c *Controller) fail(kind services.ErrorKind, err error) {
	if c.state == Error {
		return
	}
	c.cancelTimer()
	c.releaseForeground()
	c.err = &MediaError{ItemID: c.itemID, Kind: kind, Err: err}
	logging.ErrorWithContext(c.logger, "playback failed", "playback_failed",
		logging.String(logging.FieldErrorKind, string(kind)),
		logging.String(logging.FieldState, c.state.String()),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "scroll away and back to remount the item"),
	)
	from := c.state
	c.state = Error
	if c.element != nil {
		c.element.Pause()
	}
	if c.notify != nil {
		event := EventFailed
		if kind == services.KindMediaStalled {
			event = EventReadinessTimeout
		}
		c.notify(Change{ItemID: c.itemID, From: from, To: Error, Event: event, Err: c.err})
	}
}

func (c *Controller) armTimer(fn func()) {
	c.cancelTimer()
	c.timerGen++
	gen := c.timerGen
	c.stopTimer = c.sched.AfterFunc(c.readiness, func() {
		if gen != c.timerGen {
			return
		}
		fn()
	})
}

func (c *Controller) cancelTimer() {
	c.timerGen++
	if c.stopTimer != nil {
		c.stopTimer()
		c.stopTimer = nil
	}
}

func (c *Controller) holdForeground() {
	if c.holding || c.prefetch == nil {
		return
	}
	c.prefetch.HoldForeground(c.itemID)
	c.holding = true
}

func (c *Controller) releaseForeground() {
	if c.holding && c.prefetch != nil {
		c.prefetch.ReleaseForeground(c.itemID)
	}
	c.holding = false
}
