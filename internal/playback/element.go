package playback

import (
	"time"

	"reel/internal/contentcache"
)

// Source is what an element loads: a local cached payload when Handle is
// set, otherwise the network URL.
type Source struct {
	ItemID string
	URL    string
	Handle *contentcache.Handle
}

// Local reports whether the source is backed by the content cache.
func (s Source) Local() bool { return s.Handle != nil }

// Location returns the path or URL the element should open.
func (s Source) Location() string {
	if s.Handle != nil {
		return s.Handle.Path()
	}
	return s.URL
}

// Element is the host's media element for one mounted item. Readiness,
// completion, and failures are reported back through the engine.
type Element interface {
	Load(src Source) error
	Play() error
	Pause()
	SetMuted(muted bool)
	Seek(seconds float64)
	CurrentTime() float64
	Duration() float64
	Release()
}

// Scheduler runs fn after d. The returned stop function cancels a pending
// call and reports whether it did so.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) (stop func() bool)
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func(d time.Duration, fn func()) func() bool

func (f SchedulerFunc) AfterFunc(d time.Duration, fn func()) func() bool { return f(d, fn) }

// WallClock schedules on real timers.
var WallClock Scheduler = SchedulerFunc(func(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
})

// Cache resolves cached payloads for source selection.
type Cache interface {
	Get(id string) (*contentcache.Handle, bool)
}

// Prefetcher is told about cache misses and the active item's own load.
type Prefetcher interface {
	Backfill(id, url string)
	HoldForeground(id string)
	ReleaseForeground(id string)
}

// UnlockState reports whether audio is unlocked.
type UnlockState interface {
	IsUnlocked() bool
}
