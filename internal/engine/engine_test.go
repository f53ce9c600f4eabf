package engine_test

import (
	"context"
	"errors"
	"math/rand"
	"slices"
	"sync"
	"testing"
	"time"

	"reel/internal/contentcache"
	"reel/internal/engine"
	"reel/internal/feed"
	"reel/internal/logging"
	"reel/internal/playback"
	"reel/internal/prefetch"
	"reel/internal/testsupport"
	"reel/internal/viewport"
)

type eventLog struct {
	mu     sync.Mutex
	events []engine.Event
}

func (l *eventLog) record(ev engine.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) all() []engine.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]engine.Event(nil), l.events...)
}

func (l *eventLog) reset() {
	l.mu.Lock()
	l.events = nil
	l.mu.Unlock()
}

func (l *eventLog) ofType(t engine.EventType) []engine.Event {
	var out []engine.Event
	for _, ev := range l.all() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type flakySource struct {
	mu       sync.Mutex
	inner    feed.PageSource
	failures map[string]int
	calls    int
}

func (s *flakySource) FetchPage(ctx context.Context, cursor string) (feed.Page, error) {
	s.mu.Lock()
	s.calls++
	if s.failures[cursor] > 0 {
		s.failures[cursor]--
		s.mu.Unlock()
		return feed.Page{}, errors.New("backend unavailable")
	}
	s.mu.Unlock()
	return s.inner.FetchPage(ctx, cursor)
}

type recordedProgress struct {
	itemID            string
	current, duration float64
}

type progressRecorder struct {
	mu      sync.Mutex
	reports []recordedProgress
}

func (r *progressRecorder) ReportProgress(_ context.Context, itemID string, current, duration float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, recordedProgress{itemID: itemID, current: current, duration: duration})
	return nil
}

func (r *progressRecorder) all() []recordedProgress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedProgress(nil), r.reports...)
}

type fixture struct {
	engine   *engine.Engine
	sched    *testsupport.ManualScheduler
	events   *eventLog
	elements map[string]*testsupport.RecordingElement
}

func newFixture(t *testing.T, source feed.PageSource, mutate func(*engine.Options)) *fixture {
	t.Helper()
	f := &fixture{
		sched:    testsupport.NewManualScheduler(),
		events:   &eventLog{},
		elements: make(map[string]*testsupport.RecordingElement),
	}
	opts := engine.Options{
		Source:           source,
		Scheduler:        f.sched,
		Lookahead:        2,
		ReadinessTimeout: 2 * time.Second,
		SessionID:        "session-test",
		Logger:           logging.NewNop(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.engine = engine.New(opts)
	f.engine.Subscribe(f.events.record)
	return f
}

func onePage(ids ...string) *feed.FileSource {
	return feed.NewFileSource(feed.Page{Items: testsupport.Items("https://cdn.test", ids...)})
}

func (f *fixture) load(t *testing.T) {
	t.Helper()
	if _, err := f.engine.RequestMore(context.Background()); err != nil {
		t.Fatalf("request more: %v", err)
	}
}

func (f *fixture) mount(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		el := testsupport.NewRecordingElement(15)
		f.elements[id] = el
		if err := f.engine.Mount(id, el); err != nil {
			t.Fatalf("mount %s: %v", id, err)
		}
	}
}

func (f *fixture) observe(samples ...viewport.Sample) {
	f.engine.ObserveVisibility(samples)
}

func (f *fixture) state(t *testing.T, id string) playback.State {
	t.Helper()
	state, ok := f.engine.PlaybackState(id)
	if !ok {
		t.Fatalf("%s is not mounted", id)
	}
	return state
}

func assertSinglePlaying(t *testing.T, f *fixture) {
	t.Helper()
	active := f.engine.ActiveItemID()
	playing := 0
	for id, el := range f.elements {
		state, ok := f.engine.PlaybackState(id)
		if !ok {
			continue
		}
		if state.Playing() {
			playing++
			if id != active {
				t.Fatalf("%s is %s but active is %q", id, state, active)
			}
		}
		if el.Playing() && id != active {
			t.Fatalf("element %s still playing while %q is active", id, active)
		}
	}
	if playing > 1 {
		t.Fatalf("%d items playing at once", playing)
	}
}

func TestActivationPausesPreviousBeforeActivatingNext(t *testing.T) {
	f := newFixture(t, onePage("v1", "v2", "v3"), nil)
	f.load(t)
	f.mount(t, "v1", "v2", "v3")

	f.observe(viewport.Sample{ItemID: "v1", Ratio: 0.9})
	f.engine.MediaReady("v1")
	if got := f.state(t, "v1"); got != playback.PlayingMuted {
		t.Fatalf("v1 = %s", got)
	}

	f.events.reset()
	f.observe(viewport.Sample{ItemID: "v1", Ratio: 0.3}, viewport.Sample{ItemID: "v2", Ratio: 0.8})
	events := f.events.all()
	if len(events) < 3 {
		t.Fatalf("expected pause, activation, load events, got %+v", events)
	}
	if events[0].Type != engine.EventStateChanged || events[0].ItemID != "v1" || events[0].To != playback.Paused {
		t.Fatalf("first event should pause v1, got %+v", events[0])
	}
	if events[1].Type != engine.EventActivationChanged || events[1].ItemID != "v2" || events[1].PreviousID != "v1" {
		t.Fatalf("second event should activate v2, got %+v", events[1])
	}
	if events[2].ItemID != "v2" || events[2].To != playback.Loading {
		t.Fatalf("third event should load v2, got %+v", events[2])
	}
	assertSinglePlaying(t, f)
}

func TestSinglePlayingUnderArbitraryActivation(t *testing.T) {
	ids := []string{"v1", "v2", "v3", "v4", "v5"}
	f := newFixture(t, onePage(ids...), nil)
	f.load(t)
	f.mount(t, ids...)

	rng := rand.New(rand.NewSource(7))
	for step := 0; step < 300; step++ {
		batch := make([]viewport.Sample, 0, 2)
		for range 1 + rng.Intn(2) {
			batch = append(batch, viewport.Sample{ItemID: ids[rng.Intn(len(ids))], Ratio: rng.Float64()})
		}
		f.observe(batch...)
		switch rng.Intn(4) {
		case 0:
			for _, id := range ids {
				f.engine.MediaReady(id)
			}
		case 1:
			if active := f.engine.ActiveItemID(); active != "" {
				f.engine.HandleTap(active)
			}
		case 2:
			f.sched.Advance(time.Second)
		}
		assertSinglePlaying(t, f)
	}
}

func TestGestureUnmutesActiveItemInSameTurn(t *testing.T) {
	f := newFixture(t, onePage("v1", "v2", "v3"), nil)
	f.load(t)
	f.mount(t, "v1")
	f.observe(viewport.Sample{ItemID: "v1", Ratio: 1})
	f.engine.MediaReady("v1")

	el := f.elements["v1"]
	el.SetCurrentTime(3.5)
	el.ResetCalls()
	f.events.reset()

	if f.engine.RecordGesture("scroll") {
		t.Fatal("scroll must not unlock audio")
	}
	if !f.engine.RecordGesture("tap") {
		t.Fatal("expected tap to unlock")
	}
	if got := f.state(t, "v1"); got != playback.PlayingUnmuted {
		t.Fatalf("v1 = %s immediately after unlock", got)
	}
	if calls := el.Calls(); !slices.Equal(calls, []string{"muted=false"}) {
		t.Fatalf("expected a bare unmute, got %v", calls)
	}
	if el.CurrentTime() != 3.5 {
		t.Fatalf("current time moved to %v", el.CurrentTime())
	}
	if got := f.events.ofType(engine.EventUnlocked); len(got) != 1 {
		t.Fatalf("expected one unlocked event, got %d", len(got))
	}
	if f.engine.RecordGesture("unmute") {
		t.Fatal("unlock must only be reported once")
	}
	if !f.engine.IsUnlocked() {
		t.Fatal("expected unlocked")
	}
}

func TestFirstTapUnlocksThenTogglesPause(t *testing.T) {
	f := newFixture(t, onePage("v1", "v2"), nil)
	f.load(t)
	f.mount(t, "v1")
	f.observe(viewport.Sample{ItemID: "v1", Ratio: 1})
	f.engine.MediaReady("v1")

	if !f.engine.HandleTap("v1") {
		t.Fatal("first tap should unlock")
	}
	if got := f.state(t, "v1"); got != playback.PlayingUnmuted {
		t.Fatalf("first tap must not pause, v1 = %s", got)
	}
	f.engine.HandleTap("v1")
	if got := f.state(t, "v1"); got != playback.Paused {
		t.Fatalf("second tap should pause, v1 = %s", got)
	}
	f.engine.HandleTap("v1")
	if got := f.state(t, "v1"); got != playback.PlayingUnmuted {
		t.Fatalf("third tap should resume unmuted, v1 = %s", got)
	}
}

func TestFetchFailureKeepsItemsAndRetrySucceeds(t *testing.T) {
	pages := []feed.Page{
		{Items: testsupport.Items("https://cdn.test", "v1", "v2"), NextCursor: "C1", HasMore: true},
		{Cursor: "C1", Items: testsupport.Items("https://cdn.test", "v2", "v3", "v4")},
	}
	source := &flakySource{inner: feed.NewFileSource(pages...), failures: map[string]int{"C1": 1}}
	f := newFixture(t, source, nil)
	f.load(t)

	_, err := f.engine.RequestMore(context.Background())
	if err == nil {
		t.Fatal("expected fetch failure")
	}
	if engine.KindOf(err) != engine.KindFetchFailed {
		t.Fatalf("kind = %q", engine.KindOf(err))
	}
	failed := f.events.ofType(engine.EventFetchFailed)
	if len(failed) != 1 || failed[0].Cursor != "C1" || !failed[0].Retryable {
		t.Fatalf("unexpected fetch_failed events %+v", failed)
	}
	if len(f.engine.Items()) != 2 {
		t.Fatalf("loaded items must survive a failed fetch, got %d", len(f.engine.Items()))
	}

	added, err := f.engine.RequestMore(context.Background())
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(added) != 2 {
		t.Fatalf("expected v3 and v4 appended, got %+v", added)
	}
	var ids []string
	for _, item := range f.engine.Items() {
		ids = append(ids, item.ID)
	}
	if !slices.Equal(ids, []string{"v1", "v2", "v3", "v4"}) {
		t.Fatalf("items = %v", ids)
	}
	appended := f.events.ofType(engine.EventItemsAppended)
	if len(appended) != 2 || appended[1].Cursor != "C1" || !slices.Equal(appended[1].Items, []string{"v3", "v4"}) {
		t.Fatalf("unexpected items_appended events %+v", appended)
	}

	if added, err := f.engine.RequestMore(context.Background()); err != nil || len(added) != 0 {
		t.Fatalf("exhausted feed should be a no-op, got %v %v", added, err)
	}
}

func TestMediaErrorIsScopedToItem(t *testing.T) {
	f := newFixture(t, onePage("v1", "v2"), nil)
	f.load(t)
	f.mount(t, "v1", "v2")
	f.observe(viewport.Sample{ItemID: "v1", Ratio: 1})
	f.engine.MediaError("v1", errors.New("decode error"))

	errs := f.events.ofType(engine.EventError)
	if len(errs) != 1 || errs[0].ItemID != "v1" || errs[0].Kind != engine.KindMediaLoadFailed {
		t.Fatalf("unexpected error events %+v", errs)
	}
	if got := f.state(t, "v1"); got != playback.Error {
		t.Fatalf("v1 = %s", got)
	}

	f.observe(viewport.Sample{ItemID: "v1", Ratio: 0}, viewport.Sample{ItemID: "v2", Ratio: 1})
	f.engine.MediaReady("v2")
	if got := f.state(t, "v2"); got != playback.PlayingMuted {
		t.Fatalf("v2 = %s", got)
	}

	f.observe(viewport.Sample{ItemID: "v1", Ratio: 1}, viewport.Sample{ItemID: "v2", Ratio: 0})
	if got := f.state(t, "v1"); got != playback.Error {
		t.Fatalf("error must persist until remount, v1 = %s", got)
	}
	f.engine.Unmount("v1")
	f.mount(t, "v1")
	if got := f.state(t, "v1"); got != playback.Idle {
		t.Fatalf("remount should start idle, v1 = %s", got)
	}
	f.observe(viewport.Sample{ItemID: "v1", Ratio: 1})
	if got := f.state(t, "v1"); got != playback.Loading {
		t.Fatalf("remounted active item should load, v1 = %s", got)
	}
}

func TestReadinessTimeoutRunsAsTurn(t *testing.T) {
	f := newFixture(t, onePage("v1"), nil)
	f.load(t)
	f.mount(t, "v1")
	f.observe(viewport.Sample{ItemID: "v1", Ratio: 1})

	f.sched.Advance(2 * time.Second)
	f.sched.Advance(2 * time.Second)

	errs := f.events.ofType(engine.EventError)
	if len(errs) != 1 || errs[0].Kind != engine.KindMediaStalled {
		t.Fatalf("expected media_stalled error event, got %+v", errs)
	}
}

func TestUnmountActiveFallsBackToNextCandidate(t *testing.T) {
	f := newFixture(t, onePage("v1", "v2"), nil)
	f.load(t)
	f.mount(t, "v1", "v2")
	f.observe(viewport.Sample{ItemID: "v1", Ratio: 0.9}, viewport.Sample{ItemID: "v2", Ratio: 0.6})
	f.engine.MediaReady("v1")

	f.engine.Unmount("v1")
	if !f.elements["v1"].Released() {
		t.Fatal("unmount must release the element")
	}
	if _, ok := f.engine.PlaybackState("v1"); ok {
		t.Fatal("v1 should no longer be mounted")
	}
	if got := f.engine.ActiveItemID(); got != "v2" {
		t.Fatalf("active = %q", got)
	}
	if got := f.state(t, "v2"); got != playback.Loading {
		t.Fatalf("v2 = %s", got)
	}
	if f.sched.Pending() != 1 {
		t.Fatalf("only v2's readiness timer should remain, got %d", f.sched.Pending())
	}
}

func TestMountRejectsUnknownItem(t *testing.T) {
	f := newFixture(t, onePage("v1"), nil)
	f.load(t)
	if err := f.engine.Mount("nope", testsupport.NewRecordingElement(1)); err == nil {
		t.Fatal("expected error for unknown item")
	}
}

func TestEndedReportsFullProgress(t *testing.T) {
	reporter := &progressRecorder{}
	f := newFixture(t, onePage("v1"), func(o *engine.Options) { o.Progress = reporter })
	f.load(t)
	f.mount(t, "v1")
	f.observe(viewport.Sample{ItemID: "v1", Ratio: 1})
	f.engine.MediaReady("v1")
	f.elements["v1"].SetCurrentTime(14.9)

	f.engine.MediaEnded("v1")
	if got := f.state(t, "v1"); got != playback.Ended {
		t.Fatalf("v1 = %s", got)
	}
	if len(f.events.ofType(engine.EventEnded)) != 1 {
		t.Fatal("expected ended event")
	}
	reports := reporter.all()
	if len(reports) != 1 || reports[0].itemID != "v1" || reports[0].current != 15 || reports[0].duration != 15 {
		t.Fatalf("unexpected reports %+v", reports)
	}
}

func TestProgressTickerReportsPlayingItem(t *testing.T) {
	reporter := &progressRecorder{}
	f := newFixture(t, onePage("v1"), func(o *engine.Options) {
		o.Progress = reporter
		o.ProgressInterval = 5 * time.Millisecond
	})
	f.load(t)
	f.mount(t, "v1")
	f.observe(viewport.Sample{ItemID: "v1", Ratio: 1})
	f.engine.MediaReady("v1")
	f.elements["v1"].SetCurrentTime(4)

	if err := f.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for len(reporter.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	f.engine.Stop()

	reports := reporter.all()
	if len(reports) == 0 {
		t.Fatal("expected progress reports while playing")
	}
	if reports[0].itemID != "v1" || reports[0].current != 4 || reports[0].duration != 15 {
		t.Fatalf("unexpected report %+v", reports[0])
	}
	if !f.elements["v1"].Released() {
		t.Fatal("stop must release mounted elements")
	}
}

func TestStartLoadsFirstPage(t *testing.T) {
	f := newFixture(t, onePage("v1", "v2"), nil)
	if err := f.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer f.engine.Stop()
	if err := f.engine.Start(context.Background()); err == nil {
		t.Fatal("expected second start to fail")
	}

	deadline := time.Now().Add(3 * time.Second)
	for len(f.engine.Items()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(f.engine.Items()) != 2 {
		t.Fatalf("expected first page loaded, got %d items", len(f.engine.Items()))
	}
}

func TestListenerCanCallBackIntoEngine(t *testing.T) {
	f := newFixture(t, onePage("v1", "v2"), nil)
	f.load(t)
	f.mount(t, "v1")

	var seen []playback.State
	f.engine.Subscribe(func(ev engine.Event) {
		if ev.Type == engine.EventActivationChanged {
			state, _ := f.engine.PlaybackState(ev.ItemID)
			seen = append(seen, state)
			f.engine.RecordGesture("tap")
		}
	})
	f.observe(viewport.Sample{ItemID: "v1", Ratio: 1})

	if len(seen) != 1 || seen[0] != playback.Loading {
		t.Fatalf("listener saw %v", seen)
	}
	events := f.events.all()
	last := events[len(events)-1]
	if last.Type != engine.EventUnlocked {
		t.Fatalf("re-entrant events should follow the current batch, last = %+v", last)
	}
}

func TestActivationDrivesPrefetchWindow(t *testing.T) {
	cache, err := contentcache.Open(contentcache.Options{Dir: t.TempDir(), MaxBytes: 1 << 20}, logging.NewNop())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer cache.Close()
	pf := prefetch.New(prefetch.Options{Ahead: 2, Behind: 1, Store: cache, Logger: logging.NewNop()})

	f := newFixture(t, onePage("v1", "v2", "v3"), func(o *engine.Options) {
		o.Cache = cache
		o.Prefetcher = pf
	})
	f.load(t)
	f.mount(t, "v1")
	f.observe(viewport.Sample{ItemID: "v1", Ratio: 1})

	if got := pf.Window(); !slices.Equal(got, []string{"v2", "v3"}) {
		t.Fatalf("window = %v", got)
	}
	if got := pf.Scheduled(); !slices.Equal(got, []string{"v1", "v2", "v3"}) {
		t.Fatalf("cache miss should backfill v1 first, scheduled = %v", got)
	}

	snap := f.engine.Snapshot()
	if snap.ActiveID != "v1" || len(snap.Mounted) != 1 || snap.Cache == nil || snap.SessionID != "session-test" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if err := f.engine.ClearCache(); err != nil {
		t.Fatalf("clear cache: %v", err)
	}
}

func itemIDs(items []feed.Item) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}

func TestActivationPrunesItemsPastRetention(t *testing.T) {
	f := newFixture(t, onePage("v1", "v2", "v3", "v4", "v5", "v6"), func(o *engine.Options) { o.RetainBehind = 1 })
	f.load(t)
	f.mount(t, "v2", "v4", "v5")

	f.observe(viewport.Sample{ItemID: "v4", Ratio: 1})
	if got, want := itemIDs(f.engine.Items()), []string{"v2", "v3", "v4", "v5", "v6"}; !slices.Equal(got, want) {
		t.Fatalf("mounted v2 must survive pruning: items = %v, want %v", got, want)
	}

	f.engine.Unmount("v2")
	f.observe(viewport.Sample{ItemID: "v4", Ratio: 0}, viewport.Sample{ItemID: "v5", Ratio: 1})
	if got := f.engine.ActiveItemID(); got != "v5" {
		t.Fatalf("active = %q", got)
	}
	if got, want := itemIDs(f.engine.Items()), []string{"v4", "v5", "v6"}; !slices.Equal(got, want) {
		t.Fatalf("items = %v, want %v", got, want)
	}
	if err := f.engine.Mount("v1", testsupport.NewRecordingElement(1)); err == nil {
		t.Fatal("pruned items cannot be mounted")
	}
	assertSinglePlaying(t, f)
}

func TestZeroRetentionKeepsEveryItem(t *testing.T) {
	f := newFixture(t, onePage("v1", "v2", "v3", "v4"), nil)
	f.load(t)
	f.mount(t, "v4")
	f.observe(viewport.Sample{ItemID: "v4", Ratio: 1})
	if got := f.engine.Sequencer().Len(); got != 4 {
		t.Fatalf("len = %d, want 4", got)
	}
}
