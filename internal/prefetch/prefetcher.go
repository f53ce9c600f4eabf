package prefetch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"

	"reel/internal/config"
	"reel/internal/feed"
	"reel/internal/logging"
	"reel/internal/services"
)

// Defaults mirror the [prefetch] config section.
const (
	DefaultAhead   = 2
	DefaultBehind  = 1
	DefaultWorkers = 2
)

// Store is the cache surface the prefetcher writes into.
type Store interface {
	Contains(id string) bool
	PutReader(ctx context.Context, id string, r io.Reader) (int64, error)
}

// Options configures a Prefetcher.
type Options struct {
	Ahead   int
	Behind  int
	Workers int
	Store   Store
	Fetcher Fetcher
	Logger  *slog.Logger
}

// Stats is a point-in-time view of prefetch activity.
type Stats struct {
	Window    []string `json:"window"`
	Scheduled []string `json:"scheduled"`
	InFlight  []string `json:"in_flight"`
	Fetched   int64    `json:"fetched"`
	Failed    int64    `json:"failed"`
	Canceled  int64    `json:"canceled"`
}

type target struct {
	id  string
	url string
}

// Prefetcher schedules background downloads of upcoming items. A nil
// *Prefetcher is a valid no-op.
type Prefetcher struct {
	ahead   int
	behind  int
	workers int
	store   Store
	fetcher Fetcher
	logger  *slog.Logger

	mu         sync.Mutex
	wake       *sync.Cond
	queue      []target
	inflight   map[string]*flight
	window     []string
	retained   map[string]struct{}
	foreground map[string]struct{}
	running    bool
	closed     bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	fetched  int64
	failed   int64
	canceled int64
}

// New builds a prefetcher. Workers do not run until Start.
func New(opts Options) *Prefetcher {
	if opts.Ahead < 0 {
		opts.Ahead = 0
	}
	if opts.Behind < 0 {
		opts.Behind = 0
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Fetcher == nil {
		opts.Fetcher = NewHTTPFetcher(nil, 0)
	}
	p := &Prefetcher{
		ahead:      opts.Ahead,
		behind:     opts.Behind,
		workers:    opts.Workers,
		store:      opts.Store,
		fetcher:    opts.Fetcher,
		logger:     logging.NewComponentLogger(opts.Logger, "prefetch"),
		inflight:   make(map[string]*flight),
		retained:   make(map[string]struct{}),
		foreground: make(map[string]struct{}),
	}
	p.wake = sync.NewCond(&p.mu)
	return p
}

// NewFromConfig builds a prefetcher for cfg writing into store. It returns
// nil when the cache is disabled. opts configure the media fetcher.
func NewFromConfig(cfg *config.Config, store Store, logger *slog.Logger, opts ...FetcherOption) *Prefetcher {
	if cfg == nil || !cfg.Cache.Enabled || store == nil {
		return nil
	}
	return New(Options{
		Ahead:   cfg.Prefetch.Ahead,
		Behind:  cfg.Prefetch.Behind,
		Workers: cfg.Prefetch.Workers,
		Store:   store,
		Fetcher: NewHTTPFetcher(nil, cfg.PrefetchRequestTimeout(), opts...),
		Logger:  logger,
	})
}

// Start launches the worker pool. Workers stop when ctx ends or Stop is
// called.
func (p *Prefetcher) Start(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("prefetcher already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.closed = false
	p.wg.Add(p.workers)
	p.mu.Unlock()

	context.AfterFunc(runCtx, func() {
		p.mu.Lock()
		p.closed = true
		p.wake.Broadcast()
		p.mu.Unlock()
	})
	for i := 0; i < p.workers; i++ {
		go p.work(runCtx)
	}
	return nil
}

// Stop cancels in-flight downloads and waits for the workers to exit.
func (p *Prefetcher) Stop() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	for id, fl := range p.inflight {
		fl.cancel()
		delete(p.inflight, id)
	}
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
}

// OnActiveIndexChanged recomputes the window around index. Upcoming items
// that are neither cached nor already pending are queued, and pending work
// outside [index-behind, index+ahead] is canceled. A negative index clears
// the window.
func (p *Prefetcher) OnActiveIndexChanged(index int, items []feed.Item) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	retained := make(map[string]struct{})
	var window []target
	if index >= 0 && index < len(items) {
		lo := max(index-p.behind, 0)
		hi := min(index+p.ahead, len(items)-1)
		for i := lo; i <= hi; i++ {
			retained[items[i].ID] = struct{}{}
			if i > index {
				window = append(window, target{id: items[i].ID, url: items[i].MediaURL})
			}
		}
	}
	p.retained = retained

	p.window = p.window[:0]
	for _, t := range window {
		p.window = append(p.window, t.id)
	}

	kept := p.queue[:0]
	for _, t := range p.queue {
		if _, ok := retained[t.id]; ok {
			kept = append(kept, t)
			continue
		}
		p.canceled++
		p.logger.Debug("dropped queued prefetch", logging.String(logging.FieldItemID, t.id))
	}
	p.queue = kept
	for id, fl := range p.inflight {
		if _, ok := retained[id]; ok {
			continue
		}
		fl.cancel()
		delete(p.inflight, id)
		p.logger.Debug("canceled in-flight prefetch", logging.String(logging.FieldItemID, id))
	}

	for _, t := range window {
		if t.url == "" || p.pendingLocked(t.id) || p.store == nil || p.store.Contains(t.id) {
			continue
		}
		p.queue = append(p.queue, t)
	}
	p.wake.Broadcast()
}

// Backfill queues id ahead of the look-ahead window after a cache miss on
// the active item.
func (p *Prefetcher) Backfill(id, url string) {
	if p == nil || id == "" || url == "" || p.store == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inflight[id]; ok || p.store.Contains(id) {
		return
	}
	for i, t := range p.queue {
		if t.id == id {
			copy(p.queue[1:i+1], p.queue[:i])
			p.queue[0] = target{id: id, url: url}
			return
		}
	}
	p.queue = append([]target{{id: id, url: url}}, p.queue...)
	p.wake.Broadcast()
}

// Cancel drops queued and in-flight work for id, used when an item unmounts.
func (p *Prefetcher) Cancel(id string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.queue[:0]
	for _, t := range p.queue {
		if t.id == id {
			p.canceled++
			continue
		}
		kept = append(kept, t)
	}
	p.queue = kept
	if fl, ok := p.inflight[id]; ok {
		fl.cancel()
		delete(p.inflight, id)
	}
	delete(p.foreground, id)
	p.wake.Broadcast()
}

// HoldForeground pauses new downloads while id's own load is in progress.
func (p *Prefetcher) HoldForeground(id string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.foreground[id] = struct{}{}
	p.mu.Unlock()
}

// ReleaseForeground lifts the hold placed for id.
func (p *Prefetcher) ReleaseForeground(id string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	delete(p.foreground, id)
	p.wake.Broadcast()
	p.mu.Unlock()
}

// Window returns the ids of the current look-ahead window in list order.
func (p *Prefetcher) Window() []string {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.window...)
}

// Scheduled returns queued ids in the order they will be fetched.
func (p *Prefetcher) Scheduled() []string {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.queue))
	for _, t := range p.queue {
		ids = append(ids, t.id)
	}
	return ids
}

// InFlight returns the ids currently downloading, sorted.
func (p *Prefetcher) InFlight() []string {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inflightLocked()
}

// Stats returns the window, queue, and counters.
func (p *Prefetcher) Stats() Stats {
	if p == nil {
		return Stats{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := Stats{
		Window:   append([]string(nil), p.window...),
		InFlight: p.inflightLocked(),
		Fetched:  p.fetched,
		Failed:   p.failed,
		Canceled: p.canceled,
	}
	for _, t := range p.queue {
		stats.Scheduled = append(stats.Scheduled, t.id)
	}
	return stats
}

func (p *Prefetcher) inflightLocked() []string {
	ids := make([]string, 0, len(p.inflight))
	for id := range p.inflight {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p *Prefetcher) pendingLocked(id string) bool {
	if _, ok := p.inflight[id]; ok {
		return true
	}
	for _, t := range p.queue {
		if t.id == id {
			return true
		}
	}
	return false
}

// flight is one download attempt. An id can be canceled and queued again
// while the old attempt is still unwinding, so entries are compared by
// pointer before removal.
type flight struct {
	cancel context.CancelFunc
}

// next blocks until a target may start, returning false on shutdown.
func (p *Prefetcher) next(ctx context.Context) (target, *flight, context.Context, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.closed && (len(p.queue) == 0 || len(p.foreground) > 0) {
		p.wake.Wait()
	}
	if p.closed {
		return target{}, nil, nil, false
	}
	t := p.queue[0]
	p.queue = p.queue[1:]
	fetchCtx, cancel := context.WithCancel(ctx)
	fl := &flight{cancel: cancel}
	p.inflight[t.id] = fl
	return t, fl, fetchCtx, true
}

func (p *Prefetcher) work(ctx context.Context) {
	defer p.wg.Done()
	for {
		t, fl, fetchCtx, ok := p.next(ctx)
		if !ok {
			return
		}
		err := p.fetch(fetchCtx, t)
		canceled := err != nil && (fetchCtx.Err() != nil || errors.Is(err, context.Canceled))

		p.mu.Lock()
		fl.cancel()
		if cur, ok := p.inflight[t.id]; ok && cur == fl {
			delete(p.inflight, t.id)
		}
		switch {
		case err == nil:
			p.fetched++
		case canceled:
			p.canceled++
		default:
			p.failed++
		}
		p.mu.Unlock()
		p.report(t, err, canceled)
	}
}

func (p *Prefetcher) fetch(ctx context.Context, t target) error {
	if p.store == nil || p.store.Contains(t.id) {
		return nil
	}
	body, err := p.fetcher.Fetch(ctx, t.url)
	if err != nil {
		return err
	}
	defer body.Close()
	size, err := p.store.PutReader(ctx, t.id, body)
	if err != nil {
		return err
	}
	p.logger.Debug("prefetched media",
		logging.String(logging.FieldItemID, t.id),
		logging.Int64("size_bytes", size),
	)
	return nil
}

// report logs a finished download. Failures leave a cache miss and are never
// surfaced further.
func (p *Prefetcher) report(t target, err error, canceled bool) {
	if err == nil {
		return
	}
	logger := p.logger.With(logging.String(logging.FieldItemID, t.id))
	if canceled {
		logger.Debug("prefetch canceled")
		return
	}
	if kind := services.KindOf(err); kind == services.KindCacheWriteFailed {
		logging.WarnWithContext(logger, "cache write failed; item will stream from network", "cache_write_failed",
			logging.String(logging.FieldErrorKind, string(kind)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check free space and permissions on the cache directory"),
			logging.String(logging.FieldImpact, "playback falls back to the network url"),
		)
		return
	}
	logging.WarnWithContext(logger, "prefetch failed", "prefetch_failed",
		logging.Error(err),
		logging.String("url", t.url),
		logging.String(logging.FieldErrorHint, "check connectivity to the media host"),
		logging.String(logging.FieldImpact, "playback falls back to the network url"),
	)
}
