package feed

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"reel/internal/logging"
)

const defaultLookahead = 3

// Sequencer owns the ordered item list and the pagination cursor.
type Sequencer struct {
	source    PageSource
	lookahead int
	logger    *slog.Logger
	group     singleflight.Group

	mu      sync.RWMutex
	items   []Item
	seen    map[string]struct{}
	merged  map[string]struct{}
	cursor  string
	hasMore bool
}

// NewSequencer creates a sequencer positioned at the start of source.
// lookahead is how close to the tail the active index may get before
// NeedsMore reports true.
func NewSequencer(source PageSource, lookahead int, logger *slog.Logger) *Sequencer {
	if lookahead <= 0 {
		lookahead = defaultLookahead
	}
	return &Sequencer{
		source:    source,
		lookahead: lookahead,
		logger:    logging.NewComponentLogger(logger, "feed"),
		seen:      make(map[string]struct{}),
		merged:    make(map[string]struct{}),
		hasMore:   true,
	}
}

// Items returns a copy of the ordered sequence.
func (s *Sequencer) Items() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Item(nil), s.items...)
}

// Len returns the number of loaded items.
func (s *Sequencer) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Item returns the item at index.
func (s *Sequencer) Item(index int) (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.items) {
		return Item{}, false
	}
	return s.items[index], true
}

// IndexOf returns the list position of id, or -1.
func (s *Sequencer) IndexOf(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for idx, item := range s.items {
		if item.ID == id {
			return idx
		}
	}
	return -1
}

// Cursor returns the cursor the next page will be requested with.
func (s *Sequencer) Cursor() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor
}

// HasMore reports whether the source advertised further pages.
func (s *Sequencer) HasMore() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasMore
}

// NeedsMore reports whether activeIndex is within the look-ahead distance of
// the tail. An empty list always needs more while the source has pages.
func (s *Sequencer) NeedsMore(activeIndex int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasMore {
		return false
	}
	if len(s.items) == 0 {
		return true
	}
	if activeIndex < 0 {
		return false
	}
	return len(s.items)-1-activeIndex <= s.lookahead
}

// RequestNextPage fetches the page at cursor. Concurrent callers asking for
// the same cursor share one request and its result.
func (s *Sequencer) RequestNextPage(ctx context.Context, cursor string) (Page, error) {
	value, err, shared := s.group.Do(cursor, func() (any, error) {
		page, err := s.source.FetchPage(ctx, cursor)
		if err != nil {
			return Page{}, err
		}
		page.Cursor = cursor
		return page, nil
	})
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, s.logger), "feed page fetch failed", "feed_fetch_failed",
			logging.String(logging.FieldCursor, cursor),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "request more again once the feed backend recovers"),
			logging.String(logging.FieldImpact, "already loaded items remain playable"),
		)
		return Page{}, &FetchError{Cursor: cursor, Err: err}
	}
	page := value.(Page)
	if shared {
		page.Items = append([]Item(nil), page.Items...)
	}
	return page, nil
}

// MergePage appends the page's unseen items in order and returns them. The
// cursor only advances when page was produced from the current cursor, so a
// late page cannot rewind pagination. Merging the same page twice is a no-op.
func (s *Sequencer) MergePage(page Page) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, done := s.merged[page.Cursor]; done {
		return nil
	}

	added := make([]Item, 0, len(page.Items))
	dropped := 0
	for _, item := range page.Items {
		if item.ID == "" {
			dropped++
			continue
		}
		if _, dup := s.seen[item.ID]; dup {
			dropped++
			continue
		}
		s.seen[item.ID] = struct{}{}
		s.items = append(s.items, item)
		added = append(added, item)
	}

	if page.Cursor == s.cursor {
		s.merged[page.Cursor] = struct{}{}
		s.cursor = page.NextCursor
		s.hasMore = page.HasMore && page.NextCursor != ""
	}

	s.logger.Debug("merged feed page",
		logging.String(logging.FieldCursor, page.Cursor),
		logging.Int("added", len(added)),
		logging.Int("dropped", dropped),
		logging.Int("total", len(s.items)),
		logging.Bool("has_more", s.hasMore),
	)
	return added
}

// LoadMore fetches and merges the page at the current cursor. It returns the
// newly appended items; nothing is fetched once the source is exhausted.
func (s *Sequencer) LoadMore(ctx context.Context) ([]Item, error) {
	s.mu.RLock()
	cursor, hasMore := s.cursor, s.hasMore
	s.mu.RUnlock()
	if !hasMore {
		return nil, nil
	}
	page, err := s.RequestNextPage(ctx, cursor)
	if err != nil {
		return nil, err
	}
	return s.MergePage(page), nil
}

// Prune drops items before keepFrom to bound memory. Their ids stay known so
// a page replaying them cannot add them back. It returns the number removed.
func (s *Sequencer) Prune(keepFrom int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if keepFrom <= 0 {
		return 0
	}
	if keepFrom > len(s.items) {
		keepFrom = len(s.items)
	}
	s.items = append([]Item(nil), s.items[keepFrom:]...)
	return keepFrom
}
