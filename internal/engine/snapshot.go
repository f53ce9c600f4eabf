package engine

import (
	"slices"
	"strings"
	"time"

	"reel/internal/contentcache"
	"reel/internal/feed"
	"reel/internal/playback"
	"reel/internal/prefetch"
)

// MountedItem describes one mounted item in a snapshot.
type MountedItem struct {
	ID     string         `json:"id"`
	Index  int            `json:"index"`
	State  playback.State `json:"state"`
	Active bool           `json:"active"`
	Ratio  float64        `json:"ratio"`
	Cached bool           `json:"cached"`
	Source string         `json:"source,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Snapshot is a point-in-time view of the session.
type Snapshot struct {
	SessionID  string              `json:"session_id"`
	ActiveID   string              `json:"active_id,omitempty"`
	Unlocked   bool                `json:"unlocked"`
	UnlockedBy string              `json:"unlocked_by,omitempty"`
	Items      int                 `json:"items"`
	Cursor     string              `json:"cursor"`
	HasMore    bool                `json:"has_more"`
	Fetching   bool                `json:"fetching"`
	Mounted    []MountedItem       `json:"mounted"`
	Prefetch   prefetch.Stats      `json:"prefetch"`
	Cache      *contentcache.Stats `json:"cache,omitempty"`
	TakenAt    time.Time           `json:"taken_at"`
}

// ActiveItemID returns the active item, or "".
func (e *Engine) ActiveItemID() string {
	return e.activator.Active()
}

// PlaybackState returns id's state. Unmounted items report Idle and false.
func (e *Engine) PlaybackState(id string) (playback.State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.mounted[id]
	if !ok {
		return playback.Idle, false
	}
	return m.ctrl.State(), true
}

// IsUnlocked reports whether audio has been unlocked this session.
func (e *Engine) IsUnlocked() bool {
	return e.unlock.IsUnlocked()
}

// Items returns the loaded feed in order.
func (e *Engine) Items() []feed.Item {
	return e.seq.Items()
}

// Sequencer exposes the feed sequencer for read-only inspection.
func (e *Engine) Sequencer() *feed.Sequencer {
	return e.seq
}

// Cache returns the content cache, which may be nil.
func (e *Engine) Cache() *contentcache.Cache {
	return e.cache
}

// Snapshot captures the session state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	active := e.activator.Active()
	snap := Snapshot{
		SessionID:  e.sessionID,
		ActiveID:   active,
		Unlocked:   e.unlock.IsUnlocked(),
		UnlockedBy: e.unlock.UnlockedBy(),
		Items:      e.seq.Len(),
		Cursor:     e.seq.Cursor(),
		HasMore:    e.seq.HasMore(),
		Fetching:   e.fetching,
		TakenAt:    e.now(),
	}
	for id, m := range e.mounted {
		item := MountedItem{
			ID:     id,
			Index:  e.seq.IndexOf(id),
			State:  m.ctrl.State(),
			Active: id == active,
			Cached: e.cache.Contains(id),
			Source: m.ctrl.Source().Location(),
		}
		item.Ratio, _ = e.activator.Ratio(id)
		if err := m.ctrl.Err(); err != nil {
			item.Error = err.Error()
		}
		snap.Mounted = append(snap.Mounted, item)
	}
	e.mu.Unlock()

	sortMounted(snap.Mounted)
	snap.Prefetch = e.prefetch.Stats()
	if e.cache != nil {
		if stats, err := e.cache.Stats(); err == nil {
			snap.Cache = &stats
		}
	}
	return snap
}

func sortMounted(items []MountedItem) {
	slices.SortFunc(items, func(a, b MountedItem) int {
		if a.Index != b.Index {
			return a.Index - b.Index
		}
		return strings.Compare(a.ID, b.ID)
	})
}
