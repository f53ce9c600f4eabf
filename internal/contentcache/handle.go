package contentcache

import (
	"errors"
	"os"
	"sync/atomic"
)

// ErrRevoked is returned by Handle.Open after the cache was cleared.
var ErrRevoked = errors.New("contentcache: handle revoked")

// Handle is a scoped reference to a cached payload. While unreleased it pins
// the entry against eviction.
type Handle struct {
	cache    *Cache
	itemID   string
	path     string
	size     int64
	released atomic.Bool
	revoked  atomic.Bool
}

// ItemID returns the feed item the payload belongs to.
func (h *Handle) ItemID() string { return h.itemID }

// Path returns the local file backing the payload.
func (h *Handle) Path() string { return h.path }

// Size returns the payload size in bytes.
func (h *Handle) Size() int64 { return h.size }

// Revoked reports whether Clear invalidated the handle.
func (h *Handle) Revoked() bool { return h.revoked.Load() }

// Open opens the payload for reading.
func (h *Handle) Open() (*os.File, error) {
	if h == nil || h.revoked.Load() {
		return nil, ErrRevoked
	}
	return os.Open(h.path)
}

// Release unpins the entry. It is safe to call more than once.
func (h *Handle) Release() {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return
	}
	if h.cache != nil && !h.revoked.Load() {
		h.cache.release(h)
	}
}
