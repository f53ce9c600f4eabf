package contentcache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"reel/internal/config"
	"reel/internal/logging"
	"reel/internal/services"
)

const (
	payloadExt  = ".media"
	sidecarExt  = ".json"
	lockName    = ".reel-cache.lock"
	tempPattern = ".put-*.tmp"
)

// ErrLocked is returned when another process owns the cache directory.
var ErrLocked = errors.New("contentcache: directory locked by another process")

// statfsFunc allows tests to stub filesystem stats.
type statfsFunc func(path string) (total uint64, free uint64, err error)

// Options configures a Cache.
type Options struct {
	Dir            string
	MaxBytes       int64
	FreeSpaceFloor float64
	Persist        bool
}

// Entry describes one cached payload.
type Entry struct {
	ItemID     string    `json:"item_id"`
	Path       string    `json:"path"`
	SizeBytes  int64     `json:"size_bytes"`
	CreatedAt  time.Time `json:"created_at"`
	LastAccess time.Time `json:"last_access"`
	Pins       int       `json:"pins"`
}

// Stats describes current cache usage.
type Stats struct {
	Entries      int     `json:"entries"`
	TotalBytes   int64   `json:"total_bytes"`
	MaxBytes     int64   `json:"max_bytes"`
	FreeBytes    uint64  `json:"free_bytes"`
	TotalFSBytes uint64  `json:"total_fs_bytes"`
	FreeRatio    float64 `json:"free_ratio"`
	Pinned       int     `json:"pinned"`
	Items        []Entry `json:"items"`
}

// WriteError reports a payload that could not be stored. The cache is left
// without an entry for the item.
type WriteError struct {
	ItemID string
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("contentcache: write %s: %v", e.ItemID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ErrorKind classifies write failures for the engine.
func (e *WriteError) ErrorKind() services.ErrorKind { return services.KindCacheWriteFailed }

type sidecar struct {
	ItemID    string    `json:"item_id"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Cache is a disk-backed, content-addressed media store.
type Cache struct {
	root     string
	maxBytes int64
	floor    float64
	logger   *slog.Logger
	statfs   statfsFunc
	lock     *flock.Flock
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*Entry
	handles map[string]map[*Handle]struct{}
	total   int64
}

// OpenFromConfig opens the cache described by cfg. It returns nil when the
// cache is disabled; every method tolerates a nil receiver.
func OpenFromConfig(cfg *config.Config, logger *slog.Logger) (*Cache, error) {
	if cfg == nil || !cfg.Cache.Enabled {
		return nil, nil
	}
	return Open(Options{
		Dir:            cfg.Cache.Dir,
		MaxBytes:       cfg.CacheMaxBytes(),
		FreeSpaceFloor: cfg.Cache.FreeSpaceFloor,
		Persist:        cfg.Cache.Persist,
	}, logger)
}

// Open takes ownership of the cache directory. Without Persist the directory
// is emptied so the cache lives for one session; with Persist the index is
// rebuilt from the sidecars on disk.
func Open(opts Options, logger *slog.Logger) (*Cache, error) {
	root := strings.TrimSpace(opts.Dir)
	if root == "" {
		return nil, services.Wrap(services.ErrConfiguration, "contentcache", "open", "cache directory is empty", nil)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("contentcache: ensure dir: %w", err)
	}

	lock := flock.New(filepath.Join(root, lockName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("contentcache: acquire lock: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}

	c := &Cache{
		root:     root,
		maxBytes: opts.MaxBytes,
		floor:    opts.FreeSpaceFloor,
		logger:   logging.NewComponentLogger(logger, "contentcache"),
		statfs:   realStatfs,
		lock:     lock,
		now:      time.Now,
		entries:  make(map[string]*Entry),
		handles:  make(map[string]map[*Handle]struct{}),
	}

	if opts.Persist {
		err = c.rebuild()
	} else {
		err = c.removeAllFiles()
	}
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	c.logger.Debug("content cache opened",
		logging.String("cache_dir", root),
		logging.Int("entries", len(c.entries)),
		logging.Int64("max_bytes", c.maxBytes),
		logging.Bool("persist", opts.Persist),
	)
	return c, nil
}

// Close releases the directory lock. Outstanding handles stay readable.
func (c *Cache) Close() error {
	if c == nil || c.lock == nil {
		return nil
	}
	return c.lock.Unlock()
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	if c == nil {
		return ""
	}
	return c.root
}

// Contains reports whether a payload for id is cached.
func (c *Cache) Contains(id string) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[id]
	return ok
}

// Get returns a handle to the cached payload for id. The entry stays pinned
// until the handle is released.
func (c *Cache) Get(id string) (*Handle, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	if _, err := os.Stat(entry.Path); err != nil {
		c.dropLocked(id)
		return nil, false
	}
	c.touchLocked(entry)
	h := &Handle{cache: c, itemID: id, path: entry.Path, size: entry.SizeBytes}
	set, ok := c.handles[id]
	if !ok {
		set = make(map[*Handle]struct{})
		c.handles[id] = set
	}
	set[h] = struct{}{}
	entry.Pins = len(set)
	return h, true
}

// Read returns the cached payload bytes for id.
func (c *Cache) Read(id string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	entry, ok := c.entries[id]
	var path string
	if ok {
		path = entry.Path
		c.touchLocked(entry)
	}
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return data, true
}

// Put stores payload for id. Concurrent writers for the same id are safe and
// the last rename wins.
func (c *Cache) Put(ctx context.Context, id string, payload []byte) error {
	_, err := c.PutReader(ctx, id, bytes.NewReader(payload))
	return err
}

// PutReader streams r into the cache under id and returns the stored size.
func (c *Cache) PutReader(ctx context.Context, id string, r io.Reader) (int64, error) {
	if c == nil {
		return 0, nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return 0, &WriteError{ItemID: id, Err: services.Wrap(services.ErrValidation, "contentcache", "put", "empty item id", nil)}
	}

	tmp, err := os.CreateTemp(c.root, tempPattern)
	if err != nil {
		return 0, &WriteError{ItemID: id, Err: err}
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	size, err := io.Copy(tmp, &contextReader{ctx: ctx, r: r})
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		cleanup()
		return 0, &WriteError{ItemID: id, Err: err}
	}

	now := c.now()
	name := addressFor(id)
	payloadPath := filepath.Join(c.root, name+payloadExt)
	if err := writeSidecar(filepath.Join(c.root, name+sidecarExt), sidecar{ItemID: id, SizeBytes: size, CreatedAt: now}); err != nil {
		cleanup()
		return 0, &WriteError{ItemID: id, Err: err}
	}
	if err := os.Rename(tmpPath, payloadPath); err != nil {
		cleanup()
		return 0, &WriteError{ItemID: id, Err: err}
	}

	c.mu.Lock()
	if prev, ok := c.entries[id]; ok {
		c.total -= prev.SizeBytes
	}
	c.entries[id] = &Entry{
		ItemID:     id,
		Path:       payloadPath,
		SizeBytes:  size,
		CreatedAt:  now,
		LastAccess: now,
		Pins:       len(c.handles[id]),
	}
	c.total += size
	c.mu.Unlock()

	c.logger.DebugContext(ctx, "stored media payload",
		logging.String(logging.FieldItemID, id),
		logging.Int64("size_bytes", size),
	)
	if err := c.prune(ctx, id); err != nil {
		return size, err
	}
	return size, nil
}

// Clear revokes every outstanding handle and removes all payloads.
func (c *Cache) Clear() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, set := range c.handles {
		for h := range set {
			h.revoked.Store(true)
		}
	}
	c.handles = make(map[string]map[*Handle]struct{})
	c.entries = make(map[string]*Entry)
	c.total = 0
	return c.removeAllFiles()
}

// Prune evicts least recently used, unpinned entries until the byte budget
// and free-space floor both hold.
func (c *Cache) Prune(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.prune(ctx, "")
}

// Stats returns current cache usage and filesystem free-space info.
func (c *Cache) Stats() (Stats, error) {
	var s Stats
	if c == nil {
		return s, nil
	}
	totalFS, freeFS, err := c.statfs(c.root)
	if err != nil {
		return s, fmt.Errorf("contentcache: statfs: %w", err)
	}
	ratio := 1.0
	if totalFS > 0 {
		ratio = float64(freeFS) / float64(totalFS)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	items := make([]Entry, 0, len(c.entries))
	pinned := 0
	for _, entry := range c.entries {
		items = append(items, *entry)
		if entry.Pins > 0 {
			pinned++
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].LastAccess.After(items[j].LastAccess)
	})
	return Stats{
		Entries:      len(items),
		TotalBytes:   c.total,
		MaxBytes:     c.maxBytes,
		FreeBytes:    freeFS,
		TotalFSBytes: totalFS,
		FreeRatio:    ratio,
		Pinned:       pinned,
		Items:        items,
	}, nil
}

func (c *Cache) prune(ctx context.Context, keepID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	candidates := make([]*Entry, 0, len(c.entries))
	for id, entry := range c.entries {
		if id == keepID || len(c.handles[id]) > 0 {
			continue
		}
		candidates = append(candidates, entry)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LastAccess.Before(candidates[j].LastAccess)
	})

	for {
		freeOK, err := c.freeSpaceOK()
		if err != nil {
			return err
		}
		if (c.maxBytes <= 0 || c.total <= c.maxBytes) && freeOK {
			return nil
		}
		if len(candidates) == 0 {
			logging.WarnWithContext(c.logger, "cache over limits with only pinned entries left", "cache_over_budget",
				logging.Int64("total_bytes", c.total),
				logging.Int64("max_bytes", c.maxBytes),
				logging.String(logging.FieldErrorHint, "raise cache.max_mib or free disk space"),
				logging.String(logging.FieldImpact, "cache may exceed its budget until handles are released"),
			)
			return nil
		}
		victim := candidates[0]
		candidates = candidates[1:]
		if err := c.removeEntryLocked(victim.ItemID); err != nil {
			return err
		}
		c.logger.DebugContext(ctx, "evicted media payload",
			logging.String(logging.FieldItemID, victim.ItemID),
			logging.Int64("size_bytes", victim.SizeBytes),
		)
	}
}

func (c *Cache) removeEntryLocked(id string) error {
	entry, ok := c.entries[id]
	if !ok {
		return nil
	}
	name := addressFor(id)
	for _, path := range []string{entry.Path, filepath.Join(c.root, name+sidecarExt)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("contentcache: remove %q: %w", path, err)
		}
	}
	c.dropLocked(id)
	return nil
}

func (c *Cache) dropLocked(id string) {
	if entry, ok := c.entries[id]; ok {
		c.total -= entry.SizeBytes
		delete(c.entries, id)
	}
}

func (c *Cache) touchLocked(entry *Entry) {
	now := c.now()
	entry.LastAccess = now
	_ = os.Chtimes(entry.Path, now, now)
}

func (c *Cache) release(h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.handles[h.itemID]
	if !ok {
		return
	}
	delete(set, h)
	if len(set) == 0 {
		delete(c.handles, h.itemID)
	}
	if entry, ok := c.entries[h.itemID]; ok {
		entry.Pins = len(set)
	}
}

func (c *Cache) freeSpaceOK() (bool, error) {
	if c.floor <= 0 {
		return true, nil
	}
	total, free, err := c.statfs(c.root)
	if err != nil {
		return false, fmt.Errorf("contentcache: statfs: %w", err)
	}
	if total == 0 {
		return true, nil
	}
	return float64(free)/float64(total) >= c.floor, nil
}

func (c *Cache) rebuild() error {
	dirEntries, err := os.ReadDir(c.root)
	if err != nil {
		return fmt.Errorf("contentcache: list dir: %w", err)
	}
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || filepath.Ext(name) != sidecarExt {
			continue
		}
		base := strings.TrimSuffix(name, sidecarExt)
		meta, err := readSidecar(filepath.Join(c.root, name))
		if err != nil || meta.ItemID == "" || addressFor(meta.ItemID) != base {
			c.skipCorrupt(base, err)
			continue
		}
		payloadPath := filepath.Join(c.root, base+payloadExt)
		info, err := os.Stat(payloadPath)
		if err != nil || info.Size() != meta.SizeBytes {
			c.skipCorrupt(base, err)
			continue
		}
		c.entries[meta.ItemID] = &Entry{
			ItemID:     meta.ItemID,
			Path:       payloadPath,
			SizeBytes:  meta.SizeBytes,
			CreatedAt:  meta.CreatedAt,
			LastAccess: info.ModTime(),
		}
		c.total += meta.SizeBytes
	}
	return nil
}

func (c *Cache) skipCorrupt(base string, err error) {
	attrs := []logging.Attr{
		logging.String("entry", base),
		logging.String(logging.FieldErrorHint, "the entry is removed and will be refetched on demand"),
		logging.String(logging.FieldImpact, "item streams from the network until cached again"),
	}
	if err != nil {
		attrs = append(attrs, logging.Error(err))
	}
	logging.WarnWithContext(c.logger, "skipping corrupt cache entry", "cache_entry_skipped", attrs...)
	_ = os.Remove(filepath.Join(c.root, base+payloadExt))
	_ = os.Remove(filepath.Join(c.root, base+sidecarExt))
}

func (c *Cache) removeAllFiles() error {
	dirEntries, err := os.ReadDir(c.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("contentcache: list dir: %w", err)
	}
	for _, de := range dirEntries {
		if de.IsDir() || de.Name() == lockName {
			continue
		}
		path := filepath.Join(c.root, de.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("contentcache: remove %q: %w", path, err)
		}
	}
	return nil
}

func addressFor(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}

func writeSidecar(path string, meta sidecar) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), tempPattern)
	if err != nil {
		return fmt.Errorf("create sidecar temp: %w", err)
	}
	_, err = tmp.Write(payload)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write sidecar: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("commit sidecar: %w", err)
	}
	return nil
}

func readSidecar(path string) (sidecar, error) {
	var meta sidecar
	data, err := os.ReadFile(path)
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("decode sidecar: %w", err)
	}
	return meta, nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if cr.ctx != nil {
		if err := cr.ctx.Err(); err != nil {
			return 0, err
		}
	}
	return cr.r.Read(p)
}
