package testsupport

import (
	"path/filepath"
	"testing"

	"reel/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Cache.Dir = filepath.Join(base, "cache")
	cfgVal.Cache.FreeSpaceFloor = 0
	cfgVal.Feed.BaseURL = ""
	cfgVal.Feed.APIToken = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithFeedURL points the feed source at url.
func WithFeedURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Feed.BaseURL = url
	}
}

// WithCacheDisabled turns the content cache off.
func WithCacheDisabled() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Cache.Enabled = false
	}
}

// WithCacheBudgetMiB sets the cache byte budget.
func WithCacheBudgetMiB(mib int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Cache.MaxMiB = mib
	}
}

// WithPrefetchWindow sets the look-ahead and retention distances.
func WithPrefetchWindow(ahead, behind int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Prefetch.Ahead = ahead
		b.cfg.Prefetch.Behind = behind
	}
}

// WithFeedLookahead sets how close to the tail the active index may get
// before another page is requested.
func WithFeedLookahead(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Feed.Lookahead = n
	}
}

// BaseDir returns the temp root used by the builder; handy for fixtures.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
