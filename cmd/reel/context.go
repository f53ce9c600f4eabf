package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"reel/internal/config"
	"reel/internal/contentcache"
	"reel/internal/feed"
	"reel/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configExists = exists
	})
	return c.config, c.configErr
}

// openCache opens the media cache for maintenance commands. The cache is
// always opened persistent so inspecting it never empties it.
func (c *commandContext) openCache(logger *slog.Logger) (*contentcache.Cache, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Cache.Enabled {
		return nil, errors.New("media cache is disabled (cache.enabled = false)")
	}
	cache, err := contentcache.Open(contentcache.Options{
		Dir:            cfg.Cache.Dir,
		MaxBytes:       cfg.CacheMaxBytes(),
		FreeSpaceFloor: cfg.Cache.FreeSpaceFloor,
		Persist:        true,
	}, logger)
	if errors.Is(err, contentcache.ErrLocked) {
		return nil, fmt.Errorf("media cache %s is in use; stop `reel serve` first", cfg.Cache.Dir)
	}
	return cache, err
}

// feedSource returns the fixture source when fixture is set, otherwise the
// configured HTTP feed.
func feedSource(cfg *config.Config, fixture string) (feed.PageSource, error) {
	if fixture = strings.TrimSpace(fixture); fixture != "" {
		path, err := config.ExpandPath(fixture)
		if err != nil {
			return nil, err
		}
		return feed.LoadFileSource(path)
	}
	if strings.TrimSpace(cfg.Feed.BaseURL) == "" {
		return nil, errors.New("feed.base_url is not configured (set it or export REEL_FEED_URL)")
	}
	return feed.NewHTTPSource(cfg.Feed.BaseURL, cfg.FeedRequestTimeout(),
		feed.WithToken(cfg.Feed.APIToken),
		feed.WithLanguage(cfg.Feed.Language),
		feed.WithPageSize(cfg.Feed.PageSize),
	)
}

// quietLogger keeps CLI output clean unless --verbose is set.
func quietLogger(cfg *config.Config, verbose bool) (*slog.Logger, error) {
	if !verbose {
		return logging.NewNop(), nil
	}
	return logging.New(logging.Options{Level: "debug", Format: cfg.Logging.Format, OutputPaths: []string{"stderr"}})
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
