package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeFeed()
	if err := c.normalizeCache(); err != nil {
		return err
	}
	c.normalizePrefetch()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeFeed() {
	c.Feed.BaseURL = strings.TrimSpace(c.Feed.BaseURL)
	if c.Feed.BaseURL == "" {
		if value, ok := os.LookupEnv("REEL_FEED_URL"); ok {
			c.Feed.BaseURL = strings.TrimSpace(value)
		}
	}
	c.Feed.BaseURL = strings.TrimRight(c.Feed.BaseURL, "/")
	c.Feed.APIToken = strings.TrimSpace(c.Feed.APIToken)
	if c.Feed.APIToken == "" {
		if value, ok := os.LookupEnv("REEL_FEED_TOKEN"); ok {
			c.Feed.APIToken = strings.TrimSpace(value)
		}
	}
	c.Feed.Language = strings.TrimSpace(c.Feed.Language)
	if c.Feed.Language == "" {
		c.Feed.Language = defaultFeedLanguage
	}
	if c.Feed.PageSize <= 0 {
		c.Feed.PageSize = defaultFeedPageSize
	}
	if c.Feed.Lookahead <= 0 {
		c.Feed.Lookahead = defaultFeedLookahead
	}
	if c.Feed.RetainBehind <= 0 {
		c.Feed.RetainBehind = defaultFeedRetainBehind
	}
	if c.Feed.RequestTimeoutSeconds <= 0 {
		c.Feed.RequestTimeoutSeconds = defaultFeedRequestTimeout
	}
}

func (c *Config) normalizeCache() error {
	var err error
	if strings.TrimSpace(c.Cache.Dir) == "" {
		c.Cache.Dir = defaultCacheDir()
	}
	if c.Cache.Dir, err = expandPath(c.Cache.Dir); err != nil {
		return fmt.Errorf("cache.dir: %w", err)
	}
	if c.Cache.MaxMiB <= 0 {
		c.Cache.MaxMiB = defaultCacheMaxMiB
	}
	return nil
}

func (c *Config) normalizePrefetch() {
	if c.Prefetch.Workers <= 0 {
		c.Prefetch.Workers = defaultPrefetchWorkers
	}
	if c.Prefetch.Behind < 0 {
		c.Prefetch.Behind = 0
	}
	if c.Prefetch.RequestTimeoutSeconds <= 0 {
		c.Prefetch.RequestTimeoutSeconds = defaultPrefetchRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
