package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/text/language"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateFeed(); err != nil {
		return err
	}
	if err := c.validateViewport(); err != nil {
		return err
	}
	if err := c.validatePlayback(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validatePrefetch(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateFeed() error {
	if base := strings.TrimSpace(c.Feed.BaseURL); base != "" {
		parsed, err := url.Parse(base)
		if err != nil {
			return fmt.Errorf("feed.base_url: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("feed.base_url must use http or https, got %q", parsed.Scheme)
		}
		if parsed.Host == "" {
			return errors.New("feed.base_url must include a host")
		}
	}
	if _, err := language.Parse(c.Feed.Language); err != nil {
		return fmt.Errorf("feed.language %q is not a valid BCP 47 tag: %w", c.Feed.Language, err)
	}
	return ensurePositiveMap(map[string]int{
		"feed.page_size":               c.Feed.PageSize,
		"feed.lookahead":               c.Feed.Lookahead,
		"feed.retain_behind":           c.Feed.RetainBehind,
		"feed.request_timeout_seconds": c.Feed.RequestTimeoutSeconds,
	})
}

func (c *Config) validateViewport() error {
	if c.Viewport.ActivationThreshold <= 0 || c.Viewport.ActivationThreshold > 1 {
		return errors.New("viewport.activation_threshold must be in (0, 1]")
	}
	if c.Viewport.SwitchMargin < 0 || c.Viewport.SwitchMargin >= 1 {
		return errors.New("viewport.switch_margin must be in [0, 1)")
	}
	return nil
}

func (c *Config) validatePlayback() error {
	return ensurePositiveMap(map[string]int{
		"playback.readiness_timeout_ms": c.Playback.ReadinessTimeoutMillis,
		"playback.progress_interval_ms": c.Playback.ProgressIntervalMillis,
	})
}

func (c *Config) validateCache() error {
	if !c.Cache.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Cache.Dir) == "" {
		return errors.New("cache.dir must be set when cache.enabled is true")
	}
	if c.Cache.MaxMiB <= 0 {
		return errors.New("cache.max_mib must be positive when cache.enabled is true")
	}
	if c.Cache.FreeSpaceFloor < 0 || c.Cache.FreeSpaceFloor >= 1 {
		return errors.New("cache.free_space_floor must be in [0, 1)")
	}
	return nil
}

func (c *Config) validatePrefetch() error {
	if c.Prefetch.Ahead < 0 {
		return errors.New("prefetch.ahead must be >= 0")
	}
	if c.Prefetch.Behind < 0 {
		return errors.New("prefetch.behind must be >= 0")
	}
	return ensurePositiveMap(map[string]int{
		"prefetch.workers":                 c.Prefetch.Workers,
		"prefetch.request_timeout_seconds": c.Prefetch.RequestTimeoutSeconds,
	})
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
