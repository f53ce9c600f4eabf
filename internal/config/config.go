package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
}

// Feed contains configuration for the backend page source.
type Feed struct {
	BaseURL               string `toml:"base_url"`
	APIToken              string `toml:"api_token"`
	Language              string `toml:"language"`
	PageSize              int    `toml:"page_size"`
	Lookahead             int    `toml:"lookahead"`
	RetainBehind          int    `toml:"retain_behind"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Viewport contains the activation thresholds applied to visibility samples.
type Viewport struct {
	ActivationThreshold float64 `toml:"activation_threshold"`
	SwitchMargin        float64 `toml:"switch_margin"`
}

// Playback contains per-item controller timing.
type Playback struct {
	ReadinessTimeoutMillis int `toml:"readiness_timeout_ms"`
	ProgressIntervalMillis int `toml:"progress_interval_ms"`
}

// Cache contains configuration for the local media cache.
type Cache struct {
	Enabled        bool    `toml:"enabled"`
	Dir            string  `toml:"dir"`
	MaxMiB         int     `toml:"max_mib"`
	FreeSpaceFloor float64 `toml:"free_space_floor"`
	Persist        bool    `toml:"persist"`
}

// Prefetch contains the look-ahead window and worker settings.
type Prefetch struct {
	Ahead                 int `toml:"ahead"`
	Behind                int `toml:"behind"`
	Workers               int `toml:"workers"`
	RequestTimeoutSeconds int `toml:"request_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Reel.
//
// Configuration sections by subsystem:
//   - Paths: state/log directories and the bridge bind address
//   - Feed: backend page source, language, page size, and look-ahead
//   - Viewport: activation threshold and hysteresis margin
//   - Playback: readiness timeout and progress reporting interval
//   - Cache: media cache directory, byte budget, and free-space floor
//   - Prefetch: look-ahead/retention window and worker count
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	Feed     Feed     `toml:"feed"`
	Viewport Viewport `toml:"viewport"`
	Playback Playback `toml:"playback"`
	Cache    Cache    `toml:"cache"`
	Prefetch Prefetch `toml:"prefetch"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/reel/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		info, err := os.Stat(expanded)
		if err != nil {
			if os.IsNotExist(err) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		if info.IsDir() {
			return "", false, fmt.Errorf("config path %q is a directory", expanded)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("reel.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for engine operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Cache.Enabled && strings.TrimSpace(c.Cache.Dir) != "" {
		if err := os.MkdirAll(c.Cache.Dir, 0o755); err != nil {
			return fmt.Errorf("create cache directory %q: %w", c.Cache.Dir, err)
		}
	}
	return nil
}

// ProgressDBPath returns the SQLite database used for watch progress.
func (c *Config) ProgressDBPath() string {
	return filepath.Join(c.Paths.StateDir, "progress.db")
}

// ReadinessTimeout returns the playback readiness timeout as a duration.
func (c *Config) ReadinessTimeout() time.Duration {
	return time.Duration(c.Playback.ReadinessTimeoutMillis) * time.Millisecond
}

// ProgressInterval returns the progress reporting interval as a duration.
func (c *Config) ProgressInterval() time.Duration {
	return time.Duration(c.Playback.ProgressIntervalMillis) * time.Millisecond
}

// FeedRequestTimeout returns the page fetch timeout.
func (c *Config) FeedRequestTimeout() time.Duration {
	return time.Duration(c.Feed.RequestTimeoutSeconds) * time.Second
}

// PrefetchRequestTimeout returns the media prefetch timeout.
func (c *Config) PrefetchRequestTimeout() time.Duration {
	return time.Duration(c.Prefetch.RequestTimeoutSeconds) * time.Second
}

// CacheMaxBytes returns the cache byte budget.
func (c *Config) CacheMaxBytes() int64 {
	return int64(c.Cache.MaxMiB) * 1024 * 1024
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultCacheDir() string {
	if base, ok := os.LookupEnv("XDG_CACHE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "reel", "media")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "~/.cache/reel/media"
	}
	return filepath.Join(home, ".cache", "reel", "media")
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
