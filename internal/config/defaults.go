package config

const (
	defaultStateDir               = "~/.local/share/reel"
	defaultLogDir                 = "~/.local/share/reel/logs"
	defaultAPIBind                = "127.0.0.1:7488"
	defaultFeedLanguage           = "en-US"
	defaultFeedPageSize           = 10
	defaultFeedLookahead          = 3
	defaultFeedRetainBehind       = 50
	defaultFeedRequestTimeout     = 10
	defaultActivationThreshold    = 0.5
	defaultSwitchMargin           = 0.05
	defaultReadinessTimeoutMillis = 2000
	defaultProgressIntervalMillis = 1000
	defaultCacheMaxMiB            = 512
	defaultCacheFreeSpaceFloor    = 0.10
	defaultPrefetchAhead          = 2
	defaultPrefetchBehind         = 1
	defaultPrefetchWorkers        = 2
	defaultPrefetchRequestTimeout = 30
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			APIBind:  defaultAPIBind,
		},
		Feed: Feed{
			Language:              defaultFeedLanguage,
			PageSize:              defaultFeedPageSize,
			Lookahead:             defaultFeedLookahead,
			RetainBehind:          defaultFeedRetainBehind,
			RequestTimeoutSeconds: defaultFeedRequestTimeout,
		},
		Viewport: Viewport{
			ActivationThreshold: defaultActivationThreshold,
			SwitchMargin:        defaultSwitchMargin,
		},
		Playback: Playback{
			ReadinessTimeoutMillis: defaultReadinessTimeoutMillis,
			ProgressIntervalMillis: defaultProgressIntervalMillis,
		},
		Cache: Cache{
			Enabled:        true,
			Dir:            defaultCacheDir(),
			MaxMiB:         defaultCacheMaxMiB,
			FreeSpaceFloor: defaultCacheFreeSpaceFloor,
		},
		Prefetch: Prefetch{
			Ahead:                 defaultPrefetchAhead,
			Behind:                defaultPrefetchBehind,
			Workers:               defaultPrefetchWorkers,
			RequestTimeoutSeconds: defaultPrefetchRequestTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
