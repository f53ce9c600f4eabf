package preflight

import (
	"context"

	"reel/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name    string
	Passed  bool
	Skipped bool
	Detail  string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))

	if cfg.Cache.Enabled {
		results = append(results, CheckDirectoryAccess("Cache directory", cfg.Cache.Dir))
		results = append(results, CheckFreeSpace("Cache free space", cfg.Cache.Dir, cfg.Cache.FreeSpaceFloor))
	} else {
		results = append(results, Result{Name: "Cache", Passed: true, Skipped: true, Detail: "Disabled"})
	}

	results = append(results, CheckFeed(ctx, cfg))
	results = append(results, CheckBind("Bridge address", cfg.Paths.APIBind))
	return results
}

// Failed reports whether any non-skipped check failed.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed && !r.Skipped {
			return true
		}
	}
	return false
}
