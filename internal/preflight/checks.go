package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"reel/internal/config"
	"reel/internal/feed"
	"reel/internal/services"
)

// CheckFeed requests the first page from the configured backend. It uses a
// 5-second timeout and a single attempt.
func CheckFeed(ctx context.Context, cfg *config.Config) Result {
	const name = "Feed backend"

	if strings.TrimSpace(cfg.Feed.BaseURL) == "" {
		return Result{Name: name, Skipped: true, Detail: "Not configured (feed.base_url)"}
	}
	source, err := feed.NewHTTPSource(cfg.Feed.BaseURL, 5*time.Second,
		feed.WithToken(cfg.Feed.APIToken),
		feed.WithLanguage(cfg.Feed.Language),
		feed.WithPageSize(1),
	)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	page, err := source.FetchPage(checkCtx, "")
	if err != nil {
		return Result{Name: name, Detail: summarizeFeedError(err)}
	}
	detail := fmt.Sprintf("%s (%d items on first page)", cfg.Feed.BaseURL, len(page.Items))
	return Result{Name: name, Passed: true, Detail: detail}
}

func summarizeFeedError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out (backend unresponsive)"
	case errors.Is(err, services.ErrConfiguration):
		return "auth failed (check feed.api_token)"
	case errors.Is(err, services.ErrNotFound):
		return "feed endpoint not found (check feed.base_url)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timed out (backend unreachable)"
	}
	return err.Error()
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace compares the free fraction of the filesystem holding path
// with floor. A zero floor only reports the free space.
func CheckFreeSpace(name, path string, floor float64) Result {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	if total == 0 {
		return Result{Name: name, Passed: true, Detail: "unknown filesystem size"}
	}
	fraction := float64(free) / float64(total)
	detail := fmt.Sprintf("%.1f%% free (floor %.1f%%)", fraction*100, floor*100)
	if fraction < floor {
		return Result{Name: name, Detail: detail + "; the cache will evict entries after each write"}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckBind verifies the bridge address can be bound. A failure usually
// means "reel serve" is already running.
func CheckBind(name, addr string) Result {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return Result{Name: name, Skipped: true, Detail: "Not configured (paths.api_bind)"}
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (in use or not bindable: %v)", addr, err)}
	}
	_ = ln.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (available)", addr)}
}
