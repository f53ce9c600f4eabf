package preflight

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reel/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func feedServer(t *testing.T, token string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("limit") != "1" {
			t.Errorf("expected limit=1, got %q", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items":       []map[string]any{{"id": "v1", "media_url": "https://cdn.example/v1.mp4"}},
			"has_more":    true,
			"next_cursor": "p2",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckFeed_OK(t *testing.T) {
	srv := feedServer(t, "good")
	cfg := testsupport.NewConfig(t)
	cfg.Feed.BaseURL = srv.URL
	cfg.Feed.APIToken = "good"

	result := CheckFeed(context.Background(), cfg)
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if !strings.Contains(result.Detail, "1 items") {
		t.Fatalf("unexpected detail: %s", result.Detail)
	}
}

func TestCheckFeed_BadToken(t *testing.T) {
	srv := feedServer(t, "good")
	cfg := testsupport.NewConfig(t)
	cfg.Feed.BaseURL = srv.URL
	cfg.Feed.APIToken = "bad"

	result := CheckFeed(context.Background(), cfg)
	if result.Passed {
		t.Fatal("expected failure with bad token")
	}
	if !strings.Contains(result.Detail, "auth failed") {
		t.Fatalf("unexpected detail: %s", result.Detail)
	}
}

func TestCheckFeed_NotConfigured(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Feed.BaseURL = ""
	result := CheckFeed(context.Background(), cfg)
	if !result.Skipped || result.Passed {
		t.Fatalf("expected skipped result, got %+v", result)
	}
}

func TestCheckBind(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()

	if result := CheckBind("bridge", addr); result.Passed {
		t.Fatalf("expected failure while port is held, got %s", result.Detail)
	}
	ln.Close()
	if result := CheckBind("bridge", addr); !result.Passed {
		t.Fatalf("expected pass after release, got %s", result.Detail)
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if result := CheckFreeSpace("cache", dir, 0); !result.Passed {
		t.Fatalf("expected pass with zero floor, got %s", result.Detail)
	}
	if result := CheckFreeSpace("cache", dir, 1.01); result.Passed {
		t.Fatalf("expected failure above 100%%, got %s", result.Detail)
	}
	if result := CheckFreeSpace("cache", filepath.Join(dir, "missing"), 0); result.Passed {
		t.Fatal("expected failure for missing path")
	}
}

func TestRunAll(t *testing.T) {
	srv := feedServer(t, "tok")
	cfg := testsupport.NewConfig(t)
	cfg.Feed.BaseURL = srv.URL
	cfg.Feed.APIToken = "tok"
	cfg.Paths.APIBind = "127.0.0.1:0"
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}

	results := RunAll(context.Background(), cfg)
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	if Failed(results) {
		for _, r := range results {
			t.Logf("%s: passed=%v skipped=%v %s", r.Name, r.Passed, r.Skipped, r.Detail)
		}
		t.Fatal("expected all checks to pass")
	}
	if RunAll(context.Background(), nil) != nil {
		t.Fatal("expected nil for nil config")
	}
}
