package testsupport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"reel/internal/feed"
)

// Items builds feed items with predictable media URLs under base.
func Items(base string, ids ...string) []feed.Item {
	out := make([]feed.Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, feed.Item{
			ID:              id,
			MediaURL:        base + "/media/" + id + ".mp4",
			DurationSeconds: 15,
		})
	}
	return out
}

// WriteFixture writes pages as a JSON fixture file under dir and returns its path.
func WriteFixture(t testing.TB, dir string, pages ...feed.Page) string {
	t.Helper()
	data, err := json.MarshalIndent(pages, "", "  ")
	if err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	path := filepath.Join(dir, "pages.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}
