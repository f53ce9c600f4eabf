package testsupport

import (
	"testing"

	"reel/internal/config"
	"reel/internal/progress"
)

// MustOpenProgressStore opens the progress database for cfg and closes it
// when the test ends.
func MustOpenProgressStore(t testing.TB, cfg *config.Config) *progress.Store {
	t.Helper()
	store, err := progress.Open(cfg)
	if err != nil {
		t.Fatalf("progress.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
