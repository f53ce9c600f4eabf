package progress_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"reel/internal/progress"
	"reel/internal/services"
	"reel/internal/testsupport"
)

func TestReportProgressUpsertsAndTracksSession(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenProgressStore(t, cfg)

	ctx := services.WithSessionID(context.Background(), "s1")
	if err := store.ReportProgress(ctx, "v1", 3, 12); err != nil {
		t.Fatalf("report: %v", err)
	}
	if err := store.ReportProgress(ctx, "v1", 6, 12); err != nil {
		t.Fatalf("report: %v", err)
	}

	rec, err := store.Get(context.Background(), "v1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec == nil {
		t.Fatal("expected record")
	}
	if rec.SessionID != "s1" || rec.PositionSeconds != 6 || rec.PercentComplete != 50 || rec.Reports != 2 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.Completed {
		t.Fatal("half-watched item is not completed")
	}
	if rec.UpdatedAt.IsZero() || rec.CreatedAt.After(rec.UpdatedAt) {
		t.Fatalf("unexpected timestamps %+v", rec)
	}
}

func TestCompletionSticksAfterReplay(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenProgressStore(t, cfg)
	ctx := context.Background()

	if err := store.ReportProgress(ctx, "v1", 15, 15); err != nil {
		t.Fatalf("report: %v", err)
	}
	if err := store.ReportProgress(ctx, "v1", 1, 15); err != nil {
		t.Fatalf("report: %v", err)
	}
	rec, err := store.Get(ctx, "v1")
	if err != nil || rec == nil {
		t.Fatalf("get: %v %v", rec, err)
	}
	if !rec.Completed {
		t.Fatal("completed flag must survive a replay")
	}
	if rec.PositionSeconds != 1 {
		t.Fatalf("position = %v", rec.PositionSeconds)
	}
}

func TestSaveValidatesAndClamps(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenProgressStore(t, cfg)
	ctx := context.Background()

	err := store.Save(ctx, progress.Record{ItemID: "  "})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	if err := store.Save(ctx, progress.Record{ItemID: "v2", PositionSeconds: 40, DurationSeconds: 20}); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec, _ := store.Get(ctx, "v2")
	if rec.PercentComplete != 100 || !rec.Completed {
		t.Fatalf("unexpected record %+v", rec)
	}

	if err := store.Save(ctx, progress.Record{ItemID: "v3", PositionSeconds: -4}); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec, _ = store.Get(ctx, "v3")
	if rec.PositionSeconds != 0 || rec.PercentComplete != 0 {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestListSummaryDeleteClear(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenProgressStore(t, cfg)
	ctx := context.Background()

	for _, id := range []string{"v1", "v2", "v3"} {
		if err := store.ReportProgress(ctx, id, 10, 10); err != nil {
			t.Fatalf("report %s: %v", id, err)
		}
	}
	if err := store.ReportProgress(ctx, "v1", 2, 10); err != nil {
		t.Fatalf("report: %v", err)
	}

	records, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 3 || records[0].ItemID != "v1" {
		t.Fatalf("expected v1 most recent, got %+v", records)
	}
	limited, err := store.List(ctx, 2)
	if err != nil || len(limited) != 2 {
		t.Fatalf("limited list: %v %v", limited, err)
	}

	summary, err := store.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Items != 3 || summary.Completed != 3 || summary.Watched != 22 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	removed, err := store.Delete(ctx, "v2")
	if err != nil || !removed {
		t.Fatalf("delete: %v %v", removed, err)
	}
	if rec, _ := store.Get(ctx, "v2"); rec != nil {
		t.Fatalf("expected v2 gone, got %+v", rec)
	}
	cleared, err := store.Clear(ctx)
	if err != nil || cleared != 2 {
		t.Fatalf("clear: %d %v", cleared, err)
	}
}

func TestReopenKeepsRecordsAndRejectsOtherSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := progress.Open(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.ReportProgress(context.Background(), "v1", 1, 2); err != nil {
		t.Fatalf("report: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := testsupport.MustOpenProgressStore(t, cfg)
	rec, err := reopened.Get(context.Background(), "v1")
	if err != nil || rec == nil {
		t.Fatalf("expected persisted record, got %v %v", rec, err)
	}
	if reopened.Path() != cfg.ProgressDBPath() {
		t.Fatalf("path = %q", reopened.Path())
	}

	if err := reopened.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	db, err := sql.Open("sqlite", cfg.ProgressDBPath())
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = db.Close()

	if _, err := progress.Open(cfg); !errors.Is(err, progress.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
}
