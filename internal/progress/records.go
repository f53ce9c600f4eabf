package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"reel/internal/services"
)

// CompletionPercent is the watched share at which an item counts as
// completed.
const CompletionPercent = 95.0

// Record is the stored progress of one item.
type Record struct {
	ItemID          string    `json:"item_id"`
	SessionID       string    `json:"session_id"`
	PositionSeconds float64   `json:"position_seconds"`
	DurationSeconds float64   `json:"duration_seconds"`
	PercentComplete float64   `json:"percent_complete"`
	Completed       bool      `json:"completed"`
	Reports         int64     `json:"reports"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Summary aggregates the stored progress.
type Summary struct {
	Items     int     `json:"items"`
	Completed int     `json:"completed"`
	Watched   float64 `json:"watched_seconds"`
}

// timestampLayout keeps a fixed width so stored values sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

const recordColumns = "item_id, session_id, position_seconds, duration_seconds, percent_complete, completed, reports, created_at, updated_at"

// ReportProgress records a position sample. The session id is taken from
// ctx when present.
func (s *Store) ReportProgress(ctx context.Context, itemID string, current, duration float64) error {
	sessionID, _ := services.SessionIDFromContext(ctx)
	return s.Save(ctx, Record{
		ItemID:          itemID,
		SessionID:       sessionID,
		PositionSeconds: current,
		DurationSeconds: duration,
	})
}

// Save upserts rec. The percentage is derived from position and duration,
// and a completed item stays completed.
func (s *Store) Save(ctx context.Context, rec Record) error {
	rec.ItemID = strings.TrimSpace(rec.ItemID)
	if rec.ItemID == "" {
		return services.Wrap(services.ErrValidation, "progress", "save", "item id is required", nil)
	}
	if math.IsNaN(rec.PositionSeconds) || rec.PositionSeconds < 0 {
		rec.PositionSeconds = 0
	}
	if math.IsNaN(rec.DurationSeconds) || rec.DurationSeconds < 0 {
		rec.DurationSeconds = 0
	}
	rec.PercentComplete = percentOf(rec.PositionSeconds, rec.DurationSeconds)
	completed := 0
	if rec.PercentComplete >= CompletionPercent {
		completed = 1
	}
	now := s.now().UTC().Format(timestampLayout)

	_, err := s.execWithRetry(ctx, `
INSERT INTO watch_progress (item_id, session_id, position_seconds, duration_seconds, percent_complete, completed, reports, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
ON CONFLICT(item_id) DO UPDATE SET
    session_id = excluded.session_id,
    position_seconds = excluded.position_seconds,
    duration_seconds = excluded.duration_seconds,
    percent_complete = excluded.percent_complete,
    completed = MAX(watch_progress.completed, excluded.completed),
    reports = watch_progress.reports + 1,
    updated_at = excluded.updated_at`,
		rec.ItemID, rec.SessionID, rec.PositionSeconds, rec.DurationSeconds, rec.PercentComplete, completed, now, now,
	)
	if err != nil {
		return fmt.Errorf("save progress for %s: %w", rec.ItemID, err)
	}
	return nil
}

// Get returns the record for itemID, or nil when none is stored.
func (s *Store) Get(ctx context.Context, itemID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM watch_progress WHERE item_id = ?", itemID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get progress for %s: %w", itemID, err)
	}
	return rec, nil
}

// List returns records, most recently updated first. limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	query := "SELECT " + recordColumns + " FROM watch_progress ORDER BY updated_at DESC, item_id"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Summary returns aggregate counts across all records.
func (s *Store) Summary(ctx context.Context) (Summary, error) {
	var (
		summary Summary
		watched sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1), COALESCE(SUM(completed), 0), SUM(position_seconds) FROM watch_progress",
	).Scan(&summary.Items, &summary.Completed, &watched)
	if err != nil {
		return Summary{}, fmt.Errorf("progress summary: %w", err)
	}
	summary.Watched = watched.Float64
	return summary, nil
}

// Delete removes the record for itemID and reports whether one existed.
func (s *Store) Delete(ctx context.Context, itemID string) (bool, error) {
	res, err := s.execWithRetry(ctx, "DELETE FROM watch_progress WHERE item_id = ?", itemID)
	if err != nil {
		return false, fmt.Errorf("delete progress for %s: %w", itemID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Clear removes every record and returns how many were deleted.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, "DELETE FROM watch_progress")
	if err != nil {
		return 0, fmt.Errorf("clear progress: %w", err)
	}
	return res.RowsAffected()
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		rec        Record
		completed  int64
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(
		&rec.ItemID,
		&rec.SessionID,
		&rec.PositionSeconds,
		&rec.DurationSeconds,
		&rec.PercentComplete,
		&completed,
		&rec.Reports,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	rec.Completed = completed != 0
	rec.CreatedAt = parseTimestamp(createdRaw)
	rec.UpdatedAt = parseTimestamp(updatedRaw)
	return &rec, nil
}

func parseTimestamp(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t
	}
	return time.Time{}
}

func percentOf(position, duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	pct := position / duration * 100
	return math.Min(math.Max(pct, 0), 100)
}
