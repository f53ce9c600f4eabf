package engine

import (
	"context"
	"time"

	"reel/internal/logging"
	"reel/internal/services"
)

func (e *Engine) runProgress(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.progressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sampleProgress()
		}
	}
}

// sampleProgress queues a report for the active item if it is playing.
func (e *Engine) sampleProgress() {
	e.turn(func() {
		active := e.activator.Active()
		m, ok := e.mounted[active]
		if !ok || !m.ctrl.State().Playing() {
			return
		}
		current, duration := m.ctrl.Position()
		e.reports = append(e.reports, progressReport{itemID: active, current: current, duration: duration})
	})
}

// flushReports hands queued progress to the reporter outside the turn.
func (e *Engine) flushReports(reports []progressReport) {
	if e.progress == nil || len(reports) == 0 {
		return
	}
	ctx := services.WithSessionID(context.Background(), e.sessionID)
	for _, r := range reports {
		itemCtx := services.WithItemID(ctx, r.itemID)
		if err := e.progress.ReportProgress(itemCtx, r.itemID, r.current, r.duration); err != nil {
			logging.WarnWithContext(logging.WithContext(itemCtx, e.logger), "progress report failed", "progress_report_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the progress database"),
				logging.String(logging.FieldImpact, "resume position may be stale"),
			)
		}
	}
}
