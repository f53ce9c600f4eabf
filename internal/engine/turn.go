package engine

import (
	"slices"
	"time"

	"reel/internal/logging"
)

// turn runs fn under the engine lock, then delivers the events it raised.
// A turn started while another goroutine is delivering only queues its
// events; the delivering goroutine drains them in order.
func (e *Engine) turn(fn func()) {
	e.mu.Lock()
	fn()
	if e.draining {
		e.mu.Unlock()
		return
	}
	e.draining = true
	for len(e.outbox) > 0 || len(e.reports) > 0 {
		events, reports := e.outbox, e.reports
		e.outbox, e.reports = nil, nil
		e.mu.Unlock()
		e.deliver(events)
		e.flushReports(reports)
		e.mu.Lock()
	}
	e.draining = false
	e.mu.Unlock()
}

func (e *Engine) emitLocked(ev Event) {
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	e.outbox = append(e.outbox, ev)
}

func (e *Engine) deliver(events []Event) {
	if len(events) == 0 {
		return
	}
	e.subMu.Lock()
	ids := make([]int, 0, len(e.subs))
	for id := range e.subs {
		ids = append(ids, id)
	}
	listeners := make([]Listener, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		listeners = append(listeners, e.subs[id])
	}
	e.subMu.Unlock()

	for _, ev := range events {
		for _, fn := range listeners {
			e.safeCall(fn, ev)
		}
	}
}

func (e *Engine) safeCall(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(e.logger, "event listener panicked", "listener_panic",
				logging.String("event", string(ev.Type)),
				logging.Any("panic", r),
				logging.String(logging.FieldErrorHint, "fix the subscriber; the engine keeps running"),
			)
		}
	}()
	fn(ev)
}

// turnScheduler runs controller timers as engine turns.
type turnScheduler struct {
	e *Engine
}

func (s turnScheduler) AfterFunc(d time.Duration, fn func()) func() bool {
	return s.e.sched.AfterFunc(d, func() { s.e.turn(fn) })
}
