package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// LogEvent represents a structured log line published to the streaming hub.
type LogEvent struct {
	Sequence      uint64            `json:"seq"`
	Timestamp     time.Time         `json:"ts"`
	Level         string            `json:"level"`
	Message       string            `json:"msg"`
	Component     string            `json:"component,omitempty"`
	ItemID        string            `json:"item_id,omitempty"`
	SessionID     string            `json:"session_id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

// StreamHub stores recent log events and wakes waiters when new events arrive.
type StreamHub struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	buffer   []LogEvent
	nextSeq  uint64
}

// NewStreamHub constructs a bounded in-memory log fan-out buffer.
func NewStreamHub(capacity int) *StreamHub {
	if capacity <= 0 {
		capacity = 512
	}
	h := &StreamHub{capacity: capacity}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Publish appends a new log event to the hub.
func (h *StreamHub) Publish(evt LogEvent) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.nextSeq++
	evt.Sequence = h.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	if len(h.buffer) == h.capacity {
		copy(h.buffer, h.buffer[1:])
		h.buffer = h.buffer[:h.capacity-1]
	}
	h.buffer = append(h.buffer, evt)
	h.cond.Broadcast()
	h.mu.Unlock()
}

// EventFilter narrows hub queries to one component and/or one feed item.
// Empty fields match everything.
type EventFilter struct {
	Component string
	ItemID    string
}

// Match reports whether evt passes the filter. Components compare
// case-insensitively.
func (f EventFilter) Match(evt LogEvent) bool {
	if c := strings.TrimSpace(f.Component); c != "" && !strings.EqualFold(c, evt.Component) {
		return false
	}
	if id := strings.TrimSpace(f.ItemID); id != "" && id != evt.ItemID {
		return false
	}
	return true
}

// IsZero reports whether the filter matches everything.
func (f EventFilter) IsZero() bool {
	return strings.TrimSpace(f.Component) == "" && strings.TrimSpace(f.ItemID) == ""
}

// Fetch returns matching events with sequence greater than since. When wait
// is true, Fetch blocks until at least one matching event is available or the
// context ends. The returned cursor covers skipped events too.
func (h *StreamHub) Fetch(ctx context.Context, since uint64, limit int, wait bool, filter EventFilter) ([]LogEvent, uint64, error) {
	if h == nil {
		return nil, since, nil
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}

	cancelWait := make(chan struct{})
	if wait && ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				h.cond.Broadcast()
			case <-cancelWait:
			}
		}()
	}
	defer close(cancelWait)

	h.mu.Lock()
	defer h.mu.Unlock()

	for {
		events, next := h.snapshotLocked(since, limit, filter)
		if len(events) > 0 || !wait {
			return events, next, contextError(ctx)
		}
		since = next
		if err := contextError(ctx); err != nil {
			return nil, next, err
		}
		h.cond.Wait()
		if err := contextError(ctx); err != nil {
			return nil, next, err
		}
	}
}

// Tail returns the most recent limit matching events without blocking.
func (h *StreamHub) Tail(limit int, filter EventFilter) ([]LogEvent, uint64) {
	if h == nil {
		return nil, 0
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	start := len(h.buffer)
	count := 0
	for i := len(h.buffer) - 1; i >= 0 && count < limit; i-- {
		if filter.Match(h.buffer[i]) {
			start = i
			count++
		}
	}
	out := make([]LogEvent, 0, count)
	for _, evt := range h.buffer[start:] {
		if filter.Match(evt) {
			out = append(out, evt)
		}
	}
	return out, h.nextSeq
}

// snapshotLocked collects up to limit matching events after since. The
// cursor stops at the last event examined so a full page resumes correctly.
func (h *StreamHub) snapshotLocked(since uint64, limit int, filter EventFilter) ([]LogEvent, uint64) {
	var out []LogEvent
	for _, evt := range h.buffer {
		if evt.Sequence <= since || !filter.Match(evt) {
			continue
		}
		if len(out) == limit {
			return out, out[len(out)-1].Sequence
		}
		out = append(out, evt)
	}
	return out, h.nextSeq
}

func contextError(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}

type streamHandler struct {
	next  slog.Handler
	hub   *StreamHub
	attrs []slog.Attr
}

func newStreamHandler(next slog.Handler, hub *StreamHub) slog.Handler {
	if hub == nil || next == nil {
		return next
	}
	return &streamHandler{next: next, hub: hub, attrs: nil}
}

func (h *streamHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *streamHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.hub != nil {
		h.hub.Publish(eventFromRecordWithAttrs(record, h.attrs))
	}
	return h.next.Handle(ctx, record.Clone())
}

func (h *streamHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	newAttrs = append(newAttrs, h.attrs...)
	newAttrs = append(newAttrs, attrs...)
	return &streamHandler{
		next:  h.next.WithAttrs(attrs),
		hub:   h.hub,
		attrs: newAttrs,
	}
}

func (h *streamHandler) WithGroup(name string) slog.Handler {
	return &streamHandler{
		next:  h.next.WithGroup(name),
		hub:   h.hub,
		attrs: h.attrs,
	}
}

func eventFromRecordWithAttrs(record slog.Record, preAttrs []slog.Attr) LogEvent {
	event := LogEvent{
		Timestamp: record.Time,
		Level:     strings.ToUpper(record.Level.String()),
		Message:   strings.TrimSpace(record.Message),
	}

	var kvs []kv
	flattenAttrs(&kvs, nil, preAttrs)
	record.Attrs(func(attr slog.Attr) bool {
		flattenAttr(&kvs, nil, attr)
		return true
	})

	for _, kv := range dedupeKVsByKey(kvs) {
		value := attrString(kv.value)
		switch kv.key {
		case FieldComponent:
			event.Component = value
		case FieldItemID:
			event.ItemID = value
		case FieldSessionID:
			event.SessionID = value
		case FieldCorrelationID:
			event.CorrelationID = value
		default:
			if event.Fields == nil {
				event.Fields = make(map[string]string)
			}
			event.Fields[kv.key] = value
		}
	}
	return event
}
