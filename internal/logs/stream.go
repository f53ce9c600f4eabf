package logs

import (
	"context"
	"strings"
	"time"

	"reel/internal/logging"
)

// Filters narrows streamed events.
type Filters = logging.EventFilter

// Options controls Stream.
type Options struct {
	Lines   int
	Follow  bool
	Filters Filters
	// FollowWait bounds each file poll in follow mode.
	FollowWait time.Duration
}

// Stream emits events from the bridge when it answers, otherwise from the
// log file at path. It reports whether anything was emitted. Follow mode
// runs until ctx ends.
func Stream(ctx context.Context, client *StreamClient, path string, opts Options, onEvent func(logging.LogEvent)) (bool, error) {
	if opts.Lines <= 0 {
		opts.Lines = 200
	}
	printed, err := streamAPI(ctx, client, opts, onEvent)
	if err == nil || !IsUnavailable(err) || printed {
		return printed, err
	}
	if strings.TrimSpace(path) == "" {
		return false, ErrUnavailable
	}
	return streamFile(ctx, path, opts, onEvent)
}

func streamAPI(ctx context.Context, client *StreamClient, opts Options, onEvent func(logging.LogEvent)) (bool, error) {
	query := StreamQuery{
		Limit:     opts.Lines,
		Tail:      true,
		Component: opts.Filters.Component,
		ItemID:    opts.Filters.ItemID,
	}
	printed := false
	for {
		resp, err := client.Fetch(ctx, query)
		if err != nil {
			if ctx.Err() != nil {
				return printed, nil
			}
			return printed, err
		}
		for _, evt := range resp.Events {
			onEvent(evt)
			printed = true
		}
		if !opts.Follow {
			return printed, nil
		}
		query.Since = resp.Next
		query.Limit = 200
		query.Tail = false
		query.Follow = true
	}
}

func streamFile(ctx context.Context, path string, opts Options, onEvent func(logging.LogEvent)) (bool, error) {
	wait := opts.FollowWait
	if wait <= 0 {
		wait = time.Second
	}
	// The file holds every event, so read generously and filter locally.
	read := FileOptions{Offset: -1, Lines: opts.Lines}
	if !opts.Filters.IsZero() {
		read.Lines = opts.Lines * 20
	}

	printed := false
	first := true
	for {
		res, err := ReadFile(ctx, path, read)
		if err != nil {
			if ctx.Err() != nil {
				return printed, nil
			}
			return printed, err
		}
		matched := make([]logging.LogEvent, 0, len(res.Events))
		for _, evt := range res.Events {
			if opts.Filters.Match(evt) {
				matched = append(matched, evt)
			}
		}
		if first && len(matched) > opts.Lines {
			matched = matched[len(matched)-opts.Lines:]
		}
		for _, evt := range matched {
			onEvent(evt)
			printed = true
		}
		if !opts.Follow {
			return printed, nil
		}
		first = false
		read = FileOptions{Offset: res.Offset, Wait: wait}
		if ctx.Err() != nil {
			return printed, nil
		}
	}
}
