package logs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"reel/internal/bridge"
)

// ErrUnavailable means no bridge answered at the configured address.
var ErrUnavailable = errors.New("log API unavailable")

// StreamClient fetches log events from a running bridge.
type StreamClient struct {
	base  *url.URL
	token string
	http  *http.Client
}

// StreamQuery selects events from /api/logs.
type StreamQuery struct {
	Since     uint64
	Limit     int
	Follow    bool
	Tail      bool
	Component string
	ItemID    string
}

// NewStreamClient returns a client for the bridge at bind, or nil when bind
// is empty.
func NewStreamClient(bind, token string) (*StreamClient, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, nil
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, fmt.Errorf("parse bridge address: %w", err)
	}
	base.Path, base.RawQuery, base.Fragment = "", "", ""
	return &StreamClient{
		base:  base,
		token: strings.TrimSpace(token),
		// Follow requests block server-side until events arrive.
		http: &http.Client{},
	}, nil
}

// Fetch runs one query.
func (c *StreamClient) Fetch(ctx context.Context, q StreamQuery) (bridge.LogStreamResponse, error) {
	var payload bridge.LogStreamResponse
	if c == nil {
		return payload, ErrUnavailable
	}

	values := url.Values{}
	if q.Since > 0 {
		values.Set("since", strconv.FormatUint(q.Since, 10))
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Follow {
		values.Set("follow", "1")
	}
	if q.Tail {
		values.Set("tail", "1")
	}
	if v := strings.TrimSpace(q.Component); v != "" {
		values.Set("component", v)
	}
	if v := strings.TrimSpace(q.ItemID); v != "" {
		values.Set("item", v)
	}

	endpoint := c.base.ResolveReference(&url.URL{Path: "/api/logs", RawQuery: values.Encode()})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return payload, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return payload, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return payload, errors.New("bridge rejected the token (check REEL_BRIDGE_TOKEN)")
	case resp.StatusCode >= 400:
		return payload, fmt.Errorf("bridge logs returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return payload, fmt.Errorf("decode log events: %w", err)
	}
	return payload, nil
}

// IsUnavailable reports whether err means the bridge could not be reached.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
