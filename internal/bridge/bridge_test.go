package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"reel/internal/contentcache"
	"reel/internal/engine"
	"reel/internal/feed"
	"reel/internal/logging"
	"reel/internal/playback"
	"reel/internal/testsupport"
	"reel/internal/viewport"
)

type failingSource struct{}

func (failingSource) FetchPage(context.Context, string) (feed.Page, error) {
	return feed.Page{}, errors.New("backend down")
}

func newTestEngine(t *testing.T, cache *contentcache.Cache, source feed.PageSource) *engine.Engine {
	t.Helper()
	eng := engine.New(engine.Options{
		Source:    source,
		Cache:     cache,
		Scheduler: testsupport.NewManualScheduler(),
		Logger:    logging.NewNop(),
	})
	return eng
}

func loadedEngine(t *testing.T, cache *contentcache.Cache, ids ...string) *engine.Engine {
	t.Helper()
	source := feed.NewFileSource(feed.Page{Items: testsupport.Items("https://cdn.test", ids...)})
	eng := newTestEngine(t, cache, source)
	if _, err := eng.RequestMore(context.Background()); err != nil {
		t.Fatalf("load feed: %v", err)
	}
	return eng
}

func openCache(t *testing.T) *contentcache.Cache {
	t.Helper()
	cache, err := contentcache.Open(contentcache.Options{Dir: t.TempDir(), MaxBytes: 1 << 20}, logging.NewNop())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func readUntil(t *testing.T, conn *websocket.Conn, what string, match func(Message) bool) Message {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", what, err)
		}
		if match(msg) {
			return msg
		}
	}
}

func isCommand(op, itemID string) func(Message) bool {
	return func(m Message) bool {
		return m.Type == MessageCommand && m.Command != nil && m.Command.Op == op && m.Command.ItemID == itemID
	}
}

func TestHostSessionOverWebSocket(t *testing.T) {
	cache := openCache(t)
	if err := cache.Put(context.Background(), "v1", []byte("cached-bytes")); err != nil {
		t.Fatalf("put: %v", err)
	}
	eng := loadedEngine(t, cache, "v1", "v2", "v3")
	srv := New(eng, Options{Logger: logging.NewNop()})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(HostMessage{Type: HostMounted, ItemID: "v1", Duration: 12}); err != nil {
		t.Fatalf("write mounted: %v", err)
	}
	if err := conn.WriteJSON(HostMessage{Type: HostVisibility, Samples: []viewport.Sample{{ItemID: "v1", Ratio: 1}}}); err != nil {
		t.Fatalf("write visibility: %v", err)
	}

	load := readUntil(t, conn, "load command", isCommand(OpLoad, "v1"))
	if load.Command.URL != MediaPath("v1") || !load.Command.Cached {
		t.Fatalf("expected cached media url, got %+v", load.Command)
	}

	if err := conn.WriteJSON(HostMessage{Type: HostReady, ItemID: "v1"}); err != nil {
		t.Fatalf("write ready: %v", err)
	}
	readUntil(t, conn, "play command", isCommand(OpPlay, "v1"))
	if state, _ := eng.PlaybackState("v1"); state != playback.PlayingMuted {
		t.Fatalf("v1 = %s", state)
	}

	var unlocked UnlockResponse
	decodeBody(t, postJSON(t, ts.URL+"/api/gesture", GestureRequest{Kind: "tap"}), &unlocked)
	if !unlocked.Unlocked {
		t.Fatal("expected tap to unlock")
	}
	unmute := readUntil(t, conn, "unmute command", isCommand(OpMute, "v1"))
	if unmute.Command.Muted == nil || *unmute.Command.Muted {
		t.Fatalf("expected unmute, got %+v", unmute.Command)
	}

	resp, err := http.Get(ts.URL + MediaPath("v1"))
	if err != nil {
		t.Fatalf("get media: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "cached-bytes" {
		t.Fatalf("media response %d %q", resp.StatusCode, body)
	}

	resp, err = http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	var status StatusResponse
	decodeBody(t, resp, &status)
	if status.Snapshot.ActiveID != "v1" || !status.Snapshot.Unlocked || status.Clients != 1 {
		t.Fatalf("unexpected status %+v", status)
	}

	_ = conn.Close()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, mounted := eng.PlaybackState("v1"); !mounted {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("disconnect should unmount the host's items")
}

func TestWebSocketReportsMountErrors(t *testing.T) {
	eng := loadedEngine(t, nil, "v1")
	ts := httptest.NewServer(New(eng, Options{Logger: logging.NewNop()}).Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(HostMessage{Type: HostMounted, ItemID: "missing"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, conn, "mount error", func(m Message) bool { return m.Type == MessageError && m.Error != "" })
}

func TestAuthMiddleware(t *testing.T) {
	eng := loadedEngine(t, nil, "v1")
	ts := httptest.NewServer(New(eng, Options{Token: "secret", Logger: logging.NewNop()}).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with header token, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/items?token=secret")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with query token, got %d", resp.StatusCode)
	}
}

func TestMoreReportsFetchFailure(t *testing.T) {
	eng := newTestEngine(t, nil, failingSource{})
	ts := httptest.NewServer(New(eng, Options{Logger: logging.NewNop()}).Handler())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/more", struct{}{})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	var more MoreResponse
	decodeBody(t, resp, &more)
	if more.Kind != string(engine.KindFetchFailed) || more.Error == "" {
		t.Fatalf("unexpected response %+v", more)
	}
}

func TestVisibilityAndTapEndpoints(t *testing.T) {
	eng := loadedEngine(t, nil, "v1", "v2")
	ts := httptest.NewServer(New(eng, Options{Logger: logging.NewNop()}).Handler())
	defer ts.Close()

	var active map[string]string
	decodeBody(t, postJSON(t, ts.URL+"/api/visibility", VisibilityRequest{Samples: []viewport.Sample{{ItemID: "v2", Ratio: 0.8}}}), &active)
	if active["active_id"] != "v2" {
		t.Fatalf("active = %v", active)
	}

	resp := postJSON(t, ts.URL+"/api/tap", TapRequest{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing item, got %d", resp.StatusCode)
	}

	var unlocked UnlockResponse
	decodeBody(t, postJSON(t, ts.URL+"/api/tap", TapRequest{ItemID: "v2"}), &unlocked)
	if !unlocked.Unlocked || !eng.IsUnlocked() {
		t.Fatal("first tap should unlock")
	}

	var items ItemsResponse
	resp, err := http.Get(ts.URL + "/api/items")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	decodeBody(t, resp, &items)
	if len(items.Items) != 2 || items.HasMore {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestCacheEndpointsWhenDisabled(t *testing.T) {
	eng := loadedEngine(t, nil, "v1")
	ts := httptest.NewServer(New(eng, Options{Logger: logging.NewNop()}).Handler())
	defer ts.Close()

	for _, path := range []string{"/api/cache", MediaPath("v1")} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, resp.StatusCode)
		}
	}
}

func TestCacheClearEndpoint(t *testing.T) {
	cache := openCache(t)
	if err := cache.Put(context.Background(), "v1", []byte("x")); err != nil {
		t.Fatalf("put: %v", err)
	}
	eng := loadedEngine(t, cache, "v1")
	ts := httptest.NewServer(New(eng, Options{Logger: logging.NewNop()}).Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/cache", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if cache.Contains("v1") {
		t.Fatal("expected cache cleared")
	}
}

func TestLogsEndpointFilters(t *testing.T) {
	hub := logging.NewStreamHub(16)
	hub.Publish(logging.LogEvent{Message: "one", ItemID: "v1", Component: "engine"})
	hub.Publish(logging.LogEvent{Message: "two", ItemID: "v2", Component: "engine"})
	hub.Publish(logging.LogEvent{Message: "three", ItemID: "v1", Component: "prefetch"})

	srv := &Server{logs: hub, logger: logging.NewNop()}
	req := httptest.NewRequest(http.MethodGet, "/api/logs?tail=1&item=v1&component=engine", nil)
	w := httptest.NewRecorder()
	srv.handleLogs(w, req)

	var resp LogStreamResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Events) != 1 || resp.Events[0].Message != "one" || resp.Next != 3 {
		t.Fatalf("unexpected logs %+v", resp)
	}
}

func TestRemoteElementCommands(t *testing.T) {
	var sent []Command
	el := NewRemoteElement("v1", 10, func(cmd Command) bool {
		sent = append(sent, cmd)
		return true
	})
	if err := el.Load(playback.Source{ItemID: "v1", URL: "https://cdn.test/v1.mp4"}); err != nil {
		t.Fatalf("load: %v", err)
	}
	el.SetMuted(true)
	if err := el.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	el.UpdateTime(4, 0)
	if el.CurrentTime() != 4 || el.Duration() != 10 {
		t.Fatalf("position %v/%v", el.CurrentTime(), el.Duration())
	}
	el.Seek(0)
	el.Release()
	el.Release()
	if err := el.Play(); err == nil {
		t.Fatal("released element should refuse commands")
	}

	ops := make([]string, 0, len(sent))
	for _, cmd := range sent {
		ops = append(ops, cmd.Op)
	}
	want := []string{OpLoad, OpMute, OpPlay, OpSeek, OpRelease}
	if strings.Join(ops, ",") != strings.Join(want, ",") {
		t.Fatalf("ops = %v want %v", ops, want)
	}
	if sent[0].URL != "https://cdn.test/v1.mp4" || sent[0].Cached {
		t.Fatalf("unexpected load %+v", sent[0])
	}
}
