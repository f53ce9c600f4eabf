package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"reel/internal/config"
	"reel/internal/engine"
	"reel/internal/logging"
)

const maxBodyBytes = 1 << 20

var errConnectionGone = errors.New("host connection closed")

// MediaPath is the bridge URL serving id's cached payload.
func MediaPath(id string) string {
	return "/media/" + url.PathEscape(id)
}

// Options configures a Server.
type Options struct {
	Bind   string
	Token  string
	Logs   *logging.StreamHub
	Logger *slog.Logger
}

// Server exposes an engine over HTTP and WebSocket.
type Server struct {
	engine   *engine.Engine
	bind     string
	token    string
	logs     *logging.StreamHub
	logger   *slog.Logger
	upgrader websocket.Upgrader
	handler  http.Handler

	mu       sync.Mutex
	clients  map[*client]struct{}
	listener net.Listener
	server   *http.Server
}

// New builds a server for eng.
func New(eng *engine.Engine, opts Options) *Server {
	s := &Server{
		engine:  eng,
		bind:    strings.TrimSpace(opts.Bind),
		token:   opts.Token,
		logs:    opts.Logs,
		logger:  logging.NewComponentLogger(opts.Logger, "bridge"),
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkLocalOrigin,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/items", s.handleItems)
	mux.HandleFunc("POST /api/visibility", s.handleVisibility)
	mux.HandleFunc("POST /api/gesture", s.handleGesture)
	mux.HandleFunc("POST /api/tap", s.handleTap)
	mux.HandleFunc("POST /api/more", s.handleMore)
	mux.HandleFunc("GET /api/cache", s.handleCacheStats)
	mux.HandleFunc("DELETE /api/cache", s.handleCacheClear)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("GET /media/{id}", s.handleMedia)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	s.handler = authMiddleware(s.token, mux)
	return s
}

// NewFromConfig builds a server bound to cfg's api_bind.
func NewFromConfig(cfg *config.Config, eng *engine.Engine, token string, hub *logging.StreamHub, logger *slog.Logger) *Server {
	return New(eng, Options{
		Bind:   cfg.Paths.APIBind,
		Token:  token,
		Logs:   hub,
		Logger: logger,
	})
}

// Handler returns the HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler { return s.handler }

// Start listens on the configured address and serves until ctx ends or Stop
// is called.
func (s *Server) Start(ctx context.Context) error {
	if s.bind == "" {
		return errors.New("bridge bind address is empty")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("bridge listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "bridge server error", "bridge_serve_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check that api_bind is free"),
			)
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("bridge listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down and disconnects every host.
func (s *Server) Stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
}

func (s *Server) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, StatusResponse{
		Snapshot: s.engine.Snapshot(),
		Clients:  s.clientCount(),
	})
}

func (s *Server) handleItems(w http.ResponseWriter, _ *http.Request) {
	seq := s.engine.Sequencer()
	s.writeJSON(w, http.StatusOK, ItemsResponse{
		Items:   s.engine.Items(),
		Cursor:  seq.Cursor(),
		HasMore: seq.HasMore(),
	})
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	var req VisibilityRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.engine.ObserveVisibility(req.Samples)
	s.writeJSON(w, http.StatusOK, map[string]string{"active_id": s.engine.ActiveItemID()})
}

func (s *Server) handleGesture(w http.ResponseWriter, r *http.Request) {
	var req GestureRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Kind) == "" {
		s.writeError(w, http.StatusBadRequest, "gesture kind is required")
		return
	}
	s.writeJSON(w, http.StatusOK, UnlockResponse{Unlocked: s.engine.RecordGesture(req.Kind)})
}

func (s *Server) handleTap(w http.ResponseWriter, r *http.Request) {
	var req TapRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ItemID) == "" {
		s.writeError(w, http.StatusBadRequest, "item_id is required")
		return
	}
	s.writeJSON(w, http.StatusOK, UnlockResponse{Unlocked: s.engine.HandleTap(req.ItemID)})
}

func (s *Server) handleMore(w http.ResponseWriter, r *http.Request) {
	added, err := s.engine.RequestMore(r.Context())
	resp := MoreResponse{Added: make([]string, 0, len(added))}
	for _, item := range added {
		resp.Added = append(resp.Added, item.ID)
	}
	if err != nil {
		resp.Kind = string(engine.KindOf(err))
		resp.Error = err.Error()
		s.writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	cache := s.engine.Cache()
	if cache == nil {
		s.writeError(w, http.StatusNotFound, "cache disabled")
		return
	}
	stats, err := cache.Stats()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, _ *http.Request) {
	if s.engine.Cache() == nil {
		s.writeError(w, http.StatusNotFound, "cache disabled")
		return
	}
	if err := s.engine.ClearCache(); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	handle, ok := s.engine.Cache().Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "media not cached")
		return
	}
	defer handle.Release()
	file, err := handle.Open()
	if err != nil {
		s.writeError(w, http.StatusGone, err.Error())
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, id, info.ModTime(), file)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		s.writeJSON(w, http.StatusOK, LogStreamResponse{})
		return
	}
	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = 200
	}
	follow := query.Get("follow") == "1" || strings.EqualFold(query.Get("follow"), "true")
	tail := query.Get("tail") == "1" || strings.EqualFold(query.Get("tail"), "true")
	filter := logging.EventFilter{
		Component: query.Get("component"),
		ItemID:    query.Get("item"),
	}

	var (
		events []logging.LogEvent
		next   uint64
	)
	if tail && since == 0 && !follow {
		events, next = s.logs.Tail(limit, filter)
	} else {
		var err error
		events, next, err = s.logs.Fetch(r.Context(), since, limit, follow, filter)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	if events == nil {
		events = []logging.LogEvent{}
	}
	s.writeJSON(w, http.StatusOK, LogStreamResponse{Events: events, Next: next})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// authMiddleware requires the bearer token when one is configured. Media and
// WebSocket requests may pass it as ?token= since browsers cannot set
// headers on them.
func authMiddleware(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provided := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if provided == "" || provided == r.Header.Get("Authorization") {
			provided = r.URL.Query().Get("token")
		}
		if provided != token {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkLocalOrigin accepts same-host and loopback origins.
func checkLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if strings.EqualFold(u.Host, r.Host) || host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
