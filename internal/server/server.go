// Package server exposes the agent's local HTTP API. UI surfaces consult it
// for gate verdicts, entity reads, and pending notifications; operators get
// health and metrics. It binds to loopback by default and carries no auth of
// its own.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"git.home.luguber.info/inful/portalwatch/internal/entity"
	"git.home.luguber.info/inful/portalwatch/internal/fetch"
	"git.home.luguber.info/inful/portalwatch/internal/foundation"
	"git.home.luguber.info/inful/portalwatch/internal/logfields"
	"git.home.luguber.info/inful/portalwatch/internal/navgate"
	"git.home.luguber.info/inful/portalwatch/internal/notify"
)

// Deps carries the collaborators the API surfaces.
type Deps struct {
	Gate    *navgate.Gate
	Fetcher *fetch.Fetcher
	Bus     *notify.Bus
	// MetricsHandler serves the Prometheus registry; nil disables the route.
	MetricsHandler http.Handler
	MetricsPath    string
}

// Server is the local HTTP API.
type Server struct {
	addr      string
	deps      Deps
	logger    *slog.Logger
	startedAt time.Time
	srv       *http.Server

	mu          sync.Mutex
	pending     []notify.Notification
	unsubscribe func()
}

// New creates a Server. The server immediately subscribes to the notification
// bus so nothing published before the first drain is lost.
func New(addr string, deps Deps) *Server {
	s := &Server{
		addr:      addr,
		deps:      deps,
		logger:    slog.Default(),
		startedAt: time.Now(),
	}
	if deps.Bus != nil {
		ch, unsubscribe := notify.Subscribe[notify.Notification](deps.Bus, 64)
		s.unsubscribe = unsubscribe
		go s.collect(ch)
	}
	return s
}

func (s *Server) collect(ch <-chan notify.Notification) {
	for n := range ch {
		s.mu.Lock()
		s.pending = append(s.pending, n)
		s.mu.Unlock()
	}
}

// ResetPending discards queued notifications without delivering them. Called
// on session swap so one user's undrained notifications never reach the next.
func (s *Server) ResetPending() {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}

// Handler builds the route table wrapped in logging and panic recovery.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/gate/evaluate", s.handleGateEvaluate)
	mux.HandleFunc("GET /v1/entities/{kind}", s.handleEntity)
	mux.HandleFunc("GET /v1/notifications", s.handleNotifications)
	if s.deps.MetricsHandler != nil {
		path := s.deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, s.deps.MetricsHandler)
	}
	return s.logging(s.recovery(mux))
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", s.addr, err)
	}

	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(ln)
	}()
	s.logger.Info("HTTP API listening", slog.String("addr", ln.Addr().String()))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startedAt).String(),
	})
}

func (s *Server) handleGateEvaluate(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.writeError(w, foundation.ValidationError("query parameter 'path' is required").Build())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Gate.Evaluate(path))
}

// entityResponse is the read-through accessor payload. Stale marks a cached
// payload served because the authoritative fetch failed on a transport error.
type entityResponse struct {
	Data      json.RawMessage `json:"data"`
	FromCache bool            `json:"fromCache"`
	Stale     bool            `json:"stale,omitempty"`
}

func (s *Server) handleEntity(w http.ResponseWriter, r *http.Request) {
	kind := entity.Kind(r.PathValue("kind"))
	switch kind {
	case entity.KindSession, entity.KindRequest, entity.KindCompany:
	default:
		s.writeError(w, foundation.NotFoundError("entity kind").
			WithContext("kind", string(kind)).Build())
		return
	}

	var cached *fetch.Delivery
	var lastErr error
	for res := range s.deps.Fetcher.Get(r.Context(), kind) {
		d, err := res.ToTuple()
		if err != nil {
			lastErr = err
			continue
		}
		if d.Source == fetch.SourceRemote {
			writeJSON(w, http.StatusOK, entityResponse{Data: d.Payload})
			return
		}
		cached = &d
	}

	if cached != nil && foundation.IsCategory(lastErr, foundation.CategoryTransport) {
		writeJSON(w, http.StatusOK, entityResponse{Data: cached.Payload, FromCache: true, Stale: true})
		return
	}
	if lastErr != nil {
		s.writeError(w, lastErr)
		return
	}
	s.writeError(w, foundation.InternalError("fetch produced no result").Build())
}

func (s *Server) handleNotifications(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	drained := s.pending
	s.pending = nil
	s.mu.Unlock()

	if drained == nil {
		drained = []notify.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": drained})
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.logger.Info("HTTP request",
			logfields.Method(r.Method),
			logfields.Path(r.URL.Path),
			logfields.Status(wrapped.statusCode),
			slog.Duration("duration", time.Since(start)))
	})
}

func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("HTTP handler panic",
					slog.Any("panic", rec),
					logfields.Method(r.Method),
					logfields.Path(r.URL.Path))
				s.writeError(w, foundation.InternalError("internal server error").Build())
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// writeError maps an error chain to an HTTP status and a structured body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := map[string]any{"category": string(foundation.CategoryInternal), "message": err.Error()}

	var classified *foundation.ClassifiedError
	if foundation.AsClassified(err, &classified) {
		switch classified.Category {
		case foundation.CategoryValidation:
			status = http.StatusBadRequest
		case foundation.CategoryAuth:
			status = http.StatusUnauthorized
		case foundation.CategoryNotFound:
			status = http.StatusNotFound
		case foundation.CategoryTransport:
			status = http.StatusBadGateway
		}
		body = map[string]any{
			"category": string(classified.Category),
			"message":  classified.Message,
		}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("Response encode failed", logfields.Error(err))
	}
}

// responseWriter captures status codes for logging.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
