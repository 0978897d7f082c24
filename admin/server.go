// Package admin serves the HTTP side endpoints of a directory or peer
// process: health, Prometheus metrics and a topic listing.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	log "github.com/CefBoud/peerbus/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// TopicsFunc returns the topics listing served on /topics. prefix comes from
// the query string and may be empty.
type TopicsFunc func(prefix string) any

// Server is the admin HTTP server
type Server struct {
	name    string
	topics  TopicsFunc
	metrics http.Handler
	ready   func() bool
	srv     *http.Server
}

// NewServer creates an admin server. metrics and ready may be nil.
func NewServer(name string, topics TopicsFunc, metrics http.Handler, ready func() bool) *Server {
	return &Server{name: name, topics: topics, metrics: metrics, ready: ready}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if s.ready != nil && !s.ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "service": s.name})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": s.name})
	})

	r.Get("/topics", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.topics(r.URL.Query().Get("prefix")))
	})

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	return r
}

// Start listens on address and serves in the background
func (s *Server) Start(address string) (net.Addr, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	s.srv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("admin server stopped: %v", err)
		}
	}()
	log.Info("Admin endpoint listening on %s", listener.Addr())
	return listener.Addr(), nil
}

// Shutdown stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("failed to write admin response: %v", err)
	}
}
