// Package server streams tail output over HTTP, as server-sent events or
// WebSocket messages. Every request runs its own tail and tears it down when
// the client goes away.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/praekelt/sshtail/internal/config"
	"github.com/praekelt/sshtail/internal/logutil"
	"github.com/praekelt/sshtail/internal/sshtail"
)

type Server struct {
	hosts  config.HostMap
	dialer sshtail.Dialer
	opts   []sshtail.Option
	logger *log.Logger
	router chi.Router
}

// New builds the HTTP surface for hosts. opts are passed to every tail.
func New(hosts config.HostMap, dialer sshtail.Dialer, logger *log.Logger, opts ...sshtail.Option) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		hosts:  hosts,
		dialer: dialer,
		opts:   append([]sshtail.Option{sshtail.WithLogger(logger)}, opts...),
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestLogger(&chimw.DefaultLogFormatter{Logger: logger, NoColor: true}))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/healthz", s.healthCheck)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/tail", s.streamSSE)
		r.Get("/tail/ws", s.streamWS)
	})
	s.router = r
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down,
// giving open streams up to ten seconds to notice.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.router,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("[server] listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Printf("[server] shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	s.logger.Printf("[server] stopped")
	return nil
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"hosts":   len(s.hosts),
		"targets": s.hosts.Files(),
	})
}

// selectHosts narrows the host map to the ?host= query values, if any.
func (s *Server) selectHosts(r *http.Request) (config.HostMap, error) {
	wanted := r.URL.Query()["host"]
	if len(wanted) == 0 {
		return s.hosts, nil
	}
	selected := make(config.HostMap)
	for _, h := range wanted {
		paths, ok := s.hosts[h]
		if !ok {
			return nil, fmt.Errorf("unknown host: %s", logutil.SanitizeForLog(h))
		}
		selected[h] = paths
	}
	return selected, nil
}

// startTail validates the request and starts a tail bound to its context.
func (s *Server) startTail(w http.ResponseWriter, r *http.Request) (*sshtail.Stream, bool) {
	hosts, err := s.selectHosts(r)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	if len(hosts) == 0 {
		writeError(w, http.StatusServiceUnavailable, "No hosts configured")
		return nil, false
	}

	stream, err := s.tail(r.Context(), hosts, r.URL.Query().Get("idle") == "true")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Failed to start tail: %v", err))
		return nil, false
	}
	return stream, true
}

func (s *Server) tail(ctx context.Context, hosts config.HostMap, reportIdle bool) (*sshtail.Stream, error) {
	tailer := sshtail.NewMultiTailer(hosts, s.dialer, s.opts...)
	return tailer.Tail(ctx, reportIdle)
}
