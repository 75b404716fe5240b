package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ca-srg/slackvote/internal/config"
)

// RequestIDHeader carries the per-request correlation id
const RequestIDHeader = "X-Request-Id"

// EventsPath is where Slack delivers Events API callbacks
const EventsPath = "/slack/events"

// Server exposes the Slack events endpoint over HTTP
type Server struct {
	config       *config.ServerConfig
	events       http.Handler
	httpServer   *http.Server
	logger       *log.Logger
	shutdownOnce sync.Once
}

// New creates a server routing Slack callbacks to events
func New(cfg *config.ServerConfig, events http.Handler, logger *log.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil server config")
	}
	if events == nil {
		return nil, fmt.Errorf("nil events handler")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[server] ", log.LstdFlags)
	}
	s := &Server{
		config: cfg,
		events: events,
		logger: logger,
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

// Handler returns the routed handler including middleware
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST "+EventsPath, s.events)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return s.loggingMiddleware(otelhttp.NewHandler(mux, "slackvote.http",
		otelhttp.WithFilter(func(r *http.Request) bool { return r.URL.Path != "/healthz" }),
	))
}

// Run listens until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errChan := make(chan error, 1)
	go func() {
		s.logger.Printf("Listening for Slack events at http://%s%s", ln.Addr(), EventsPath)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errChan:
		return err
	}
}

func (s *Server) shutdown() error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.logger.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}
	})
	return shutdownErr
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok\n")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware tags every request with an id and logs method, path, status and latency
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if r.URL.Path == "/healthz" {
			return
		}
		retry := r.Header.Get("X-Slack-Retry-Num")
		s.logger.Printf("request_id=%s method=%s path=%s status=%d retry=%q duration=%v",
			requestID, r.Method, r.URL.Path, rec.status, retry, time.Since(start))
	})
}
