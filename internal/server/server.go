// Package server provides a development backend that speaks the pipeline's HTTP and SSE
// contract by replaying a scripted transcript for every submitted job.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/ad-agent-console/internal/logger"
)

// DefaultInterval paces replayed lines when neither the config nor the transcript sets it.
const DefaultInterval = 300 * time.Millisecond

// keepAliveInterval is how often an idle log stream receives a comment line.
const keepAliveInterval = 15 * time.Second

// maxUploadSize bounds one uploaded dataset.
const maxUploadSize = 256 << 20

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	jobs       *jobStore
	transcript *Transcript
	interval   time.Duration
	uploadDir  string
	log        *logger.Logger

	// replays outlive the request that started them
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Addr       string
	Transcript *Transcript
	Interval   time.Duration
	UploadDir  string
	Logger     *logger.Logger
}

// New creates a new server instance
func New(cfg Config) (*Server, error) {
	transcript := cfg.Transcript
	if transcript == nil {
		transcript = DefaultTranscript()
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = transcript.interval()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	uploadDir := cfg.UploadDir
	if uploadDir == "" {
		uploadDir = "data"
	}
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		jobs:       newJobStore(),
		transcript: transcript,
		interval:   interval,
		uploadDir:  uploadDir,
		log:        logger.OrNop(cfg.Logger),
		ctx:        ctx,
		cancel:     cancel,
	}

	// Setup router
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("POST /run", s.handleRun)
	mux.HandleFunc("GET /logs/{id}", s.handleLogs)
	mux.HandleFunc("GET /results/{id}", s.handleResults)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.handler = s.withLogging(s.withCORS(mux))

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: log streams stay open for the whole replay.
	}

	return s, nil
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("server starting", "addr", s.httpServer.Addr, "interval", s.interval)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("shutting down server")
		return s.Shutdown(context.Background())
	})

	return g.Wait()
}

// Shutdown stops accepting requests, cancels running replays and waits for them.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.log.Info("server stopped")
	return nil
}

// Close cancels running replays without touching the listener.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status and keeps streaming working.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"remote", r.RemoteAddr,
			"request_id", r.Header.Get("X-Request-ID"),
			"duration", time.Since(start),
		)
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("error encoding JSON response", "error", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}
