// Package health provides the optional HTTP endpoints for icmpforge:
// liveness, loop statistics, the response catalog and Prometheus metrics.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/postalsys/icmpforge/internal/logging"
	"github.com/postalsys/icmpforge/internal/recovery"
	"github.com/postalsys/icmpforge/internal/registry"
	"github.com/postalsys/icmpforge/internal/sysinfo"
)

// StatsProvider provides responder statistics.
type StatsProvider interface {
	// IsRunning returns true if the capture loop is running.
	IsRunning() bool

	// Stats returns responder statistics.
	Stats() Stats
}

// Stats contains responder health statistics.
type Stats struct {
	StartedAt   time.Time
	Cursor      int
	Next        registry.ResponseSpec
	Requests    uint64
	Replies     uint64
	Discarded   uint64
	ParseErrors uint64
	SendErrors  uint64
	Panics      uint64
}

// ServerConfig contains health server configuration.
type ServerConfig struct {
	// Address to listen on (e.g., "127.0.0.1:9115")
	Address string

	// ReadTimeout for HTTP reads
	ReadTimeout time.Duration

	// WriteTimeout for HTTP writes
	WriteTimeout time.Duration

	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer

	// Logger receives serve failures. Nil discards them.
	Logger *slog.Logger
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "127.0.0.1:9115",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server is an HTTP server for health check endpoints.
type Server struct {
	cfg      ServerConfig
	provider StatsProvider
	logger   *slog.Logger
	server   *http.Server
	listener net.Listener
	running  atomic.Bool
}

// NewServer creates a new health check server.
func NewServer(cfg ServerConfig, provider StatsProvider) *Server {
	s := &Server{
		cfg:      cfg,
		provider: provider,
		logger:   cfg.Logger,
	}
	if s.logger == nil {
		s.logger = logging.NopLogger()
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/catalog", s.handleCatalog)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Start starts the health check server.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.listener = ln
	s.running.Store(true)

	go func() {
		defer recovery.RecoverWithLog(s.logger, "health-server")
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.running.Store(false)
			s.logger.Error("health server stopped",
				logging.KeyAddress, ln.Addr().String(),
				logging.KeyError, err)
		}
	}()

	return nil
}

// Stop stops the health check server.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Address returns the server's listen address.
func (s *Server) Address() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// handleHealth returns 200 if the server is responding.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK\n"))
}

// handleHealthz returns 200 with JSON stats while the loop runs, 503 otherwise.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.provider == nil || !s.provider.IsRunning() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "unavailable",
			"running": false,
		})
		return
	}

	stats := s.provider.Stats()
	response := map[string]interface{}{
		"status":        "healthy",
		"running":       true,
		"cursor":        stats.Cursor,
		"next_response": stats.Next.Label,
		"next_type":     int(stats.Next.Type),
		"next_code":     stats.Next.Code,
		"requests":      stats.Requests,
		"replies":       stats.Replies,
		"discarded":     stats.Discarded,
		"parse_errors":  stats.ParseErrors,
		"send_errors":   stats.SendErrors,
		"panics":        stats.Panics,
		"summary":       humanize.Comma(int64(stats.Replies)) + " replies to " + humanize.Comma(int64(stats.Requests)) + " requests",
		"host":          sysinfo.Collect(),
		"process_start": sysinfo.StartTime().UTC().Format(time.RFC3339),
		"uptime":        sysinfo.Uptime().Round(time.Second).String(),
	}
	if !stats.StartedAt.IsZero() {
		response["started_at"] = stats.StartedAt.UTC().Format(time.RFC3339)
		response["started"] = humanize.Time(stats.StartedAt)
	}

	writeJSON(w, http.StatusOK, response)
}

// handleReady returns 200 when the capture loop is running, 503 otherwise.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	if s.provider == nil || !s.provider.IsRunning() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("NOT READY\n"))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("READY\n"))
}

// catalogEntry is the JSON form of one response type.
type catalogEntry struct {
	Index int    `json:"index"`
	Type  int    `json:"type"`
	Code  uint8  `json:"code"`
	Label string `json:"label"`
	Next  bool   `json:"next,omitempty"`
}

// handleCatalog lists the response catalog in cycling order, marking the
// entry the next Echo Request will receive.
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	next := -1
	if s.provider != nil && s.provider.IsRunning() {
		next = s.provider.Stats().Cursor
	}

	entries := make([]catalogEntry, 0, registry.Len)
	for i, spec := range registry.Catalog() {
		entries = append(entries, catalogEntry{
			Index: i,
			Type:  int(spec.Type),
			Code:  spec.Code,
			Label: spec.Label,
			Next:  i == next,
		})
	}

	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
