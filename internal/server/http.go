package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/magicxor/faster-whisper-server/internal/config"
	"github.com/magicxor/faster-whisper-server/internal/metrics"
	"github.com/magicxor/faster-whisper-server/internal/registry"
	"github.com/magicxor/faster-whisper-server/internal/whisper"
)

// Server provides the HTTP and websocket API of the transcription service
type Server struct {
	server   *http.Server
	logger   *slog.Logger
	config   *config.Config
	cache    *whisper.ModelCache
	engine   *whisper.Engine
	registry *registry.Client
	metrics  *metrics.Metrics

	// Server state
	startTime time.Time
	mu        sync.RWMutex
}

// New creates the API server with all routes configured
func New(cfg *config.Config, logger *slog.Logger, cache *whisper.ModelCache,
	engine *whisper.Engine, reg *registry.Client, m *metrics.Metrics) *Server {

	s := &Server{
		logger:    logger,
		config:    cfg,
		cache:     cache,
		engine:    engine,
		registry:  reg,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	s.setupRoutes(mux)

	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port),
		Handler:     mux,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// setupRoutes configures HTTP API routes
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Health check endpoint
	mux.HandleFunc("/health", s.withMetrics("/health", s.handleHealth))

	// Model listing endpoints backed by the external hub
	mux.HandleFunc("/v1/models", s.withMetrics("/v1/models", s.handleModels))
	mux.HandleFunc("/v1/models/", s.withMetrics("/v1/models/{name}", s.handleModelDetail))

	// Audio endpoints. A websocket upgrade request on the transcription
	// path starts a streaming session; a plain POST is a batch request.
	mux.HandleFunc("/v1/audio/transcriptions", s.withMetrics("/v1/audio/transcriptions", s.handleTranscriptions))
	mux.HandleFunc("/v1/audio/translations", s.withMetrics("/v1/audio/translations", s.handleTranslations))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())
}

// withMetrics wraps an HTTP handler with metrics collection
func (s *Server) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		s.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			s.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code while
// still exposing the underlying writer for websocket hijacking.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the underlying writer when it supports streaming
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack forwards to the underlying writer so websocket upgrades work
// through the metrics wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server",
		slog.String("address", s.server.Addr),
	)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP API server...")

	return s.server.Shutdown(ctx)
}

// resolveModelName maps the OpenAI placeholder model name to the
// configured default. Some clients cannot override "whisper-1".
func (s *Server) resolveModelName(name string) string {
	if name == "" {
		return s.config.Whisper.Model
	}
	if name == "whisper-1" {
		s.logger.Info("whisper-1 is not a valid model name, using the configured default",
			slog.String("model", s.config.Whisper.Model))
		return s.config.Whisper.Model
	}
	return name
}

// handleHealth implements the /health endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(s.startTime)
	engineStats := s.engine.GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "faster-whisper-server",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"model_cache": map[string]interface{}{
				"loaded_models": s.cache.Len(),
				"max_models":    s.config.Whisper.MaxModels,
			},
			"engine": map[string]interface{}{
				"total_requests":  engineStats.TotalRequests,
				"failed_requests": engineStats.FailedRequests,
				"active_requests": engineStats.ActiveRequests,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// modelObject is the OpenAI-compatible model description
type modelObject struct {
	ID      string `json:"id"`
	Created int64  `json:"created"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

func toModelObject(m registry.Model) modelObject {
	return modelObject{
		ID:      m.ID,
		Created: m.CreatedAt.Unix(),
		Object:  "model",
		OwnedBy: m.Owner(),
	}
}

// handleModels implements the /v1/models listing endpoint
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	models, err := s.registry.ListModels(r.Context())
	if err != nil {
		s.logger.Error("Failed to list hub models", slog.String("error", err.Error()))
		http.Error(w, "Failed to query model hub", http.StatusBadGateway)
		return
	}

	objects := make([]modelObject, 0, len(models))
	for _, m := range models {
		objects = append(objects, toModelObject(m))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(objects)
}

// handleModelDetail implements the /v1/models/{name} endpoint. Model names
// contain a slash, so everything after the prefix is the identifier.
func (s *Server) handleModelDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := r.URL.Path[len("/v1/models/"):]
	if name == "" {
		http.Error(w, "Model name required", http.StatusBadRequest)
		return
	}

	model, err := s.registry.GetModel(r.Context(), name)
	if err != nil {
		if isNotFound(err) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		s.logger.Error("Failed to look up hub model",
			slog.String("model", name),
			slog.String("error", err.Error()))
		http.Error(w, "Failed to query model hub", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toModelObject(model))
}
