package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/magicxor/faster-whisper-server/internal/audio"
	"github.com/magicxor/faster-whisper-server/internal/metrics"
)

// EngineConfig contains the inference backend connection parameters
type EngineConfig struct {
	Endpoint        string
	APIKey          string
	Timeout         time.Duration
	MaxConcurrent   int
	InferenceDevice string
	ComputeType     string
	SampleRate      int
}

// Engine talks to a remote inference backend over HTTP. One Engine is
// shared by all models; each loaded Model is a named handle bound to it.
// Inference requests are not retried: a failed request fails the caller.
type Engine struct {
	config     EngineConfig
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	semaphore  chan struct{} // Bounds in-flight inference requests

	// Statistics
	totalRequests  uint64
	failedRequests uint64

	mu sync.RWMutex
}

// EngineStats represents engine request statistics
type EngineStats struct {
	TotalRequests  uint64 `json:"total_requests"`
	FailedRequests uint64 `json:"failed_requests"`
	ActiveRequests int    `json:"active_requests"`
}

// NewEngine creates a new inference engine client
func NewEngine(config EngineConfig, logger *slog.Logger, m *metrics.Metrics) (*Engine, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Engine{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
		metrics:    m,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// Loader returns a model loader backed by this engine. Loading verifies the
// identifier against the backend so that unknown models are rejected before
// a session or request is accepted.
func (e *Engine) Loader() Loader {
	return func(name string) (Model, error) {
		if err := e.verifyModel(name); err != nil {
			return nil, err
		}
		return &remoteModel{engine: e, name: name}, nil
	}
}

// verifyModel asks the backend whether it can serve the given identifier
func (e *Engine) verifyModel(name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), e.config.Timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/v1/models/%s?device=%s&compute_type=%s",
		e.config.Endpoint, url.PathEscape(name),
		url.QueryEscape(e.config.InferenceDevice), url.QueryEscape(e.config.ComputeType))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create model lookup request: %w", err)
	}
	e.setHeaders(req)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("model lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("unknown model identifier")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("model lookup returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// GetStats returns current engine request statistics
func (e *Engine) GetStats() EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return EngineStats{
		TotalRequests:  e.totalRequests,
		FailedRequests: e.failedRequests,
		ActiveRequests: len(e.semaphore),
	}
}

// remoteModel is a Model handle naming one backend model
type remoteModel struct {
	engine *Engine
	name   string
}

// engineResponse is the backend's verbose transcription payload
type engineResponse struct {
	Language            string    `json:"language"`
	LanguageProbability float64   `json:"language_probability"`
	Duration            float64   `json:"duration"`
	Segments            []Segment `json:"segments"`
}

// Transcribe sends the audio span to the backend and returns its segments.
// The samples are WAV-encoded for transport; the call blocks until the
// backend responds or the context is done.
func (m *remoteModel) Transcribe(ctx context.Context, samples []float32, opts TranscribeOptions) ([]Segment, Info, error) {
	e := m.engine

	select {
	case e.semaphore <- struct{}{}:
		defer func() { <-e.semaphore }()
	case <-ctx.Done():
		return nil, Info{}, ctx.Err()
	}

	e.incrementTotalRequests()
	start := time.Now()

	segments, info, err := m.transcribe(ctx, samples, opts)
	if err != nil {
		e.incrementFailedRequests()
	}
	e.metrics.RecordInference(time.Since(start).Seconds(), err != nil)

	return segments, info, err
}

// transcribe performs the HTTP round trip to the backend
func (m *remoteModel) transcribe(ctx context.Context, samples []float32, opts TranscribeOptions) ([]Segment, Info, error) {
	e := m.engine

	body, contentType, err := m.createMultipartRequest(samples, opts)
	if err != nil {
		return nil, Info{}, fmt.Errorf("failed to create inference request: %w", err)
	}

	endpoint := e.config.Endpoint + "/v1/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, Info{}, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)
	e.setHeaders(req)

	start := time.Now()
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, Info{}, fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Info{}, fmt.Errorf("failed to read inference response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, Info{}, fmt.Errorf("inference returned HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed engineResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, Info{}, fmt.Errorf("failed to parse inference response: %w", err)
	}

	e.logger.Debug("Inference completed",
		slog.String("model", m.name),
		slog.Int("segments", len(parsed.Segments)),
		slog.Float64("audio_seconds", float64(len(samples))/float64(e.config.SampleRate)),
		slog.Duration("duration", time.Since(start)),
	)

	info := Info{
		Language:            parsed.Language,
		LanguageProbability: parsed.LanguageProbability,
		Duration:            parsed.Duration,
	}

	return parsed.Segments, info, nil
}

// createMultipartRequest builds the multipart/form-data inference request
func (m *remoteModel) createMultipartRequest(samples []float32, opts TranscribeOptions) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	wav, err := audio.EncodeWAV(samples, m.engine.config.SampleRate)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode audio: %w", err)
	}

	requestID := uuid.NewString()
	fileWriter, err := writer.CreateFormFile("file", requestID+".wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := fileWriter.Write(wav); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"model":                      m.name,
		"task":                       string(opts.Task),
		"temperature":                strconv.FormatFloat(opts.Temperature, 'f', 2, 64),
		"word_timestamps":            strconv.FormatBool(opts.WordTimestamps),
		"vad_filter":                 strconv.FormatBool(opts.VADFilter),
		"condition_on_previous_text": strconv.FormatBool(opts.ConditionOnPreviousText),
		"response_format":            "verbose_json",
		"request_id":                 requestID,
	}

	if opts.Language != "" {
		fields["language"] = opts.Language
	}
	if opts.InitialPrompt != "" {
		fields["initial_prompt"] = opts.InitialPrompt
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

func (e *Engine) setHeaders(req *http.Request) {
	if e.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "faster-whisper-server/1.0")
}

func (e *Engine) incrementTotalRequests() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.totalRequests++
}

func (e *Engine) incrementFailedRequests() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failedRequests++
}
