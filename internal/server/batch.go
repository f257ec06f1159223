package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/magicxor/faster-whisper-server/internal/audio"
	"github.com/magicxor/faster-whisper-server/internal/config"
	"github.com/magicxor/faster-whisper-server/internal/registry"
	"github.com/magicxor/faster-whisper-server/internal/whisper"
)

// maxUploadBytes bounds the multipart form size of batch requests (64 MiB,
// about 35 minutes of 16 kHz PCM-16).
const maxUploadBytes = 64 << 20

// batchRequest is a parsed batch transcription or translation request
type batchRequest struct {
	samples        []float32
	model          string
	language       string
	prompt         string
	responseFormat ResponseFormat
	temperature    float64
	wordTimestamps bool
	stream         bool
}

// handleTranscriptions dispatches the transcription path: a websocket
// upgrade request starts a streaming session, a POST is a batch request.
func (s *Server) handleTranscriptions(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.handleStream(w, r)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.handleBatch(w, r, whisper.TaskTranscribe)
}

// handleTranslations implements the POST /v1/audio/translations endpoint
func (s *Server) handleTranslations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.handleBatch(w, r, whisper.TaskTranslate)
}

// handleBatch runs one whole-file inference request and writes the result
// in the requested format, either as a single body or as one server-sent
// event per segment when streaming was requested.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request, task whisper.Task) {
	req, err := s.parseBatchRequest(r, task)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	model, err := s.cache.GetOrLoad(req.model)
	if err != nil {
		s.logger.Error("Failed to load model",
			slog.String("model", req.model),
			slog.String("error", err.Error()))
		var loadErr *whisper.ModelLoadError
		if errors.As(err, &loadErr) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to load model", http.StatusInternalServerError)
		return
	}

	opts := whisper.TranscribeOptions{
		Task:           task,
		Language:       req.language,
		InitialPrompt:  req.prompt,
		Temperature:    req.temperature,
		WordTimestamps: req.wordTimestamps,
		VADFilter:      true,
	}

	segments, info, err := model.Transcribe(r.Context(), req.samples, opts)
	if err != nil {
		s.logger.Error("Batch inference failed",
			slog.String("model", req.model),
			slog.String("error", err.Error()))
		http.Error(w, "Transcription failed", http.StatusBadGateway)
		return
	}

	s.logger.Debug("Batch request completed",
		slog.String("model", req.model),
		slog.String("task", string(task)),
		slog.Int("segments", len(segments)),
		slog.Float64("audio_seconds", float64(len(req.samples))/float64(config.SamplesPerSecond)),
	)

	if req.stream {
		s.writeSegmentStream(w, segments, info, task, req.responseFormat)
		return
	}

	body, contentType, err := renderSegments(segments, info, task, req.responseFormat)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(body)
}

// writeSegmentStream writes one server-sent event per segment
func (s *Server) writeSegmentStream(w http.ResponseWriter, segments []whisper.Segment,
	info whisper.Info, task whisper.Task, format ResponseFormat) {

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	flusher, _ := w.(http.Flusher)

	for _, segment := range segments {
		event, err := renderSegmentSSE(segment, info, task, format)
		if err != nil {
			s.logger.Error("Failed to render segment event", slog.String("error", err.Error()))
			return
		}
		if _, err := w.Write(event); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// parseBatchRequest reads and validates the multipart form of a batch
// request. The uploaded file may be a 16 kHz mono PCM-16 WAV or raw PCM-16
// bytes at the same rate.
func (s *Server) parseBatchRequest(r *http.Request, task whisper.Task) (*batchRequest, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, fmt.Errorf("invalid multipart form: %w", err)
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("file field is required: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read uploaded file: %w", err)
	}

	samples, err := decodeUpload(data)
	if err != nil {
		return nil, err
	}

	format, err := ParseResponseFormat(r.FormValue("response_format"), s.config.Defaults.ResponseFormat)
	if err != nil {
		return nil, err
	}

	temperature := 0.0
	if v := r.FormValue("temperature"); v != "" {
		temperature, err = strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid temperature %q", v)
		}
	}

	stream := false
	if v := r.FormValue("stream"); v != "" {
		stream, err = strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid stream value %q", v)
		}
	}

	req := &batchRequest{
		samples:        samples,
		model:          s.resolveModelName(r.FormValue("model")),
		prompt:         r.FormValue("prompt"),
		responseFormat: format,
		temperature:    temperature,
		stream:         stream,
	}

	// Translation always targets English; language selects the input
	// language for transcription only.
	if task == whisper.TaskTranscribe {
		req.language = r.FormValue("language")
		if req.language == "" {
			req.language = s.config.Defaults.Language
		}

		granularities := r.Form["timestamp_granularities[]"]
		for _, g := range granularities {
			switch g {
			case "word":
				req.wordTimestamps = true
			case "segment":
			default:
				return nil, fmt.Errorf("invalid timestamp granularity %q", g)
			}
		}
	}

	return req, nil
}

// decodeUpload converts an uploaded audio payload to normalized samples
func decodeUpload(data []byte) ([]float32, error) {
	if audio.IsWAV(data) {
		samples, sampleRate, err := audio.DecodeWAV(data)
		if err != nil {
			return nil, fmt.Errorf("invalid WAV file: %w", err)
		}
		if sampleRate != config.SamplesPerSecond {
			return nil, fmt.Errorf("unsupported sample rate %d, expected %d", sampleRate, config.SamplesPerSecond)
		}
		return samples, nil
	}

	samples, err := audio.SamplesFromPCM16(data)
	if err != nil {
		return nil, fmt.Errorf("invalid audio payload: %w", err)
	}
	return samples, nil
}

// isNotFound reports whether a hub lookup failed because the model does
// not exist, as opposed to the hub being unreachable.
func isNotFound(err error) bool {
	return errors.Is(err, registry.ErrModelNotFound)
}
