package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/magicxor/faster-whisper-server/internal/config"
	"github.com/magicxor/faster-whisper-server/internal/session"
	"github.com/magicxor/faster-whisper-server/internal/transcriber"
	"github.com/magicxor/faster-whisper-server/internal/whisper"
)

// closeHandshakeTimeout bounds the write of the closing frame
const closeHandshakeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleStream accepts a websocket connection and runs a streaming
// transcription session on it. The model is resolved before the upgrade
// so that an unknown identifier is rejected with a plain HTTP status
// instead of an accepted-then-dropped socket.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	modelName := s.resolveModelName(query.Get("model"))

	language := query.Get("language")
	if language == "" {
		language = s.config.Defaults.Language
	}

	format, err := ParseResponseFormat(query.Get("response_format"), s.config.Defaults.ResponseFormat)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	temperature := 0.0
	if v := query.Get("temperature"); v != "" {
		temperature, err = strconv.ParseFloat(v, 64)
		if err != nil {
			http.Error(w, "invalid temperature", http.StatusBadRequest)
			return
		}
	}

	model, err := s.cache.GetOrLoad(modelName)
	if err != nil {
		s.logger.Error("Failed to load model for streaming session",
			slog.String("model", modelName),
			slog.String("error", err.Error()))
		var loadErr *whisper.ModelLoadError
		if errors.As(err, &loadErr) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to load model", http.StatusInternalServerError)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	opts := whisper.TranscribeOptions{
		Task:                    whisper.TaskTranscribe,
		Language:                language,
		Temperature:             temperature,
		VADFilter:               true,
		ConditionOnPreviousText: false,
	}

	conn := newWSConn(ws, format)

	ctl := session.New(conn, model, opts, session.Config{
		MaxNoData:        s.config.Streaming.GetMaxNoDataDuration(),
		InactivityWindow: s.config.Streaming.InactivityWindowSeconds,
		MaxInactivity:    s.config.Streaming.MaxInactivitySeconds,
		SampleRate:       config.SamplesPerSecond,
	}, s.logger, s.metrics)

	ctl.Run(r.Context())
}

// wsConn adapts a gorilla websocket connection to the session transport.
// Reads happen from the session's receive activity and writes from its
// emit activity, one goroutine each.
type wsConn struct {
	ws     *websocket.Conn
	format ResponseFormat

	mu           sync.Mutex
	disconnected bool
}

func newWSConn(ws *websocket.Conn, format ResponseFormat) *wsConn {
	return &wsConn{ws: ws, format: format}
}

// ReadChunk waits for the next binary message. A read deadline enforces
// the no-data timeout, and a watcher nudges the deadline forward to now
// when ctx is cancelled so the blocked read returns promptly.
func (c *wsConn) ReadChunk(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if err := c.ws.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			c.ws.SetReadDeadline(time.Now())
		case <-watchDone:
		}
	}()

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, session.ErrNoDataTimeout
		}
		c.markDisconnected()
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return nil, session.ErrClientDisconnected
		}
		return nil, err
	}

	return data, nil
}

// SendUpdate writes one transcription update in the negotiated format
func (c *wsConn) SendUpdate(update *transcriber.Update) error {
	var err error
	switch c.format {
	case FormatText:
		err = c.ws.WriteMessage(websocket.TextMessage, []byte(update.Text))
	case FormatJSON:
		err = c.ws.WriteJSON(transcriptionJSON{Text: update.Text})
	case FormatVerboseJSON:
		err = c.writeVerbose(update)
	}

	if err != nil {
		c.markDisconnected()
	}
	return err
}

func (c *wsConn) writeVerbose(update *transcriber.Update) error {
	info := whisper.Info{Language: update.Language}
	if n := len(update.Segments); n > 0 {
		info.Duration = update.Segments[n-1].End
	}

	body, err := json.Marshal(verboseFromSegments(update.Segments, info, whisper.TaskTranscribe))
	if err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, body)
}

// Disconnected reports whether the peer is known to be gone
func (c *wsConn) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// CloseNormal sends a normal-closure frame to end the session gracefully
func (c *wsConn) CloseNormal() error {
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	return c.ws.WriteControl(websocket.CloseMessage, message, time.Now().Add(closeHandshakeTimeout))
}

func (c *wsConn) markDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}
