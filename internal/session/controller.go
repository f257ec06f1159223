package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/magicxor/faster-whisper-server/internal/audio"
	"github.com/magicxor/faster-whisper-server/internal/metrics"
	"github.com/magicxor/faster-whisper-server/internal/transcriber"
	"github.com/magicxor/faster-whisper-server/internal/vad"
	"github.com/magicxor/faster-whisper-server/internal/whisper"
)

// Expected termination signals returned by Conn implementations.
var (
	// ErrNoDataTimeout means no inbound chunk arrived within the read timeout
	ErrNoDataTimeout = errors.New("no data received within timeout")
	// ErrClientDisconnected means the client ended or dropped the connection
	ErrClientDisconnected = errors.New("client disconnected")
)

// State is the lifecycle state of a session
type State int

const (
	StateAccepting State = iota
	StateStreaming
	StateClosing
	StateClosed
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StateAccepting:
		return "accepting"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseReason records why a session ended
type CloseReason string

const (
	ReasonNoDataTimeout  CloseReason = "no_data_timeout"
	ReasonSilenceTimeout CloseReason = "silence_timeout"
	ReasonDisconnect     CloseReason = "client_disconnect"
	ReasonStreamEnd      CloseReason = "stream_end"
	ReasonError          CloseReason = "error"
)

// Conn is the transport a session talks through. Implementations map
// transport-level failures onto ErrNoDataTimeout and ErrClientDisconnected
// so the controller can tell expected terminations from real errors.
type Conn interface {
	// ReadChunk blocks for the next inbound audio chunk. It must return
	// ErrNoDataTimeout if no chunk arrives within timeout, and observe ctx
	// cancellation promptly.
	ReadChunk(ctx context.Context, timeout time.Duration) ([]byte, error)
	// SendUpdate delivers one transcription update in the negotiated shape
	SendUpdate(update *transcriber.Update) error
	// Disconnected reports whether the connection is already gone
	Disconnected() bool
	// CloseNormal performs the graceful close handshake
	CloseNormal() error
}

// Config contains the per-session timeout parameters
type Config struct {
	MaxNoData        time.Duration
	InactivityWindow float64 // seconds
	MaxInactivity    float64 // seconds
	SampleRate       int
}

// Controller owns one streaming session: one audio buffer, one
// transcription driver, and the two concurrent activities that feed them.
// It enforces the timeouts, propagates cancellation between the
// activities, closes the buffer exactly once, and attempts a best-effort
// close handshake on the way out.
type Controller struct {
	id       string
	conn     Conn
	buf      *audio.Buffer
	driver   *transcriber.Driver
	detector *vad.Detector
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics

	bufClose sync.Once

	mu     sync.Mutex
	state  State
	reason CloseReason
}

// New creates a session controller for an accepted connection. The model
// handle must already be resolved; model rejection happens before a
// session exists.
func New(conn Conn, model whisper.Model, opts whisper.TranscribeOptions, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Controller {
	id := uuid.NewString()
	buf := audio.NewBuffer(cfg.SampleRate)

	return &Controller{
		id:       id,
		conn:     conn,
		buf:      buf,
		driver:   transcriber.NewDriver(buf, model, opts, logger),
		detector: vad.NewDetector(cfg.InactivityWindow, cfg.MaxInactivity, cfg.SampleRate, vad.DefaultOptions()),
		cfg:      cfg,
		logger:   logger.With(slog.String("session_id", id)),
		metrics:  m,
		state:    StateAccepting,
	}
}

// ID returns the session identifier
func (c *Controller) ID() string {
	return c.id
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reason returns the recorded close reason, if any
func (c *Controller) Reason() CloseReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Run drives the session to completion. The receive activity and the
// transcribe-and-emit activity run concurrently. When receiving stops it
// closes the buffer so the emit activity can drain the tail; when emission
// stops it cancels a blocked read. Run returns only after both have
// stopped, the buffer is closed, and the close handshake has been
// attempted. Expected terminations (timeouts, disconnects) are not errors.
func (c *Controller) Run(ctx context.Context) {
	start := time.Now()
	c.setState(StateStreaming)
	c.metrics.RecordSessionCreated()
	c.logger.Info("Session started")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The receive activity closes the buffer when it exits, which lets the
	// driver finish the remaining audio and end the emit activity with a
	// final update. Cancellation flows the other way: when emission stops,
	// a blocked read is released.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.receiveLoop(ctx)
	}()

	c.emitLoop(ctx)

	cancel()
	wg.Wait()

	c.setState(StateClosing)
	c.closeBuffer()

	if !c.conn.Disconnected() {
		c.logger.Info("Initiating close handshake")
		if err := c.conn.CloseNormal(); err != nil {
			// Never escalated past teardown.
			c.logger.Error("Error during close handshake", slog.String("error", err.Error()))
		}
	}

	c.setState(StateClosed)
	reason := c.Reason()
	c.metrics.RecordSessionClosed(string(reason), time.Since(start).Seconds())

	c.logger.Info("Session closed",
		slog.String("reason", string(reason)),
		slog.Duration("duration", time.Since(start)),
		slog.Float64("audio_seconds", c.buf.Duration()),
	)
}

// receiveLoop is the receive activity: it waits for inbound chunks,
// appends them to the buffer, and evaluates the inactivity detector on the
// trailing window after every append. It closes the buffer on the way out
// so the driver can finish the tail and terminate.
func (c *Controller) receiveLoop(ctx context.Context) {
	defer c.closeBuffer()

	for {
		chunk, err := c.conn.ReadChunk(ctx, c.cfg.MaxNoData)
		switch {
		case err == nil:
		case errors.Is(err, ErrNoDataTimeout):
			c.setReason(ReasonNoDataTimeout)
			c.logger.Info("No data received, closing the session",
				slog.Duration("timeout", c.cfg.MaxNoData))
			return
		case errors.Is(err, ErrClientDisconnected):
			c.setReason(ReasonDisconnect)
			c.logger.Info("Client disconnected")
			return
		case ctx.Err() != nil:
			return
		default:
			c.setReason(ReasonError)
			c.logger.Error("Receive failed", slog.String("error", err.Error()))
			return
		}

		samples, err := audio.SamplesFromPCM16(chunk)
		if err != nil {
			c.setReason(ReasonError)
			c.logger.Error("Failed to decode audio chunk", slog.String("error", err.Error()))
			return
		}

		if err := c.buf.Append(samples); err != nil {
			// Sibling already tore the session down.
			return
		}
		c.metrics.RecordChunkReceived(float64(len(samples)) / float64(c.cfg.SampleRate))

		c.logger.Debug("Received audio chunk",
			slog.Int("bytes", len(chunk)),
			slog.Float64("buffer_seconds", c.buf.Duration()),
		)

		if duration := c.buf.Duration(); c.detector.ShouldEvaluate(duration) {
			window := c.buf.After(duration - c.detector.WindowSeconds())
			switch c.detector.Evaluate(window) {
			case vad.VerdictNoSpeech:
				c.setReason(ReasonSilenceTimeout)
				c.logger.Info("No speech detected in the trailing window",
					slog.Float64("window_seconds", c.detector.WindowSeconds()))
				return
			case vad.VerdictTrailingSilence:
				c.setReason(ReasonSilenceTimeout)
				c.logger.Info("Not enough speech in the trailing window",
					slog.Float64("window_seconds", c.detector.WindowSeconds()))
				return
			}
		}
	}
}

// emitLoop is the transcribe-and-emit activity: it drains the driver's
// update sequence and sends each update to the client. A disconnected
// client stops emission without error.
func (c *Controller) emitLoop(ctx context.Context) {
	for {
		update, err := c.driver.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			c.setReason(ReasonStreamEnd)
			return
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return
		default:
			c.setReason(ReasonError)
			c.logger.Error("Transcription failed", slog.String("error", err.Error()))
			return
		}

		if c.conn.Disconnected() {
			return
		}

		c.logger.Debug("Sending transcription update",
			slog.Int("segments", len(update.Segments)))

		if err := c.conn.SendUpdate(update); err != nil {
			// A failed write means the peer is gone
			c.setReason(ReasonDisconnect)
			c.logger.Info("Stopped emitting updates", slog.String("error", err.Error()))
			return
		}
	}
}

// closeBuffer closes the audio buffer exactly once across all paths
func (c *Controller) closeBuffer() {
	c.bufClose.Do(c.buf.Close)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// setReason records the first terminal reason; later ones are ignored
func (c *Controller) setReason(r CloseReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reason == "" {
		c.reason = r
	}
}
