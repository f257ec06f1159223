package transcriber

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/magicxor/faster-whisper-server/internal/audio"
	"github.com/magicxor/faster-whisper-server/internal/whisper"
)

// defaultPollInterval is how often the driver checks the buffer for
// growth or closure between inference cycles.
const defaultPollInterval = 100 * time.Millisecond

// Update is one transcription state emitted to the client. Text and
// Segments cover the whole session so far: every finalized segment plus
// the current tentative tail. An Update is immutable once returned.
type Update struct {
	Text     string            `json:"text"`
	Segments []whisper.Segment `json:"segments"`
	Language string            `json:"language,omitempty"`
}

// Driver consumes a growing audio buffer incrementally and produces an
// ordered sequence of transcription updates. It is bound to one buffer and
// one model handle and is not reusable; a new session needs a new Driver.
//
// Each cycle transcribes the audio past the last finalized boundary. While
// the buffer is still open, every segment except the last is finalized and
// the boundary advances; the last segment stays tentative because later
// audio may still revise it. Once the buffer closes, the remaining audio is
// transcribed and everything is finalized. Audio appended while an
// inference call is in flight is picked up by the next cycle.
type Driver struct {
	buf    *audio.Buffer
	model  whisper.Model
	opts   whisper.TranscribeOptions
	logger *slog.Logger

	pollInterval time.Duration

	confirmed float64 // seconds of audio covered by finalized segments
	processed float64 // buffer duration consumed by the most recent cycle
	lastStart float64 // start time of the last emitted segment
	finalSegs []whisper.Segment
	language  string
	done      bool
}

// NewDriver creates a driver bound to the given buffer and model handle
func NewDriver(buf *audio.Buffer, model whisper.Model, opts whisper.TranscribeOptions, logger *slog.Logger) *Driver {
	return &Driver{
		buf:          buf,
		model:        model,
		opts:         opts,
		logger:       logger,
		pollInterval: defaultPollInterval,
	}
}

// Next blocks until the next transcription update is available and returns
// it. It returns io.EOF when the buffer has been closed and all remaining
// audio has been processed, and the context error if ctx is done first.
// Updates are returned with non-decreasing segment start times across the
// whole sequence.
func (d *Driver) Next(ctx context.Context) (*Update, error) {
	if d.done {
		return nil, io.EOF
	}

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		closed := d.buf.Closed()
		duration := d.buf.Duration()

		if closed && duration <= d.confirmed {
			d.done = true
			return nil, io.EOF
		}

		if duration > d.processed || (closed && duration > d.confirmed) {
			update, err := d.cycle(ctx, closed)
			if err != nil {
				return nil, err
			}
			if update != nil {
				return update, nil
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// cycle runs one inference pass over the audio past the finalized boundary.
// It returns nil (and no error) when the pass produced no segments.
func (d *Driver) cycle(ctx context.Context, closed bool) (*Update, error) {
	base := d.confirmed
	window := d.buf.After(base)
	snapshotEnd := base + float64(len(window))/float64(d.buf.SampleRate())
	d.processed = snapshotEnd

	if len(window) == 0 {
		if closed {
			d.confirmed = snapshotEnd
		}
		return nil, nil
	}

	segments, info, err := d.model.Transcribe(ctx, window, d.opts)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	if info.Language != "" {
		d.language = info.Language
	}

	// Segment times come back relative to the transcribed span. Shift them
	// to session time and clamp starts so the emitted sequence never goes
	// backwards, even when a tentative segment is re-inferred.
	for i := range segments {
		segments[i].Start += base
		segments[i].End += base
		for j := range segments[i].Words {
			segments[i].Words[j].Start += base
			segments[i].Words[j].End += base
		}
		if segments[i].Start < d.lastStart {
			segments[i].Start = d.lastStart
		}
		d.lastStart = segments[i].Start
	}

	var tentative []whisper.Segment
	switch {
	case closed:
		d.finalSegs = append(d.finalSegs, segments...)
		d.confirmed = snapshotEnd
	case len(segments) > 1:
		finalized := segments[:len(segments)-1]
		d.finalSegs = append(d.finalSegs, finalized...)
		// The engine may report an end time past the transcribed span;
		// the confirmed boundary must never outrun the buffered audio.
		d.confirmed = min(finalized[len(finalized)-1].End, snapshotEnd)
		tentative = segments[len(segments)-1:]
	default:
		tentative = segments
	}

	if len(segments) == 0 {
		return nil, nil
	}

	all := make([]whisper.Segment, 0, len(d.finalSegs)+len(tentative))
	all = append(all, d.finalSegs...)
	all = append(all, tentative...)

	d.logger.Debug("Transcription cycle completed",
		slog.Int("new_segments", len(segments)),
		slog.Int("tentative_segments", len(tentative)),
		slog.Float64("confirmed_seconds", d.confirmed),
		slog.Bool("buffer_closed", closed),
	)

	return &Update{
		Text:     segmentsText(all),
		Segments: all,
		Language: d.language,
	}, nil
}

// segmentsText joins the segment texts into one transcript string
func segmentsText(segments []whisper.Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		parts = append(parts, strings.TrimSpace(s.Text))
	}
	return strings.Join(parts, " ")
}
