package transcriber

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/magicxor/faster-whisper-server/internal/audio"
	"github.com/magicxor/faster-whisper-server/internal/whisper"
)

const testSampleRate = 16000

// scriptedModel returns canned segments from a swappable function
type scriptedModel struct {
	transcribe func(samples []float32) ([]whisper.Segment, whisper.Info, error)
}

func (m *scriptedModel) Transcribe(ctx context.Context, samples []float32, opts whisper.TranscribeOptions) ([]whisper.Segment, whisper.Info, error) {
	return m.transcribe(samples)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seconds(n float64) []float32 {
	return make([]float32, int(n*testSampleRate))
}

func TestDriverClosedBuffer(t *testing.T) {
	buf := audio.NewBuffer(testSampleRate)
	if err := buf.Append(seconds(1.0)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	buf.Close()

	model := &scriptedModel{
		transcribe: func(samples []float32) ([]whisper.Segment, whisper.Info, error) {
			return []whisper.Segment{
				{ID: 0, Start: 0, End: 1.0, Text: "hello world"},
			}, whisper.Info{Language: "en"}, nil
		},
	}

	d := NewDriver(buf, model, whisper.TranscribeOptions{}, testLogger())

	update, err := d.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if update.Text != "hello world" {
		t.Errorf("expected text %q, got %q", "hello world", update.Text)
	}
	if len(update.Segments) != 1 {
		t.Errorf("expected 1 segment, got %d", len(update.Segments))
	}
	if update.Language != "en" {
		t.Errorf("expected language en, got %q", update.Language)
	}

	if _, err := d.Next(context.Background()); err != io.EOF {
		t.Errorf("expected io.EOF after all audio processed, got %v", err)
	}
}

func TestDriverIncrementalFinalization(t *testing.T) {
	buf := audio.NewBuffer(testSampleRate)
	if err := buf.Append(seconds(2.0)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	calls := 0
	model := &scriptedModel{
		transcribe: func(samples []float32) ([]whisper.Segment, whisper.Info, error) {
			calls++
			switch calls {
			case 1:
				// Two segments: the first gets finalized, the second stays
				// tentative while the buffer is open.
				return []whisper.Segment{
					{ID: 0, Start: 0, End: 1.0, Text: "first"},
					{ID: 1, Start: 1.0, End: 2.0, Text: "second"},
				}, whisper.Info{Language: "en"}, nil
			default:
				// Re-inference of the unconfirmed tail plus the new audio
				return []whisper.Segment{
					{ID: 0, Start: 0, End: 2.0, Text: "second revised"},
				}, whisper.Info{Language: "en"}, nil
			}
		},
	}

	d := NewDriver(buf, model, whisper.TranscribeOptions{}, testLogger())

	first, err := d.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if first.Text != "first second" {
		t.Errorf("expected %q, got %q", "first second", first.Text)
	}

	// More audio arrives, then the stream ends
	if err := buf.Append(seconds(1.0)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	buf.Close()

	second, err := d.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if second.Text != "first second revised" {
		t.Errorf("expected %q, got %q", "first second revised", second.Text)
	}
	if len(second.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(second.Segments))
	}

	// The tail was re-inferred relative to the confirmed boundary, so its
	// times must come back shifted into session time.
	tail := second.Segments[1]
	if tail.Start != 1.0 || tail.End != 3.0 {
		t.Errorf("expected tail span [1.0, 3.0], got [%f, %f]", tail.Start, tail.End)
	}

	if _, err := d.Next(context.Background()); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestDriverMonotonicStartTimes(t *testing.T) {
	buf := audio.NewBuffer(testSampleRate)
	if err := buf.Append(seconds(2.0)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	calls := 0
	model := &scriptedModel{
		transcribe: func(samples []float32) ([]whisper.Segment, whisper.Info, error) {
			calls++
			if calls == 1 {
				return []whisper.Segment{
					{Start: 0, End: 1.5, Text: "alpha"},
					{Start: 1.5, End: 2.0, Text: "beta"},
				}, whisper.Info{}, nil
			}
			// The tail re-inference claims an earlier start than the last
			// emitted segment; the driver must clamp it.
			return []whisper.Segment{
				{Start: -0.5, End: 1.0, Text: "beta revised"},
			}, whisper.Info{}, nil
		},
	}

	d := NewDriver(buf, model, whisper.TranscribeOptions{}, testLogger())

	first, err := d.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}

	buf.Close()

	second, err := d.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}

	var all []whisper.Segment
	all = append(all, first.Segments...)
	all = append(all, second.Segments...)

	lastStart := -1.0
	for i, s := range all {
		if s.Start < lastStart {
			t.Errorf("segment %d start %f went backwards from %f", i, s.Start, lastStart)
		}
		lastStart = s.Start
	}
}

func TestDriverConfirmedBoundaryClamped(t *testing.T) {
	buf := audio.NewBuffer(testSampleRate)
	if err := buf.Append(seconds(2.0)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	var tailSamples int
	calls := 0
	model := &scriptedModel{
		transcribe: func(samples []float32) ([]whisper.Segment, whisper.Info, error) {
			calls++
			if calls == 1 {
				// The finalized segment claims to end past the 2 seconds of
				// audio that were actually transcribed.
				return []whisper.Segment{
					{Start: 0, End: 3.5, Text: "overshoot"},
					{Start: 3.5, End: 4.0, Text: "tail"},
				}, whisper.Info{}, nil
			}
			tailSamples = len(samples)
			return []whisper.Segment{
				{Start: 0, End: 1.0, Text: "tail revised"},
			}, whisper.Info{}, nil
		},
	}

	d := NewDriver(buf, model, whisper.TranscribeOptions{}, testLogger())

	if _, err := d.Next(context.Background()); err != nil {
		t.Fatalf("Next failed: %v", err)
	}

	// More audio arrives after the overshooting report, then the stream
	// ends. Without clamping the boundary to the transcribed span this
	// region would be silently skipped.
	if err := buf.Append(seconds(1.0)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	buf.Close()

	update, err := d.Next(context.Background())
	if err != nil {
		t.Fatalf("expected a final update for the remaining audio, got %v", err)
	}
	if len(update.Segments) == 0 {
		t.Fatal("expected the remaining audio to produce segments")
	}

	if calls != 2 {
		t.Fatalf("expected a second inference over the remaining audio, got %d calls", calls)
	}
	if tailSamples != testSampleRate {
		t.Errorf("expected the second cycle to cover 1 second of audio, got %d samples", tailSamples)
	}

	if _, err := d.Next(context.Background()); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestDriverWaitsForAudio(t *testing.T) {
	buf := audio.NewBuffer(testSampleRate)

	model := &scriptedModel{
		transcribe: func(samples []float32) ([]whisper.Segment, whisper.Info, error) {
			return []whisper.Segment{
				{Start: 0, End: 0.5, Text: "late"},
			}, whisper.Info{}, nil
		},
	}

	d := NewDriver(buf, model, whisper.TranscribeOptions{}, testLogger())

	// Feed audio after a delay; Next must block until it arrives
	go func() {
		time.Sleep(50 * time.Millisecond)
		buf.Append(seconds(0.5))
		buf.Close()
	}()

	update, err := d.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if update.Text != "late" {
		t.Errorf("expected %q, got %q", "late", update.Text)
	}
}

func TestDriverContextCancellation(t *testing.T) {
	buf := audio.NewBuffer(testSampleRate)

	model := &scriptedModel{
		transcribe: func(samples []float32) ([]whisper.Segment, whisper.Info, error) {
			return nil, whisper.Info{}, nil
		},
	}

	d := NewDriver(buf, model, whisper.TranscribeOptions{}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if _, err := d.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDriverInferenceError(t *testing.T) {
	buf := audio.NewBuffer(testSampleRate)
	if err := buf.Append(seconds(1.0)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	buf.Close()

	inferErr := errors.New("backend unavailable")
	model := &scriptedModel{
		transcribe: func(samples []float32) ([]whisper.Segment, whisper.Info, error) {
			return nil, whisper.Info{}, inferErr
		},
	}

	d := NewDriver(buf, model, whisper.TranscribeOptions{}, testLogger())

	if _, err := d.Next(context.Background()); !errors.Is(err, inferErr) {
		t.Errorf("expected wrapped inference error, got %v", err)
	}
}

func TestDriverEmptyClosedBuffer(t *testing.T) {
	buf := audio.NewBuffer(testSampleRate)
	buf.Close()

	model := &scriptedModel{
		transcribe: func(samples []float32) ([]whisper.Segment, whisper.Info, error) {
			t.Error("model should not be invoked for an empty buffer")
			return nil, whisper.Info{}, nil
		},
	}

	d := NewDriver(buf, model, whisper.TranscribeOptions{}, testLogger())

	if _, err := d.Next(context.Background()); err != io.EOF {
		t.Errorf("expected io.EOF for empty closed buffer, got %v", err)
	}
}
