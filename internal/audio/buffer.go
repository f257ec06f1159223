package audio

import (
	"errors"
	"sync"
)

// ErrBufferClosed is returned when audio is appended after Close.
// Hitting it means the session lifecycle was violated by the caller.
var ErrBufferClosed = errors.New("audio buffer is closed")

// Buffer is an append-only, time-indexed accumulator of decoded audio
// samples for a single streaming session. It is written to by the
// session's receive goroutine and read by the transcription driver;
// readers always observe a consistent prefix of the sample sequence.
type Buffer struct {
	sampleRate int

	mu      sync.RWMutex
	samples []float32
	closed  bool
}

// NewBuffer creates a new audio buffer for the given sample rate
func NewBuffer(sampleRate int) *Buffer {
	return &Buffer{
		sampleRate: sampleRate,
		samples:    make([]float32, 0, sampleRate*2), // Pre-allocate for 2 seconds
	}
}

// Append extends the sample sequence. It fails with ErrBufferClosed once
// the buffer has been closed.
func (b *Buffer) Append(samples []float32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBufferClosed
	}

	b.samples = append(b.samples, samples...)
	return nil
}

// After returns a copy of the samples whose position corresponds to
// time >= seconds. Negative timestamps are clamped to zero; timestamps
// at or past the current duration yield an empty window.
func (b *Buffer) After(seconds float64) []float32 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if seconds < 0 {
		seconds = 0
	}

	start := int(seconds * float64(b.sampleRate))
	if start >= len(b.samples) {
		return nil
	}

	window := make([]float32, len(b.samples)-start)
	copy(window, b.samples[start:])
	return window
}

// Close marks the buffer as final. Further appends fail with
// ErrBufferClosed. A second Close is a no-op.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// Closed reports whether the buffer has been closed
func (b *Buffer) Closed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Duration returns the accumulated audio duration in seconds
func (b *Buffer) Duration() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return float64(len(b.samples)) / float64(b.sampleRate)
}

// Len returns the current number of samples in the buffer
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.samples)
}

// SampleRate returns the sample rate this buffer was created with
func (b *Buffer) SampleRate() int {
	return b.sampleRate
}
