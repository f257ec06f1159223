package audio

import (
	"sync"
	"testing"
)

func TestBufferAppendAndDuration(t *testing.T) {
	buf := NewBuffer(16000)

	if buf.Duration() != 0 {
		t.Errorf("expected zero duration for empty buffer, got %f", buf.Duration())
	}

	// One second of audio
	if err := buf.Append(make([]float32, 16000)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if got := buf.Duration(); got != 1.0 {
		t.Errorf("expected duration 1.0, got %f", got)
	}
	if got := buf.Len(); got != 16000 {
		t.Errorf("expected 16000 samples, got %d", got)
	}

	if err := buf.Append(make([]float32, 8000)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if got := buf.Duration(); got != 1.5 {
		t.Errorf("expected duration 1.5, got %f", got)
	}
}

func TestBufferAfter(t *testing.T) {
	buf := NewBuffer(16000)

	samples := make([]float32, 16000)
	for i := range samples {
		samples[i] = float32(i)
	}
	if err := buf.Append(samples); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	tests := []struct {
		name      string
		seconds   float64
		wantLen   int
		wantFirst float32
	}{
		{"from start", 0, 16000, 0},
		{"from half second", 0.5, 8000, 8000},
		{"negative clamps to start", -1.0, 16000, 0},
		{"past end is empty", 2.0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buf.After(tt.seconds)
			if len(got) != tt.wantLen {
				t.Fatalf("expected %d samples, got %d", tt.wantLen, len(got))
			}
			if tt.wantLen > 0 && got[0] != tt.wantFirst {
				t.Errorf("expected first sample %f, got %f", tt.wantFirst, got[0])
			}
		})
	}
}

func TestBufferAfterReturnsCopy(t *testing.T) {
	buf := NewBuffer(16000)
	if err := buf.Append([]float32{1, 2, 3}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	view := buf.After(0)
	view[0] = 99

	again := buf.After(0)
	if again[0] != 1 {
		t.Errorf("After should return a copy, underlying data was modified")
	}
}

func TestBufferClose(t *testing.T) {
	buf := NewBuffer(16000)

	if buf.Closed() {
		t.Error("new buffer should not be closed")
	}

	buf.Close()
	if !buf.Closed() {
		t.Error("buffer should be closed after Close")
	}

	// Second close is a no-op
	buf.Close()

	if err := buf.Append([]float32{1}); err != ErrBufferClosed {
		t.Errorf("expected ErrBufferClosed on append after close, got %v", err)
	}

	// Reads still work after close
	if got := buf.After(0); len(got) != 0 {
		t.Errorf("expected empty read from empty closed buffer, got %d samples", len(got))
	}
}

func TestBufferConcurrentAccess(t *testing.T) {
	buf := NewBuffer(16000)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			if err := buf.Append(make([]float32, 160)); err != nil {
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			buf.After(0)
			buf.Duration()
		}
	}()

	wg.Wait()

	if got := buf.Len(); got != 16000 {
		t.Errorf("expected 16000 samples after concurrent appends, got %d", got)
	}
}
