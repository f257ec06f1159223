package vad

import (
	"fmt"
	"math"
)

// frameSize is the number of samples per analysis frame (32ms at 16 kHz)
const frameSize = 512

// Options holds the speech/silence boundary detection parameters
type Options struct {
	Threshold            float32 // RMS energy threshold (0.0 - 1.0)
	MinSilenceDurationMs int     // Gaps shorter than this are merged into speech
	SpeechPadMs          int     // Padding added around each speech interval
}

// DefaultOptions returns the detection parameters used by the streaming
// inactivity check: 500ms minimum silence gap, no padding.
func DefaultOptions() Options {
	return Options{
		Threshold:            0.02,
		MinSilenceDurationMs: 500,
		SpeechPadMs:          0,
	}
}

// SpeechInterval is a continuous span of detected speech, in sample indices
// relative to the analyzed window.
type SpeechInterval struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// SpeechTimestamps returns the ordered speech intervals found in the given
// window of normalized samples. Frames whose RMS energy exceeds the
// threshold are classified as speech; silence gaps shorter than the
// configured minimum are merged into the surrounding speech.
func SpeechTimestamps(samples []float32, sampleRate int, opts Options) []SpeechInterval {
	if len(samples) == 0 || sampleRate <= 0 {
		return nil
	}

	var intervals []SpeechInterval
	var current *SpeechInterval

	for start := 0; start+frameSize <= len(samples); start += frameSize {
		if frameEnergy(samples[start:start+frameSize]) >= opts.Threshold {
			if current == nil {
				current = &SpeechInterval{Start: start}
			}
			current.End = start + frameSize
		} else if current != nil {
			intervals = append(intervals, *current)
			current = nil
		}
	}
	if current != nil {
		intervals = append(intervals, *current)
	}

	intervals = mergeIntervals(intervals, opts.MinSilenceDurationMs*sampleRate/1000)

	if opts.SpeechPadMs > 0 {
		pad := opts.SpeechPadMs * sampleRate / 1000
		for i := range intervals {
			intervals[i].Start = max(0, intervals[i].Start-pad)
			intervals[i].End = min(len(samples), intervals[i].End+pad)
		}
	}

	return intervals
}

// frameEnergy computes the RMS energy of a frame of normalized samples
func frameEnergy(frame []float32) float32 {
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sum / float64(len(frame))))
}

// mergeIntervals joins intervals separated by less than minGap samples
func mergeIntervals(intervals []SpeechInterval, minGap int) []SpeechInterval {
	if len(intervals) < 2 {
		return intervals
	}

	merged := intervals[:1]
	for _, next := range intervals[1:] {
		last := &merged[len(merged)-1]
		if next.Start-last.End < minGap {
			last.End = next.End
		} else {
			merged = append(merged, next)
		}
	}

	return merged
}

// Verdict is the outcome of an inactivity evaluation
type Verdict int

const (
	// VerdictActive means the client is still talking
	VerdictActive Verdict = iota
	// VerdictNoSpeech means the trailing window contains no speech at all
	VerdictNoSpeech
	// VerdictTrailingSilence means speech was found but ended too long ago
	VerdictTrailingSilence
)

// String returns a human-readable verdict name
func (v Verdict) String() string {
	switch v {
	case VerdictActive:
		return "active"
	case VerdictNoSpeech:
		return "no_speech"
	case VerdictTrailingSilence:
		return "trailing_silence"
	default:
		return fmt.Sprintf("unknown(%d)", int(v))
	}
}

// Detector decides whether a streaming session has gone idle by inspecting
// the trailing window of accumulated audio. It is stateless: each
// evaluation looks only at the window it is given.
type Detector struct {
	windowSeconds        float64
	maxInactivitySeconds float64
	sampleRate           int
	opts                 Options
}

// NewDetector creates an inactivity detector. windowSeconds is the length
// of the trailing window it evaluates; maxInactivitySeconds is the longest
// trailing silence tolerated after the last speech interval.
func NewDetector(windowSeconds, maxInactivitySeconds float64, sampleRate int, opts Options) *Detector {
	return &Detector{
		windowSeconds:        windowSeconds,
		maxInactivitySeconds: maxInactivitySeconds,
		sampleRate:           sampleRate,
		opts:                 opts,
	}
}

// ShouldEvaluate reports whether enough audio has accumulated for the
// trailing window to be meaningful. The detector is never invoked before
// the buffer reaches the window length.
func (d *Detector) ShouldEvaluate(duration float64) bool {
	return duration >= d.windowSeconds
}

// WindowSeconds returns the trailing window length in seconds
func (d *Detector) WindowSeconds() float64 {
	return d.windowSeconds
}

// Evaluate applies the idle decision rule to a trailing window of samples.
// The check runs synchronously on every inbound chunk, so it operates on
// the window only, never the full buffer.
func (d *Detector) Evaluate(window []float32) Verdict {
	timestamps := SpeechTimestamps(window, d.sampleRate, d.opts)
	if len(timestamps) == 0 {
		return VerdictNoSpeech
	}

	last := timestamps[len(timestamps)-1]
	trailingSilence := d.windowSeconds - float64(last.End)/float64(d.sampleRate)
	if trailingSilence >= d.maxInactivitySeconds {
		return VerdictTrailingSilence
	}

	return VerdictActive
}
