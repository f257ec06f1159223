// Package audio handles audio accumulation and format conversion.
// It implements the per-session append-only sample buffer with time-indexed
// suffix windowing, PCM-16 decoding of inbound chunks, and WAV encoding
// for the inference transport.
package audio
