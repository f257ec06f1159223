// Package transcriber implements the incremental transcription driver:
// a pull-based update sequence produced by repeatedly inferring over a
// growing audio buffer until the buffer closes.
package transcriber
