// Package whisper defines the inference engine abstraction, the
// capacity-bounded model cache shared by all sessions, and the HTTP client
// for the remote inference backend.
package whisper
