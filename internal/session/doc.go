// Package session binds one streaming connection to an audio buffer, an
// inactivity detector, and a transcription driver, and runs the session
// lifecycle: concurrent receive and emit activities, timeout enforcement,
// and ordered teardown with a best-effort close handshake.
package session
