// Package server exposes the HTTP API: OpenAI-compatible batch
// transcription and translation endpoints, the websocket streaming
// endpoint, model listing backed by the external hub, health, and
// Prometheus metrics.
package server
