// Package config provides configuration loading and validation for the transcription service.
// It handles YAML-based configuration with struct validation covering the HTTP server,
// the inference engine, streaming session timeouts, and the model registry.
package config
