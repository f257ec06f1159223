package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SamplesPerSecond is the fixed sample rate of all audio handled by the
// service. Inbound chunks and uploads are 16 kHz mono PCM-16.
const SamplesPerSecond = 16000

// Config represents the complete service configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Whisper   WhisperConfig   `yaml:"whisper"`
	Engine    EngineConfig    `yaml:"engine"`
	Streaming StreamingConfig `yaml:"streaming"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
	Registry  RegistryConfig  `yaml:"registry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// WhisperConfig contains the default model and the model cache bound
type WhisperConfig struct {
	Model           string `yaml:"model"`
	InferenceDevice string `yaml:"inference_device"`
	ComputeType     string `yaml:"compute_type"`
	MaxModels       int    `yaml:"max_models"`
}

// EngineConfig contains the inference backend configuration
type EngineConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// StreamingConfig contains the websocket session timeout parameters
type StreamingConfig struct {
	MaxNoDataSeconds        float64 `yaml:"max_no_data_seconds"`
	InactivityWindowSeconds float64 `yaml:"inactivity_window_seconds"`
	MaxInactivitySeconds    float64 `yaml:"max_inactivity_seconds"`
}

// DefaultsConfig contains request parameter defaults
type DefaultsConfig struct {
	Language       string `yaml:"language"`
	ResponseFormat string `yaml:"response_format"`
}

// RegistryConfig contains the external model hub configuration
type RegistryConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout int    `yaml:"timeout"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Whisper.Validate(); err != nil {
		return fmt.Errorf("whisper config: %w", err)
	}

	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	if err := c.Streaming.Validate(); err != nil {
		return fmt.Errorf("streaming config: %w", err)
	}

	if err := c.Defaults.Validate(); err != nil {
		return fmt.Errorf("defaults config: %w", err)
	}

	if err := c.Registry.Validate(); err != nil {
		return fmt.Errorf("registry config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	return nil
}

// Validate validates whisper configuration
func (w *WhisperConfig) Validate() error {
	if w.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if w.MaxModels < 1 {
		return fmt.Errorf("max_models must be at least 1, got %d", w.MaxModels)
	}

	return nil
}

// Validate validates engine configuration
func (e *EngineConfig) Validate() error {
	if e.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if e.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", e.Timeout)
	}

	if e.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", e.MaxConcurrent)
	}

	return nil
}

// Validate validates streaming configuration
func (s *StreamingConfig) Validate() error {
	if s.MaxNoDataSeconds <= 0 {
		return fmt.Errorf("max_no_data_seconds must be positive, got %f", s.MaxNoDataSeconds)
	}

	if s.InactivityWindowSeconds <= 0 {
		return fmt.Errorf("inactivity_window_seconds must be positive, got %f", s.InactivityWindowSeconds)
	}

	if s.MaxInactivitySeconds <= 0 {
		return fmt.Errorf("max_inactivity_seconds must be positive, got %f", s.MaxInactivitySeconds)
	}

	if s.MaxInactivitySeconds > s.InactivityWindowSeconds {
		return fmt.Errorf("max_inactivity_seconds (%f) cannot exceed inactivity_window_seconds (%f)",
			s.MaxInactivitySeconds, s.InactivityWindowSeconds)
	}

	return nil
}

// Validate validates request defaults
func (d *DefaultsConfig) Validate() error {
	validFormats := map[string]bool{"text": true, "json": true, "verbose_json": true}
	if !validFormats[d.ResponseFormat] {
		return fmt.Errorf("response_format must be one of [text, json, verbose_json], got '%s'", d.ResponseFormat)
	}

	return nil
}

// Validate validates registry configuration
func (r *RegistryConfig) Validate() error {
	if r.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}

	if r.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", r.Timeout)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetMaxNoDataDuration returns the no-data timeout as a time.Duration
func (s *StreamingConfig) GetMaxNoDataDuration() time.Duration {
	return time.Duration(s.MaxNoDataSeconds * float64(time.Second))
}

// GetTimeoutDuration returns the engine request timeout as a time.Duration
func (e *EngineConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(e.Timeout) * time.Second
}

// GetTimeoutDuration returns the registry request timeout as a time.Duration
func (r *RegistryConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(r.Timeout) * time.Second
}
