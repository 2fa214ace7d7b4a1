package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cvejlbo/avs-device-sdk/internal/audio"
)

// Environment variables that override file settings
const (
	EnvPipePath   = "KWD_PIPE_PATH"
	EnvKeyword    = "KWD_KEYWORD"
	EnvLogLevel   = "KWD_LOG_LEVEL"
	EnvHTTPPort   = "KWD_HTTP_PORT"
	EnvWebhookURL = "KWD_WEBHOOK_URL"
)

// Source types feeding the shared audio stream
const (
	SourceUDP  = "udp"
	SourceWAV  = "wav"
	SourceNone = "none"
)

// Config represents the complete service configuration
type Config struct {
	Detector DetectorConfig `yaml:"detector" json:"detector"`
	Audio    AudioConfig    `yaml:"audio" json:"audio"`
	Source   SourceConfig   `yaml:"source" json:"source"`
	Server   ServerConfig   `yaml:"server" json:"server"`
	HTTP     HTTPConfig     `yaml:"http" json:"http"`
	Webhook  WebhookConfig  `yaml:"webhook" json:"webhook"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// DetectorConfig contains keyword detector configuration
type DetectorConfig struct {
	PipePath             string `yaml:"pipe_path" json:"pipe_path"`
	Keyword              string `yaml:"keyword" json:"keyword"`
	AckSize              int    `yaml:"ack_size" json:"ack_size"`               // bytes
	ReadTimeoutMs        int    `yaml:"read_timeout_ms" json:"read_timeout_ms"` // milliseconds
	ScratchSamples       int    `yaml:"scratch_samples" json:"scratch_samples"` // 16-bit words
	NotifyInactiveOnStop bool   `yaml:"notify_inactive_on_stop" json:"notify_inactive_on_stop"`
}

// AudioConfig describes the shared audio stream
type AudioConfig struct {
	SampleRate    int     `yaml:"sample_rate" json:"sample_rate"`
	Channels      int     `yaml:"channels" json:"channels"`
	BitDepth      int     `yaml:"bit_depth" json:"bit_depth"`
	BufferSeconds float64 `yaml:"buffer_seconds" json:"buffer_seconds"` // seconds
	MaxReaders    int     `yaml:"max_readers" json:"max_readers"`
}

// SourceConfig selects the producer writing into the stream
type SourceConfig struct {
	Type    string `yaml:"type" json:"type"`
	WAVPath string `yaml:"wav_path" json:"wav_path"`
	Loop    bool   `yaml:"loop" json:"loop"`
}

// ServerConfig contains UDP ingest server configuration
type ServerConfig struct {
	UDPPort     int    `yaml:"udp_port" json:"udp_port"`
	BindAddress string `yaml:"bind_address" json:"bind_address"`
	BufferSize  int    `yaml:"buffer_size" json:"buffer_size"`
	QueueSize   int    `yaml:"queue_size" json:"queue_size"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port         int    `yaml:"port" json:"port"`
	Address      string `yaml:"address" json:"address"`
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	RecentEvents int    `yaml:"recent_events" json:"recent_events"`
}

// WebhookConfig contains webhook forwarding configuration
type WebhookConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	URL           string `yaml:"url" json:"url"`
	Secret        string `yaml:"secret" json:"-"`
	Timeout       int    `yaml:"timeout" json:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries" json:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent" json:"max_concurrent"`
	QueueSize     int    `yaml:"queue_size" json:"queue_size"`
	IncludeState  bool   `yaml:"include_state" json:"include_state"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// Default returns a configuration that validates as-is. Load starts from it,
// so a file only needs the settings it changes.
func Default() *Config {
	return &Config{
		Detector: DetectorConfig{
			PipePath:             "/home/pi/ndp-kwd",
			Keyword:              "alexa",
			AckSize:              6,
			ReadTimeoutMs:        1000,
			ScratchSamples:       384 * 100,
			NotifyInactiveOnStop: true,
		},
		Audio: AudioConfig{
			SampleRate:    16000,
			Channels:      1,
			BitDepth:      16,
			BufferSeconds: 15,
			MaxReaders:    4,
		},
		Source: SourceConfig{
			Type: SourceUDP,
		},
		Server: ServerConfig{
			UDPPort:     4444,
			BindAddress: "0.0.0.0",
			BufferSize:  65536,
			QueueSize:   1000,
		},
		HTTP: HTTPConfig{
			Port:         8080,
			Address:      "0.0.0.0",
			Enabled:      true,
			RecentEvents: 100,
		},
		Webhook: WebhookConfig{
			Timeout:       10,
			MaxRetries:    3,
			MaxConcurrent: 4,
			QueueSize:     100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file, applies KWD_* environment
// overrides and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// LoadEnvFiles loads variables from the .env files that exist. Variables
// already set in the environment are not overwritten, and earlier files win
// over later ones.
func LoadEnvFiles(files ...string) ([]string, error) {
	var loaded []string
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return loaded, fmt.Errorf("failed to load env file %s: %w", file, err)
		}
		loaded = append(loaded, file)
	}
	return loaded, nil
}

// ApplyEnv overrides selected settings from KWD_* environment variables
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv(EnvPipePath); ok {
		c.Detector.PipePath = v
	}
	if v, ok := os.LookupEnv(EnvKeyword); ok && v != "" {
		c.Detector.Keyword = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := os.LookupEnv(EnvHTTPPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be an integer, got '%s'", EnvHTTPPort, v)
		}
		c.HTTP.Port = port
	}
	if v, ok := os.LookupEnv(EnvWebhookURL); ok && v != "" {
		c.Webhook.URL = v
		c.Webhook.Enabled = true
	}
	return nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Detector.Validate(); err != nil {
		return fmt.Errorf("detector config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source config: %w", err)
	}

	if c.Source.Type == SourceUDP {
		if err := c.Server.Validate(); err != nil {
			return fmt.Errorf("server config: %w", err)
		}
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Webhook.Validate(); err != nil {
		return fmt.Errorf("webhook config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates detector configuration. An empty pipe_path is allowed
// and means the detector's built-in default.
func (d *DetectorConfig) Validate() error {
	if d.Keyword == "" {
		return fmt.Errorf("keyword cannot be empty")
	}

	if d.AckSize < 1 {
		return fmt.Errorf("ack_size must be at least 1 byte, got %d", d.AckSize)
	}

	if d.ReadTimeoutMs < 10 || d.ReadTimeoutMs > 60000 {
		return fmt.Errorf("read_timeout_ms must be between 10 and 60000, got %d", d.ReadTimeoutMs)
	}

	if d.ScratchSamples < 1 {
		return fmt.Errorf("scratch_samples must be at least 1, got %d", d.ScratchSamples)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	if a.BufferSeconds <= 0 {
		return fmt.Errorf("buffer_seconds must be positive, got %f", a.BufferSeconds)
	}

	if a.MaxReaders < 1 {
		return fmt.Errorf("max_readers must be at least 1, got %d", a.MaxReaders)
	}

	return nil
}

// Validate validates source configuration
func (s *SourceConfig) Validate() error {
	switch s.Type {
	case SourceUDP, SourceNone:
	case SourceWAV:
		if s.WAVPath == "" {
			return fmt.Errorf("wav_path cannot be empty for source type 'wav'")
		}
	default:
		return fmt.Errorf("type must be one of [udp, wav, none], got '%s'", s.Type)
	}
	return nil
}

// Validate validates UDP server configuration
func (s *ServerConfig) Validate() error {
	if s.UDPPort < 1 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", s.BufferSize)
	}

	if s.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", s.QueueSize)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	if h.RecentEvents < 0 {
		return fmt.Errorf("recent_events cannot be negative, got %d", h.RecentEvents)
	}

	return nil
}

// Validate validates webhook configuration
func (w *WebhookConfig) Validate() error {
	if !w.Enabled {
		return nil
	}

	if w.URL == "" {
		return fmt.Errorf("url cannot be empty when webhook is enabled")
	}

	if w.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", w.Timeout)
	}

	if w.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", w.MaxRetries)
	}

	if w.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", w.MaxConcurrent)
	}

	if w.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", w.QueueSize)
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

	// Output may be stdout, stderr or a file path
	return nil
}

// GetReadTimeoutDuration returns the stream read timeout as a time.Duration
func (d *DetectorConfig) GetReadTimeoutDuration() time.Duration {
	return time.Duration(d.ReadTimeoutMs) * time.Millisecond
}

// GetBufferDuration returns the stream capacity as a time.Duration
func (a *AudioConfig) GetBufferDuration() time.Duration {
	return time.Duration(a.BufferSeconds * float64(time.Second))
}

// Format returns the stream format described by the audio section
func (a *AudioConfig) Format() audio.Format {
	f := audio.DefaultFormat()
	f.SampleRateHz = a.SampleRate
	f.NumChannels = a.Channels
	f.SampleSizeInBits = a.BitDepth
	return f
}

// GetTimeoutDuration returns the webhook timeout as a time.Duration
func (w *WebhookConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(w.Timeout) * time.Second
}
