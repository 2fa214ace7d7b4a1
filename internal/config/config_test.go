package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default config should validate, got: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid configuration",
			mutate: func(c *Config) {},
		},
		{
			name:        "empty keyword",
			mutate:      func(c *Config) { c.Detector.Keyword = "" },
			expectError: true,
			errorMsg:    "keyword cannot be empty",
		},
		{
			name:   "empty pipe path falls back to default",
			mutate: func(c *Config) { c.Detector.PipePath = "" },
		},
		{
			name:        "read timeout too small",
			mutate:      func(c *Config) { c.Detector.ReadTimeoutMs = 1 },
			expectError: true,
			errorMsg:    "read_timeout_ms",
		},
		{
			name:        "zero ack size",
			mutate:      func(c *Config) { c.Detector.AckSize = 0 },
			expectError: true,
			errorMsg:    "ack_size",
		},
		{
			name:        "stereo audio",
			mutate:      func(c *Config) { c.Audio.Channels = 2 },
			expectError: true,
			errorMsg:    "channels must be 1",
		},
		{
			name:        "wav source without path",
			mutate:      func(c *Config) { c.Source.Type = SourceWAV },
			expectError: true,
			errorMsg:    "wav_path cannot be empty",
		},
		{
			name:        "unknown source",
			mutate:      func(c *Config) { c.Source.Type = "alsa" },
			expectError: true,
			errorMsg:    "type must be one of",
		},
		{
			name: "udp settings ignored for wav source",
			mutate: func(c *Config) {
				c.Source.Type = SourceWAV
				c.Source.WAVPath = "test.wav"
				c.Server.UDPPort = 0
			},
		},
		{
			name:        "invalid server port",
			mutate:      func(c *Config) { c.Server.UDPPort = 70000 },
			expectError: true,
			errorMsg:    "udp_port",
		},
		{
			name:        "webhook enabled without url",
			mutate:      func(c *Config) { c.Webhook.Enabled = true },
			expectError: true,
			errorMsg:    "url cannot be empty",
		},
		{
			name: "webhook disabled skips validation",
			mutate: func(c *Config) {
				c.Webhook.Enabled = false
				c.Webhook.MaxConcurrent = 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)

			err := config.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config file",
			configYAML: `
detector:
  pipe_path: "/tmp/ndp-kwd"
  keyword: "alexa"
  ack_size: 6
  read_timeout_ms: 1000
  scratch_samples: 38400
  notify_inactive_on_stop: true
audio:
  sample_rate: 16000
  channels: 1
  bit_depth: 16
  buffer_seconds: 15
  max_readers: 4
source:
  type: "udp"
server:
  udp_port: 4444
  bind_address: "0.0.0.0"
  buffer_size: 65536
  queue_size: 1000
http:
  enabled: true
  address: "127.0.0.1"
  port: 8080
logging:
  level: "info"
  format: "json"
  output: "stdout"
`,
		},
		{
			name: "partial file keeps defaults",
			configYAML: `
detector:
  pipe_path: "/tmp/other"
`,
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
server:
  udp_port: 4444
  buffer_size: invalid_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "invalid value",
			configYAML: `
logging:
  level: "trace"
`,
			expectError: true,
			errorMsg:    "level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if config.Detector.ScratchSamples != 38400 {
				t.Errorf("Expected scratch_samples 38400, got %d", config.Detector.ScratchSamples)
			}
			if !config.Detector.NotifyInactiveOnStop {
				t.Errorf("Expected notify_inactive_on_stop to default to true")
			}
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Fatalf("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvPipePath, "/run/kwd.fifo")
	t.Setenv(EnvKeyword, "computer")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvHTTPPort, "9090")
	t.Setenv(EnvWebhookURL, "http://localhost:9000/hook")

	config := Default()
	if err := config.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}

	if config.Detector.PipePath != "/run/kwd.fifo" {
		t.Errorf("Expected pipe path override, got %s", config.Detector.PipePath)
	}
	if config.Detector.Keyword != "computer" {
		t.Errorf("Expected keyword override, got %s", config.Detector.Keyword)
	}
	if config.Logging.Level != "debug" {
		t.Errorf("Expected log level override, got %s", config.Logging.Level)
	}
	if config.HTTP.Port != 9090 {
		t.Errorf("Expected HTTP port 9090, got %d", config.HTTP.Port)
	}
	if !config.Webhook.Enabled || config.Webhook.URL != "http://localhost:9000/hook" {
		t.Errorf("Expected webhook enabled with override url, got %+v", config.Webhook)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Overridden config should validate: %v", err)
	}
}

func TestApplyEnvInvalidPort(t *testing.T) {
	t.Setenv(EnvHTTPPort, "eighty")

	if err := Default().ApplyEnv(); err == nil {
		t.Error("Expected error for non-numeric port")
	}
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, ".env.local")
	second := filepath.Join(dir, ".env")

	if err := os.WriteFile(first, []byte("KWD_KEYWORD=jarvis\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := os.WriteFile(second, []byte("KWD_KEYWORD=alexa\nKWD_LOG_LEVEL=warn\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	// Register cleanup so godotenv's os.Setenv calls are undone
	t.Setenv(EnvKeyword, "")
	t.Setenv(EnvLogLevel, "")
	os.Unsetenv(EnvKeyword)
	os.Unsetenv(EnvLogLevel)

	loaded, err := LoadEnvFiles(first, filepath.Join(dir, "missing.env"), second)
	if err != nil {
		t.Fatalf("LoadEnvFiles failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Expected 2 files loaded, got %v", loaded)
	}

	if got := os.Getenv(EnvKeyword); got != "jarvis" {
		t.Errorf("Expected first file to win, got %s", got)
	}
	if got := os.Getenv(EnvLogLevel); got != "warn" {
		t.Errorf("Expected value from second file, got %s", got)
	}
}

func TestDurationHelpers(t *testing.T) {
	detector := DetectorConfig{ReadTimeoutMs: 1000}
	if detector.GetReadTimeoutDuration() != time.Second {
		t.Errorf("Expected 1 second, got %v", detector.GetReadTimeoutDuration())
	}

	audio := AudioConfig{BufferSeconds: 1.5}
	if audio.GetBufferDuration() != 1500*time.Millisecond {
		t.Errorf("Expected 1.5 seconds, got %v", audio.GetBufferDuration())
	}

	webhook := WebhookConfig{Timeout: 30}
	if webhook.GetTimeoutDuration() != 30*time.Second {
		t.Errorf("Expected 30 seconds, got %v", webhook.GetTimeoutDuration())
	}
}

func TestAudioFormat(t *testing.T) {
	audio := Default().Audio
	format := audio.Format()
	if !format.IsKeywordCompatible() {
		t.Errorf("Expected default audio to be keyword compatible, got %s", format)
	}
}

func TestServerConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config ServerConfig
		valid  bool
	}{
		{
			name:   "valid config",
			config: ServerConfig{UDPPort: 4444, BindAddress: "0.0.0.0", BufferSize: 65536, QueueSize: 1000},
			valid:  true,
		},
		{
			name:   "port too low",
			config: ServerConfig{UDPPort: 0, BindAddress: "0.0.0.0", BufferSize: 65536, QueueSize: 1000},
		},
		{
			name:   "empty bind address",
			config: ServerConfig{UDPPort: 4444, BindAddress: "", BufferSize: 65536, QueueSize: 1000},
		},
		{
			name:   "buffer too small",
			config: ServerConfig{UDPPort: 4444, BindAddress: "0.0.0.0", BufferSize: 512, QueueSize: 1000},
		},
		{
			name:   "no queue",
			config: ServerConfig{UDPPort: 4444, BindAddress: "0.0.0.0", BufferSize: 65536, QueueSize: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config but got error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Expected invalid config but got no error")
			}
		})
	}
}

func TestLoggingConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config LoggingConfig
		valid  bool
	}{
		{
			name:   "valid json to stdout",
			config: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
			valid:  true,
		},
		{
			name:   "valid text to file",
			config: LoggingConfig{Level: "debug", Format: "text", Output: "/var/log/kwd.log"},
			valid:  true,
		},
		{
			name:   "invalid log level",
			config: LoggingConfig{Level: "trace", Format: "json", Output: "stdout"},
		},
		{
			name:   "invalid format",
			config: LoggingConfig{Level: "info", Format: "xml", Output: "stdout"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config but got error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Expected invalid config but got no error")
			}
		})
	}
}
