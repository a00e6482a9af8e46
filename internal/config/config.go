package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	HTTP     HTTPConfig     `yaml:"http"`
	Audio    AudioConfig    `yaml:"audio"`
	VAD      VADConfig      `yaml:"vad"`
	Wakeword WakewordConfig `yaml:"wakeword"`
	Engine   EngineConfig   `yaml:"engine"`
	Notify   NotifyConfig   `yaml:"notify"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains UDP ingest server configuration
type ServerConfig struct {
	UDPPort     int    `yaml:"udp_port"`
	BindAddress string `yaml:"bind_address"`
	BufferSize  int    `yaml:"buffer_size"`
	Workers     int    `yaml:"workers"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// AudioConfig contains audio buffering parameters
type AudioConfig struct {
	SampleRate       int     `yaml:"sample_rate"`
	RingDuration     float64 `yaml:"ring_duration"`     // seconds of audio kept per session
	SnapshotDuration float64 `yaml:"snapshot_duration"` // seconds attached to wakeword events
	DrainInterval    float64 `yaml:"drain_interval"`    // seconds between ring drains
	SessionTimeout   int     `yaml:"session_timeout"`   // seconds of inactivity before cleanup
}

// VADConfig contains voice activity detection configuration
type VADConfig struct {
	ModelPath      string  `yaml:"model_path"`
	Threshold      float32 `yaml:"threshold"`
	WindowSize     int     `yaml:"window_size"` // samples
	HangoverFrames int     `yaml:"hangover_frames"`
}

// WakewordConfig contains wakeword detection configuration.
// The three model paths form the melspectrogram, embedding and
// classifier stages. EmbeddingFrames and EmbeddingDim are only used
// as a fallback when the classifier dimensions cannot be discovered
// from the model itself.
type WakewordConfig struct {
	Enabled             bool    `yaml:"enabled"`
	MelspecModelPath    string  `yaml:"melspec_model"`
	EmbeddingModelPath  string  `yaml:"embedding_model"`
	ClassifierModelPath string  `yaml:"classifier_model"`
	Threshold           float32 `yaml:"threshold"`
	ChunkSize           int     `yaml:"chunk_size"` // samples
	EmbeddingFrames     int     `yaml:"embedding_frames"`
	EmbeddingDim        int     `yaml:"embedding_dim"`
}

// EngineConfig contains ONNX Runtime configuration
type EngineConfig struct {
	SharedLibraryPath string `yaml:"shared_library_path"`
}

// NotifyConfig contains event webhook delivery configuration
type NotifyConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
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

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Wakeword.Validate(); err != nil {
		return fmt.Errorf("wakeword config: %w", err)
	}

	if err := c.Notify.Validate(); err != nil {
		return fmt.Errorf("notify config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
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

	if s.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", s.Workers)
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

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz for the detection models, got %d", a.SampleRate)
	}

	if a.RingDuration <= 0 {
		return fmt.Errorf("ring_duration must be positive, got %f", a.RingDuration)
	}

	if a.SnapshotDuration <= 0 || a.SnapshotDuration > a.RingDuration {
		return fmt.Errorf("snapshot_duration must be positive and not exceed ring_duration (%f), got %f",
			a.RingDuration, a.SnapshotDuration)
	}

	if a.DrainInterval <= 0 {
		return fmt.Errorf("drain_interval must be positive, got %f", a.DrainInterval)
	}

	if a.SessionTimeout < 1 {
		return fmt.Errorf("session_timeout must be at least 1 second, got %d", a.SessionTimeout)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.ModelPath == "" {
		return fmt.Errorf("model_path cannot be empty")
	}

	if v.Threshold <= 0 || v.Threshold >= 1 {
		return fmt.Errorf("threshold must be between 0 and 1 (exclusive), got %f", v.Threshold)
	}

	if v.WindowSize < 256 || v.WindowSize > 2048 {
		return fmt.Errorf("window_size must be between 256 and 2048 samples, got %d", v.WindowSize)
	}

	if v.HangoverFrames < 0 {
		return fmt.Errorf("hangover_frames cannot be negative, got %d", v.HangoverFrames)
	}

	return nil
}

// Validate validates wakeword configuration
func (w *WakewordConfig) Validate() error {
	if !w.Enabled {
		return nil
	}

	if w.MelspecModelPath == "" {
		return fmt.Errorf("melspec_model cannot be empty when wakeword is enabled")
	}

	if w.EmbeddingModelPath == "" {
		return fmt.Errorf("embedding_model cannot be empty when wakeword is enabled")
	}

	if w.ClassifierModelPath == "" {
		return fmt.Errorf("classifier_model cannot be empty when wakeword is enabled")
	}

	if w.Threshold <= 0 || w.Threshold >= 1 {
		return fmt.Errorf("threshold must be between 0 and 1 (exclusive), got %f", w.Threshold)
	}

	if w.ChunkSize < 0 {
		return fmt.Errorf("chunk_size cannot be negative, got %d", w.ChunkSize)
	}

	if w.EmbeddingFrames < 0 {
		return fmt.Errorf("embedding_frames cannot be negative, got %d", w.EmbeddingFrames)
	}

	if w.EmbeddingDim < 0 {
		return fmt.Errorf("embedding_dim cannot be negative, got %d", w.EmbeddingDim)
	}

	return nil
}

// Validate validates notify configuration
func (n *NotifyConfig) Validate() error {
	if n.Endpoint == "" {
		// Webhook delivery is optional, events still reach WebSocket subscribers
		return nil
	}

	if n.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", n.Timeout)
	}

	if n.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", n.MaxRetries)
	}

	if n.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", n.MaxConcurrent)
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

// GetSessionTimeoutDuration returns the session timeout as a time.Duration
func (a *AudioConfig) GetSessionTimeoutDuration() time.Duration {
	return time.Duration(a.SessionTimeout) * time.Second
}

// GetRingDuration returns the ring capacity as a time.Duration
func (a *AudioConfig) GetRingDuration() time.Duration {
	return time.Duration(a.RingDuration * float64(time.Second))
}

// GetSnapshotDuration returns the snapshot length as a time.Duration
func (a *AudioConfig) GetSnapshotDuration() time.Duration {
	return time.Duration(a.SnapshotDuration * float64(time.Second))
}

// GetDrainInterval returns the ring drain interval as a time.Duration
func (a *AudioConfig) GetDrainInterval() time.Duration {
	return time.Duration(a.DrainInterval * float64(time.Second))
}

// GetTimeoutDuration returns the webhook delivery timeout as a time.Duration
func (n *NotifyConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(n.Timeout) * time.Second
}

// RingSamples returns the per-session ring capacity in samples
func (a *AudioConfig) RingSamples() int {
	return int(a.RingDuration * float64(a.SampleRate))
}

// SnapshotSamples returns the snapshot length in samples
func (a *AudioConfig) SnapshotSamples() int {
	return int(a.SnapshotDuration * float64(a.SampleRate))
}
