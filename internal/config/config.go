package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables read by the service
const (
	EnvConfigPath = "REBLOCK_CONFIG"
	EnvLogLevel   = "REBLOCK_LOG_LEVEL"
	EnvHTTPPort   = "REBLOCK_HTTP_PORT"

	DefaultPath = "configs/config.yaml"
)

// Config represents the complete service configuration
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	HTTP      HTTPConfig      `yaml:"http"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Nodes     []NodeConfig    `yaml:"nodes"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// EngineConfig contains render engine parameters
type EngineConfig struct {
	SampleRate      int `yaml:"sample_rate"`
	QuantumSize     int `yaml:"quantum_size"`
	RenderInterval  int `yaml:"render_interval_ms"`
	MonitorInterval int `yaml:"monitor_interval_ms"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// DiscoveryConfig contains mDNS advertisement configuration
type DiscoveryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
	Service  string `yaml:"service"`
	Domain   string `yaml:"domain"`
}

// NodeConfig describes one script processor session
type NodeConfig struct {
	Name           string       `yaml:"name"`
	BufferSize     int          `yaml:"buffer_size"` // frames, 0 selects 1024
	InputChannels  int          `yaml:"input_channels"`
	OutputChannels int          `yaml:"output_channels"`
	Processor      string       `yaml:"processor"`
	Gain           float64      `yaml:"gain"`
	GateThreshold  float64      `yaml:"gate_threshold"`
	Source         SourceConfig `yaml:"source"`
	Sink           SinkConfig   `yaml:"sink"`
}

// SourceConfig describes what feeds a node's input
type SourceConfig struct {
	Type      string  `yaml:"type"` // silence, sine, wav
	Frequency float64 `yaml:"frequency"`
	Amplitude float64 `yaml:"amplitude"`
	Path      string  `yaml:"path"`
	Loop      bool    `yaml:"loop"`
}

// SinkConfig describes where a node's output goes
type SinkConfig struct {
	Type       string  `yaml:"type"` // discard, meter, wav
	Path       string  `yaml:"path"`
	MaxSeconds float64 `yaml:"max_seconds"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used for fields a file leaves out
func Default() Config {
	return Config{
		Engine: EngineConfig{
			SampleRate:      48000,
			QuantumSize:     128,
			RenderInterval:  10,
			MonitorInterval: 1000,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Discovery: DiscoveryConfig{
			Instance: "reblock-audio",
			Service:  "_reblock._tcp",
			Domain:   "local.",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// LoadDotEnv loads a .env file from the working directory if there is one.
// Variables already set in the environment win. A missing file is not an
// error; an unreadable or malformed one is.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env file: %w", err)
	}
	return nil
}

// ResolvePath returns the config path to use: the flag value if set,
// otherwise REBLOCK_CONFIG, otherwise DefaultPath.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv(EnvConfigPath); path != "" {
		return path
	}
	return DefaultPath
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.applyEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyEnv applies the environment overrides
func (c *Config) applyEnv() error {
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.Logging.Level = level
	}
	if port := os.Getenv(EnvHTTPPort); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("%s must be a number, got '%s'", EnvHTTPPort, port)
		}
		c.HTTP.Port = p
	}
	return nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Discovery.Validate(); err != nil {
		return fmt.Errorf("discovery config: %w", err)
	}

	names := make(map[string]bool, len(c.Nodes))
	for i := range c.Nodes {
		if err := c.Nodes[i].Validate(); err != nil {
			return fmt.Errorf("node %d config: %w", i, err)
		}
		if names[c.Nodes[i].Name] {
			return fmt.Errorf("node %d config: duplicate name '%s'", i, c.Nodes[i].Name)
		}
		names[c.Nodes[i].Name] = true
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates engine configuration
func (e *EngineConfig) Validate() error {
	if e.SampleRate < 3000 || e.SampleRate > 768000 {
		return fmt.Errorf("sample_rate must be between 3000 and 768000 Hz, got %d", e.SampleRate)
	}

	if e.QuantumSize < 1 || e.QuantumSize > 4096 {
		return fmt.Errorf("quantum_size must be between 1 and 4096 frames, got %d", e.QuantumSize)
	}

	if e.RenderInterval < 1 {
		return fmt.Errorf("render_interval_ms must be at least 1, got %d", e.RenderInterval)
	}

	if e.MonitorInterval < 1 {
		return fmt.Errorf("monitor_interval_ms must be at least 1, got %d", e.MonitorInterval)
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

// Validate validates discovery configuration
func (d *DiscoveryConfig) Validate() error {
	if !d.Enabled {
		return nil
	}

	if d.Instance == "" {
		return fmt.Errorf("instance cannot be empty when discovery is enabled")
	}

	if d.Service == "" {
		return fmt.Errorf("service cannot be empty when discovery is enabled")
	}

	if d.Domain == "" {
		return fmt.Errorf("domain cannot be empty when discovery is enabled")
	}

	return nil
}

// Validate validates node configuration
func (n *NodeConfig) Validate() error {
	if n.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}

	if n.BufferSize < 0 || n.BufferSize > 16384 {
		return fmt.Errorf("buffer_size must be between 0 and 16384 frames, got %d", n.BufferSize)
	}

	if n.InputChannels < 0 || n.InputChannels > 32 {
		return fmt.Errorf("input_channels must be between 0 and 32, got %d", n.InputChannels)
	}

	if n.OutputChannels < 0 || n.OutputChannels > 32 {
		return fmt.Errorf("output_channels must be between 0 and 32, got %d", n.OutputChannels)
	}

	if n.InputChannels == 0 && n.OutputChannels == 0 {
		return fmt.Errorf("input_channels and output_channels cannot both be 0")
	}

	if n.GateThreshold < 0 || n.GateThreshold > 1 {
		return fmt.Errorf("gate_threshold must be between 0 and 1, got %f", n.GateThreshold)
	}

	if err := n.Source.Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}

	if err := n.Sink.Validate(); err != nil {
		return fmt.Errorf("sink: %w", err)
	}

	return nil
}

// Validate validates source configuration
func (s *SourceConfig) Validate() error {
	switch s.Type {
	case "", "silence":
	case "sine":
		if s.Frequency <= 0 {
			return fmt.Errorf("frequency must be positive, got %f", s.Frequency)
		}
		if s.Amplitude < 0 || s.Amplitude > 1 {
			return fmt.Errorf("amplitude must be between 0 and 1, got %f", s.Amplitude)
		}
	case "wav":
		if s.Path == "" {
			return fmt.Errorf("path cannot be empty for a wav source")
		}
	default:
		return fmt.Errorf("type must be one of [silence, sine, wav], got '%s'", s.Type)
	}
	return nil
}

// Validate validates sink configuration
func (s *SinkConfig) Validate() error {
	switch s.Type {
	case "", "discard", "meter":
	case "wav":
		if s.Path == "" {
			return fmt.Errorf("path cannot be empty for a wav sink")
		}
		if s.MaxSeconds <= 0 {
			return fmt.Errorf("max_seconds must be positive for a wav sink, got %f", s.MaxSeconds)
		}
	default:
		return fmt.Errorf("type must be one of [discard, meter, wav], got '%s'", s.Type)
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

	// Anything other than stdout and stderr is a file path
	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// GetRenderInterval returns the render interval as a time.Duration
func (e *EngineConfig) GetRenderInterval() time.Duration {
	return time.Duration(e.RenderInterval) * time.Millisecond
}

// GetMonitorInterval returns the session monitor interval as a time.Duration
func (e *EngineConfig) GetMonitorInterval() time.Duration {
	return time.Duration(e.MonitorInterval) * time.Millisecond
}

// GetMaxFrames returns the capacity of a wav sink in frames
func (s *SinkConfig) GetMaxFrames(sampleRate int) int {
	return int(s.MaxSeconds * float64(sampleRate))
}
