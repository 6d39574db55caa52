// Package config loads the bridge configuration from a YAML file with
// environment overrides. Configuration is loaded once at startup and is
// immutable afterwards.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AltairaLabs/voicebridge/audio"
)

// Config is the full bridge configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Gemini  GeminiConfig  `yaml:"gemini"`
	VAD     VADConfig     `yaml:"vad"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig is the local websocket listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GeminiConfig selects the model and credentials for the live session.
type GeminiConfig struct {
	// Project and Location identify a Vertex deployment; optional when an
	// API key is used against the public endpoint.
	Project  string `yaml:"project"`
	Location string `yaml:"location"`

	Model             string `yaml:"model"`
	Voice             string `yaml:"voice"`
	SystemInstruction string `yaml:"system_instruction"`
	TextOnly          bool   `yaml:"text_only"`

	// APIKey is normally left empty here and supplied via GEMINI_API_KEY.
	APIKey string `yaml:"api_key"`
	// AccessToken is an externally minted OAuth token for Vertex-style
	// deployments, supplied via GEMINI_ACCESS_TOKEN.
	AccessToken string `yaml:"-"`
	// Endpoint overrides the default live URL.
	Endpoint string `yaml:"endpoint"`
}

// VADConfig tunes the caller speech detector.
type VADConfig struct {
	Confidence float64 `yaml:"confidence"`
	StartSecs  float64 `yaml:"start_secs"`
	StopSecs   float64 `yaml:"stop_secs"`
	MinVolume  float64 `yaml:"min_volume"`
	SampleRate int     `yaml:"sample_rate"`
}

// Params converts to the audio package's VAD parameters.
func (v VADConfig) Params() audio.VADParams {
	return audio.VADParams{
		Confidence: v.Confidence,
		StartSecs:  v.StartSecs,
		StopSecs:   v.StopSecs,
		MinVolume:  v.MinVolume,
		SampleRate: v.SampleRate,
	}
}

// BridgeConfig tunes queue bounds and timeouts.
type BridgeConfig struct {
	SendQueueBound  int `yaml:"send_queue_bound"`
	SendGraceMs     int `yaml:"send_grace_ms"`
	ToolTimeoutSecs int `yaml:"tool_timeout_secs"`
}

func (b BridgeConfig) SendGrace() time.Duration {
	return time.Duration(b.SendGraceMs) * time.Millisecond
}

func (b BridgeConfig) ToolTimeout() time.Duration {
	return time.Duration(b.ToolTimeoutSecs) * time.Second
}

// MetricsConfig controls the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	params := audio.DefaultVADParams()
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8090},
		Gemini: GeminiConfig{
			Model: "gemini-2.0-flash-exp",
			Voice: "Puck",
		},
		VAD: VADConfig{
			Confidence: params.Confidence,
			StartSecs:  params.StartSecs,
			StopSecs:   params.StopSecs,
			MinVolume:  params.MinVolume,
			SampleRate: params.SampleRate,
		},
		Bridge: BridgeConfig{
			SendQueueBound:  32,
			SendGraceMs:     100,
			ToolTimeoutSecs: 10,
		},
		Metrics: MetricsConfig{Enabled: true, Addr: ":9100"},
	}
}

// Load reads the YAML file at path (skipped when empty), applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets deployment environments override the file without editing
// it. Secrets in particular should come in this way.
func (c *Config) applyEnv() {
	if v := os.Getenv("PROJECT_ID"); v != "" {
		c.Gemini.Project = v
	}
	if v := os.Getenv("LOCATION"); v != "" {
		c.Gemini.Location = v
	}
	if v := os.Getenv("MODEL"); v != "" {
		c.Gemini.Model = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Gemini.APIKey = v
	}
	if v := os.Getenv("GEMINI_ACCESS_TOKEN"); v != "" {
		c.Gemini.AccessToken = v
	}
	if v := os.Getenv("VOICEBRIDGE_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("VOICEBRIDGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("VOICEBRIDGE_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
}

// Validate checks ranges and required fields.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Gemini.Model == "" {
		return fmt.Errorf("gemini model must be set")
	}
	if (c.Gemini.Project == "") != (c.Gemini.Location == "") {
		return fmt.Errorf("gemini project and location must be set together")
	}
	if err := c.VAD.Params().Validate(); err != nil {
		return fmt.Errorf("vad configuration: %w", err)
	}
	if c.Bridge.SendQueueBound <= 0 {
		return fmt.Errorf("send queue bound must be positive, got %d", c.Bridge.SendQueueBound)
	}
	if c.Bridge.ToolTimeoutSecs <= 0 {
		return fmt.Errorf("tool timeout must be positive, got %d", c.Bridge.ToolTimeoutSecs)
	}
	return nil
}
