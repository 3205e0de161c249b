// Package amira is the embeddable widget facade: configuration, wiring, and
// the small host-facing surface (configure, start/end call, mute, context).
package amira

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/harunnryd/amira/pkg/transports/agent"
)

type Config struct {
	Transport  agent.Config     `mapstructure:"transport"`
	AgentID    string           `mapstructure:"agent_id"`
	Audio      AudioConfig      `mapstructure:"audio"`
	Tools      ToolsConfig      `mapstructure:"tools"`
	Transcript TranscriptConfig `mapstructure:"transcript"`
	Privacy    PrivacyConfig    `mapstructure:"privacy"`
	Store      StoreConfig      `mapstructure:"store"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	LogLevel   string           `mapstructure:"log_level"`
}

type AudioConfig struct {
	SampleRate       int  `mapstructure:"sample_rate"`
	Channels         int  `mapstructure:"channels"`
	EchoCancellation bool `mapstructure:"echo_cancellation"`
	NoiseSuppression bool `mapstructure:"noise_suppression"`
	AutoGainControl  bool `mapstructure:"auto_gain_control"`
	PlaybackQueue    int  `mapstructure:"playback_queue"`
}

type ToolsConfig struct {
	Concurrency    int `mapstructure:"concurrency"`
	TimeoutMS      int `mapstructure:"timeout_ms"`
	Retries        int `mapstructure:"retries"`
	RetryBackoffMS int `mapstructure:"retry_backoff_ms"`
}

type TranscriptConfig struct {
	MaxHistory int `mapstructure:"max_history"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

type StoreConfig struct {
	ConfigPath string `mapstructure:"config_path"`
	StatePath  string `mapstructure:"state_path"`
}

type MetricsConfig struct {
	Buffer       int  `mapstructure:"buffer"`
	EnableLogger bool `mapstructure:"enable_logger"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("transport.endpoint", "wss://api.convai.example.com/v1/conversation")
	v.SetDefault("transport.write_buffer", 256)
	v.SetDefault("transport.dial_timeout_ms", 10000)
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.echo_cancellation", true)
	v.SetDefault("audio.noise_suppression", true)
	v.SetDefault("audio.auto_gain_control", true)
	v.SetDefault("audio.playback_queue", 256)
	v.SetDefault("tools.concurrency", 2)
	v.SetDefault("tools.timeout_ms", 6000)
	v.SetDefault("tools.retries", 1)
	v.SetDefault("tools.retry_backoff_ms", 200)
	v.SetDefault("transcript.max_history", 64)
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("store.config_path", "amira_config.yaml")
	v.SetDefault("store.state_path", "amira_state.json")
	v.SetDefault("metrics.buffer", 256)
	v.SetDefault("metrics.enable_logger", false)
	v.SetDefault("log_level", "info")

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Transport.Endpoint) == "" {
		return fmt.Errorf("transport.endpoint is required")
	}
	return nil
}

// expandEnvStrings lets secrets like the api key come from the environment.
func expandEnvStrings(cfg *Config) {
	cfg.Transport.Endpoint = os.ExpandEnv(cfg.Transport.Endpoint)
	cfg.Transport.APIKey = os.ExpandEnv(cfg.Transport.APIKey)
	cfg.Transport.Origin = os.ExpandEnv(cfg.Transport.Origin)
	cfg.AgentID = os.ExpandEnv(cfg.AgentID)
	cfg.Store.ConfigPath = os.ExpandEnv(cfg.Store.ConfigPath)
	cfg.Store.StatePath = os.ExpandEnv(cfg.Store.StatePath)
}
