// Package config loads the pipeline configuration from a YAML file plus
// QUORUM_-prefixed environment variables, with sane defaults for every knob.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"quorum/internal/provider"
)

// Config is the full runtime configuration tree.
type Config struct {
	Log      LogConfig       `mapstructure:"log"`
	Queue    QueueConfig     `mapstructure:"queue"`
	Worker   WorkerConfig    `mapstructure:"worker"`
	Policy   PolicyConfig    `mapstructure:"policy"`
	Provider ProviderConfig  `mapstructure:"provider"`
	ToolLoop ToolLoopConfig  `mapstructure:"tool_loop"`
	Review   ReviewConfig    `mapstructure:"review"`
	Sweeper  SweeperConfig   `mapstructure:"sweeper"`
	Events   EventsConfig    `mapstructure:"events"`
	Metrics  MetricsConfig   `mapstructure:"metrics"`
	Prompt   PromptConfig    `mapstructure:"prompt"`
	Personas []PersonaConfig `mapstructure:"personas"`
}

// PromptConfig is the static prompt material shared by every persona.
type PromptConfig struct {
	SystemBaseline    string `mapstructure:"system_baseline"`
	Policy            string `mapstructure:"policy"`
	OutputConstraints string `mapstructure:"output_constraints"`
}

// PersonaConfig declares one agent persona the dispatcher may assign work to.
type PersonaConfig struct {
	ID     string `mapstructure:"id"`
	Status string `mapstructure:"status"`
	Soul   string `mapstructure:"soul"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type QueueConfig struct {
	Lease             time.Duration `mapstructure:"lease"`
	DefaultMaxRetries int           `mapstructure:"default_max_retries"`
}

type WorkerConfig struct {
	Count             int           `mapstructure:"count"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

type PolicyConfig struct {
	SnapshotTTL                 time.Duration `mapstructure:"snapshot_ttl"`
	ReplyEnabled                bool          `mapstructure:"reply_enabled"`
	PrecheckEnabled             bool          `mapstructure:"precheck_enabled"`
	PerPersonaHourlyReplyLimit  int           `mapstructure:"per_persona_hourly_reply_limit"`
	PerPostCooldown             time.Duration `mapstructure:"per_post_cooldown"`
	PrecheckSimilarityThreshold float64       `mapstructure:"precheck_similarity_threshold"`
}

type ProviderConfig struct {
	Retries        int                       `mapstructure:"retries"`
	AttemptTimeout time.Duration             `mapstructure:"attempt_timeout"`
	RetryBackoff   time.Duration             `mapstructure:"retry_backoff"`
	Routes         provider.RouteTable       `mapstructure:"routes"`
	Endpoints      map[string]EndpointConfig `mapstructure:"endpoints"`
}

// EndpointConfig describes one OpenAI-compatible endpoint, keyed by the
// provider id used in routes.
type EndpointConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ToolLoopConfig struct {
	MaxIterations int           `mapstructure:"max_iterations"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type ReviewConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type SweeperConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	RecoverSchedule string `mapstructure:"recover_schedule"`
	ExpireSchedule  string `mapstructure:"expire_schedule"`
}

type EventsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// Load reads configuration from path (optional; empty means defaults plus
// environment only) and overlays QUORUM_-prefixed environment variables.
// QUORUM_POLICY_REPLY_ENABLED=false overrides policy.reply_enabled.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("QUORUM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("queue.lease", "30s")
	v.SetDefault("queue.default_max_retries", 3)

	v.SetDefault("worker.count", 4)
	v.SetDefault("worker.poll_interval", "2s")
	v.SetDefault("worker.heartbeat_interval", "10s")

	v.SetDefault("policy.snapshot_ttl", "30s")
	v.SetDefault("policy.reply_enabled", true)
	v.SetDefault("policy.precheck_enabled", true)
	v.SetDefault("policy.per_persona_hourly_reply_limit", 10)
	v.SetDefault("policy.per_post_cooldown", "10m")
	v.SetDefault("policy.precheck_similarity_threshold", 0.8)

	v.SetDefault("provider.retries", 2)
	v.SetDefault("provider.attempt_timeout", "30s")
	v.SetDefault("provider.retry_backoff", "200ms")

	v.SetDefault("tool_loop.max_iterations", 3)
	v.SetDefault("tool_loop.timeout", "2500ms")

	v.SetDefault("review.ttl", "72h")

	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.recover_schedule", "* * * * *")
	v.SetDefault("sweeper.expire_schedule", "*/5 * * * *")

	v.SetDefault("events.buffer_size", 1024)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen", ":9090")
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Queue.Lease <= 0 {
		return fmt.Errorf("config: queue.lease must be positive")
	}
	if c.Queue.DefaultMaxRetries < 0 {
		return fmt.Errorf("config: queue.default_max_retries must not be negative")
	}
	if c.Worker.Count <= 0 {
		return fmt.Errorf("config: worker.count must be positive")
	}
	if c.Worker.HeartbeatInterval >= c.Queue.Lease {
		return fmt.Errorf("config: worker.heartbeat_interval (%s) must be shorter than queue.lease (%s)",
			c.Worker.HeartbeatInterval, c.Queue.Lease)
	}
	if c.Policy.PerPersonaHourlyReplyLimit < 0 {
		return fmt.Errorf("config: policy.per_persona_hourly_reply_limit must not be negative")
	}
	if c.Policy.PrecheckSimilarityThreshold < 0 || c.Policy.PrecheckSimilarityThreshold > 1 {
		return fmt.Errorf("config: policy.precheck_similarity_threshold must be in [0,1]")
	}
	if c.Provider.Retries < 0 {
		return fmt.Errorf("config: provider.retries must not be negative")
	}
	if c.ToolLoop.MaxIterations <= 0 {
		return fmt.Errorf("config: tool_loop.max_iterations must be positive")
	}
	if c.Review.TTL <= 0 {
		return fmt.Errorf("config: review.ttl must be positive")
	}
	return nil
}
