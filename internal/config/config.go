package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Storage     StorageConfig     `mapstructure:"storage"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Clock       ClockConfig       `mapstructure:"clock"`
	Challenge   ChallengeConfig   `mapstructure:"challenge"`
	Judges      JudgesConfig      `mapstructure:"judges"`
	Enforcement EnforcementConfig `mapstructure:"enforcement"`
	Policy      PolicyConfig      `mapstructure:"policy"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type string `mapstructure:"type"` // bolt, redis, sqlite or memory
	Path string `mapstructure:"path"`
	// Archived day records older than this are pruned at rollover.
	UsageRetentionDays int         `mapstructure:"usage_retention_days"`
	Redis              RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ClockConfig defines the usage tick and the calendar used for day boundaries
type ClockConfig struct {
	TickInterval string `mapstructure:"tick_interval"`
	Timezone     string `mapstructure:"timezone"`
}

// ChallengeConfig defines unlock challenge settings
type ChallengeConfig struct {
	MinLength        int    `mapstructure:"min_length"`
	EvaluatorTimeout string `mapstructure:"evaluator_timeout"`
	RecentPairs      int    `mapstructure:"recent_pairs"`
	WordsFile        string `mapstructure:"words_file"`
}

// JudgesConfig holds the two independent sentence evaluators
type JudgesConfig struct {
	A JudgeConfig `mapstructure:"a"`
	B JudgeConfig `mapstructure:"b"`
}

// JudgeConfig defines one evaluator
type JudgeConfig struct {
	Provider string `mapstructure:"provider"` // openai, anthropic or static
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	Endpoint string `mapstructure:"endpoint"`
	Verdict  string `mapstructure:"verdict"` // static provider only: pass or fail
}

// EnforcementConfig defines how restrictions are applied to the device
type EnforcementConfig struct {
	Type              string   `mapstructure:"type"` // log or exec
	EngageCommand     []string `mapstructure:"engage_command"`
	ClearCommand      []string `mapstructure:"clear_command"`
	BlockedApps       []string `mapstructure:"blocked_apps"`
	BlockedDomains    []string `mapstructure:"blocked_domains"`
	BlockedCategories []string `mapstructure:"blocked_categories"`
}

// PolicyConfig selects the lock decision engine
type PolicyConfig struct {
	Engine    string `mapstructure:"engine"` // native or opa
	PolicyDir string `mapstructure:"policy_dir"`
}

// MetricsConfig defines the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// Interval returns the parsed usage tick interval.
func (c ClockConfig) Interval() time.Duration {
	d, err := time.ParseDuration(c.TickInterval)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// Location returns the configured calendar location, or time.Local.
func (c ClockConfig) Location() *time.Location {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Timeout returns the per-evaluator timeout.
func (c ChallengeConfig) Timeout() time.Duration {
	d, err := time.ParseDuration(c.EvaluatorTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("LOCKBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	_ = v.Unmarshal(&config)
	return &config
}

func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	// SetConfigFile reports a missing explicit path as a plain fs error.
	return os.IsNotExist(err)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/lockbox/lockbox.bolt")
	v.SetDefault("storage.usage_retention_days", 90)
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Clock defaults
	v.SetDefault("clock.tick_interval", "60s")
	v.SetDefault("clock.timezone", "Local")

	// Challenge defaults
	v.SetDefault("challenge.min_length", 10)
	v.SetDefault("challenge.evaluator_timeout", "30s")
	v.SetDefault("challenge.recent_pairs", 32)
	v.SetDefault("challenge.words_file", "")

	// Judge defaults
	v.SetDefault("judges.a.provider", "openai")
	v.SetDefault("judges.a.model", "gpt-4o-mini")
	v.SetDefault("judges.a.endpoint", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("judges.b.provider", "anthropic")
	v.SetDefault("judges.b.model", "claude-3-5-haiku-latest")
	v.SetDefault("judges.b.endpoint", "https://api.anthropic.com/v1/messages")

	// Enforcement defaults
	v.SetDefault("enforcement.type", "log")
	v.SetDefault("enforcement.engage_command", []string{})
	v.SetDefault("enforcement.clear_command", []string{})
	v.SetDefault("enforcement.blocked_apps", []string{})
	v.SetDefault("enforcement.blocked_domains", []string{})
	v.SetDefault("enforcement.blocked_categories", []string{})

	// Policy defaults
	v.SetDefault("policy.engine", "native")
	v.SetDefault("policy.policy_dir", "")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.address", "127.0.0.1:9090")
}

// validate validates the configuration
func validate(cfg *Config) error {
	switch cfg.Storage.Type {
	case "":
		cfg.Storage.Type = "bolt"
	case "bolt", "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("unknown storage type: %s", cfg.Storage.Type)
	}

	if cfg.Storage.Type == "bolt" || cfg.Storage.Type == "sqlite" {
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
		storageDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(storageDir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	if _, err := time.ParseDuration(cfg.Clock.TickInterval); err != nil {
		return fmt.Errorf("invalid clock.tick_interval: %w", err)
	}
	if cfg.Clock.Timezone != "" && cfg.Clock.Timezone != "Local" {
		if _, err := time.LoadLocation(cfg.Clock.Timezone); err != nil {
			return fmt.Errorf("invalid clock.timezone: %w", err)
		}
	}

	if cfg.Challenge.MinLength <= 0 {
		return fmt.Errorf("challenge.min_length must be positive")
	}
	if _, err := time.ParseDuration(cfg.Challenge.EvaluatorTimeout); err != nil {
		return fmt.Errorf("invalid challenge.evaluator_timeout: %w", err)
	}

	for name, judge := range map[string]JudgeConfig{"a": cfg.Judges.A, "b": cfg.Judges.B} {
		switch judge.Provider {
		case "openai", "anthropic":
		case "static":
			if judge.Verdict != "pass" && judge.Verdict != "fail" {
				return fmt.Errorf("judges.%s.verdict must be pass or fail", name)
			}
		default:
			return fmt.Errorf("unknown provider for judges.%s: %s", name, judge.Provider)
		}
	}

	switch cfg.Enforcement.Type {
	case "log":
	case "exec":
		if len(cfg.Enforcement.EngageCommand) == 0 || len(cfg.Enforcement.ClearCommand) == 0 {
			return fmt.Errorf("exec enforcement requires engage_command and clear_command")
		}
	default:
		return fmt.Errorf("unknown enforcement type: %s", cfg.Enforcement.Type)
	}

	switch cfg.Policy.Engine {
	case "native", "opa":
	default:
		return fmt.Errorf("unknown policy engine: %s", cfg.Policy.Engine)
	}

	return nil
}
