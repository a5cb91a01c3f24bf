package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Fetch  FetchConfig  `yaml:"fetch" mapstructure:"fetch"`
	AI     AIConfig     `yaml:"ai" mapstructure:"ai"`
	Heal   HealConfig   `yaml:"heal" mapstructure:"heal"`
	GitHub GitHubConfig `yaml:"github" mapstructure:"github"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
	Run    RunConfig    `yaml:"run" mapstructure:"run"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Backend     string `yaml:"backend" mapstructure:"backend"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int    `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int    `yaml:"min_conns" mapstructure:"min_conns"`
}

// FetchConfig configures outbound HTTP to the bank sites.
type FetchConfig struct {
	UserAgent      string `yaml:"user_agent" mapstructure:"user_agent"`
	AcceptLanguage string `yaml:"accept_language" mapstructure:"accept_language"`
	TimeoutSecs    int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries     int    `yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelaySecs int    `yaml:"retry_delay_secs" mapstructure:"retry_delay_secs"`
	MaxBodyKB      int64  `yaml:"max_body_kb" mapstructure:"max_body_kb"`
}

// AIConfig holds the extraction model credentials and endpoint.
type AIConfig struct {
	Key          string   `yaml:"key" mapstructure:"key"`
	BaseURL      string   `yaml:"base_url" mapstructure:"base_url"`
	Model        string   `yaml:"model" mapstructure:"model"`
	AllowedHosts []string `yaml:"allowed_hosts" mapstructure:"allowed_hosts"`
}

// HealConfig configures the AI fallback and config-regeneration pipeline.
type HealConfig struct {
	Enabled              bool   `yaml:"enabled" mapstructure:"enabled"`
	FallbackCooldownMins int    `yaml:"fallback_cooldown_mins" mapstructure:"fallback_cooldown_mins"`
	PipelineCooldownMins int    `yaml:"pipeline_cooldown_mins" mapstructure:"pipeline_cooldown_mins"`
	MinQuotes            int    `yaml:"min_quotes" mapstructure:"min_quotes"`
	MaxTokens            int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	ConfigDir            string `yaml:"config_dir" mapstructure:"config_dir"`
}

// GitHubConfig holds the publish target for regenerated configs.
type GitHubConfig struct {
	Token string `yaml:"token" mapstructure:"token"`
	Owner string `yaml:"owner" mapstructure:"owner"`
	Repo  string `yaml:"repo" mapstructure:"repo"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// RunConfig configures update-run mechanics shared by CLI and server.
type RunConfig struct {
	LockPath string `yaml:"lock_path" mapstructure:"lock_path"`
}

// FetchTimeout returns the per-request timeout as a duration.
func (c FetchConfig) FetchTimeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// RetryDelay returns the base retry backoff as a duration.
func (c FetchConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySecs) * time.Second
}

// FallbackCooldown returns the per-source fallback cooldown as a duration.
func (c HealConfig) FallbackCooldown() time.Duration {
	return time.Duration(c.FallbackCooldownMins) * time.Minute
}

// PipelineCooldown returns the config-regeneration cooldown as a duration.
func (c HealConfig) PipelineCooldown() time.Duration {
	return time.Duration(c.PipelineCooldownMins) * time.Minute
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RATEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.database_url", "ratewatch.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("fetch.user_agent", "ratewatch/1.0 (+https://github.com/cybokron/ratewatch)")
	v.SetDefault("fetch.accept_language", "tr-TR,tr;q=0.9,en;q=0.5")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.retry_delay_secs", 2)
	v.SetDefault("fetch.max_body_kb", 4096)
	// The client appends /chat/completions, so the base must end at the
	// version segment.
	v.SetDefault("ai.base_url", "https://api.anthropic.com/v1")
	v.SetDefault("ai.model", "claude-haiku-4-5-20251001")
	v.SetDefault("ai.allowed_hosts", []string{"api.anthropic.com"})
	v.SetDefault("heal.enabled", true)
	v.SetDefault("heal.fallback_cooldown_mins", 360)
	v.SetDefault("heal.pipeline_cooldown_mins", 60)
	v.SetDefault("heal.min_quotes", 5)
	v.SetDefault("heal.max_tokens", 1024)
	v.SetDefault("heal.config_dir", "configs")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("run.lock_path", "ratewatch.lock")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
