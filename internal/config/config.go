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
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Sheet     SheetConfig     `yaml:"sheet" mapstructure:"sheet"`
	Scheduler SchedulerConfig `yaml:"scheduler" mapstructure:"scheduler"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the local answer store.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// SheetConfig locates the workbook the run reads its rows from.
type SheetConfig struct {
	Workbook  string `yaml:"workbook" mapstructure:"workbook"`
	Sheet     string `yaml:"sheet" mapstructure:"sheet"`
	SourceURL string `yaml:"source_url" mapstructure:"source_url"`
}

// SchedulerConfig tunes batching, concurrency and the retry ladder.
type SchedulerConfig struct {
	BatchSize    int   `yaml:"batch_size" mapstructure:"batch_size"`
	SlotCount    int   `yaml:"slot_count" mapstructure:"slot_count"`
	MaxAttempts  int   `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffMins  []int `yaml:"backoff_mins" mapstructure:"backoff_mins"`
	StaggerSecs  int   `yaml:"stagger_secs" mapstructure:"stagger_secs"`
	SetupRetries int   `yaml:"setup_retries" mapstructure:"setup_retries"`
}

// Backoff converts the configured ladder to durations.
func (c SchedulerConfig) Backoff() []time.Duration {
	out := make([]time.Duration, len(c.BackoffMins))
	for i, m := range c.BackoffMins {
		out[i] = time.Duration(m) * time.Minute
	}
	return out
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key               string            `yaml:"key" mapstructure:"key"`
	Models            map[string]string `yaml:"models" mapstructure:"models"`
	Functions         map[string]string `yaml:"functions" mapstructure:"functions"`
	MaxTokens         int               `yaml:"max_tokens" mapstructure:"max_tokens"`
	SubmitTimeoutSecs int               `yaml:"submit_timeout_secs" mapstructure:"submit_timeout_secs"`
	RPS               float64           `yaml:"rps" mapstructure:"rps"`
}

// ServerConfig holds control server settings.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml and the environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("AUTOAI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.path", "autoai.db")
	v.SetDefault("sheet.sheet", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("scheduler.batch_size", 3)
	v.SetDefault("scheduler.slot_count", 3)
	v.SetDefault("scheduler.max_attempts", 3)
	v.SetDefault("scheduler.backoff_mins", []int{5, 30, 60})
	v.SetDefault("scheduler.stagger_secs", 5)
	v.SetDefault("scheduler.setup_retries", 2)
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.submit_timeout_secs", 300)
	v.SetDefault("anthropic.rps", 1.0)
	v.SetDefault("anthropic.models", map[string]string{
		"default": "claude-sonnet-4-5-20250929",
		"fast":    "claude-haiku-4-5-20251001",
		"deep":    "claude-opus-4-6",
	})

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
