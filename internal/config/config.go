package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Gateway    GatewayConfig    `yaml:"gateway" mapstructure:"gateway"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI     ChatConfig       `yaml:"openai" mapstructure:"openai"`
	DeepSeek   ChatConfig       `yaml:"deepseek" mapstructure:"deepseek"`
	Chunker    ChunkerConfig    `yaml:"chunker" mapstructure:"chunker"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Correction CorrectionConfig `yaml:"correction" mapstructure:"correction"`
	QA         QAConfig         `yaml:"qa" mapstructure:"qa"`
	Lexicon    LexiconConfig    `yaml:"lexicon" mapstructure:"lexicon"`
	Dependency DependencyConfig `yaml:"dependency" mapstructure:"dependency"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RedisConfig configures the optional model reply cache.
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Addr      string `yaml:"addr" mapstructure:"addr"`
	Password  string `yaml:"password" mapstructure:"password"`
	DB        int    `yaml:"db" mapstructure:"db"`
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
	TTLHours  int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// GatewayConfig configures the model gateway.
type GatewayConfig struct {
	Provider         string  `yaml:"provider" mapstructure:"provider"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Concurrency      int     `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimitRPS     float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst   int     `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	BreakerThreshold int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ChatConfig holds settings for an OpenAI-compatible chat provider.
type ChatConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	Model       string  `yaml:"model" mapstructure:"model"`
	MaxTokens   int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
}

// ChunkerConfig configures document chunking.
type ChunkerConfig struct {
	MaxTokens   int `yaml:"max_tokens" mapstructure:"max_tokens"`
	TargetWords int `yaml:"target_words" mapstructure:"target_words"`
}

// ScoringConfig configures the reinforcement and dependency thresholds.
type ScoringConfig struct {
	ReinforcementThreshold float64 `yaml:"reinforcement_threshold" mapstructure:"reinforcement_threshold"`
	DependencyThreshold    int     `yaml:"dependency_threshold" mapstructure:"dependency_threshold"`
}

// CorrectionConfig configures the self-correction loop.
type CorrectionConfig struct {
	MaxPasses        int  `yaml:"max_passes" mapstructure:"max_passes"`
	RecomputeSignals bool `yaml:"recompute_signals" mapstructure:"recompute_signals"`
}

// QAConfig configures final validation limits.
type QAConfig struct {
	MaxItems  int `yaml:"max_items" mapstructure:"max_items"`
	MinLength int `yaml:"min_length" mapstructure:"min_length"`
	MaxLength int `yaml:"max_length" mapstructure:"max_length"`
}

// LexiconConfig points at an optional lexicon override file.
type LexiconConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// DependencyConfig controls the persisted corpus-level dependency graph.
type DependencyConfig struct {
	Persist bool `yaml:"persist" mapstructure:"persist"`
}

// MonitoringConfig configures background alerting on extraction runs.
type MonitoringConfig struct {
	Enabled                bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL             string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs      int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours    int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold   float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdUSD       float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	MinAvgConfidence       float64 `yaml:"min_avg_confidence" mapstructure:"min_avg_confidence"`
	LowConfidenceBelow     float64 `yaml:"low_confidence_below" mapstructure:"low_confidence_below"`
	QAInvalidRateThreshold float64 `yaml:"qa_invalid_rate_threshold" mapstructure:"qa_invalid_rate_threshold"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	MaxBodyBytes   int64    `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CONCEPT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "concept.db")
	v.SetDefault("redis.key_prefix", "concept:reply:")
	v.SetDefault("redis.ttl_hours", 168)
	v.SetDefault("gateway.provider", "anthropic")
	v.SetDefault("gateway.timeout_secs", 60)
	v.SetDefault("gateway.concurrency", 4)
	v.SetDefault("gateway.rate_limit_rps", 2.0)
	v.SetDefault("gateway.rate_limit_burst", 4)
	v.SetDefault("gateway.max_attempts", 3)
	v.SetDefault("gateway.breaker_threshold", 5)
	v.SetDefault("gateway.breaker_reset_secs", 30)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 1024)
	v.SetDefault("openai.temperature", 0.2)
	v.SetDefault("deepseek.base_url", "https://api.deepseek.com/v1")
	v.SetDefault("deepseek.model", "deepseek-chat")
	v.SetDefault("deepseek.max_tokens", 1024)
	v.SetDefault("deepseek.temperature", 0.2)
	v.SetDefault("chunker.max_tokens", 2000)
	v.SetDefault("chunker.target_words", 500)
	v.SetDefault("scoring.reinforcement_threshold", 0.6)
	v.SetDefault("scoring.dependency_threshold", 0)
	v.SetDefault("correction.max_passes", 3)
	v.SetDefault("correction.recompute_signals", true)
	v.SetDefault("qa.max_items", 20)
	v.SetDefault("qa.min_length", 3)
	v.SetDefault("qa.max_length", 250)
	v.SetDefault("dependency.persist", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.10)
	v.SetDefault("monitoring.min_avg_confidence", 0.6)
	v.SetDefault("monitoring.low_confidence_below", 0.6)
	v.SetDefault("monitoring.qa_invalid_rate_threshold", 0.25)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_body_bytes", 10<<20)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate reports configuration that would make every run fail. It is
// checked before any pipeline stage runs.
func (c *Config) Validate() error {
	switch c.Gateway.Provider {
	case "anthropic":
		if c.Anthropic.Key == "" {
			return eris.New("config: anthropic.key is required for provider anthropic")
		}
	case "openai":
		if c.OpenAI.Key == "" {
			return eris.New("config: openai.key is required for provider openai")
		}
	case "deepseek":
		if c.DeepSeek.Key == "" {
			return eris.New("config: deepseek.key is required for provider deepseek")
		}
	default:
		return eris.Errorf("config: unknown gateway.provider %q", c.Gateway.Provider)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}

	if c.Chunker.MaxTokens <= 0 {
		return eris.Errorf("config: chunker.max_tokens must be positive, got %d", c.Chunker.MaxTokens)
	}
	if t := c.Scoring.ReinforcementThreshold; t < 0 || t > 1 {
		return eris.Errorf("config: scoring.reinforcement_threshold must be in [0,1], got %g", t)
	}
	if c.Scoring.DependencyThreshold < 0 {
		return eris.Errorf("config: scoring.dependency_threshold must not be negative, got %d", c.Scoring.DependencyThreshold)
	}
	if c.Correction.MaxPasses < 0 {
		return eris.Errorf("config: correction.max_passes must not be negative, got %d", c.Correction.MaxPasses)
	}
	if c.QA.MinLength > c.QA.MaxLength {
		return eris.Errorf("config: qa.min_length %d exceeds qa.max_length %d", c.QA.MinLength, c.QA.MaxLength)
	}
	return nil
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
