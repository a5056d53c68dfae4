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
	Store         StoreConfig         `yaml:"store" mapstructure:"store"`
	Apify         ApifyConfig         `yaml:"apify" mapstructure:"apify"`
	Anthropic     AnthropicConfig     `yaml:"anthropic" mapstructure:"anthropic"`
	AnyMailFinder AnyMailFinderConfig `yaml:"anymailfinder" mapstructure:"anymailfinder"`
	Instantly     InstantlyConfig     `yaml:"instantly" mapstructure:"instantly"`
	Firecrawl     FirecrawlConfig     `yaml:"firecrawl" mapstructure:"firecrawl"`
	Retry         RetryConfig         `yaml:"retry" mapstructure:"retry"`
	Gate          GateConfig          `yaml:"gate" mapstructure:"gate"`
	Normalize     NormalizeConfig     `yaml:"normalize" mapstructure:"normalize"`
	Verify        VerifyConfig        `yaml:"verify" mapstructure:"verify"`
	Enrich        EnrichConfig        `yaml:"enrich" mapstructure:"enrich"`
	Segment       SegmentConfig       `yaml:"segment" mapstructure:"segment"`
	Copy          CopyConfig          `yaml:"copy" mapstructure:"copy"`
	Upload        UploadConfig        `yaml:"upload" mapstructure:"upload"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the checkpoint store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// ApifyConfig holds the scraping provider settings.
type ApifyConfig struct {
	Token     string `yaml:"token" mapstructure:"token"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	Actor     string `yaml:"actor" mapstructure:"actor"`
	TestCount int    `yaml:"test_count" mapstructure:"test_count"`
	FullCount int    `yaml:"full_count" mapstructure:"full_count"`
}

// AnthropicConfig holds AI provider settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// AnyMailFinderConfig holds email verification provider settings.
type AnyMailFinderConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// InstantlyConfig holds campaign platform settings.
type InstantlyConfig struct {
	Key           string  `yaml:"key" mapstructure:"key"`
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	Timezone      string  `yaml:"timezone" mapstructure:"timezone"`
	SendFrom      string  `yaml:"send_from" mapstructure:"send_from"`
	SendTo        string  `yaml:"send_to" mapstructure:"send_to"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
}

// FirecrawlConfig holds the fallback content provider settings.
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// RetryConfig holds the shared provider-gateway retry policy.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// GateConfig configures the quality gate.
type GateConfig struct {
	MatchThreshold int  `yaml:"match_threshold" mapstructure:"match_threshold"` // per-lead score cutoff
	PassThreshold  int  `yaml:"pass_threshold" mapstructure:"pass_threshold"`   // batch pass-rate cutoff, percent
	ChunkSize      int  `yaml:"chunk_size" mapstructure:"chunk_size"`
	EnrichWeb      bool `yaml:"enrich_web" mapstructure:"enrich_web"`
}

// NormalizeConfig configures company-name normalization.
type NormalizeConfig struct {
	ChunkSize int `yaml:"chunk_size" mapstructure:"chunk_size"`
}

// VerifyConfig configures email verification.
type VerifyConfig struct {
	Concurrency int  `yaml:"concurrency" mapstructure:"concurrency"`
	KeepRisky   bool `yaml:"keep_risky" mapstructure:"keep_risky"`
}

// EnrichConfig configures personalization enrichment.
type EnrichConfig struct {
	Concurrency      int `yaml:"concurrency" mapstructure:"concurrency"`
	FetchTimeoutSecs int `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
	MaxPagesPerSite  int `yaml:"max_pages_per_site" mapstructure:"max_pages_per_site"`
}

// SegmentConfig configures role segmentation.
type SegmentConfig struct {
	MinSize         int  `yaml:"min_size" mapstructure:"min_size"`
	ByRole          bool `yaml:"by_role" mapstructure:"by_role"`
	PerSegmentRoles bool `yaml:"per_segment_roles" mapstructure:"per_segment_roles"`
}

// CopyConfig configures campaign copy generation.
type CopyConfig struct {
	ExamplesPath string `yaml:"examples_path" mapstructure:"examples_path"`
	Steps        int    `yaml:"steps" mapstructure:"steps"`
}

// UploadConfig configures lead upload to the campaign platform.
type UploadConfig struct {
	ChunkSize   int `yaml:"chunk_size" mapstructure:"chunk_size"` // platform max 100
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LEADPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "leadpipe.db")
	v.SetDefault("store.database_url", "")
	// Credentials arrive via LEADPIPE_* env vars; registering the keys as
	// empty defaults lets AutomaticEnv bind them through Unmarshal.
	v.SetDefault("apify.token", "")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anymailfinder.key", "")
	v.SetDefault("instantly.key", "")
	v.SetDefault("firecrawl.key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("apify.base_url", "https://api.apify.com/v2")
	v.SetDefault("apify.actor", "code_crafter~leads-finder")
	v.SetDefault("apify.test_count", 25)
	v.SetDefault("apify.full_count", 1000)

	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 3000)

	v.SetDefault("anymailfinder.base_url", "https://api.anymailfinder.com/v5.1")
	v.SetDefault("instantly.base_url", "https://api.instantly.ai/api/v2")
	v.SetDefault("instantly.timezone", "Atlantic/Canary")
	v.SetDefault("instantly.send_from", "09:00")
	v.SetDefault("instantly.send_to", "17:00")
	v.SetDefault("instantly.rate_per_second", 5)
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v2")

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.timeout_secs", 60)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)

	v.SetDefault("gate.match_threshold", 80)
	v.SetDefault("gate.pass_threshold", 80)
	v.SetDefault("gate.chunk_size", 20)
	v.SetDefault("normalize.chunk_size", 50)
	v.SetDefault("verify.concurrency", 5)
	v.SetDefault("enrich.concurrency", 5)
	v.SetDefault("enrich.fetch_timeout_secs", 5)
	v.SetDefault("enrich.max_pages_per_site", 2)
	v.SetDefault("segment.min_size", 10)
	v.SetDefault("segment.by_role", true)
	v.SetDefault("copy.steps", 2)
	v.SetDefault("upload.chunk_size", 100)
	v.SetDefault("upload.concurrency", 5)

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
