package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Browser    BrowserConfig    `yaml:"browser" mapstructure:"browser"`
	Scrape     ScrapeConfig     `yaml:"scrape" mapstructure:"scrape"`
	Band       ValidateConfig   `yaml:"validate" mapstructure:"validate"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Backup     BackupConfig     `yaml:"backup" mapstructure:"backup"`
	Kafka      KafkaConfig      `yaml:"kafka" mapstructure:"kafka"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// BrowserConfig configures the headless Chrome session controller.
type BrowserConfig struct {
	RemoteURL      string `yaml:"remote_url" mapstructure:"remote_url"`
	BinPath        string `yaml:"bin_path" mapstructure:"bin_path"`
	Headless       bool   `yaml:"headless" mapstructure:"headless"`
	UserAgent      string `yaml:"user_agent" mapstructure:"user_agent"`
	WindowWidth    int    `yaml:"window_width" mapstructure:"window_width"`
	WindowHeight   int    `yaml:"window_height" mapstructure:"window_height"`
	NavTimeoutSecs int    `yaml:"nav_timeout_secs" mapstructure:"nav_timeout_secs"`
	WarmupMinMs    int    `yaml:"warmup_min_ms" mapstructure:"warmup_min_ms"`
	WarmupMaxMs    int    `yaml:"warmup_max_ms" mapstructure:"warmup_max_ms"`
}

// ScrapeConfig configures window extraction.
type ScrapeConfig struct {
	Days             int    `yaml:"days" mapstructure:"days"`
	DayDelayMs       int    `yaml:"day_delay_ms" mapstructure:"day_delay_ms"`
	TargetDelayMs    int    `yaml:"target_delay_ms" mapstructure:"target_delay_ms"`
	RefreshTimeoutMs int    `yaml:"refresh_timeout_ms" mapstructure:"refresh_timeout_ms"`
	ReadyTimeoutMs   int    `yaml:"ready_timeout_ms" mapstructure:"ready_timeout_ms"`
	PartialThreshold int    `yaml:"partial_threshold" mapstructure:"partial_threshold"`
	Timezone         string `yaml:"timezone" mapstructure:"timezone"`
}

// Location resolves the configured site time zone.
func (s ScrapeConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "config: load timezone %q", s.Timezone)
	}
	return loc, nil
}

// ValidateConfig holds the plausible price band in INR per gram.
type ValidateConfig struct {
	MinPrice float64 `yaml:"min_price" mapstructure:"min_price"`
	MaxPrice float64 `yaml:"max_price" mapstructure:"max_price"`
}

// StoreConfig configures the document store backend.
type StoreConfig struct {
	Driver          string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL     string `yaml:"database_url" mapstructure:"database_url"`
	Collection      string `yaml:"collection" mapstructure:"collection"`
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
	ProjectID       string `yaml:"project_id" mapstructure:"project_id"`
	RedisAddr       string `yaml:"redis_addr" mapstructure:"redis_addr"`
}

// BackupConfig configures the local JSON backup artifact.
type BackupConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// KafkaConfig configures price event publishing. Empty brokers disable it.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	Topic   string   `yaml:"topic" mapstructure:"topic"`
}

// MonitoringConfig configures run alerts. Empty webhook disables them.
type MonitoringConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
	// RejectRateThreshold is the share of rejected readings in a run above
	// which an alert fires. A jump usually means the page markup changed.
	RejectRateThreshold float64 `yaml:"reject_rate_threshold" mapstructure:"reject_rate_threshold"`
}

// RetryConfig tunes store write retries.
type RetryConfig struct {
	MaxAttempts    int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoff     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier     float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig tunes the store circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ServerConfig configures the read API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("GOLDRATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.nav_timeout_secs", 30)
	v.SetDefault("browser.warmup_min_ms", 2000)
	v.SetDefault("browser.warmup_max_ms", 4000)
	v.SetDefault("scrape.days", 30)
	v.SetDefault("scrape.day_delay_ms", 1500)
	v.SetDefault("scrape.target_delay_ms", 2000)
	v.SetDefault("scrape.refresh_timeout_ms", 10000)
	v.SetDefault("scrape.ready_timeout_ms", 5000)
	v.SetDefault("scrape.partial_threshold", 3)
	v.SetDefault("scrape.timezone", "Asia/Kolkata")
	v.SetDefault("validate.min_price", 5000)
	v.SetDefault("validate.max_price", 15000)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "goldrate.db")
	v.SetDefault("store.collection", "gold_prices")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("kafka.topic", "gold-prices")
	v.SetDefault("monitoring.reject_rate_threshold", 0.25)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 5000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("server.port", 8080)
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

// Validate checks the settings a command mode depends on. "extract" is a
// scrape that skips the store.
func (c *Config) Validate(mode string) error {
	var errs []error

	switch mode {
	case "scrape", "extract":
		if c.Scrape.Days < 1 {
			errs = append(errs, fmt.Errorf("scrape.days must be >= 1"))
		}
		if c.Scrape.PartialThreshold < 0 {
			errs = append(errs, fmt.Errorf("scrape.partial_threshold must be >= 0"))
		}
		if c.Browser.WarmupMaxMs < c.Browser.WarmupMinMs {
			errs = append(errs, fmt.Errorf("browser.warmup_max_ms must be >= warmup_min_ms"))
		}
		if _, err := time.LoadLocation(c.Scrape.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("scrape.timezone %q is invalid", c.Scrape.Timezone))
		}
		errs = append(errs, c.validateBand()...)
		if mode == "scrape" {
			errs = append(errs, c.validateStore()...)
		}
	case "import", "migrate":
		errs = append(errs, c.validateStore()...)
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, fmt.Errorf("server.port must be > 0"))
		}
		errs = append(errs, c.validateStore()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Wrap(errors.Join(errs...), "config: validate")
	}
	return nil
}

func (c *Config) validateBand() []error {
	var errs []error
	if c.Band.MinPrice <= 0 {
		errs = append(errs, fmt.Errorf("validate.min_price must be > 0"))
	}
	if c.Band.MaxPrice <= c.Band.MinPrice {
		errs = append(errs, fmt.Errorf("validate.max_price must be > min_price"))
	}
	return errs
}

func (c *Config) validateStore() []error {
	var errs []error
	if c.Store.Collection == "" {
		errs = append(errs, fmt.Errorf("store.collection is required"))
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("store.database_url is required"))
		}
	case "firestore":
		if c.Store.CredentialsFile == "" {
			errs = append(errs, fmt.Errorf("store.credentials_file is required"))
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("store.redis_addr is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not supported", c.Store.Driver))
	}
	return errs
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
