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
	Limits    LimitsConfig    `yaml:"limits" mapstructure:"limits"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Outputs   OutputsConfig   `yaml:"outputs" mapstructure:"outputs"`
	Warehouse WarehouseConfig `yaml:"warehouse" mapstructure:"warehouse"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// LimitsConfig configures the admission guard.
type LimitsConfig struct {
	MaxBatchItems int `yaml:"max_batch_items" mapstructure:"max_batch_items"`
	MaxTextChars  int `yaml:"max_text_chars" mapstructure:"max_text_chars"`
	RPMLimit      int `yaml:"rpm_limit" mapstructure:"rpm_limit"`
}

// PipelineConfig configures per-record processing and batch concurrency.
type PipelineConfig struct {
	RecordTimeoutS float64 `yaml:"record_timeout_s" mapstructure:"record_timeout_s"`
	IngestTimeoutS float64 `yaml:"ingest_timeout_s" mapstructure:"ingest_timeout_s"`
	Concurrency    int     `yaml:"concurrency" mapstructure:"concurrency"`
	FailFast       bool    `yaml:"fail_fast" mapstructure:"fail_fast"`
}

// RecordTimeout returns the per-record deadline as a duration.
func (c PipelineConfig) RecordTimeout() time.Duration {
	return time.Duration(c.RecordTimeoutS * float64(time.Second))
}

// IngestTimeout returns the image-fetch budget as a duration.
func (c PipelineConfig) IngestTimeout() time.Duration {
	return time.Duration(c.IngestTimeoutS * float64(time.Second))
}

// CacheConfig configures the local image cache.
type CacheConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// IngestConfig tunes image fetching: retry cadence and the per-host breaker
// that suspends a CDN after repeated transient failures.
type IngestConfig struct {
	RetryAttempts    int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBaseMS      int `yaml:"retry_base_ms" mapstructure:"retry_base_ms"`
	RetryMaxMS       int `yaml:"retry_max_ms" mapstructure:"retry_max_ms"`
	BreakerThreshold int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownS int `yaml:"breaker_cooldown_s" mapstructure:"breaker_cooldown_s"`
}

// ExtractConfig configures the text extractor.
type ExtractConfig struct {
	LexiconPath string `yaml:"lexicon_path" mapstructure:"lexicon_path"`
}

// OutputsConfig configures event publishing.
type OutputsConfig struct {
	EventsDir      string `yaml:"events_dir" mapstructure:"events_dir"`
	Topic          string `yaml:"topic" mapstructure:"topic"`
	PublishMode    string `yaml:"publish_mode" mapstructure:"publish_mode"`
	EnablePublish  bool   `yaml:"enable_publish" mapstructure:"enable_publish"`
	ValidateEvents bool   `yaml:"validate_events" mapstructure:"validate_events"`
	AsyncWorkers   int    `yaml:"async_workers" mapstructure:"async_workers"`
}

// WarehouseConfig configures the flattened-row sink.
type WarehouseConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Enable      bool   `yaml:"enable" mapstructure:"enable"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// legacyEnvAliases maps config keys to the flat environment names the
// service has always honored, predating the nested key scheme.
var legacyEnvAliases = map[string]string{
	"limits.max_batch_items":    "CIP_MAX_BATCH_ITEMS",
	"limits.max_text_chars":     "CIP_MAX_TEXT_CHARS",
	"limits.rpm_limit":          "CIP_RPM_LIMIT",
	"pipeline.record_timeout_s": "CIP_RECORD_TIMEOUT_S",
	"pipeline.ingest_timeout_s": "CIP_INGEST_TIMEOUT_S",
	"pipeline.fail_fast":        "CIP_FAIL_FAST",
	"cache.dir":                 "CIP_CACHE_DIR",
	"outputs.events_dir":        "CIP_EVENTS_DIR",
	"outputs.publish_mode":      "CIP_PUBLISH_MODE",
	"outputs.enable_publish":    "CIP_ENABLE_PUBLISH",
	"outputs.validate_events":   "CIP_VALIDATE_EVENTS",
	"warehouse.driver":          "CIP_WAREHOUSE_MODE",
	"warehouse.path":            "CIP_WAREHOUSE_PATH",
	"warehouse.enable":          "CIP_ENABLE_WAREHOUSE",
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.catalog-intel")
	v.AddConfigPath("/etc/catalog-intel")

	// Environment
	v.SetEnvPrefix("CIP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnvAliases {
		if err := v.BindEnv(key, env); err != nil {
			return nil, eris.Wrapf(err, "config: bind %s", env)
		}
	}

	// Defaults
	v.SetDefault("limits.max_batch_items", 50)
	v.SetDefault("limits.max_text_chars", 10000)
	v.SetDefault("limits.rpm_limit", 120)
	v.SetDefault("pipeline.record_timeout_s", 8.0)
	v.SetDefault("pipeline.ingest_timeout_s", 10.0)
	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("pipeline.fail_fast", false)
	v.SetDefault("cache.dir", ".cache/images")
	v.SetDefault("ingest.retry_attempts", 3)
	v.SetDefault("ingest.retry_base_ms", 250)
	v.SetDefault("ingest.retry_max_ms", 5000)
	v.SetDefault("ingest.breaker_threshold", 5)
	v.SetDefault("ingest.breaker_cooldown_s", 30)
	v.SetDefault("extract.lexicon_path", "")
	v.SetDefault("outputs.events_dir", "events")
	v.SetDefault("outputs.topic", "catalog.predictions.v1")
	v.SetDefault("outputs.publish_mode", "sync")
	v.SetDefault("outputs.enable_publish", false)
	v.SetDefault("outputs.validate_events", true)
	v.SetDefault("outputs.async_workers", 4)
	v.SetDefault("warehouse.driver", "csv")
	v.SetDefault("warehouse.path", "warehouse")
	v.SetDefault("warehouse.enable", false)
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

// Validate checks the configuration needed by the named subsystem. Scopes:
// "pipeline" (always safe to run), "serve", "warehouse".
func (c *Config) Validate(scope string) error {
	var problems []string

	if c.Limits.MaxBatchItems <= 0 {
		problems = append(problems, "limits.max_batch_items must be positive")
	}
	if c.Limits.MaxTextChars <= 0 {
		problems = append(problems, "limits.max_text_chars must be positive")
	}
	if c.Limits.RPMLimit <= 0 {
		problems = append(problems, "limits.rpm_limit must be positive")
	}
	if c.Pipeline.RecordTimeoutS <= 0 {
		problems = append(problems, "pipeline.record_timeout_s must be positive")
	}
	if c.Pipeline.Concurrency <= 0 {
		problems = append(problems, "pipeline.concurrency must be positive")
	}

	switch scope {
	case "serve":
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be in [1, 65535]")
		}
	case "warehouse":
		switch c.Warehouse.Driver {
		case "csv", "sqlite":
			if c.Warehouse.Path == "" {
				problems = append(problems, "warehouse.path is required")
			}
		case "postgres":
			if c.Warehouse.DatabaseURL == "" {
				problems = append(problems, "warehouse.database_url is required")
			}
		default:
			problems = append(problems, "warehouse.driver must be csv, sqlite, or postgres")
		}
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
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
