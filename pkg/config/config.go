// Package config loads the timeline job configuration: defaults, then an
// optional YAML file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/timeline/pkg/artifacts"
	"github.com/Mindburn-Labs/timeline/pkg/botname"
	"github.com/Mindburn-Labs/timeline/pkg/observability"
	"github.com/Mindburn-Labs/timeline/pkg/pipeline"
	"github.com/Mindburn-Labs/timeline/pkg/retry"
	"github.com/Mindburn-Labs/timeline/pkg/stats"
)

// Output drivers.
const (
	DriverSQL   = "sql"
	DriverJSONL = "jsonl"
)

// Config holds the job configuration.
type Config struct {
	Workers       int                  `yaml:"workers"`
	Log           LogConfig            `yaml:"log"`
	Retry         retry.BackoffPolicy  `yaml:"retry"`
	BotName       botname.Config       `yaml:"botname"`
	Output        OutputConfig         `yaml:"output"`
	Redis         stats.RedisConfig    `yaml:"redis"` // empty addr disables the Redis sink
	Artifacts     artifacts.Config     `yaml:"artifacts"`
	Observability observability.Config `yaml:"observability"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" | "json"
}

// OutputConfig selects where reconstructed history goes.
type OutputConfig struct {
	Driver string `yaml:"driver"` // "sql" | "jsonl"
	DSN    string `yaml:"dsn"`
	Dir    string `yaml:"dir"`
	// Archive additionally stores the output as content-addressed blobs in
	// the artifact store.
	Archive bool `yaml:"archive"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Workers: pipeline.DefaultWorkers,
		Log:     LogConfig{Level: "info", Format: "text"},
		Retry:   retry.DefaultPolicy(),
		BotName: botname.Config{CacheSize: botname.DefaultCacheSize},
		Output: OutputConfig{
			Driver: DriverSQL,
			DSN:    "sqlite://timeline.db",
			Dir:    "out",
		},
		Artifacts:     artifacts.Config{Type: artifacts.StoreTypeFS, Dir: "data/artifacts"},
		Observability: *observability.DefaultConfig(),
	}
}

// Load returns the defaults overlaid with the YAML file at path (if path is
// not empty) and the environment, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("TIMELINE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TIMELINE_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("TIMELINE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("TIMELINE_OUTPUT_DRIVER"); v != "" {
		c.Output.Driver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Output.DSN = v
	}
	if v := os.Getenv("TIMELINE_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("ARTIFACT_STORAGE_TYPE"); v != "" {
		c.Artifacts.Type = artifacts.StoreType(v)
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Observability.OTLPEndpoint = v
		c.Observability.Enabled = true
	}
	return nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(c.Log.Level))); err != nil {
		errs = append(errs, fmt.Errorf("log.level %q is not a level", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Retry.MaxAttempts < 0 || c.Retry.BaseMs < 0 || c.Retry.MaxMs < 0 || c.Retry.MaxJitterMs < 0 {
		errs = append(errs, errors.New("retry settings must not be negative"))
	}
	if c.BotName.CacheSize < 0 {
		errs = append(errs, errors.New("botname.cache_size must not be negative"))
	}
	switch c.Output.Driver {
	case DriverSQL:
		if c.Output.DSN == "" {
			errs = append(errs, errors.New("output.dsn is required for the sql driver"))
		}
	case DriverJSONL:
		if c.Output.Dir == "" {
			errs = append(errs, errors.New("output.dir is required for the jsonl driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("output.driver must be sql or jsonl, got %q", c.Output.Driver))
	}
	switch c.Artifacts.Type {
	case "", artifacts.StoreTypeFS, artifacts.StoreTypeS3, artifacts.StoreTypeGCS:
	default:
		errs = append(errs, fmt.Errorf("artifacts.type %q is not supported", c.Artifacts.Type))
	}
	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("observability.sample_rate must be within [0, 1], got %v", c.Observability.SampleRate))
	}
	return errors.Join(errs...)
}
