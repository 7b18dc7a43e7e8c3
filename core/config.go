package core

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type Config struct {
	ServiceName       string        `koanf:"service_name" mapstructure:"service_name"`
	PollInterval      time.Duration `koanf:"poll_interval" mapstructure:"poll_interval"`
	BatchSize         int           `koanf:"batch_size" mapstructure:"batch_size"`
	DefaultRetryLimit int           `koanf:"default_retry_limit" mapstructure:"default_retry_limit"`
	PublishTimeout    time.Duration `koanf:"publish_timeout" mapstructure:"publish_timeout"`
	ReceiveTimeout    time.Duration `koanf:"receive_timeout" mapstructure:"receive_timeout"`
	ConsumerWorkers   int           `koanf:"consumer_workers" mapstructure:"consumer_workers"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:       "cognisync-pipeline",
		PollInterval:      5 * time.Second,
		BatchSize:         25,
		DefaultRetryLimit: DefaultRetryLimit,
		PublishTimeout:    10 * time.Second,
		ReceiveTimeout:    30 * time.Second,
		ConsumerWorkers:   4,
	}
}

func (c Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("core: poll_interval must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("core: batch_size must be positive")
	}
	if c.DefaultRetryLimit < 0 {
		return fmt.Errorf("core: default_retry_limit must not be negative")
	}
	if c.PublishTimeout <= 0 {
		return fmt.Errorf("core: publish_timeout must be positive")
	}
	if c.ReceiveTimeout <= 0 {
		return fmt.Errorf("core: receive_timeout must be positive")
	}
	if c.ConsumerWorkers <= 0 {
		return fmt.Errorf("core: consumer_workers must be positive")
	}
	return nil
}

// RawConfigLoader supplies raw key/value configuration from whatever source
// hosts the pipeline (file, env, flags).
type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

// ResolveConfig layers defaults < loaded < runtime and validates the result.
func ResolveConfig(ctx context.Context, loader RawConfigLoader, runtime map[string]any) (Config, error) {
	defaults := DefaultConfig()

	raw := map[string]any{}
	if loader != nil {
		loaded, err := loader.LoadRaw(ctx)
		if err != nil {
			return Config{}, fmt.Errorf("core: load raw config: %w", err)
		}
		raw = loaded
	}

	if runtime == nil {
		runtime = map[string]any{}
	}
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("config", 10),
			raw,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtime,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}

	cfg, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: build config: %w", err)
	}
	return cfg, nil
}
