package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	DispatchModeSync  = "sync"
	DispatchModeQueue = "queue"
)

type Config struct {
	// Server
	Port        int    `envconfig:"PORT" default:"3000"`
	Environment string `envconfig:"ENV" default:"development"`

	// Storage
	StoreDriver  string `envconfig:"STORE_DRIVER" default:"postgres"`
	DatabaseURL  string `envconfig:"DATABASE_URL"`
	DatabaseName string `envconfig:"DATABASE_NAME" default:"hookrelay"`

	// Security
	APIToken          string        `envconfig:"API_TOKEN" required:"true"`
	RateLimitPerMin   int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"600"`
	SecretGracePeriod time.Duration `envconfig:"SECRET_GRACE_PERIOD" default:"24h"`

	// Dispatch
	DispatchMode        string        `envconfig:"DISPATCH_MODE" default:"sync"`
	RedisURL            string        `envconfig:"REDIS_URL"`
	QueueWorkers        int           `envconfig:"QUEUE_WORKERS" default:"4"`
	DeliveryTimeout     time.Duration `envconfig:"DELIVERY_TIMEOUT" default:"10s"`
	DispatchConcurrency int           `envconfig:"DISPATCH_CONCURRENCY" default:"8"`

	// Retry sweeper
	SweepSchedule      string        `envconfig:"SWEEP_SCHEDULE" default:"@every 15s"`
	SweepBatchSize     int           `envconfig:"SWEEP_BATCH_SIZE" default:"50"`
	SweepLease         time.Duration `envconfig:"SWEEP_LEASE" default:"1m"`
	SweepRatePerSecond float64       `envconfig:"SWEEP_RATE_PER_SECOND" default:"20"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings that depend on each other.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORE_DRIVER=postgres"))
		}
	case StoreDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.StoreDriver))
	}

	switch c.DispatchMode {
	case DispatchModeSync:
	case DispatchModeQueue:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required when DISPATCH_MODE=queue"))
		}
	default:
		errs = append(errs, fmt.Errorf("DISPATCH_MODE must be %q or %q, got %q", DispatchModeSync, DispatchModeQueue, c.DispatchMode))
	}

	if c.QueueWorkers < 1 {
		errs = append(errs, errors.New("QUEUE_WORKERS must be at least 1"))
	}
	if c.DispatchConcurrency < 1 {
		errs = append(errs, errors.New("DISPATCH_CONCURRENCY must be at least 1"))
	}
	if c.DeliveryTimeout <= 0 {
		errs = append(errs, errors.New("DELIVERY_TIMEOUT must be positive"))
	}
	if c.SweepBatchSize < 1 {
		errs = append(errs, errors.New("SWEEP_BATCH_SIZE must be at least 1"))
	}
	if c.SweepLease <= 0 {
		errs = append(errs, errors.New("SWEEP_LEASE must be positive"))
	} else if c.SweepLease <= c.DeliveryTimeout {
		// a lease shorter than an attempt lets a second worker resend it
		errs = append(errs, fmt.Errorf("SWEEP_LEASE (%s) must be longer than DELIVERY_TIMEOUT (%s)", c.SweepLease, c.DeliveryTimeout))
	}
	if c.SweepRatePerSecond <= 0 {
		errs = append(errs, errors.New("SWEEP_RATE_PER_SECOND must be positive"))
	}
	if c.RateLimitPerMin < 1 {
		errs = append(errs, errors.New("RATE_LIMIT_PER_MINUTE must be at least 1"))
	}

	return errors.Join(errs...)
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) QueueEnabled() bool {
	return c.DispatchMode == DispatchModeQueue
}
