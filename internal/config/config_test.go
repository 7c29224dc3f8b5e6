package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
		check   func(*Config) bool
	}{
		{
			name: "loads with all required vars",
			envVars: map[string]string{
				"PORT":             "8080",
				"ENV":              "production",
				"DATABASE_URL":     "postgres://localhost/test",
				"API_TOKEN":        "token123",
				"DELIVERY_TIMEOUT": "5s",
			},
			wantErr: false,
			check: func(c *Config) bool {
				return c.Port == 8080 &&
					c.Environment == "production" &&
					c.DatabaseURL == "postgres://localhost/test" &&
					c.APIToken == "token123" &&
					c.DeliveryTimeout == 5*time.Second
			},
		},
		{
			name: "uses defaults when optional vars missing",
			envVars: map[string]string{
				"DATABASE_URL": "postgres://localhost/test",
				"API_TOKEN":    "token123",
			},
			wantErr: false,
			check: func(c *Config) bool {
				return c.Port == 3000 &&
					c.Environment == "development" &&
					c.StoreDriver == StoreDriverPostgres &&
					c.DispatchMode == DispatchModeSync &&
					c.QueueWorkers == 4 &&
					c.DeliveryTimeout == 10*time.Second &&
					c.DispatchConcurrency == 8 &&
					c.SweepSchedule == "@every 15s" &&
					c.SweepBatchSize == 50 &&
					c.SweepLease == time.Minute &&
					c.SweepRatePerSecond == 20 &&
					c.SecretGracePeriod == 24*time.Hour &&
					c.RateLimitPerMin == 600
			},
		},
		{
			name: "memory driver needs no database",
			envVars: map[string]string{
				"STORE_DRIVER": "memory",
				"API_TOKEN":    "token123",
			},
			wantErr: false,
			check: func(c *Config) bool {
				return c.StoreDriver == StoreDriverMemory && !c.QueueEnabled()
			},
		},
		{
			name: "queue mode with redis",
			envVars: map[string]string{
				"STORE_DRIVER":  "memory",
				"API_TOKEN":     "token123",
				"DISPATCH_MODE": "queue",
				"REDIS_URL":     "redis://localhost:6379/0",
			},
			wantErr: false,
			check: func(c *Config) bool {
				return c.QueueEnabled()
			},
		},
		{
			name: "fails when DATABASE_URL missing for postgres",
			envVars: map[string]string{
				"API_TOKEN": "token123",
			},
			wantErr: true,
		},
		{
			name: "fails when API_TOKEN missing",
			envVars: map[string]string{
				"DATABASE_URL": "postgres://localhost/test",
			},
			wantErr: true,
		},
		{
			name: "fails when queue mode has no redis",
			envVars: map[string]string{
				"STORE_DRIVER":  "memory",
				"API_TOKEN":     "token123",
				"DISPATCH_MODE": "queue",
			},
			wantErr: true,
		},
		{
			name: "fails on unknown store driver",
			envVars: map[string]string{
				"STORE_DRIVER": "mysql",
				"API_TOKEN":    "token123",
			},
			wantErr: true,
		},
		{
			name: "fails on non-positive sweep rate",
			envVars: map[string]string{
				"STORE_DRIVER":          "memory",
				"API_TOKEN":             "token123",
				"SWEEP_RATE_PER_SECOND": "0",
			},
			wantErr: true,
		},
		{
			name: "fails when sweep lease does not outlast delivery timeout",
			envVars: map[string]string{
				"STORE_DRIVER":     "memory",
				"API_TOKEN":        "token123",
				"DELIVERY_TIMEOUT": "30s",
				"SWEEP_LEASE":      "30s",
			},
			wantErr: true,
		},
		{
			name: "accepts sweep lease longer than delivery timeout",
			envVars: map[string]string{
				"STORE_DRIVER":     "memory",
				"API_TOKEN":        "token123",
				"DELIVERY_TIMEOUT": "30s",
				"SWEEP_LEASE":      "45s",
			},
			wantErr: false,
			check: func(c *Config) bool {
				return c.SweepLease == 45*time.Second
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear environment
			os.Clearenv()

			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg, err := Load()

			if tt.wantErr {
				if err == nil {
					t.Errorf("Load() expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Errorf("Load() unexpected error: %v", err)
				return
			}

			if tt.check != nil && !tt.check(cfg) {
				t.Errorf("Load() config check failed, got: %+v", cfg)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want bool
	}{
		{"development", "development", true},
		{"production", "production", false},
		{"staging", "staging", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{Environment: tt.env}
			if got := c.IsDevelopment(); got != tt.want {
				t.Errorf("IsDevelopment() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfig_IsProduction(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want bool
	}{
		{"production", "production", true},
		{"development", "development", false},
		{"staging", "staging", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{Environment: tt.env}
			if got := c.IsProduction(); got != tt.want {
				t.Errorf("IsProduction() = %v, want %v", got, tt.want)
			}
		})
	}
}
