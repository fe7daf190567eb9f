package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.opentelemetry.io/otel/attribute"
)

// Cache backends.
const (
	CacheMemory   = "memory"
	CacheRedis    = "redis"
	CachePostgres = "postgres"
)

// Config holds all configuration for the service.
type Config struct {
	// Server
	Port     int    `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Persistence. An empty DATABASE_URL keeps configs, events and tracking in memory.
	DatabaseURL string `envconfig:"DATABASE_URL"`

	// Rate cache
	CacheBackend         string        `envconfig:"CACHE_BACKEND" default:"memory"`
	RedisURL             string        `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	CacheDefaultTTL      time.Duration `envconfig:"CACHE_DEFAULT_TTL" default:"24h"`
	CacheMetroTTL        time.Duration `envconfig:"CACHE_METRO_TTL" default:"12h"`
	CacheMetroPrefixes   []string      `envconfig:"CACHE_METRO_PREFIXES" default:"110,400,560,600,700,500"`
	CacheJanitorInterval time.Duration `envconfig:"CACHE_JANITOR_INTERVAL" default:"1h"`

	// Orchestrator
	ProviderTimeout    time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"10s"`
	FallbackProviders  []string      `envconfig:"FALLBACK_PROVIDERS"`
	BreakerMaxFailures uint32        `envconfig:"BREAKER_MAX_FAILURES" default:"5"`
	BreakerOpenTimeout time.Duration `envconfig:"BREAKER_OPEN_TIMEOUT" default:"30s"`

	// Shiprocket
	ShiprocketBaseURL    string        `envconfig:"SHIPROCKET_BASE_URL" default:"https://apiv2.shiprocket.in/v1/external"`
	ShiprocketUseMock    bool          `envconfig:"SHIPROCKET_USE_MOCK" default:"false"`
	ShiprocketRateLimit  float64       `envconfig:"SHIPROCKET_RATE_LIMIT" default:"5"`
	ShiprocketTimeout    time.Duration `envconfig:"SHIPROCKET_TIMEOUT" default:"15s"`
	ShiprocketEmail      string        `envconfig:"SHIPROCKET_EMAIL"`
	ShiprocketPassword   string        `envconfig:"SHIPROCKET_PASSWORD"`
	ShiprocketPickup     string        `envconfig:"SHIPROCKET_PICKUP_LOCATION" default:"Primary"`
	ShiprocketPickupCode string        `envconfig:"SHIPROCKET_PICKUP_POSTAL_CODE"`

	// Local development: registers a scriptable mock provider
	MockProviderEnabled bool `envconfig:"MOCK_PROVIDER_ENABLED" default:"false"`

	// Telemetry
	OTELEnabled  bool   `envconfig:"OTEL_ENABLED" default:"false"`
	OTELEndpoint string `envconfig:"OTEL_ENDPOINT" default:"http://localhost:4318"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"courierbridge"`
	Version      string `envconfig:"SERVICE_VERSION" default:"0.1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	c.CacheBackend = strings.ToLower(strings.TrimSpace(c.CacheBackend))
	switch c.CacheBackend {
	case CacheMemory, CacheRedis:
	case CachePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("loading config: CACHE_BACKEND=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("loading config: unknown CACHE_BACKEND %q", c.CacheBackend)
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("loading config: PROVIDER_TIMEOUT must be positive")
	}
	if c.CacheDefaultTTL <= 0 || c.CacheMetroTTL <= 0 {
		return fmt.Errorf("loading config: cache TTLs must be positive")
	}
	return nil
}

// ShiprocketCredentials returns the bootstrap credential blob, or nil when no account is configured.
func (c *Config) ShiprocketCredentials() json.RawMessage {
	if c.ShiprocketEmail == "" || c.ShiprocketPassword == "" {
		return nil
	}
	data, _ := json.Marshal(map[string]string{
		"email":            c.ShiprocketEmail,
		"password":         c.ShiprocketPassword,
		"pickupLocation":   c.ShiprocketPickup,
		"pickupPostalCode": c.ShiprocketPickupCode,
	})
	return data
}

// Attributes returns the deployment attributes attached to the trace resource.
func (c *Config) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("cache.backend", c.CacheBackend),
		attribute.Bool("shiprocket.mock", c.ShiprocketUseMock),
		attribute.Bool("persistence.database", c.DatabaseURL != ""),
	}
}
