// Package config manages application configuration loading and validation.
package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies the runtime environment where the cart service operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// GatewayKind selects the persistence gateway backing the cart engine.
type GatewayKind string

const (
	// GatewayMemory keeps cart rows in process memory.
	GatewayMemory GatewayKind = "memory"
	// GatewayPostgres persists cart rows in PostgreSQL.
	GatewayPostgres GatewayKind = "postgres"
	// GatewayWebsocket proxies cart rows through a remote cart service.
	GatewayWebsocket GatewayKind = "ws"
)

// GatewayConfig selects and addresses the persistence gateway.
type GatewayConfig struct {
	Kind GatewayKind `yaml:"kind"`
	URL  string      `yaml:"url"`
}

// DatabaseConfig controls PostgreSQL connectivity and migration behaviour.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"maxConns"`
	MinConns        int32         `yaml:"minConns"`
	MaxConnLifetime time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime time.Duration `yaml:"maxConnIdleTime"`
	RunMigrations   bool          `yaml:"runMigrations"`
}

func (c *DatabaseConfig) applyDefaults() {
	c.DSN = strings.TrimSpace(c.DSN)
	if c.DSN == "" {
		c.DSN = "postgresql://localhost:5432/trolley"
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 16
	}
	if c.MinConns <= 0 {
		c.MinConns = 1
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = 5 * time.Minute
	}
}

// StorageKind selects the local session storage backend.
type StorageKind string

const (
	// StorageFile keeps session identity in a JSON document on disk.
	StorageFile StorageKind = "file"
	// StorageMemory keeps session identity in process memory only.
	StorageMemory StorageKind = "memory"
)

// StorageConfig controls where session identity survives restarts.
type StorageConfig struct {
	Kind StorageKind `yaml:"kind"`
	Path string      `yaml:"path"`
}

// EngineConfig tunes debounce and resync throttling.
type EngineConfig struct {
	DebounceWindow time.Duration `yaml:"debounceWindow"`
	ResyncRate     float64       `yaml:"resyncRate"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// AppConfig is the unified trolley application configuration sourced from YAML.
type AppConfig struct {
	Environment Environment     `yaml:"environment"`
	Gateway     GatewayConfig   `yaml:"gateway"`
	Database    DatabaseConfig  `yaml:"database"`
	Storage     StorageConfig   `yaml:"storage"`
	Engine      EngineConfig    `yaml:"engine"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
}

// Load reads and validates an AppConfig from the provided YAML file.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.normalise()

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c *AppConfig) normalise() {
	c.Environment = Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	if c.Environment == "" {
		c.Environment = EnvDev
	}

	c.Gateway.Kind = GatewayKind(strings.ToLower(strings.TrimSpace(string(c.Gateway.Kind))))
	if c.Gateway.Kind == "" {
		c.Gateway.Kind = GatewayMemory
	}
	c.Gateway.URL = strings.TrimSpace(c.Gateway.URL)

	c.Database.applyDefaults()

	c.Storage.Kind = StorageKind(strings.ToLower(strings.TrimSpace(string(c.Storage.Kind))))
	if c.Storage.Kind == "" {
		c.Storage.Kind = StorageFile
	}
	path := strings.TrimSpace(c.Storage.Path)
	if path == "" {
		path = "trolley-session.json"
	}
	c.Storage.Path = filepath.Clean(path)

	if c.Engine.DebounceWindow <= 0 {
		c.Engine.DebounceWindow = 250 * time.Millisecond
	}
	if c.Engine.ResyncRate <= 0 {
		c.Engine.ResyncRate = 4
	}

	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "trolley"
	}
}

// Validate reports the first configuration inconsistency found.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}

	switch c.Gateway.Kind {
	case GatewayMemory:
	case GatewayPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database dsn required for postgres gateway")
		}
	case GatewayWebsocket:
		if c.Gateway.URL == "" {
			return fmt.Errorf("gateway url required for ws gateway")
		}
		if !strings.HasPrefix(c.Gateway.URL, "ws://") && !strings.HasPrefix(c.Gateway.URL, "wss://") {
			return fmt.Errorf("gateway url must use ws or wss scheme")
		}
	default:
		return fmt.Errorf("gateway kind must be one of memory, postgres, ws")
	}

	switch c.Storage.Kind {
	case StorageFile, StorageMemory:
	default:
		return fmt.Errorf("storage kind must be one of file, memory")
	}

	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database minConns must be <= maxConns")
	}

	if c.Telemetry.EnableMetrics && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("telemetry otlpEndpoint required when metrics enabled")
	}
	return nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := strings.TrimSpace(path)
	candidate = filepath.Clean(candidate)

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
