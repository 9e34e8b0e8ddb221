package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for dbbridge-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	// Tenant datasource connection management
	Datasource DatasourceConfig `yaml:"datasource"`

	// Schema cache behavior
	SchemaCache SchemaCacheConfig `yaml:"schema_cache"`

	// Change-notification listener behavior
	Listener ListenerConfig `yaml:"listener"`

	// Optional remote cache store (in-process store is used when Host is empty)
	Redis RedisConfig `yaml:"redis"`
}

// DatasourceConfig holds tenant connection management settings.
type DatasourceConfig struct {
	// ConnectionTTLMinutes is how long idle tenant connections are kept alive.
	ConnectionTTLMinutes int `yaml:"connection_ttl_minutes" env:"DATASOURCE_CONNECTION_TTL_MINUTES" env-default:"30"`
	// PoolMaxConns is the maximum number of connections per tenant pool.
	PoolMaxConns int32 `yaml:"pool_max_conns" env:"DATASOURCE_POOL_MAX_CONNS" env-default:"10"`
	// PoolMinConns is the minimum number of connections per tenant pool.
	PoolMinConns int32 `yaml:"pool_min_conns" env:"DATASOURCE_POOL_MIN_CONNS" env-default:"0"`
	// ExecuteTimeoutSeconds bounds every CRUD engine call.
	ExecuteTimeoutSeconds int `yaml:"execute_timeout_seconds" env:"DATASOURCE_EXECUTE_TIMEOUT_SECONDS" env-default:"30"`
}

// SchemaCacheConfig holds schema cache settings.
type SchemaCacheConfig struct {
	// IntrospectTimeoutSeconds bounds a single introspection run.
	IntrospectTimeoutSeconds int `yaml:"introspect_timeout_seconds" env:"SCHEMA_CACHE_INTROSPECT_TIMEOUT_SECONDS" env-default:"60"`
	// MaxAgeMinutes forces re-introspection of entries older than this on the
	// next read. Engines without a change feed (document stores, SQL Server)
	// rely on this for eventual refresh. Zero disables age-based refresh.
	MaxAgeMinutes int `yaml:"max_age_minutes" env:"SCHEMA_CACHE_MAX_AGE_MINUTES" env-default:"60"`
}

// ListenerConfig holds change-notification listener settings.
type ListenerConfig struct {
	// MaxReconnectAttempts caps reconnection tries before the listener
	// surfaces a degraded state. Zero uses the retry package default.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts" env:"LISTENER_MAX_RECONNECT_ATTEMPTS" env-default:"10"`
	// ChannelBuffer is the size of the change-event channel.
	ChannelBuffer int `yaml:"channel_buffer" env:"LISTENER_CHANNEL_BUFFER" env-default:"64"`
}

// RedisConfig holds optional Redis settings for the remote schema cache store.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// Load reads configuration from config.yaml (if present) and the environment.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Datasource.PoolMaxConns <= 0 {
		return fmt.Errorf("datasource.pool_max_conns must be positive, got %d", c.Datasource.PoolMaxConns)
	}
	if c.Datasource.PoolMinConns > c.Datasource.PoolMaxConns {
		return fmt.Errorf("datasource.pool_min_conns (%d) exceeds pool_max_conns (%d)",
			c.Datasource.PoolMinConns, c.Datasource.PoolMaxConns)
	}
	if c.Datasource.ExecuteTimeoutSeconds <= 0 {
		return fmt.Errorf("datasource.execute_timeout_seconds must be positive")
	}
	if c.SchemaCache.IntrospectTimeoutSeconds <= 0 {
		return fmt.Errorf("schema_cache.introspect_timeout_seconds must be positive")
	}
	return nil
}
