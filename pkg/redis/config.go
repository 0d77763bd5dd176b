package redis

import (
	"fmt"
	"time"
)

// Config holds Redis configuration for the two cache generations.
// ACTIVE and SHADOW are two database indices on the same server.
type Config struct {
	// Redis Connection
	Host     string `json:"host" yaml:"host" koanf:"host"`
	Port     int    `json:"port" yaml:"port" koanf:"port"`
	Username string `json:"username" yaml:"username" koanf:"username"`
	Password string `json:"password" yaml:"password" koanf:"password"`

	// Generations
	ActiveDatabase int `json:"active_database" yaml:"active_database" koanf:"active_database"` // readers only query this one
	ShadowDatabase int `json:"shadow_database" yaml:"shadow_database" koanf:"shadow_database"` // pre-update values staged for rollback

	// Connection Pool
	PoolSize     int           `json:"pool_size" yaml:"pool_size" koanf:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns" yaml:"min_idle_conns" koanf:"min_idle_conns"`
	MaxConnAge   time.Duration `json:"max_conn_age" yaml:"max_conn_age" koanf:"max_conn_age"`
	PoolTimeout  time.Duration `json:"pool_timeout" yaml:"pool_timeout" koanf:"pool_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout" koanf:"idle_timeout"`

	// Performance
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout" koanf:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" koanf:"write_timeout"`
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout" koanf:"dial_timeout"`

	// Staging
	Staging StagingConfig `json:"staging" yaml:"staging" koanf:"staging"`

	// Cache Logging
	Logging LoggingConfig `json:"logging" yaml:"logging" koanf:"logging"`
}

// StagingConfig controls the single-writer lease on the shadow generation
type StagingConfig struct {
	LeaseTTL      time.Duration `json:"lease_ttl" yaml:"lease_ttl" koanf:"lease_ttl"`                   // refreshed on every bulk set
	LeaseWait     time.Duration `json:"lease_wait" yaml:"lease_wait" koanf:"lease_wait"`                // give up with ErrStagingRace after this
	LeasePoll     time.Duration `json:"lease_poll" yaml:"lease_poll" koanf:"lease_poll"`                // retry interval while waiting
	DeleteBatch   int           `json:"delete_batch" yaml:"delete_batch" koanf:"delete_batch"`          // keys per DEL / MGET during commit and rollback
	ScanBatchSize int64         `json:"scan_batch_size" yaml:"scan_batch_size" koanf:"scan_batch_size"` // SCAN COUNT for PurgeShadow
}

// LoggingConfig controls Redis cache logging behavior
type LoggingConfig struct {
	LogCacheMisses bool `json:"log_cache_misses" yaml:"log_cache_misses" koanf:"log_cache_misses"`
	LogStaging     bool `json:"log_staging" yaml:"log_staging" koanf:"log_staging"`
}

// DefaultConfig returns a Redis configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Host:           "localhost",
		Port:           6379,
		ActiveDatabase: 0,
		ShadowDatabase: 1,
		PoolSize:       10,
		MinIdleConns:   2,
		MaxConnAge:     time.Hour,
		PoolTimeout:    4 * time.Second,
		IdleTimeout:    5 * time.Minute,
		ReadTimeout:    3 * time.Second,
		WriteTimeout:   3 * time.Second,
		DialTimeout:    5 * time.Second,
		Staging: StagingConfig{
			LeaseTTL:      time.Minute,
			LeaseWait:     30 * time.Second,
			LeasePoll:     100 * time.Millisecond,
			DeleteBatch:   1000,
			ScanBatchSize: 100,
		},
		Logging: LoggingConfig{
			LogCacheMisses: false,
			LogStaging:     true,
		},
	}
}

// Validate checks if the Redis configuration is valid
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("redis host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("redis port must be between 1 and 65535, got %d", c.Port)
	}
	if c.ActiveDatabase < 0 || c.ShadowDatabase < 0 {
		return fmt.Errorf("redis database indices must not be negative")
	}
	if c.ActiveDatabase == c.ShadowDatabase {
		return fmt.Errorf("active and shadow generations must use different databases, both are %d", c.ActiveDatabase)
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("pool_size must be at least 1")
	}
	if c.Staging.LeaseTTL <= 0 {
		return fmt.Errorf("staging.lease_ttl must be positive")
	}
	if c.Staging.LeaseWait < 0 {
		return fmt.Errorf("staging.lease_wait must not be negative")
	}
	if c.Staging.DeleteBatch < 1 {
		return fmt.Errorf("staging.delete_batch must be at least 1")
	}

	return nil
}

// GetAddr returns the Redis connection address
func (c *Config) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
