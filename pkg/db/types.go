package db

import (
	"time"

	"gorm.io/gorm"
)

// Supported relational drivers
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Config holds relational store (GORM) configuration
type Config struct {
	// Driver selects the GORM dialector: postgres (default) or mysql
	Driver string `json:"driver" yaml:"driver" koanf:"driver"`

	// Connection Settings
	Host     string `json:"host" yaml:"host" koanf:"host"`
	Port     int    `json:"port" yaml:"port" koanf:"port"`
	Database string `json:"database" yaml:"database" koanf:"database"`
	Username string `json:"username" yaml:"username" koanf:"username"`
	Password string `json:"password" yaml:"password" koanf:"password"`

	// Connection Pool Settings
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns" koanf:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns" koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime" koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time" koanf:"conn_max_idle_time"`

	// Dialect Specific Settings
	Collation string `json:"collation" yaml:"collation" koanf:"collation"` // mysql only. Default: utf8mb4_unicode_ci
	TimeZone  string `json:"timezone" yaml:"timezone" koanf:"timezone"`    // Default: UTC

	// GORM Settings
	PrepareStmt  bool          `json:"prepare_stmt" yaml:"prepare_stmt" koanf:"prepare_stmt"`
	QueryTimeout time.Duration `json:"query_timeout" yaml:"query_timeout" koanf:"query_timeout"`
	AutoMigrate  bool          `json:"auto_migrate" yaml:"auto_migrate" koanf:"auto_migrate"` // development only

	// SSL Configuration
	SSL SSLConfig `json:"ssl" yaml:"ssl" koanf:"ssl"`

	// Logging Configuration
	Logging LoggingConfig `json:"logging" yaml:"logging" koanf:"logging"`
}

// SSLConfig holds SSL/TLS configuration
type SSLConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled" koanf:"enabled"`
	CertFile   string `json:"cert_file" yaml:"cert_file" koanf:"cert_file"`
	KeyFile    string `json:"key_file" yaml:"key_file" koanf:"key_file"`
	CAFile     string `json:"ca_file" yaml:"ca_file" koanf:"ca_file"`
	SkipVerify bool   `json:"skip_verify" yaml:"skip_verify" koanf:"skip_verify"` // Skip certificate verification (not recommended for production)
	ServerName string `json:"server_name" yaml:"server_name" koanf:"server_name"`
}

// LoggingConfig controls GORM logging behavior
type LoggingConfig struct {
	Level              string        `json:"level" yaml:"level" koanf:"level"` // silent, error, warn, info
	SlowQueryThreshold time.Duration `json:"slow_query_threshold" yaml:"slow_query_threshold" koanf:"slow_query_threshold"`
}

// Manager manages database connections
type Manager struct {
	config *Config
	db     *gorm.DB
}
