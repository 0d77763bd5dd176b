package db

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// DefaultConfig returns a postgres configuration with sensible pool defaults
func DefaultConfig() *Config {
	return &Config{
		Driver:          DriverPostgres,
		Host:            "localhost",
		Port:            5432,
		Database:        "recommendations",
		Username:        "postgres",
		Collation:       "utf8mb4_unicode_ci",
		TimeZone:        "UTC",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
		PrepareStmt:     true,
		QueryTimeout:    30 * time.Second,
		Logging: LoggingConfig{
			Level:              "error",
			SlowQueryThreshold: 200 * time.Millisecond,
		},
	}
}

// Validate checks if the database configuration is valid
func (c *Config) Validate() error {
	switch c.driver() {
	case DriverPostgres, DriverMySQL:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Driver)
	}
	if c.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("database port must be between 1 and 65535, got %d", c.Port)
	}
	if c.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Username == "" {
		return fmt.Errorf("database username is required")
	}
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("max_open_conns must be at least 1")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("max_idle_conns cannot be greater than max_open_conns")
	}

	// Validate TLS configuration if SSL is enabled
	if c.SSL.Enabled && !c.SSL.SkipVerify {
		if err := c.validateTLSFiles(); err != nil {
			return fmt.Errorf("TLS configuration error: %w", err)
		}
	}

	return nil
}

func (c *Config) driver() string {
	if c.Driver == "" {
		return DriverPostgres
	}
	return strings.ToLower(c.Driver)
}

// validateTLSFiles validates that TLS certificate files exist and are readable
func (c *Config) validateTLSFiles() error {
	if c.SSL.CAFile != "" {
		if _, err := os.Stat(c.SSL.CAFile); err != nil {
			return fmt.Errorf("CA file not accessible: %w", err)
		}
	}

	// Both cert and key must be provided together
	if c.SSL.CertFile != "" || c.SSL.KeyFile != "" {
		if c.SSL.CertFile == "" || c.SSL.KeyFile == "" {
			return fmt.Errorf("both CertFile and KeyFile must be provided together")
		}
		if _, err := os.Stat(c.SSL.CertFile); err != nil {
			return fmt.Errorf("client certificate file not accessible: %w", err)
		}
		if _, err := os.Stat(c.SSL.KeyFile); err != nil {
			return fmt.Errorf("client key file not accessible: %w", err)
		}
	}

	return nil
}

// GetDSN returns the data source name for the configured driver
func (c *Config) GetDSN() (string, error) {
	if c.driver() == DriverMySQL {
		return c.mysqlDSN()
	}
	return c.postgresDSN(), nil
}

// postgresDSN builds a libpq keyword/value DSN understood by pgx
func (c *Config) postgresDSN() string {
	parts := []string{
		"host=" + c.Host,
		fmt.Sprintf("port=%d", c.Port),
		"user=" + c.Username,
		"dbname=" + c.Database,
		"TimeZone=" + parseLocation(c.TimeZone).String(),
	}
	if c.Password != "" {
		parts = append(parts, "password="+quoteDSNValue(c.Password))
	}

	switch {
	case !c.SSL.Enabled:
		parts = append(parts, "sslmode=disable")
	case c.SSL.SkipVerify:
		parts = append(parts, "sslmode=require")
	default:
		parts = append(parts, "sslmode=verify-full")
		if c.SSL.CAFile != "" {
			parts = append(parts, "sslrootcert="+c.SSL.CAFile)
		}
		if c.SSL.CertFile != "" {
			parts = append(parts, "sslcert="+c.SSL.CertFile, "sslkey="+c.SSL.KeyFile)
		}
	}
	return strings.Join(parts, " ")
}

func quoteDSNValue(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// mysqlDSN uses the official MySQL driver config builder for safe DSN construction
func (c *Config) mysqlDSN() (string, error) {
	cfg := mysql.Config{
		User:                 c.Username,
		Passwd:               c.Password,
		Net:                  "tcp",
		Addr:                 fmt.Sprintf("%s:%d", c.Host, c.Port),
		DBName:               c.Database,
		Collation:            c.Collation,
		Loc:                  parseLocation(c.TimeZone),
		ParseTime:            true,
		AllowNativePasswords: true,
	}

	if c.SSL.Enabled {
		if c.SSL.SkipVerify {
			cfg.TLSConfig = "skip-verify"
		} else {
			tlsConfig, err := c.buildTLSConfig()
			if err != nil {
				return "", err
			}
			// Registration under the same name is idempotent for the driver
			tlsName := c.generateTLSConfigName()
			if err := mysql.RegisterTLSConfig(tlsName, tlsConfig); err != nil {
				return "", fmt.Errorf("failed to register TLS config: %w", err)
			}
			cfg.TLSConfig = tlsName
		}
	}

	return cfg.FormatDSN(), nil
}

func (c *Config) buildTLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: c.SSL.ServerName}

	if c.SSL.CAFile != "" {
		caCert, err := os.ReadFile(c.SSL.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("invalid CA certificate in %s", c.SSL.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	if c.SSL.CertFile != "" && c.SSL.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.SSL.CertFile, c.SSL.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// generateTLSConfigName derives a stable registration name from the SSL settings
// so that several Config instances do not collide in the driver registry
func (c *Config) generateTLSConfigName() string {
	h := sha256.New()
	h.Write([]byte(c.SSL.CAFile))
	h.Write([]byte(c.SSL.CertFile))
	h.Write([]byte(c.SSL.KeyFile))
	h.Write([]byte(c.SSL.ServerName))
	return "recsync_tls_" + hex.EncodeToString(h.Sum(nil))[:16]
}

// parseLocation parses timezone string to *time.Location, falling back to UTC
func parseLocation(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}
