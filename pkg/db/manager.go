package db

import (
	"context"
	"database/sql"
	"fmt"
	stdlog "log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewManager creates a database manager, opening the dialector selected by config.Driver
func NewManager(config *Config) (*Manager, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dsn, err := config.GetDSN()
	if err != nil {
		return nil, fmt.Errorf("failed to build dsn: %w", err)
	}

	var dialector gorm.Dialector
	switch config.driver() {
	case DriverMySQL:
		dialector = mysql.Open(dsn)
	default:
		dialector = postgres.Open(dsn)
	}

	return NewManagerWithDialector(config, dialector)
}

// NewManagerWithDialector opens a manager over an explicit GORM dialector.
// Tests use it with an in-memory sqlite dialector.
func NewManagerWithDialector(config *Config, dialector gorm.Dialector) (*Manager, error) {
	if config == nil {
		config = DefaultConfig()
	}

	gormConfig := &gorm.Config{
		SkipDefaultTransaction: true,
		PrepareStmt:            config.PrepareStmt,
		TranslateError:         true,
		Logger:                 newGormLogger(config.Logging),
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	return &Manager{
		config: config,
		db:     db,
	}, nil
}

// DB returns the GORM database instance
func (m *Manager) DB() *gorm.DB {
	return m.db
}

// Close closes the database connection pool
func (m *Manager) Close() error {
	if m.db != nil {
		sqlDB, err := m.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// WithQueryTimeout wraps ctx with the configured query timeout, if any
func (m *Manager) WithQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.config != nil && m.config.QueryTimeout > 0 {
		return context.WithTimeout(ctx, m.config.QueryTimeout)
	}
	return ctx, func() {}
}

// Ping tests the database connection
func (m *Manager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Stats returns database connection statistics
func (m *Manager) Stats() (sql.DBStats, error) {
	sqlDB, err := m.db.DB()
	if err != nil {
		return sql.DBStats{}, err
	}
	return sqlDB.Stats(), nil
}

func newGormLogger(cfg LoggingConfig) logger.Interface {
	threshold := cfg.SlowQueryThreshold
	if threshold <= 0 {
		threshold = 200 * time.Millisecond
	}
	return logger.New(stdlog.New(os.Stdout, "\r\n", stdlog.LstdFlags), logger.Config{
		SlowThreshold:             threshold,
		LogLevel:                  getLogLevel(cfg.Level),
		IgnoreRecordNotFoundError: true,
	})
}

func getLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "info":
		return logger.Info
	case "warn":
		return logger.Warn
	case "error":
		return logger.Error
	case "silent":
		return logger.Silent
	default:
		return logger.Error // Default to error
	}
}
