package api

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Config holds HTTP server settings
type Config struct {
	Host            string        `json:"host" yaml:"host" koanf:"host"`
	Port            int           `json:"port" yaml:"port" koanf:"port"`
	UploadDir       string        `json:"upload_dir" yaml:"upload_dir" koanf:"upload_dir"`
	MaxUploadBytes  int64         `json:"max_upload_bytes" yaml:"max_upload_bytes" koanf:"max_upload_bytes"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" koanf:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" koanf:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" koanf:"shutdown_timeout"`
}

// DefaultConfig returns the default HTTP configuration
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8000,
		UploadDir:       "data/uploads",
		MaxUploadBytes:  256 << 20, // 256MB
		ReadTimeout:     5 * time.Minute,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Validate checks if the HTTP configuration is valid
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535, got %d", c.Port)
	}
	if c.UploadDir == "" {
		return fmt.Errorf("http.upload_dir is required")
	}
	if c.MaxUploadBytes < 1 {
		return fmt.Errorf("http.max_upload_bytes must be positive")
	}
	return nil
}

// Addr returns the listen address
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
