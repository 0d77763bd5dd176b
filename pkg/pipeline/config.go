package pipeline

import (
	"fmt"
	"time"
)

// Atomicity modes
const (
	// AtomicityBatch commits every batch on its own; a failed job leaves the
	// batches committed before the failure in place
	AtomicityBatch = "batch"
	// AtomicityJob wraps all batches of a job in one unit of work
	AtomicityJob = "job"
)

// Config holds publish pipeline settings
type Config struct {
	BatchSize     int           `json:"batch_size" yaml:"batch_size" koanf:"batch_size"`
	Atomicity     string        `json:"atomicity" yaml:"atomicity" koanf:"atomicity"`
	BatchTimeout  time.Duration `json:"batch_timeout" yaml:"batch_timeout" koanf:"batch_timeout"`
	JobTimeout    time.Duration `json:"job_timeout" yaml:"job_timeout" koanf:"job_timeout"`
	RetryAttempts int           `json:"retry_attempts" yaml:"retry_attempts" koanf:"retry_attempts"`
	RetryDelay    time.Duration `json:"retry_delay" yaml:"retry_delay" koanf:"retry_delay"`
	MaxJobs       int           `json:"max_jobs" yaml:"max_jobs" koanf:"max_jobs"` // concurrently running jobs, 0 = unlimited
}

// DefaultConfig returns the default pipeline configuration
func DefaultConfig() *Config {
	return &Config{
		BatchSize:     1000,
		Atomicity:     AtomicityBatch,
		BatchTimeout:  2 * time.Minute,
		JobTimeout:    30 * time.Minute,
		RetryAttempts: 3,
		RetryDelay:    10 * time.Second,
		MaxJobs:       1,
	}
}

// Validate checks if the pipeline configuration is valid
func (c *Config) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("pipeline.batch_size must be at least 1, got %d", c.BatchSize)
	}
	switch c.Atomicity {
	case AtomicityBatch, AtomicityJob:
	default:
		return fmt.Errorf("pipeline.atomicity must be %q or %q, got %q", AtomicityBatch, AtomicityJob, c.Atomicity)
	}
	if c.BatchTimeout < 0 || c.JobTimeout < 0 {
		return fmt.Errorf("pipeline timeouts must not be negative")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("pipeline.retry_attempts must be at least 1, got %d", c.RetryAttempts)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("pipeline.retry_delay must not be negative")
	}
	if c.MaxJobs < 0 {
		return fmt.Errorf("pipeline.max_jobs must not be negative")
	}
	return nil
}
