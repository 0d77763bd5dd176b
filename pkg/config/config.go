// Package config loads the application configuration. Values are layered:
// built-in defaults, then an optional YAML file, then RECSYNC_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/ammar0144/recsync/pkg/api"
	"github.com/ammar0144/recsync/pkg/db"
	"github.com/ammar0144/recsync/pkg/logging"
	"github.com/ammar0144/recsync/pkg/pipeline"
	"github.com/ammar0144/recsync/pkg/readout"
	"github.com/ammar0144/recsync/pkg/redis"
	"github.com/ammar0144/recsync/pkg/similarity"
	"github.com/ammar0144/recsync/pkg/supervisor"
	"github.com/ammar0144/recsync/pkg/trigger"
)

// EnvPrefix prefixes every environment override: RECSYNC_DB_HOST -> db.host
const EnvPrefix = "RECSYNC_"

// ConfigPathEnvVar names an explicit config file
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched when CONFIG_PATH is unset
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/recsync/config.yaml",
}

// Config is the complete application configuration
type Config struct {
	Logging    logging.Config        `koanf:"logging" yaml:"logging"`
	HTTP       api.Config            `koanf:"http" yaml:"http"`
	DB         db.Config             `koanf:"db" yaml:"db"`
	Redis      redis.Config          `koanf:"redis" yaml:"redis"`
	Similarity similarity.Config     `koanf:"similarity" yaml:"similarity"`
	Pipeline   pipeline.Config       `koanf:"pipeline" yaml:"pipeline"`
	Readout    readout.Config        `koanf:"readout" yaml:"readout"`
	Trigger    trigger.Config        `koanf:"trigger" yaml:"trigger"`
	Supervisor supervisor.TreeConfig `koanf:"supervisor" yaml:"supervisor"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Logging:    logging.DefaultConfig(),
		HTTP:       api.DefaultConfig(),
		DB:         *db.DefaultConfig(),
		Redis:      *redis.DefaultConfig(),
		Similarity: similarity.DefaultConfig(),
		Pipeline:   *pipeline.DefaultConfig(),
		Readout:    readout.DefaultConfig(),
		Trigger:    trigger.DefaultConfig(),
		Supervisor: supervisor.DefaultTreeConfig(),
	}
}

// Validate checks every section
func (c *Config) Validate() error {
	return errors.Join(
		c.HTTP.Validate(),
		c.DB.Validate(),
		c.Redis.Validate(),
		c.Similarity.Validate(),
		c.Pipeline.Validate(),
		c.Trigger.Validate(),
	)
}

// Load builds the configuration from defaults, the config file and the environment
func Load() (*Config, error) {
	return LoadFile(findConfigFile())
}

// LoadFile is Load with an explicit config file. An empty path skips the file layer.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// Layer 3: environment
	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// nested config blocks, so that RECSYNC_REDIS_STAGING_LEASE_TTL finds
// redis.staging.lease_ttl instead of redis.staging_lease_ttl
var subsections = map[string][]string{
	"db":    {"ssl", "logging"},
	"redis": {"staging", "logging"},
}

// envTransformFunc maps RECSYNC_SECTION_FIELD_NAME to section.field_name
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	section, rest, ok := strings.Cut(key, "_")
	if !ok {
		return key
	}
	for _, sub := range subsections[section] {
		if field, found := strings.CutPrefix(rest, sub+"_"); found {
			return section + "." + sub + "." + field
		}
	}
	return section + "." + rest
}

// environment values arrive as strings; these paths are lists
var sliceConfigPaths = []string{
	"trigger.brokers",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		var parts []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}
