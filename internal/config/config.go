// Package config loads the YAML settings file shared by the commands and
// fills in defaults for everything left unset. Durations are written as
// whole seconds in the file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// QueryTimeoutEnv overrides the query timeout, in whole seconds.
const QueryTimeoutEnv = "SN_CLI_QUERY_TIMEOUT"

type Config struct {
	DataRoot              string `yaml:"dataRoot"`
	MaxCapacityBytes      uint64 `yaml:"maxCapacityBytes"`
	MinFreeBytes          uint64 `yaml:"minFreeBytes"`
	ReplicationFactor     int    `yaml:"replicationFactor"`
	CacheCapacity         int    `yaml:"cacheCapacity"`
	QueryTimeoutSeconds   int    `yaml:"queryTimeoutSeconds"`
	MaxRetries            int    `yaml:"maxRetries"`
	InitialBackoffMillis  int    `yaml:"initialBackoffMillis"`
	RepairBatchSize       int    `yaml:"repairBatchSize"`
	RepairThrottleSeconds int    `yaml:"repairThrottleSeconds"`
	LogLevel              string `yaml:"logLevel"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	var c Config
	c.applyDefaults()
	return c
}

// Load reads the YAML file at path. A missing file yields the defaults.
func Load(path string) (Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return config, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return config, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	config.applyDefaults()

	if raw := os.Getenv(QueryTimeoutEnv); raw != "" {
		var secs int
		if _, err := fmt.Sscanf(raw, "%d", &secs); err != nil || secs <= 0 {
			return config, fmt.Errorf("config: %s must be a positive number of seconds, got %q", QueryTimeoutEnv, raw)
		}
		config.QueryTimeoutSeconds = secs
	}

	return config, nil
}

func (c *Config) applyDefaults() {
	if c.DataRoot == "" {
		c.DataRoot = "data"
	}
	if c.MaxCapacityBytes == 0 {
		c.MaxCapacityBytes = 2 << 30
	}
	if c.ReplicationFactor == 0 {
		c.ReplicationFactor = 4
	}
	if c.CacheCapacity == 0 {
		c.CacheCapacity = 512
	}
	if c.QueryTimeoutSeconds == 0 {
		c.QueryTimeoutSeconds = 600
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 10
	}
	if c.InitialBackoffMillis == 0 {
		c.InitialBackoffMillis = 1000
	}
	if c.RepairBatchSize == 0 {
		c.RepairBatchSize = 50
	}
	if c.RepairThrottleSeconds == 0 {
		c.RepairThrottleSeconds = 5
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c Config) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutSeconds) * time.Second
}

func (c Config) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffMillis) * time.Millisecond
}

func (c Config) RepairThrottle() time.Duration {
	return time.Duration(c.RepairThrottleSeconds) * time.Second
}
