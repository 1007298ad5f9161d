package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the hub binary's yaml configuration. Environment variables
// override the file (see main.go).
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Hub struct {
		WriteTimeoutSec int   `yaml:"write_timeout_sec"`
		ReadTimeoutSec  int   `yaml:"read_timeout_sec"`
		PingIntervalSec int   `yaml:"ping_interval_sec"`
		MaxMessageSize  int64 `yaml:"max_message_size"`
	} `yaml:"hub"`
	NATS struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`
	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
}

func loadConfig(path string) (*Config, error) {
	var config Config
	if path == "" {
		return &config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}

func (c *Config) writeTimeout(def time.Duration) time.Duration {
	if c.Hub.WriteTimeoutSec > 0 {
		return time.Duration(c.Hub.WriteTimeoutSec) * time.Second
	}
	return def
}

func (c *Config) readTimeout(def time.Duration) time.Duration {
	if c.Hub.ReadTimeoutSec > 0 {
		return time.Duration(c.Hub.ReadTimeoutSec) * time.Second
	}
	return def
}

func (c *Config) pingInterval(def time.Duration) time.Duration {
	if c.Hub.PingIntervalSec > 0 {
		return time.Duration(c.Hub.PingIntervalSec) * time.Second
	}
	return def
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
