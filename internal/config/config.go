package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultPath is looked up in the working directory when no path is given.
const DefaultPath = "calltrace.yaml"

// Config is the calltrace.yaml file.
type Config struct {
	Listen  string      `yaml:"listen"`
	Metrics bool        `yaml:"metrics"`
	Log     LogConfig   `yaml:"log"`
	Trace   TraceConfig `yaml:"trace"`
	Redis   RedisConfig `yaml:"redis"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	JSONFile string `yaml:"json_file"`
}

type TraceConfig struct {
	FeedCapacity int `yaml:"feed_capacity"`
	ClientBuffer int `yaml:"client_buffer"`
}

// RedisConfig enables update publishing when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Listen: ":8080",
		Log:    LogConfig{Level: "info"},
		Trace: TraceConfig{
			FeedCapacity: 1000,
			ClientBuffer: 1000,
		},
		Redis: RedisConfig{Prefix: "calltrace:"},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values no component can work with.
func (c Config) Validate() error {
	if c.Trace.FeedCapacity < 0 {
		return fmt.Errorf("trace.feed_capacity must not be negative")
	}
	if c.Trace.ClientBuffer < 0 {
		return fmt.Errorf("trace.client_buffer must not be negative")
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("redis.db must not be negative")
	}
	return nil
}
