// Package config loads the docdaemon process configuration and the autobuild
// project configuration. Numeric or boolean settings that are absent or
// malformed fall back to documented defaults; only a missing or unparsable
// autobuild configuration is fatal.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the daemon process configuration.
type Config struct {
	CheckInterval   int    // seconds between repository checks
	MaxContainers   int    // concurrency ceiling for build containers
	APIServer       bool   // serve the websocket status API
	APIServerPort   int    // status API listen port
	MetricsPort     int    // Prometheus /metrics port, 0 disables
	BuildsDir       string // where success archives land
	LogDir          string // where failure logs land
	AutoBuildConfig string // path to the autobuild project file
	EventStore      string // sqlite path for build history, empty disables
	Debug           bool   // keep containers alive, keep raw build commands

	Notifications NotificationConfig
}

// NotificationConfig configures the chat-bridge notifier.
type NotificationConfig struct {
	NATSURL         string `yaml:"nats_url"`
	OnSuccess       bool   `yaml:"on_success"`
	OnFail          bool   `yaml:"on_fail"`
	ChannelMessages bool   `yaml:"channel_messages"`
}

// rawConfig mirrors the yaml file with stringly scalar fields so malformed
// values can be coerced to defaults instead of failing the whole load.
type rawConfig struct {
	CheckInterval   string             `yaml:"check_interval"`
	MaxContainers   string             `yaml:"max_containers"`
	APIServer       string             `yaml:"api_server"`
	APIServerPort   string             `yaml:"api_server_port"`
	MetricsPort     string             `yaml:"metrics_port"`
	BuildsDir       string             `yaml:"builds_dir"`
	LogDir          string             `yaml:"log_dir"`
	AutoBuildConfig string             `yaml:"autobuild_config"`
	EventStore      string             `yaml:"event_store"`
	Debug           string             `yaml:"debug"`
	Notifications   NotificationConfig `yaml:"notifications"`
}

// Load loads the process configuration from the specified file.
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists; existing env vars win.
	if err := godotenv.Load(); err == nil {
		slog.Debug("Loaded environment variables from .env")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the yaml content
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return raw.normalize(), nil
}

// normalize coerces raw string settings into their typed form, substituting
// defaults for anything absent or malformed.
func (r *rawConfig) normalize() *Config {
	cfg := &Config{
		CheckInterval:   coerceInt("check_interval", r.CheckInterval, DefaultCheckInterval),
		MaxContainers:   coerceInt("max_containers", r.MaxContainers, DefaultMaxContainers),
		APIServerPort:   coerceInt("api_server_port", r.APIServerPort, DefaultAPIServerPort),
		MetricsPort:     coerceInt("metrics_port", r.MetricsPort, 0),
		BuildsDir:       r.BuildsDir,
		LogDir:          r.LogDir,
		AutoBuildConfig: r.AutoBuildConfig,
		EventStore:      r.EventStore,
		Debug:           r.Debug == "true",
		Notifications:   r.Notifications,
	}

	switch r.APIServer {
	case "true":
		cfg.APIServer = true
	case "false", "":
		cfg.APIServer = false
	default:
		slog.Warn("Invalid option specified for 'api_server' in config file! Valid options: true/false",
			slog.String("value", r.APIServer))
	}

	if cfg.BuildsDir == "" {
		cfg.BuildsDir = filepath.Join(homeDir(), ".docdaemon", "builds")
	}
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(homeDir(), ".docdaemon", "logs")
	}

	return cfg
}

// coerceInt parses a numeric setting, falling back to a default on absence or
// malformed input. Never fatal.
func coerceInt(key, value string, fallback int) int {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		slog.Warn("Non-numeric config value, using default",
			slog.String("key", key),
			slog.String("value", value),
			slog.Int("default", fallback))
		return fallback
	}
	return n
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}
