// Package config loads and validates the MirrorFS configuration.
//
// Configuration sources, highest precedence first:
//  1. CLI flags (bound by the commands)
//  2. Environment variables (MIRRORFS_*), for keys the configuration file sets
//  3. Configuration file (YAML)
//  4. Default values
//
// Without a configuration file only the defaults apply; environment
// variables are not read in that case.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the complete MirrorFS configuration, covering both roles. A
// process running `serve` reads Server; one running client commands reads
// Client; Logging, API, and Profiling apply to either.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server configures the authoritative file server.
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Client configures client operations and the sync daemon.
	Client ClientConfig `mapstructure:"client" yaml:"client"`

	// API configures the optional read-only status HTTP endpoint
	// (health, Prometheus metrics, lock and file snapshots).
	API APIConfig `mapstructure:"api" yaml:"api"`

	// Profiling configures optional Pyroscope continuous profiling.
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is the output format: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is where logs go: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ServerConfig configures the server role.
type ServerConfig struct {
	// Listen is the TCP address the server binds, e.g. ":7670".
	Listen string `mapstructure:"listen" validate:"required" yaml:"listen"`

	// MountPath is the directory of managed files. Must exist.
	MountPath string `mapstructure:"mount_path" validate:"required" yaml:"mount_path"`

	// ChunkSize bounds a streaming frame; a chunk carries at most
	// ChunkSize-1 bytes of content. Minimum 512.
	ChunkSize int `mapstructure:"chunk_size" validate:"gte=512" yaml:"chunk_size"`

	// CallbackInterval is the period of the callback processor's tick.
	// Pending CallbackList requests are answered at least this often even
	// when no mutation signals them earlier.
	CallbackInterval time.Duration `mapstructure:"callback_interval" validate:"gt=0" yaml:"callback_interval"`

	// ShutdownTimeout is the maximum wait for in-flight requests on
	// graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0" yaml:"shutdown_timeout"`
}

// ClientConfig configures the client role.
type ClientConfig struct {
	// Server is the server address, e.g. "localhost:7670".
	Server string `mapstructure:"server" validate:"required" yaml:"server"`

	// MountPath is the local mirror directory. Must exist.
	MountPath string `mapstructure:"mount_path" validate:"required" yaml:"mount_path"`

	// ClientID overrides the generated identity. Leave empty to generate a
	// UUID per process, which is what the lock protocol expects.
	ClientID string `mapstructure:"client_id" yaml:"client_id,omitempty"`

	// Deadline is the per-call deadline attached to every RPC.
	Deadline time.Duration `mapstructure:"deadline" validate:"gt=0" yaml:"deadline"`

	// ResetInterval is the back-off before re-arming a failed callback
	// long-poll.
	ResetInterval time.Duration `mapstructure:"reset_interval" validate:"gt=0" yaml:"reset_interval"`
}

// APIConfig configures the status HTTP endpoint.
type APIConfig struct {
	// Enabled turns the endpoint on. Off by default.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Listen is the HTTP address, e.g. ":9670".
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled turns profiling on. Off by default.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes selects the collected profiles. Valid values: cpu,
	// alloc_objects, alloc_space, inuse_objects, inuse_space, goroutines.
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// Load loads configuration from file, environment, and defaults.
// An empty configPath uses the default location and falls back to pure
// defaults when no file exists there.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if found {
		if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration against its struct tags.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return err
	}
	return nil
}

// Save writes the configuration to path in YAML.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/mirrorfs/config.yaml, falling
// back to ~/.config.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "mirrorfs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "mirrorfs"
	}
	return filepath.Join(home, ".config", "mirrorfs")
}

// setupViper configures environment overrides and the config file search.
// Environment variables use the MIRRORFS_ prefix with underscores, e.g.
// MIRRORFS_SERVER_LISTEN=:7670.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("MIRRORFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(configDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the config file if one exists. A missing file is not
// an error; defaults cover everything.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// durationDecodeHook converts config strings like "5s" into time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}
