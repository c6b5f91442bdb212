package config

import (
	"strings"
	"time"

	"github.com/mirrorfs/mirrorfs/internal/protocol/dfs"
)

// Default values applied to unset fields.
const (
	DefaultServerListen     = ":7670"
	DefaultAPIListen        = ":9670"
	DefaultCallbackInterval = time.Second
	DefaultShutdownTimeout  = 10 * time.Second
	DefaultClientDeadline   = 30 * time.Second
	DefaultResetInterval    = 3 * time.Second
)

// ApplyDefaults fills in every unset field with its default. Explicit
// values are preserved; both mount paths default to the current
// directory (".").
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyClientDefaults(&cfg.Client)
	applyAPIDefaults(&cfg.API)
	applyProfilingDefaults(&cfg.Profiling)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Listen == "" {
		cfg.Listen = DefaultServerListen
	}
	if cfg.MountPath == "" {
		cfg.MountPath = "."
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = dfs.DefaultChunkSize
	}
	if cfg.CallbackInterval == 0 {
		cfg.CallbackInterval = DefaultCallbackInterval
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
}

func applyClientDefaults(cfg *ClientConfig) {
	if cfg.Server == "" {
		cfg.Server = "localhost" + DefaultServerListen
	}
	if cfg.MountPath == "" {
		cfg.MountPath = "."
	}
	if cfg.Deadline == 0 {
		cfg.Deadline = DefaultClientDeadline
	}
	if cfg.ResetInterval == 0 {
		cfg.ResetInterval = DefaultResetInterval
	}
}

func applyAPIDefaults(cfg *APIConfig) {
	if cfg.Listen == "" {
		cfg.Listen = DefaultAPIListen
	}
}

func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{"cpu", "inuse_space", "goroutines"}
	}
}

// GetDefaultConfig returns a fully defaulted configuration, used by
// `mirrorfs config init` to write the sample file.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
