// Package config loads daemon configuration from an optional TOML file
// with environment variable overrides, and builds the structured logger.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultListenAddr = ":8080"
	defaultDBPath     = "tether.db"
	defaultLockPath   = "tether.lock"
	defaultWorkerName = "default"

	envConfigPath = "TETHER_CONFIG"
	envListenAddr = "TETHER_LISTEN_ADDR"
	envDBPath     = "TETHER_DB_PATH"
	envLockPath   = "TETHER_LOCK_PATH"
	envLogLevel   = "TETHER_LOG_LEVEL"
	envWorkerCmd  = "TETHER_WORKER_COMMAND"
)

// Server holds the HTTP and storage settings.
type Server struct {
	ListenAddr string `toml:"listen_addr"`
	DBPath     string `toml:"db_path"`
	LockPath   string `toml:"lock_path"`
}

// Worker describes the execution context the daemon spawns. Either Command
// names a ready worker binary, or SourcePath points at an inline program the
// spawner stages for the context.
type Worker struct {
	Name       string   `toml:"name"`
	Command    string   `toml:"command"`
	Args       []string `toml:"args"`
	SourcePath string   `toml:"source_path"`
	Scripts    []string `toml:"scripts"`
}

// Logging holds log output settings.
type Logging struct {
	Level string `toml:"level"`
}

// Config holds the full daemon configuration.
type Config struct {
	Server  Server  `toml:"server"`
	Worker  Worker  `toml:"worker"`
	Logging Logging `toml:"logging"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: Server{
			ListenAddr: defaultListenAddr,
			DBPath:     defaultDBPath,
			LockPath:   defaultLockPath,
		},
		Worker: Worker{
			Name: defaultWorkerName,
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

// Load reads configuration from the TOML file at path, then applies
// environment variable overrides. An empty path falls back to TETHER_CONFIG;
// a missing file is not an error, the defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(envConfigPath)
	}
	if path != "" {
		f, err := os.Open(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// No file; defaults plus env overrides.
		case err != nil:
			return cfg, fmt.Errorf("open config: %w", err)
		default:
			defer f.Close()
			if err := toml.NewDecoder(f).Decode(&cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv lets environment variables override file values.
func applyEnv(cfg *Config) {
	if v := os.Getenv(envListenAddr); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.Server.DBPath = v
	}
	if v := os.Getenv(envLockPath); v != "" {
		cfg.Server.LockPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(envWorkerCmd); v != "" {
		cfg.Worker.Command = v
	}
}

// LogLevel parses the configured level, defaulting to info.
func (c Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
