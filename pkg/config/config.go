// Package config resolves daemon configuration from three layers: built-in
// defaults under the crewlink home directory, an optional YAML file, and
// environment variable overrides. Environment wins over file, file over
// defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables recognized by Load.
//
//	CREWLINK_HOME        base directory for state (default: ~/.crewlink)
//	CREWLINK_CONFIG      config file path (default: $CREWLINK_HOME/config.yaml)
//	CREWLINK_SOCKET_PATH daemon UDS socket (default: $CREWLINK_HOME/crewlink.sock)
//	CREWLINK_DB_PATH     SQLite database (default: $CREWLINK_HOME/crewlink.db)
//	CREWLINK_ROSTER      crew roster TOML file (default: none)
const (
	envHome   = "CREWLINK_HOME"
	envConfig = "CREWLINK_CONFIG"
	envSocket = "CREWLINK_SOCKET_PATH"
	envDB     = "CREWLINK_DB_PATH"
	envRoster = "CREWLINK_ROSTER"
)

// crewlinkDir is the state directory name under $HOME.
const crewlinkDir = ".crewlink"

// Config is the fully resolved daemon configuration.
type Config struct {
	Home       string // base directory for all crewlink state
	SocketPath string // UDS socket path
	DBPath     string // SQLite database path
	RosterPath string // crew roster TOML; empty means in-process registration only

	BufferCap         int           // per-subscriber broadcast buffer (default 256)
	KeepAliveInterval time.Duration // subscriber PING cadence (default 15s)
	IdleTimeout       time.Duration // subscriber liveness timeout (default 45s)
}

// fileConfig is the YAML shape. Durations are strings like "30s".
type fileConfig struct {
	Home              string `yaml:"home"`
	SocketPath        string `yaml:"socket_path"`
	DBPath            string `yaml:"db_path"`
	RosterPath        string `yaml:"roster_path"`
	BufferCap         int    `yaml:"buffer_cap"`
	KeepAliveInterval string `yaml:"keep_alive_interval"`
	IdleTimeout       string `yaml:"idle_timeout"`
}

// Load resolves the configuration. path selects the YAML file explicitly; an
// empty path falls back to $CREWLINK_CONFIG, then to config.yaml under the
// crewlink home, and silently skips the file layer when neither exists.
func Load(path string) (*Config, error) {
	var cfg Config

	explicit := path != ""
	if path == "" {
		path = os.Getenv(envConfig)
		explicit = path != ""
	}
	if path == "" {
		home, err := resolveHome("")
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, "config.yaml")
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		if err := fc.apply(&cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// No config file is fine; defaults and env cover everything.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// apply copies the file layer onto cfg, parsing durations.
func (fc *fileConfig) apply(cfg *Config) error {
	cfg.Home = fc.Home
	cfg.SocketPath = fc.SocketPath
	cfg.DBPath = fc.DBPath
	cfg.RosterPath = fc.RosterPath
	cfg.BufferCap = fc.BufferCap

	var err error
	if fc.KeepAliveInterval != "" {
		if cfg.KeepAliveInterval, err = time.ParseDuration(fc.KeepAliveInterval); err != nil {
			return fmt.Errorf("keep_alive_interval: %w", err)
		}
	}
	if fc.IdleTimeout != "" {
		if cfg.IdleTimeout, err = time.ParseDuration(fc.IdleTimeout); err != nil {
			return fmt.Errorf("idle_timeout: %w", err)
		}
	}
	return nil
}

// finish layers env overrides and defaults onto cfg.
func (cfg *Config) finish() error {
	home, err := resolveHome(cfg.Home)
	if err != nil {
		return err
	}
	cfg.Home = home

	cfg.SocketPath = overrideWithEnv(envSocket, cfg.SocketPath, home, "crewlink.sock")
	cfg.DBPath = overrideWithEnv(envDB, cfg.DBPath, home, "crewlink.db")
	if v := os.Getenv(envRoster); v != "" {
		cfg.RosterPath = v
	}

	if cfg.BufferCap == 0 {
		cfg.BufferCap = 256
	}
	if cfg.KeepAliveInterval == 0 {
		cfg.KeepAliveInterval = 15 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 45 * time.Second
	}
	return nil
}

// resolveHome picks the home directory: $CREWLINK_HOME, then the file value,
// then ~/.crewlink.
func resolveHome(fromFile string) (string, error) {
	if v := os.Getenv(envHome); v != "" {
		return v, nil
	}
	if fromFile != "" {
		return fromFile, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, crewlinkDir), nil
}

// overrideWithEnv resolves one path: env var, then the file value, then
// base/suffix.
func overrideWithEnv(envKey, fromFile, base, suffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fromFile != "" {
		return fromFile
	}
	return filepath.Join(base, suffix)
}

// EnsureHome creates the home directory if needed.
func (cfg *Config) EnsureHome() error {
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return fmt.Errorf("create home %s: %w", cfg.Home, err)
	}
	return nil
}
