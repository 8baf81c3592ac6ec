// Package config loads nabcore settings from a YAML or TOML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"nabcore/pkg/protocol"
)

// Environment variables.
const (
	EnvHome       = "NAB_HOME"
	EnvSocketPath = "NAB_SOCKET_PATH"
	EnvDBPath     = "NAB_DB_PATH"
	EnvConfig     = "NAB_CONFIG"
	EnvLogLevel   = "NAB_LOG_LEVEL"
)

// Duration is a time.Duration written as "2s" or "15m" in config files.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	return d.UnmarshalText([]byte(n.Value))
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Log configures logging.
type Log struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // auto, console, json
}

// Hub configures the hub daemon.
type Hub struct {
	GraceWindow     Duration `yaml:"grace_window" toml:"grace_window"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout" toml:"write_timeout"`
	OutboxSize      int      `yaml:"outbox_size" toml:"outbox_size"`
}

// Satellite configures the hub connection shared by satellites.
type Satellite struct {
	RetryDelay   Duration `yaml:"retry_delay" toml:"retry_delay"`
	DrainTimeout Duration `yaml:"drain_timeout" toml:"drain_timeout"`
	BufferSize   int      `yaml:"buffer_size" toml:"buffer_size"`
}

// Bonding configures the bonding satellite.
type Bonding struct {
	PollInterval Duration `yaml:"poll_interval" toml:"poll_interval"`
}

// Advisory configures the advisory satellite.
type Advisory struct {
	Interval Duration `yaml:"interval" toml:"interval"`
	Token    string   `yaml:"token" toml:"token"`
	BaseURL  string   `yaml:"base_url" toml:"base_url"`
}

// Config is the full nabcore configuration.
type Config struct {
	Home       string `yaml:"home" toml:"home"`
	SocketPath string `yaml:"socket_path" toml:"socket_path"`
	DBPath     string `yaml:"db_path" toml:"db_path"`
	// StorePath selects the ConfigStore file; a .bolt extension picks
	// bbolt. Defaults to DBPath.
	StorePath string `yaml:"store_path" toml:"store_path"`

	Log       Log       `yaml:"log" toml:"log"`
	Hub       Hub       `yaml:"hub" toml:"hub"`
	Satellite Satellite `yaml:"satellite" toml:"satellite"`
	Bonding   Bonding   `yaml:"bonding" toml:"bonding"`
	Advisory  Advisory  `yaml:"advisory" toml:"advisory"`

	// Path is the file the config was read from, empty when none existed.
	Path string `yaml:"-" toml:"-"`
}

// Default returns the built-in configuration rooted at home.
func Default(home string) Config {
	return Config{
		Home: home,
		Log:  Log{Level: "info", Format: "auto"},
		Hub: Hub{
			GraceWindow:     Duration(2 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
			WriteTimeout:    Duration(5 * time.Second),
			OutboxSize:      64,
		},
		Satellite: Satellite{
			RetryDelay:   Duration(15 * time.Minute),
			DrainTimeout: Duration(5 * time.Second),
			BufferSize:   64,
		},
		Bonding:  Bonding{PollInterval: Duration(30 * time.Second)},
		Advisory: Advisory{Interval: Duration(time.Hour)},
	}
}

// Resolve loads the config file named by NAB_CONFIG, or config.yaml under
// the home directory.
func Resolve() (Config, error) {
	home, err := resolveHome()
	if err != nil {
		return Config{}, err
	}
	path := os.Getenv(EnvConfig)
	if path == "" {
		path = filepath.Join(home, protocol.ConfigName)
	}
	return load(path, home)
}

// Load reads path on top of Default and applies environment overrides. A
// missing file yields the defaults.
func Load(path string) (Config, error) {
	home, err := resolveHome()
	if err != nil {
		return Config{}, err
	}
	return load(path, home)
}

func load(path, home string) (Config, error) {
	cfg := Default(home)

	data, err := os.ReadFile(path) //nolint:gosec // config path is operator-controlled
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := decode(path, data, &cfg); err != nil {
			return Config{}, err
		}
		cfg.Path = path
	}

	cfg.applyEnv()
	cfg.fillPaths()
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse toml %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse yaml %s: %w", path, err)
		}
	default:
		return fmt.Errorf("config %s: unsupported format %q", path, filepath.Ext(path))
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvHome); v != "" {
		c.Home = v
	}
	if v := os.Getenv(EnvSocketPath); v != "" {
		c.SocketPath = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) fillPaths() {
	if c.SocketPath == "" {
		c.SocketPath = filepath.Join(c.Home, protocol.SocketName)
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.Home, protocol.StateDBName)
	}
	if c.StorePath == "" {
		c.StorePath = c.DBPath
	}
}

// PIDPath returns the PID file for the named daemon.
func (c Config) PIDPath(daemon string) string {
	return filepath.Join(c.Home, daemon+".pid")
}

// resolveHome returns NAB_HOME or ~/.nab.
func resolveHome() (string, error) {
	if v := os.Getenv(EnvHome); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, protocol.NabDir), nil
}
