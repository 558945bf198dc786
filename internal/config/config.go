// Package config provides configuration management for the framelapse agent.
// Configuration is loaded from an optional YAML file and environment variables,
// with environment variables taking precedence over the file and sensible defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	// Default values
	DefaultPort      = 8797
	DefaultLogLevel  = "info"
	DefaultDataDir   = ".framelapse"
	DefaultGIFWidth  = 500
	DefaultGIFHeight = 300

	// Environment variable names
	EnvConfigFile = "FRAMELAPSE_CONFIG"
	EnvPort       = "FRAMELAPSE_PORT"
	EnvLogLevel   = "FRAMELAPSE_LOG_LEVEL"
	EnvDataDir    = "FRAMELAPSE_DATA_DIR"
	EnvFFmpeg     = "FRAMELAPSE_FFMPEG"
	EnvHeadless   = "FRAMELAPSE_HEADLESS"
	EnvNotify     = "FRAMELAPSE_NOTIFY"
	EnvGIFWidth   = "FRAMELAPSE_GIF_WIDTH"
	EnvGIFHeight  = "FRAMELAPSE_GIF_HEIGHT"

	// Database filename
	DBFilename = "framelapse.db"

	// Config file looked up inside the data directory when EnvConfigFile is unset
	ConfigFilename = "config.yaml"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	ExportsDir() string
	FFmpegPath() string
	Headless() bool
	DesktopNotify() bool
	GIFWidth() int
	GIFHeight() int
}

// EnvConfig reads configuration from a YAML file and environment variables
type EnvConfig struct {
	port          int
	logLevel      string
	dataDir       string
	ffmpegPath    string
	headless      bool
	desktopNotify bool
	gifWidth      int
	gifHeight     int
}

// fileConfig mirrors the YAML layout. Pointers distinguish "unset" from zero values.
type fileConfig struct {
	Port          *int    `yaml:"port"`
	LogLevel      *string `yaml:"log_level"`
	DataDir       *string `yaml:"data_dir"`
	FFmpeg        *string `yaml:"ffmpeg"`
	Headless      *bool   `yaml:"headless"`
	DesktopNotify *bool   `yaml:"desktop_notify"`
	GIF           struct {
		Width  *int `yaml:"width"`
		Height *int `yaml:"height"`
	} `yaml:"gif"`
}

// New creates a new EnvConfig with defaults, file values and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:          DefaultPort,
		logLevel:      DefaultLogLevel,
		dataDir:       defaultDataDir(),
		desktopNotify: true,
		gifWidth:      DefaultGIFWidth,
		gifHeight:     DefaultGIFHeight,
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	path := os.Getenv(EnvConfigFile)
	explicit := path != ""
	if !explicit {
		path = filepath.Join(cfg.dataDir, ConfigFilename)
	}
	if err := cfg.loadFile(path, explicit); err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *EnvConfig) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}

	if fc.Port != nil {
		if err := validatePort(*fc.Port); err != nil {
			return fmt.Errorf("invalid port in %s: %w", path, err)
		}
		c.port = *fc.Port
	}
	if fc.LogLevel != nil {
		c.logLevel = *fc.LogLevel
	}
	if fc.DataDir != nil && os.Getenv(EnvDataDir) == "" {
		c.dataDir = *fc.DataDir
	}
	if fc.FFmpeg != nil {
		c.ffmpegPath = *fc.FFmpeg
	}
	if fc.Headless != nil {
		c.headless = *fc.Headless
	}
	if fc.DesktopNotify != nil {
		c.desktopNotify = *fc.DesktopNotify
	}
	if fc.GIF.Width != nil {
		c.gifWidth = *fc.GIF.Width
	}
	if fc.GIF.Height != nil {
		c.gifHeight = *fc.GIF.Height
	}
	return nil
}

func (c *EnvConfig) applyEnv() error {
	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if err := validatePort(port); err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		c.logLevel = ll
	}

	if ff := os.Getenv(EnvFFmpeg); ff != "" {
		c.ffmpegPath = ff
	}

	if h := os.Getenv(EnvHeadless); h != "" {
		v, err := strconv.ParseBool(h)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		c.headless = v
	}

	if n := os.Getenv(EnvNotify); n != "" {
		v, err := strconv.ParseBool(n)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvNotify, err)
		}
		c.desktopNotify = v
	}

	for _, dim := range []struct {
		env string
		dst *int
	}{{EnvGIFWidth, &c.gifWidth}, {EnvGIFHeight, &c.gifHeight}} {
		v := os.Getenv(dim.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid %s: must be a positive integer", dim.env)
		}
		*dim.dst = n
	}

	return nil
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// ExportsDir returns the directory export artifacts are saved to
func (c *EnvConfig) ExportsDir() string {
	return filepath.Join(c.dataDir, "exports")
}

// FFmpegPath returns the configured ffmpeg binary; empty means auto-detect
func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

func (c *EnvConfig) DesktopNotify() bool {
	return c.desktopNotify
}

func (c *EnvConfig) GIFWidth() int {
	return c.gifWidth
}

func (c *EnvConfig) GIFHeight() int {
	return c.gifHeight
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
