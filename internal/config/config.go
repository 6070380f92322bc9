// Package config holds the broker's runtime configuration.
//
// Values are resolved in order: DefaultConfig, then the JSON config file (if
// it exists), then environment overrides, then command line flags applied by
// the caller. Validate should run after the last step.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/codefionn/cylonn/internal/consts"
	"github.com/codefionn/cylonn/internal/initfile"
	"github.com/codefionn/cylonn/internal/logger"
)

// Environment variables that override config file values.
const (
	EnvLogLevel = "CYLONN_LOG_LEVEL"
	EnvLogPath  = "CYLONN_LOG_PATH"
)

// Config represents the broker configuration
type Config struct {
	InitPath        string `json:"init_path"`
	InitMode        string `json:"init_mode"`  // strict, lenient
	WatchInit       bool   `json:"watch_init"` // reload plugins when the init file changes
	ScratchDir      string `json:"scratch_dir"`
	EventQueueSize  int    `json:"event_queue_size"`
	WriteTimeoutMS  int    `json:"write_timeout_ms"`
	ShutdownGraceMS int    `json:"shutdown_grace_ms"`
	AdminEnabled    bool   `json:"admin_enabled"`
	LogLevel        string `json:"log_level"` // debug, info, warn, error, none
	LogPath         string `json:"log_path"`  // "-" for stderr, "" disables logging
	PidFile         string `json:"pid_file,omitempty"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "cylonn")
		}
	default:
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, "cylonn")
		}
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "cylonn")
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		InitPath:        "init",
		InitMode:        initfile.Strict.String(),
		WatchInit:       false,
		ScratchDir:      os.TempDir(),
		EventQueueSize:  consts.DefaultEventQueueSize,
		WriteTimeoutMS:  int(consts.Timeout5Seconds / time.Millisecond),
		ShutdownGraceMS: int(consts.Timeout2Seconds / time.Millisecond),
		AdminEnabled:    false,
		LogLevel:        "info",
		LogPath:         logger.StderrPath,
	}
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}

// Load loads configuration from file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	// Unmarshal into default config (overrides only provided fields)
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if config.ScratchDir == "" {
		config.ScratchDir = os.TempDir()
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	return config, nil
}

// ApplyEnv lets environment variables override logging settings.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if level := strings.TrimSpace(getenv(EnvLogLevel)); level != "" {
		c.LogLevel = level
	}
	if path := strings.TrimSpace(getenv(EnvLogPath)); path != "" {
		c.LogPath = path
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.InitPath) == "" {
		errs = append(errs, errors.New("init_path must not be empty"))
	}
	if _, err := initfile.ParseMode(c.InitMode); err != nil {
		errs = append(errs, err)
	}
	if c.EventQueueSize < 0 {
		errs = append(errs, fmt.Errorf("event_queue_size must not be negative, got %d", c.EventQueueSize))
	}
	if c.WriteTimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("write_timeout_ms must not be negative, got %d", c.WriteTimeoutMS))
	}
	if c.ShutdownGraceMS < 0 {
		errs = append(errs, fmt.Errorf("shutdown_grace_ms must not be negative, got %d", c.ShutdownGraceMS))
	}
	if info, err := os.Stat(c.ScratchDir); err != nil {
		errs = append(errs, fmt.Errorf("scratch_dir: %w", err))
	} else if !info.IsDir() {
		errs = append(errs, fmt.Errorf("scratch_dir %s is not a directory", c.ScratchDir))
	}
	return errors.Join(errs...)
}

// Mode returns the parsed init mode, Strict when invalid.
func (c *Config) Mode() initfile.Mode {
	mode, _ := initfile.ParseMode(c.InitMode)
	return mode
}

// WriteTimeout returns the per-write deadline for client sockets; zero disables it.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMS) * time.Millisecond
}

// ShutdownGrace returns how long plugins get between SIGTERM and SIGKILL.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceMS) * time.Millisecond
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
