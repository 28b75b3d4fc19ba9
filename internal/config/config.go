// Package config handles configuration loading and validation for plannotator.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// DefaultRemotePort is used in remote mode when no port is configured.
// Locally the OS picks a free port.
const DefaultRemotePort = 19432

// Environment variables read by Load.
const (
	EnvPort     = "PLANNOTATOR_PORT"
	EnvRemote   = "PLANNOTATOR_REMOTE"
	EnvBrowser  = "PLANNOTATOR_BROWSER"
	EnvPlansDir = "PLANNOTATOR_PLANS_DIR"
	EnvShare    = "PLANNOTATOR_SHARE"
	EnvConfig   = "PLANNOTATOR_CONFIG"
	EnvLogLevel = "PLANNOTATOR_LOG_LEVEL"
)

// Config holds the application configuration.
type Config struct {
	Host string `yaml:"host"`
	// Port 0 means "pick one": DefaultRemotePort when remote, random otherwise.
	Port           int    `yaml:"port"`
	Remote         bool   `yaml:"remote"`
	PlansDir       string `yaml:"plans_dir"`
	UploadDir      string `yaml:"upload_dir"`
	Archive        bool   `yaml:"archive"`
	SharingEnabled bool   `yaml:"sharing_enabled"`
	Browser        string `yaml:"browser"`
	UIPath         string `yaml:"ui_path"`
	LogLevel       string `yaml:"log_level"`
	LogFile        string `yaml:"log_file"`
	HomeDir        string `yaml:"-"` // set by caller, not from config file
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig(homeDir string) Config {
	return Config{
		Host:           "127.0.0.1",
		PlansDir:       filepath.Join(homeDir, ".plannotator", "plans"),
		UploadDir:      filepath.Join(os.TempDir(), "plannotator"),
		Archive:        true,
		SharingEnabled: true,
		LogLevel:       "info",
		HomeDir:        homeDir,
	}
}

// DefaultPath returns ~/.plannotator/config.yaml.
func DefaultPath(homeDir string) string {
	return filepath.Join(homeDir, ".plannotator", "config.yaml")
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Load reads the YAML file at configPath (a missing file is not an error),
// then applies environment overrides from lookup and validates the result.
func Load(configPath, homeDir string, lookup LookupFunc) (*Config, error) {
	cfg := DefaultConfig(homeDir)

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
			cfg.HomeDir = homeDir
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	cfg.PlansDir = expandHome(cfg.PlansDir, homeDir)
	cfg.UploadDir = expandHome(cfg.UploadDir, homeDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyEnv(lookup LookupFunc) error {
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		c.Port = port
	}
	if v, ok := lookup(EnvRemote); ok && v != "" {
		c.Remote = truthy(v)
	} else if !c.Remote {
		// SSH sessions cannot reach a loopback-only random port from the
		// user's browser, so treat them as remote.
		_, sshConn := lookup("SSH_CONNECTION")
		_, sshTTY := lookup("SSH_TTY")
		c.Remote = sshConn || sshTTY
	}
	if v, ok := lookup(EnvBrowser); ok && v != "" {
		c.Browser = v
	}
	if v, ok := lookup(EnvPlansDir); ok && v != "" {
		c.PlansDir = v
	}
	if v, ok := lookup(EnvShare); ok && strings.EqualFold(v, "disabled") {
		c.SharingEnabled = false
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}
	return nil
}

// ListenPort returns the port to bind: the configured one, or the remote
// default, or 0 for an OS-assigned port.
func (c *Config) ListenPort() int {
	if c.Port != 0 {
		return c.Port
	}
	if c.Remote {
		return DefaultRemotePort
	}
	return 0
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.UploadDir == "" {
		errs = append(errs, errors.New("upload_dir is required"))
	}
	if c.Archive && c.PlansDir == "" {
		errs = append(errs, errors.New("plans_dir is required when archive is enabled"))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	return errors.Join(errs...)
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func expandHome(p, home string) string {
	if p == "~" {
		return home
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(home, p[2:])
	}
	return p
}
