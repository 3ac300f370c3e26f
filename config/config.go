// Package config holds runtime configuration for all Coxswain services.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DataDirName      = "coxswain"
	WorkspacesDir    = "workspaces"
	DatabaseFileName = "coxswain.db"
)

// EnvProvider abstracts environment variable access for testing.
type EnvProvider interface {
	Getenv(key string) string
	UserHomeDir() (string, error)
}

// DefaultEnvProvider implements EnvProvider using real OS functions.
type DefaultEnvProvider struct{}

func (p *DefaultEnvProvider) Getenv(key string) string {
	return os.Getenv(key)
}

func (p *DefaultEnvProvider) UserHomeDir() (string, error) {
	return os.UserHomeDir()
}

// Config holds configuration for all services.
type Config struct {
	// Core paths
	DataDir      string
	DatabasePath string
	WorkspaceDir string

	// Logging
	LogLevel     string
	ColorEnabled bool

	// HTTP server
	HTTPHost string
	HTTPPort int

	// Engine
	Retention            time.Duration // how long completed deployments stay in the registry
	BuildTimeout         time.Duration // zero means no timeout
	DeployTimeout        time.Duration // zero means no timeout
	MaxConcurrentTargets int           // zero means unbounded
	SSHDialTimeout       time.Duration
	GitTimeout           time.Duration
	BuildImage           string // when set, builds run inside this container image

	// Client stream consumer
	ReconnectMaxAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMultiplier  float64

	// Encryption
	EncryptionKey string

	// Environment provider for testing
	env EnvProvider
}

// NewConfig creates a configuration from defaults, the environment and an
// optional data directory override.
func NewConfig(dataDirOverride string) (*Config, error) {
	return newConfigWithEnv(&DefaultEnvProvider{}, dataDirOverride)
}

// NewConfigWithEnv creates a configuration with a custom environment provider
// (for testing).
func NewConfigWithEnv(env EnvProvider, dataDirOverride string) (*Config, error) {
	return newConfigWithEnv(env, dataDirOverride)
}

func newConfigWithEnv(env EnvProvider, dataDirOverride string) (*Config, error) {
	c := &Config{env: env}

	c.setDefaults()
	c.loadFromEnv()

	if dataDirOverride != "" {
		c.DataDir = dataDirOverride
	}

	c.derivePaths()

	// Fall back to the data dir's .env file for the encryption key so one
	// file can carry the whole deployment's secrets.
	if c.EncryptionKey == "" {
		c.EncryptionKey = c.readEncryptionKeyFromEnvFile()
	}

	return c, nil
}

func (c *Config) setDefaults() {
	c.DataDir = defaultDataDir(c.env)
	c.LogLevel = "info"
	c.ColorEnabled = true
	c.HTTPHost = "127.0.0.1"
	c.HTTPPort = 4640
	c.Retention = 10 * time.Minute
	c.SSHDialTimeout = 15 * time.Second
	c.GitTimeout = 5 * time.Minute
	c.ReconnectMaxAttempts = 5
	c.ReconnectBaseDelay = time.Second
	c.ReconnectMultiplier = 2.0
}

func (c *Config) loadFromEnv() {
	if v := c.env.Getenv("COXSWAIN_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := c.env.Getenv("COXSWAIN_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := c.env.Getenv("COXSWAIN_COLOR"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.ColorEnabled = enabled
		}
	}
	if v := c.env.Getenv("COXSWAIN_HTTP_HOST"); v != "" {
		c.HTTPHost = v
	}
	if v := c.env.Getenv("COXSWAIN_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.HTTPPort = port
		}
	}
	if v := c.env.Getenv("COXSWAIN_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Retention = d
		}
	}
	if v := c.env.Getenv("COXSWAIN_BUILD_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.BuildTimeout = d
		}
	}
	if v := c.env.Getenv("COXSWAIN_DEPLOY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.DeployTimeout = d
		}
	}
	if v := c.env.Getenv("COXSWAIN_MAX_CONCURRENT_TARGETS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.MaxConcurrentTargets = n
		}
	}
	if v := c.env.Getenv("COXSWAIN_SSH_DIAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SSHDialTimeout = d
		}
	}
	if v := c.env.Getenv("COXSWAIN_GIT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.GitTimeout = d
		}
	}
	if v := c.env.Getenv("COXSWAIN_BUILD_IMAGE"); v != "" {
		c.BuildImage = v
	}
	if v := c.env.Getenv("COXSWAIN_RECONNECT_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.ReconnectMaxAttempts = n
		}
	}
	if v := c.env.Getenv("COXSWAIN_RECONNECT_BASE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ReconnectBaseDelay = d
		}
	}
	if v := c.env.Getenv("COXSWAIN_RECONNECT_MULTIPLIER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 1 {
			c.ReconnectMultiplier = f
		}
	}
	if v := c.env.Getenv("COXSWAIN_ENCRYPTION_KEY"); v != "" {
		c.EncryptionKey = v
	}
}

func (c *Config) derivePaths() {
	c.DatabasePath = filepath.Join(c.DataDir, DatabaseFileName)
	c.WorkspaceDir = filepath.Join(c.DataDir, WorkspacesDir)
}

func (c *Config) readEncryptionKeyFromEnvFile() string {
	envFile := filepath.Join(c.DataDir, ".env")
	if _, err := os.Stat(envFile); err != nil {
		return ""
	}
	values, err := godotenv.Read(envFile)
	if err != nil {
		return ""
	}
	return values["COXSWAIN_ENCRYPTION_KEY"]
}

// ProjectWorkspace returns the workspace directory of one project.
func (c *Config) ProjectWorkspace(slugName string) string {
	return filepath.Join(c.WorkspaceDir, slugName)
}

// ListenAddr returns the host:port the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPHost, c.HTTPPort)
}

// defaultDataDir follows the XDG Base Directory specification.
func defaultDataDir(env EnvProvider) string {
	if xdgDataHome := env.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
		return filepath.Join(xdgDataHome, DataDirName)
	}
	homeDir, _ := env.UserHomeDir()
	return filepath.Join(homeDir, ".local", "share", DataDirName)
}
