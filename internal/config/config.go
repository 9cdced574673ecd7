package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Server contains HTTP listener and transport security settings.
type Server struct {
	Bind          string `toml:"bind"`
	TLSCert       string `toml:"tls_cert"`
	TLSKey        string `toml:"tls_key"`
	AllowInsecure bool   `toml:"allow_insecure"`
	APIToken      string `toml:"api_token"`
	LogHeaders    bool   `toml:"log_headers"`
}

// Paths contains directories owned by the daemon outside the artifact cache.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Cache contains configuration for the on-disk artifact cache.
type Cache struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
	// ReconcileInterval is the period, in seconds, of background listing refreshes
	// used to prune stale entries. Zero disables the background refresher.
	ReconcileInterval int `toml:"reconcile_interval"`
}

// Converter contains configuration for the external format converter.
type Converter struct {
	// Command is split on whitespace; the input file path is appended as the last argument.
	// An empty command disables converted downloads.
	Command        string `toml:"command"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Sessions contains configuration for ephemeral client sessions.
type Sessions struct {
	MaxIdleSeconds int `toml:"max_idle_seconds"`
}

// Cloud contains configuration for the upstream document cloud.
type Cloud struct {
	AuthURL               string `toml:"auth_url"`
	StorageURL            string `toml:"storage_url"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	DeviceDesc            string `toml:"device_desc"`
}

// Demo contains configuration for the offline demonstration cloud.
type Demo struct {
	Enabled      bool   `toml:"enabled"`
	RegisterCode string `toml:"register_code"`
	DelayMillis  int    `toml:"delay_ms"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for rmcloud.
//
// Configuration sections by subsystem:
//   - Server: listener, TLS and bearer token
//   - Paths: data (device token, lock) and log directories
//   - Cache: artifact cache toggle, directory and background reconciliation
//   - Converter: external converter command and timeout
//   - Sessions: idle expiry of client sessions
//   - Cloud: upstream endpoints and request timeout
//   - Demo: offline demonstration cloud
//   - Logging: log format and level
type Config struct {
	Server    Server    `toml:"server"`
	Paths     Paths     `toml:"paths"`
	Cache     Cache     `toml:"cache"`
	Converter Converter `toml:"converter"`
	Sessions  Sessions  `toml:"sessions"`
	Cloud     Cloud     `toml:"cloud"`
	Demo      Demo      `toml:"demo"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/rmcloud/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/rmcloud/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("rmcloud.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// A cache directory that cannot be created is fatal: startup must abort rather
// than degrade every request.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Cache.Enabled && strings.TrimSpace(c.Cache.Dir) != "" {
		if err := os.MkdirAll(c.Cache.Dir, 0o755); err != nil {
			return fmt.Errorf("create cache directory %q: %w", c.Cache.Dir, err)
		}
	}
	return nil
}

// TLSEnabled reports whether both certificate and key are configured.
func (c *Config) TLSEnabled() bool {
	return c.Server.TLSCert != "" && c.Server.TLSKey != ""
}

// ConverterEnabled reports whether converted downloads are available.
func (c *Config) ConverterEnabled() bool {
	return strings.TrimSpace(c.Converter.Command) != ""
}

// ConverterTimeout returns the converter execution ceiling.
func (c *Config) ConverterTimeout() time.Duration {
	return time.Duration(c.Converter.TimeoutSeconds) * time.Second
}

// SessionMaxIdle returns how long an untouched session survives.
func (c *Config) SessionMaxIdle() time.Duration {
	return time.Duration(c.Sessions.MaxIdleSeconds) * time.Second
}

// CloudTimeout returns the per-request timeout for upstream calls.
func (c *Config) CloudTimeout() time.Duration {
	return time.Duration(c.Cloud.RequestTimeoutSeconds) * time.Second
}

// DemoDelay returns the simulated latency of the demonstration cloud.
func (c *Config) DemoDelay() time.Duration {
	return time.Duration(c.Demo.DelayMillis) * time.Millisecond
}

// ReconcileInterval returns the background reconciliation period (zero when disabled).
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Cache.ReconcileInterval) * time.Second
}

// TokenPath returns the location of the persisted device token.
func (c *Config) TokenPath() string {
	return filepath.Join(c.Paths.DataDir, "device.token")
}

// LockPath returns the location of the single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "rmcloud.lock")
}

// PIDPath returns where the running server records its process id.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "rmcloud.pid")
}

// LogPath returns the server log file, or "" when file logging is disabled.
func (c *Config) LogPath() string {
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return ""
	}
	return filepath.Join(c.Paths.LogDir, "rmcloud.log")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultCacheDir() string {
	if base, ok := os.LookupEnv("XDG_CACHE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "rmcloud", "artifacts")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "~/.cache/rmcloud/artifacts"
	}
	return filepath.Join(home, ".cache", "rmcloud", "artifacts")
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
