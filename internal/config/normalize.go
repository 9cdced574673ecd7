package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizeServer(); err != nil {
		return err
	}
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeCache(); err != nil {
		return err
	}
	c.normalizeConverter()
	c.normalizeSessions()
	c.normalizeCloud()
	c.normalizeDemo()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizeServer() error {
	var err error
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	if c.Server.Bind == "" {
		c.Server.Bind = defaultBind
	}
	c.Server.APIToken = strings.TrimSpace(c.Server.APIToken)
	if c.Server.APIToken == "" {
		if value, ok := os.LookupEnv("RMCLOUD_API_TOKEN"); ok {
			c.Server.APIToken = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(c.Server.TLSCert) != "" {
		if c.Server.TLSCert, err = expandPath(strings.TrimSpace(c.Server.TLSCert)); err != nil {
			return fmt.Errorf("server.tls_cert: %w", err)
		}
	} else {
		c.Server.TLSCert = ""
	}
	if strings.TrimSpace(c.Server.TLSKey) != "" {
		if c.Server.TLSKey, err = expandPath(strings.TrimSpace(c.Server.TLSKey)); err != nil {
			return fmt.Errorf("server.tls_key: %w", err)
		}
	} else {
		c.Server.TLSKey = ""
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) != "" {
		if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
			return fmt.Errorf("paths.log_dir: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeCache() error {
	var err error
	if strings.TrimSpace(c.Cache.Dir) == "" {
		c.Cache.Dir = defaultCacheDir()
	}
	if c.Cache.Dir, err = expandPath(c.Cache.Dir); err != nil {
		return fmt.Errorf("cache.dir: %w", err)
	}
	if c.Cache.ReconcileInterval < 0 {
		c.Cache.ReconcileInterval = 0
	}
	return nil
}

func (c *Config) normalizeConverter() {
	c.Converter.Command = strings.TrimSpace(c.Converter.Command)
	if c.Converter.Command == "" {
		if value, ok := os.LookupEnv("RMCLOUD_CONVERTER"); ok {
			c.Converter.Command = strings.TrimSpace(value)
		}
	}
	if c.Converter.TimeoutSeconds <= 0 {
		c.Converter.TimeoutSeconds = defaultConverterTimeout
	}
}

func (c *Config) normalizeSessions() {
	if c.Sessions.MaxIdleSeconds <= 0 {
		c.Sessions.MaxIdleSeconds = defaultSessionMaxIdleSeconds
	}
}

func (c *Config) normalizeCloud() {
	c.Cloud.AuthURL = strings.TrimRight(strings.TrimSpace(c.Cloud.AuthURL), "/")
	if c.Cloud.AuthURL == "" {
		c.Cloud.AuthURL = defaultAuthURL
	}
	c.Cloud.StorageURL = strings.TrimRight(strings.TrimSpace(c.Cloud.StorageURL), "/")
	if c.Cloud.StorageURL == "" {
		c.Cloud.StorageURL = defaultStorageURL
	}
	if c.Cloud.RequestTimeoutSeconds <= 0 {
		c.Cloud.RequestTimeoutSeconds = defaultCloudTimeoutSeconds
	}
	c.Cloud.DeviceDesc = strings.TrimSpace(c.Cloud.DeviceDesc)
	if c.Cloud.DeviceDesc == "" {
		c.Cloud.DeviceDesc = defaultDeviceDesc
	}
}

func (c *Config) normalizeDemo() {
	c.Demo.RegisterCode = strings.TrimSpace(c.Demo.RegisterCode)
	if c.Demo.RegisterCode == "" {
		c.Demo.RegisterCode = defaultDemoRegisterCode
	}
	if c.Demo.DelayMillis < 0 {
		c.Demo.DelayMillis = 0
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
