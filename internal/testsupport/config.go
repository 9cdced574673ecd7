// Package testsupport builds isolated configurations for tests.
package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"rmcloud/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a demo-mode config rooted in a per-test temp directory,
// listening on an ephemeral loopback port with no artificial latency. The
// directories it names exist when it returns.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Server.Bind = "127.0.0.1:0"
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = ""
	cfgVal.Cache.Enabled = true
	cfgVal.Cache.Dir = filepath.Join(base, "cache")
	cfgVal.Cache.ReconcileInterval = 0
	cfgVal.Converter.Command = ""
	cfgVal.Demo.Enabled = true
	cfgVal.Demo.DelayMillis = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure test directories: %v", err)
	}
	return builder.cfg
}

// WithoutCache disables the artifact cache.
func WithoutCache() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Cache.Enabled = false
	}
}

// WithLogDir enables file logging under the test directory.
func WithLogDir() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.LogDir = filepath.Join(b.baseDir, "logs")
	}
}

// WithLiveCloud turns demo mode off and points the cloud at url.
func WithLiveCloud(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Demo.Enabled = false
		b.cfg.Cloud.AuthURL = url
		b.cfg.Cloud.StorageURL = url
	}
}

// WithStubConverter writes a shell script converter and configures it. The
// script receives the input path as its only argument.
func WithStubConverter(script string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		target := filepath.Join(binDir, "stub-converter")
		if err := os.WriteFile(target, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
			b.t.Fatalf("write stub converter: %v", err)
		}
		b.cfg.Converter.Command = target
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
