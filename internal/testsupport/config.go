// Package testsupport provides shared fixtures for package tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"spool/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.DownloadDir = filepath.Join(base, "downloads")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.ArtworkCacheDir = filepath.Join(base, "artwork")
	cfg.Server.URL = "http://127.0.0.1:32400"
	cfg.Server.Token = "test-token"
	cfg.Server.ServerID = "test-server"
	cfg.Server.ClientID = "spool-test"
	cfg.Daemon.Bind = "127.0.0.1:0"

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithServer points the config at a live test server URL.
func WithServer(url string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Server.URL = url
	}
}

// WithMaxConcurrent overrides the transfer concurrency.
func WithMaxConcurrent(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Transfer.MaxConcurrent = n
	}
}
