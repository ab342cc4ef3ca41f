// Package testsupport provides shared fixtures for integration-style tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"tomarr/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// Every external integration starts disabled; tests opt in per option.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Ebdz.Enabled = false
	cfg.Prowlarr.Enabled = false
	cfg.Metasite.Enabled = false
	cfg.Emule.Enabled = false
	cfg.QBittorrent.Enabled = false

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithEbdzIndex enables the local ED2K source backed by the given index file.
func WithEbdzIndex(path string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Ebdz.Enabled = true
		cfg.Ebdz.Path = path
	}
}

// WithAPIToken sets the bearer token the HTTP API requires.
func WithAPIToken(token string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Paths.APIToken = token
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
