// Package testsupport provides shared helpers for exercising the queue,
// engine, and daemon in tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"uplink/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Upload.Endpoint = "https://media.example.test/v1/upload"
	cfg.Upload.RequestTimeout = 5
	cfg.Workflow.Concurrency = 1
	cfg.Workflow.QueuePollInterval = 1
	cfg.Workflow.AttemptTimeout = 10
	cfg.Workflow.CancelAckTimeout = 1
	cfg.Retry.BaseDelay = 1
	cfg.Retry.MaxDelay = 2
	cfg.Retry.Jitter = 0

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return &cfg
}

// WithConcurrency sets the scheduler concurrency limit on the test config.
func WithConcurrency(k int) ConfigOption {
	return func(c *config.Config) {
		c.Workflow.Concurrency = k
	}
}

// WithMaxAttempts sets the automatic retry budget on the test config.
func WithMaxAttempts(n int) ConfigOption {
	return func(c *config.Config) {
		c.Retry.MaxAttempts = n
	}
}
