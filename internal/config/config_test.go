package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"uplink/internal/config"
)

func TestLoadDefaultConfigUsesEnvEndpointAndExpandsPaths(t *testing.T) {
	t.Setenv("UPLINK_ENDPOINT", "https://media.example.com/v1/upload")
	t.Setenv("UPLINK_AUTH_TOKEN", "env-token")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "uplink", "data")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Upload.Endpoint != "https://media.example.com/v1/upload" {
		t.Fatalf("expected endpoint from env, got %q", cfg.Upload.Endpoint)
	}
	if cfg.Upload.AuthToken != "env-token" {
		t.Fatalf("expected auth token from env, got %q", cfg.Upload.AuthToken)
	}
	if cfg.Workflow.Concurrency != config.Default().Workflow.Concurrency {
		t.Fatalf("unexpected concurrency: %d", cfg.Workflow.Concurrency)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Fatalf("unexpected retry budget: %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Retention.CompletedHours != 24 {
		t.Fatalf("unexpected retention window: %d", cfg.Retention.CompletedHours)
	}
	if cfg.Retention.PruneSchedule != "@hourly" {
		t.Fatalf("unexpected prune schedule: %q", cfg.Retention.PruneSchedule)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
	if cfg.DatabasePath() != filepath.Join(cfg.Paths.DataDir, "uplink.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
}

func TestLoadParsesFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := strings.Join([]string{
		`[upload]`,
		`endpoint = "https://store.example.test/media"`,
		`auth_token = "file-token"`,
		``,
		`[workflow]`,
		`concurrency = 3`,
		``,
		`[retry]`,
		`max_attempts = 5`,
		`base_delay = 1`,
		`max_delay = 30`,
		``,
		`[logging]`,
		`format = "json"`,
		`level = "debug"`,
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if resolved != path {
		t.Fatalf("expected resolved path %q, got %q", path, resolved)
	}
	if cfg.Workflow.Concurrency != 3 {
		t.Fatalf("unexpected concurrency: %d", cfg.Workflow.Concurrency)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Fatalf("unexpected retry budget: %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("unexpected log format: %q", cfg.Logging.Format)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() config.Config {
		cfg := config.Default()
		cfg.Upload.Endpoint = "https://media.example.com/v1/upload"
		return cfg
	}

	cases := []struct {
		name    string
		mutate  func(*config.Config)
		wantSub string
	}{
		{
			name:    "missing endpoint",
			mutate:  func(c *config.Config) { c.Upload.Endpoint = "" },
			wantSub: "upload.endpoint is required",
		},
		{
			name:    "bad endpoint scheme",
			mutate:  func(c *config.Config) { c.Upload.Endpoint = "ftp://example.com" },
			wantSub: "http or https",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *config.Config) { c.Workflow.Concurrency = 0 },
			wantSub: "workflow.concurrency",
		},
		{
			name:    "attempt timeout below request timeout",
			mutate:  func(c *config.Config) { c.Workflow.AttemptTimeout = 1 },
			wantSub: "workflow.attempt_timeout",
		},
		{
			name:    "zero retry attempts",
			mutate:  func(c *config.Config) { c.Retry.MaxAttempts = 0 },
			wantSub: "retry.max_attempts",
		},
		{
			name:    "max delay below base delay",
			mutate:  func(c *config.Config) { c.Retry.MaxDelay = 1 },
			wantSub: "retry.max_delay",
		},
		{
			name:    "bad prune schedule",
			mutate:  func(c *config.Config) { c.Retention.PruneSchedule = "often" },
			wantSub: "retention.prune_schedule",
		},
		{
			name:    "bad log format",
			mutate:  func(c *config.Config) { c.Logging.Format = "yaml" },
			wantSub: "logging.format",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("expected error containing %q, got %v", tc.wantSub, err)
			}
		})
	}
}

func TestCreateSampleWritesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[upload]") {
		t.Fatal("expected sample to contain upload section")
	}
}
