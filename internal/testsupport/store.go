package testsupport

import (
	"context"
	"testing"

	"uplink/internal/config"
	"uplink/internal/queue"
)

// MustOpenStore opens a queue store for the given config and registers
// cleanup. The test fails immediately if the store cannot be opened.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

// MustNewJob enqueues a job with minimal metadata and fails the test on error.
func MustNewJob(t testing.TB, store *queue.Store, ownerID, payloadPath string) *queue.Job {
	t.Helper()

	job, err := store.NewJob(context.Background(), ownerID, payloadPath, map[string]string{"title": "clip"}, "")
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	return job
}
