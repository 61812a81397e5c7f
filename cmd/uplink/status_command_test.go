package main

import (
	"context"
	"testing"
	"time"
)

func TestStatusReportsDaemonAndScopeHealth(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, env, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Uplink Status")
	requireContains(t, out, "not running")
	requireContains(t, out, env.cfg.Upload.Endpoint)
	requireContains(t, out, "Scope "+env.owner)
	requireContains(t, out, "0 pending")
}

func TestStatusAllListsEveryOwner(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	failing, err := env.store.NewJob(ctx, "other-user", "/media/clip.mp4", nil, "")
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	if _, err := env.store.ClaimNextPending(ctx, "other-user", time.Now()); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if ok, err := env.store.MarkFailed(ctx, failing.ID, "remote unavailable"); err != nil || !ok {
		t.Fatalf("MarkFailed failed: ok=%v err=%v", ok, err)
	}

	out, err := runCLI(t, env, "status", "--all")
	if err != nil {
		t.Fatalf("status --all: %v", err)
	}
	requireContains(t, out, "Scope other-user")
	requireContains(t, out, "1 failed")
}
