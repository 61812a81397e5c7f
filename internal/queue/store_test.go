package queue_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"uplink/internal/queue"
	"uplink/internal/testsupport"
)

func TestNewJobPersistsAndRoundTrips(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	metadata := map[string]string{"title": "Beach Day", "caption": "waves"}
	job, err := store.NewJob(ctx, "user-1", "/media/beach.mp4", metadata, "/media/beach.jpg")
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected generated job ID")
	}
	if job.Status != queue.StatusPending {
		t.Fatalf("expected pending status, got %s", job.Status)
	}
	if job.Attempt != 0 {
		t.Fatalf("expected zero attempts before first claim, got %d", job.Attempt)
	}

	loaded, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected job to round-trip")
	}
	if loaded.OwnerID != "user-1" || loaded.PayloadPath != "/media/beach.mp4" {
		t.Fatalf("unexpected job fields: %+v", loaded)
	}
	if loaded.ThumbnailPath != "/media/beach.jpg" {
		t.Fatalf("unexpected thumbnail path %q", loaded.ThumbnailPath)
	}
	if loaded.Metadata["title"] != "Beach Day" || loaded.Metadata["caption"] != "waves" {
		t.Fatalf("metadata did not round-trip: %+v", loaded.Metadata)
	}
	if loaded.CreatedAt.IsZero() || loaded.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps to be populated")
	}
}

func TestGetByIDMissingReturnsNil(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	job, err := store.GetByID(context.Background(), "no-such-job")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if job != nil {
		t.Fatalf("expected nil for missing job, got %+v", job)
	}
}

func TestClaimNextPendingIsFIFO(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		job := testsupport.MustNewJob(t, store, "user-1", fmt.Sprintf("/media/clip-%d.mp4", i))
		ids = append(ids, job.ID)
		time.Sleep(2 * time.Millisecond)
	}

	for i, want := range ids {
		claimed, err := store.ClaimNextPending(ctx, "user-1", time.Now())
		if err != nil {
			t.Fatalf("claim %d failed: %v", i, err)
		}
		if claimed == nil {
			t.Fatalf("claim %d returned nil", i)
		}
		if claimed.ID != want {
			t.Fatalf("claim %d = %s, want %s", i, claimed.ID, want)
		}
		if claimed.Status != queue.StatusUploading {
			t.Fatalf("claimed job status = %s, want uploading", claimed.Status)
		}
		if claimed.Attempt != 1 {
			t.Fatalf("claimed job attempt = %d, want 1", claimed.Attempt)
		}
	}

	empty, err := store.ClaimNextPending(ctx, "user-1", time.Now())
	if err != nil {
		t.Fatalf("claim on drained queue failed: %v", err)
	}
	if empty != nil {
		t.Fatalf("expected nil claim on drained queue, got %+v", empty)
	}
}

func TestClaimRespectsBackoffGate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.MustNewJob(t, store, "user-1", "/media/clip.mp4")
	if _, err := store.ClaimNextPending(ctx, "user-1", time.Now()); err != nil {
		t.Fatalf("initial claim failed: %v", err)
	}
	gate := time.Now().UTC().Add(30 * time.Second)
	if ok, err := store.Requeue(ctx, job.ID, &gate); err != nil || !ok {
		t.Fatalf("requeue failed: ok=%v err=%v", ok, err)
	}

	blocked, err := store.ClaimNextPending(ctx, "user-1", time.Now())
	if err != nil {
		t.Fatalf("claim before gate failed: %v", err)
	}
	if blocked != nil {
		t.Fatalf("expected backoff gate to block claim, got %+v", blocked)
	}

	claimed, err := store.ClaimNextPending(ctx, "user-1", gate.Add(time.Second))
	if err != nil {
		t.Fatalf("claim after gate failed: %v", err)
	}
	if claimed == nil || claimed.ID != job.ID {
		t.Fatalf("expected job claimable after gate, got %+v", claimed)
	}
	if claimed.Attempt != 2 {
		t.Fatalf("expected attempt 2 after requeue and reclaim, got %d", claimed.Attempt)
	}
	if claimed.NextAttemptAt != nil {
		t.Fatal("claim should clear the backoff gate")
	}
}

func TestClaimIsScopedToOwner(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	other := testsupport.MustNewJob(t, store, "user-2", "/media/other.mp4")

	claimed, err := store.ClaimNextPending(ctx, "user-1", time.Now())
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if claimed != nil {
		t.Fatalf("claim crossed owner scopes: got %+v", claimed)
	}

	claimed, err = store.ClaimNextPending(ctx, "user-2", time.Now())
	if err != nil {
		t.Fatalf("owner claim failed: %v", err)
	}
	if claimed == nil || claimed.ID != other.ID {
		t.Fatalf("expected owner to claim own job, got %+v", claimed)
	}
}

func TestMarkCompletedRecordsOutcome(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.MustNewJob(t, store, "user-1", "/media/clip.mp4")
	if _, err := store.ClaimNextPending(ctx, "user-1", time.Now()); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	ok, err := store.MarkCompleted(ctx, job.ID, "remote-42")
	if err != nil || !ok {
		t.Fatalf("MarkCompleted failed: ok=%v err=%v", ok, err)
	}

	loaded, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if loaded.Status != queue.StatusCompleted {
		t.Fatalf("status = %s, want completed", loaded.Status)
	}
	if loaded.RemoteID != "remote-42" {
		t.Fatalf("remote ID = %q, want remote-42", loaded.RemoteID)
	}
	if loaded.Progress != 1 {
		t.Fatalf("progress = %v, want 1", loaded.Progress)
	}
	if loaded.CompletedAt == nil {
		t.Fatal("expected completed-at timestamp")
	}
}

func TestTerminalStatusesRejectFurtherTransitions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.MustNewJob(t, store, "user-1", "/media/clip.mp4")
	if _, err := store.ClaimNextPending(ctx, "user-1", time.Now()); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if ok, err := store.MarkCompleted(ctx, job.ID, "remote-1"); err != nil || !ok {
		t.Fatalf("MarkCompleted failed: ok=%v err=%v", ok, err)
	}

	if ok, _ := store.MarkFailed(ctx, job.ID, "late failure"); ok {
		t.Fatal("completed job must not transition to failed")
	}
	if ok, _ := store.MarkCancelled(ctx, job.ID, queue.StatusCompleted); ok {
		t.Fatal("completed job must not transition to cancelled")
	}
	if ok, _ := store.RetryFailed(ctx, job.ID); ok {
		t.Fatal("completed job must not be retried")
	}
	if claimed, _ := store.ClaimNextPending(ctx, "user-1", time.Now()); claimed != nil {
		t.Fatal("completed job must not be claimable")
	}
}

func TestRetryFailedKeepsAttemptCount(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.MustNewJob(t, store, "user-1", "/media/clip.mp4")
	if _, err := store.ClaimNextPending(ctx, "user-1", time.Now()); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if ok, err := store.MarkFailed(ctx, job.ID, "endpoint rejected payload"); err != nil || !ok {
		t.Fatalf("MarkFailed failed: ok=%v err=%v", ok, err)
	}

	loaded, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if loaded.ErrorMessage != "endpoint rejected payload" {
		t.Fatalf("error message = %q", loaded.ErrorMessage)
	}

	ok, err := store.RetryFailed(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("RetryFailed failed: ok=%v err=%v", ok, err)
	}
	loaded, err = store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if loaded.Status != queue.StatusPending {
		t.Fatalf("status = %s, want pending", loaded.Status)
	}
	if loaded.ErrorMessage != "" {
		t.Fatalf("expected error message cleared, got %q", loaded.ErrorMessage)
	}
	if loaded.Attempt != 1 {
		t.Fatalf("attempt = %d, want 1 carried across manual retry", loaded.Attempt)
	}

	claimed, err := store.ClaimNextPending(ctx, "user-1", time.Now())
	if err != nil || claimed == nil {
		t.Fatalf("re-claim failed: %v", err)
	}
	if claimed.Attempt != 2 {
		t.Fatalf("attempt after manual retry claim = %d, want 2", claimed.Attempt)
	}
}

func TestMarkCancelledObeysStateMachine(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	pending := testsupport.MustNewJob(t, store, "user-1", "/media/a.mp4")
	if ok, err := store.MarkCancelled(ctx, pending.ID, queue.StatusPending); err != nil || !ok {
		t.Fatalf("cancel pending failed: ok=%v err=%v", ok, err)
	}

	// Stale snapshot: caller believes the job is still pending but it has
	// already been cancelled, so the compare-and-swap must miss.
	if ok, _ := store.MarkCancelled(ctx, pending.ID, queue.StatusPending); ok {
		t.Fatal("cancel must not apply twice")
	}

	uploading := testsupport.MustNewJob(t, store, "user-1", "/media/b.mp4")
	if _, err := store.ClaimNextPending(ctx, "user-1", time.Now()); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if ok, err := store.MarkCancelled(ctx, uploading.ID, queue.StatusUploading); err != nil || !ok {
		t.Fatalf("cancel uploading failed: ok=%v err=%v", ok, err)
	}
}

func TestUpdateProgressDropsStaleCallbacks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.MustNewJob(t, store, "user-1", "/media/clip.mp4")
	if _, err := store.ClaimNextPending(ctx, "user-1", time.Now()); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	if ok, err := store.UpdateProgress(ctx, job.ID, 0.4); err != nil || !ok {
		t.Fatalf("UpdateProgress failed: ok=%v err=%v", ok, err)
	}
	loaded, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if loaded.Progress != 0.4 {
		t.Fatalf("progress = %v, want 0.4", loaded.Progress)
	}

	if ok, err := store.MarkCompleted(ctx, job.ID, "remote-1"); err != nil || !ok {
		t.Fatalf("MarkCompleted failed: ok=%v err=%v", ok, err)
	}
	if ok, _ := store.UpdateProgress(ctx, job.ID, 0.9); ok {
		t.Fatal("progress update must be dropped once job leaves uploading")
	}
	loaded, err = store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if loaded.Progress != 1 {
		t.Fatalf("progress = %v, want 1 after completion", loaded.Progress)
	}
}

func TestReclaimInterruptedDemotesUploading(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := testsupport.MustNewJob(t, store, "user-1", "/media/a.mp4")
	testsupport.MustNewJob(t, store, "user-1", "/media/b.mp4")
	otherOwner := testsupport.MustNewJob(t, store, "user-2", "/media/c.mp4")

	if _, err := store.ClaimNextPending(ctx, "user-1", time.Now()); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if _, err := store.ClaimNextPending(ctx, "user-2", time.Now()); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if ok, err := store.UpdateProgress(ctx, first.ID, 0.7); err != nil || !ok {
		t.Fatalf("UpdateProgress failed: ok=%v err=%v", ok, err)
	}

	reclaimed, err := store.ReclaimInterrupted(ctx, "user-1")
	if err != nil {
		t.Fatalf("ReclaimInterrupted failed: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("reclaimed = %d, want 1", reclaimed)
	}

	loaded, err := store.GetByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if loaded.Status != queue.StatusPending {
		t.Fatalf("status = %s, want pending after reclaim", loaded.Status)
	}
	if loaded.Progress != 0 {
		t.Fatalf("progress = %v, want reset to 0", loaded.Progress)
	}
	if loaded.Attempt != 1 {
		t.Fatalf("attempt = %d, want interrupted attempt still counted", loaded.Attempt)
	}

	other, err := store.GetByID(ctx, otherOwner.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if other.Status != queue.StatusUploading {
		t.Fatalf("other owner's job status = %s, want uploading untouched", other.Status)
	}
}

func TestListFiltersByStatusAndOwner(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	a := testsupport.MustNewJob(t, store, "user-1", "/media/a.mp4")
	time.Sleep(2 * time.Millisecond)
	b := testsupport.MustNewJob(t, store, "user-1", "/media/b.mp4")
	testsupport.MustNewJob(t, store, "user-2", "/media/c.mp4")

	if _, err := store.ClaimNextPending(ctx, "user-1", time.Now()); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	all, err := store.List(ctx, "user-1", queue.Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len(all) = %d, want 2", len(all))
	}
	if all[0].ID != a.ID || all[1].ID != b.ID {
		t.Fatal("expected list ordered by creation time")
	}

	pendingOnly, err := store.List(ctx, "user-1", queue.Filter{Statuses: []queue.Status{queue.StatusPending}})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(pendingOnly) != 1 || pendingOnly[0].ID != b.ID {
		t.Fatalf("unexpected pending list: %+v", pendingOnly)
	}
}

func TestHealthCountsPerOwner(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	done := testsupport.MustNewJob(t, store, "user-1", "/media/a.mp4")
	time.Sleep(2 * time.Millisecond)
	testsupport.MustNewJob(t, store, "user-1", "/media/b.mp4")
	testsupport.MustNewJob(t, store, "user-2", "/media/c.mp4")

	if _, err := store.ClaimNextPending(ctx, "user-1", time.Now()); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if ok, err := store.MarkCompleted(ctx, done.ID, "remote-1"); err != nil || !ok {
		t.Fatalf("MarkCompleted failed: ok=%v err=%v", ok, err)
	}

	health, err := store.Health(ctx, "user-1")
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 2 || health.Pending != 1 || health.Completed != 1 {
		t.Fatalf("unexpected health summary: %+v", health)
	}

	owners, err := store.Owners(ctx)
	if err != nil {
		t.Fatalf("Owners failed: %v", err)
	}
	if len(owners) != 2 {
		t.Fatalf("owners = %v, want two scopes", owners)
	}
}

func TestClearAndPruneCompleted(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	complete := func(ownerID, path string) *queue.Job {
		t.Helper()
		job := testsupport.MustNewJob(t, store, ownerID, path)
		claimed, err := store.ClaimNextPending(ctx, ownerID, time.Now())
		if err != nil || claimed == nil {
			t.Fatalf("claim failed: %v", err)
		}
		if ok, err := store.MarkCompleted(ctx, claimed.ID, "remote"); err != nil || !ok {
			t.Fatalf("MarkCompleted failed: ok=%v err=%v", ok, err)
		}
		return job
	}

	complete("user-1", "/media/a.mp4")
	pending := testsupport.MustNewJob(t, store, "user-1", "/media/b.mp4")
	keep := complete("user-2", "/media/c.mp4")

	cleared, err := store.ClearCompleted(ctx, "user-1")
	if err != nil {
		t.Fatalf("ClearCompleted failed: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("cleared = %d, want 1", cleared)
	}
	if job, _ := store.GetByID(ctx, pending.ID); job == nil {
		t.Fatal("clear must not touch non-completed jobs")
	}
	if job, _ := store.GetByID(ctx, keep.ID); job == nil {
		t.Fatal("clear must not cross owner scopes")
	}

	pruned, err := store.PruneCompleted(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneCompleted failed: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("pruned = %d, want 1", pruned)
	}

	nothing, err := store.PruneCompleted(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("PruneCompleted failed: %v", err)
	}
	if nothing != 0 {
		t.Fatalf("pruned = %d, want 0 before cutoff", nothing)
	}
}

func TestMetadataDecodeToleratesCorruptJSON(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job, err := store.NewJob(ctx, "user-1", "/media/clip.mp4", nil, "")
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	loaded, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if loaded.Metadata != nil {
		t.Fatalf("expected nil metadata, got %+v", loaded.Metadata)
	}
}

func TestConcurrentClaimsNeverShareAJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	const jobs = 8
	for i := 0; i < jobs; i++ {
		testsupport.MustNewJob(t, store, "user-1", fmt.Sprintf("/media/clip-%d.mp4", i))
		time.Sleep(time.Millisecond)
	}

	const workers = 4
	results := make(chan string, jobs*2)
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		go func() {
			for {
				job, err := store.ClaimNextPending(ctx, "user-1", time.Now())
				if err != nil {
					errs <- err
					return
				}
				if job == nil {
					errs <- nil
					return
				}
				results <- job.ID
			}
		}()
	}
	for w := 0; w < workers; w++ {
		if err := <-errs; err != nil {
			t.Fatalf("worker claim failed: %v", err)
		}
	}
	close(results)

	seen := make(map[string]bool)
	for id := range results {
		if seen[id] {
			t.Fatalf("job %s claimed twice", id)
		}
		seen[id] = true
	}
	if len(seen) != jobs {
		t.Fatalf("claimed %d unique jobs, want %d", len(seen), jobs)
	}
}
