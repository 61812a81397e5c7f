package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"uplink/internal/config"
	"uplink/internal/events"
	"uplink/internal/logging"
	"uplink/internal/queue"
	"uplink/internal/retry"
	"uplink/internal/transport"
)

var (
	// ErrNotFound reports that no job with the given ID exists in this scope.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidState reports that the requested operation is not legal for
	// the job's current status.
	ErrInvalidState = errors.New("operation not valid for job state")
)

// Engine processes the upload queue for one owner scope.
type Engine struct {
	cfg      *config.Config
	store    *queue.Store
	bus      *events.Bus
	uploader transport.Uploader
	logger   *slog.Logger
	ownerID  string
	policy   retry.Policy

	pollInterval       time.Duration
	errorRetryInterval time.Duration
	attemptTimeout     time.Duration
	cancelAckTimeout   time.Duration

	sem  *semaphore.Weighted
	kick chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	handles map[string]*cancelHandle
	wg      sync.WaitGroup
}

// cancelHandle tracks one in-flight upload attempt so a cancel request can
// interrupt it and wait for the worker to acknowledge.
type cancelHandle struct {
	cancel    context.CancelFunc
	requested chan struct{}
	once      sync.Once
	done      chan struct{}
}

func (h *cancelHandle) requestCancel() {
	h.once.Do(func() {
		close(h.requested)
		h.cancel()
	})
}

func (h *cancelHandle) cancelRequested() bool {
	select {
	case <-h.requested:
		return true
	default:
		return false
	}
}

// New constructs an engine for the given owner scope and rehydrates it:
// jobs left uploading by a previous process are demoted back to pending so
// they are retried rather than stranded.
func New(cfg *config.Config, store *queue.Store, bus *events.Bus, uploader transport.Uploader, logger *slog.Logger, ownerID string) (*Engine, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, errors.New("owner ID is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if uploader == nil {
		return nil, errors.New("uploader is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	e := &Engine{
		cfg:                cfg,
		store:              store,
		bus:                bus,
		uploader:           uploader,
		logger:             logger.With(logging.String(logging.FieldComponent, "engine"), logging.String(logging.FieldOwner, ownerID)),
		ownerID:            ownerID,
		policy:             retry.FromConfig(cfg),
		pollInterval:       time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		errorRetryInterval: time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		attemptTimeout:     time.Duration(cfg.Workflow.AttemptTimeout) * time.Second,
		cancelAckTimeout:   time.Duration(cfg.Workflow.CancelAckTimeout) * time.Second,
		sem:                semaphore.NewWeighted(int64(cfg.Workflow.Concurrency)),
		kick:               make(chan struct{}, 1),
		handles:            make(map[string]*cancelHandle),
	}

	reclaimed, err := store.ReclaimInterrupted(context.Background(), ownerID)
	if err != nil {
		return nil, fmt.Errorf("rehydrate owner scope: %w", err)
	}
	if reclaimed > 0 {
		e.logger.Info("reclaimed interrupted uploads",
			logging.Int64("count", reclaimed),
			logging.String(logging.FieldEventType, "scope_rehydrated"),
		)
	}
	return e, nil
}

// OwnerID returns the owner scope this engine serves.
func (e *Engine) OwnerID() string { return e.ownerID }

// Enqueue persists a new pending job and wakes the scheduler. The job record
// is durable before the returned snapshot is handed to the caller.
func (e *Engine) Enqueue(ctx context.Context, payloadPath string, metadata map[string]string, thumbnailPath string) (*queue.Job, error) {
	payloadPath = strings.TrimSpace(payloadPath)
	if payloadPath == "" {
		return nil, errors.New("payload path is required")
	}

	job, err := e.store.NewJob(ctx, e.ownerID, payloadPath, metadata, thumbnailPath)
	if err != nil {
		e.publishStoreError(err)
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	e.logger.Info("job enqueued",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("payload", payloadPath),
		logging.String(logging.FieldEventType, "job_enqueued"),
	)
	e.publishJob(events.TypeQueued, job)
	e.publishQueueUpdated()
	e.kickScheduler()
	return job.Clone(), nil
}

// Get returns a snapshot of one job in this scope.
func (e *Engine) Get(ctx context.Context, id string) (*queue.Job, error) {
	job, err := e.loadScoped(ctx, id)
	if err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

// List returns snapshots of this scope's jobs, oldest first.
func (e *Engine) List(ctx context.Context, filter queue.Filter) ([]*queue.Job, error) {
	jobs, err := e.store.List(ctx, e.ownerID, filter)
	if err != nil {
		e.publishStoreError(err)
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	out := make([]*queue.Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, job.Clone())
	}
	return out, nil
}

// Health returns aggregate queue counts for this scope.
func (e *Engine) Health(ctx context.Context) (queue.HealthSummary, error) {
	summary, err := e.store.Health(ctx, e.ownerID)
	if err != nil {
		e.publishStoreError(err)
		return queue.HealthSummary{}, fmt.Errorf("queue health: %w", err)
	}
	return summary, nil
}

// Retry moves a failed job back to pending at the user's request. The attempt
// budget applies only to automatic retries, so a manual retry always grants a
// fresh round of attempts.
func (e *Engine) Retry(ctx context.Context, id string) (*queue.Job, error) {
	job, err := e.loadScoped(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != queue.StatusFailed {
		return nil, fmt.Errorf("%w: retry requires a failed job, %s is %s", ErrInvalidState, id, job.Status)
	}

	ok, err := e.store.RetryFailed(ctx, id)
	if err != nil {
		e.publishStoreError(err)
		return nil, fmt.Errorf("retry job: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: job %s changed state during retry", ErrInvalidState, id)
	}

	updated, err := e.loadScoped(ctx, id)
	if err != nil {
		return nil, err
	}
	e.logger.Info("job retried",
		logging.String(logging.FieldJobID, id),
		logging.Int(logging.FieldAttempt, updated.Attempt),
		logging.String(logging.FieldEventType, "job_retried"),
	)
	e.publishJob(events.TypeRetried, updated)
	e.publishQueueUpdated()
	e.kickScheduler()
	return updated.Clone(), nil
}

// Cancel stops a job. Pending and failed jobs cancel immediately; an
// uploading job has its in-flight attempt interrupted, and if the worker does
// not acknowledge within the configured window the record is force-marked
// cancelled. Cancellation only settles local state: bytes already accepted by
// the remote endpoint are not deleted.
func (e *Engine) Cancel(ctx context.Context, id string) (*queue.Job, error) {
	job, err := e.loadScoped(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: job %s is already %s", ErrInvalidState, id, job.Status)
	}

	switch job.Status {
	case queue.StatusPending, queue.StatusFailed:
		ok, err := e.store.MarkCancelled(ctx, id, job.Status)
		if err != nil {
			e.publishStoreError(err)
			return nil, fmt.Errorf("cancel job: %w", err)
		}
		if !ok {
			// The scheduler claimed it between our read and the update.
			return e.cancelUploading(ctx, id)
		}
		updated, err := e.loadScoped(ctx, id)
		if err != nil {
			return nil, err
		}
		e.logger.Info("job cancelled",
			logging.String(logging.FieldJobID, id),
			logging.String(logging.FieldEventType, "job_cancelled"),
		)
		e.publishJob(events.TypeCancelled, updated)
		e.publishQueueUpdated()
		return updated.Clone(), nil
	case queue.StatusUploading:
		return e.cancelUploading(ctx, id)
	default:
		return nil, fmt.Errorf("%w: job %s is %s", ErrInvalidState, id, job.Status)
	}
}

func (e *Engine) cancelUploading(ctx context.Context, id string) (*queue.Job, error) {
	e.mu.Lock()
	handle := e.handles[id]
	e.mu.Unlock()

	if handle != nil {
		handle.requestCancel()
		select {
		case <-handle.done:
		case <-time.After(e.cancelAckTimeout):
			e.logger.Warn("cancel acknowledgement timed out, forcing cancelled state",
				logging.String(logging.FieldJobID, id),
				logging.String(logging.FieldEventType, "cancel_forced"),
			)
			if _, err := e.store.MarkCancelled(context.WithoutCancel(ctx), id, queue.StatusUploading); err != nil {
				e.publishStoreError(err)
				return nil, fmt.Errorf("force cancel job: %w", err)
			}
			if updated, err := e.loadScoped(ctx, id); err == nil {
				e.publishJob(events.TypeCancelled, updated)
				e.publishQueueUpdated()
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else {
		// No worker owns it in this process: a crashed attempt the store
		// still shows uploading. Settle the record directly.
		ok, err := e.store.MarkCancelled(ctx, id, queue.StatusUploading)
		if err != nil {
			e.publishStoreError(err)
			return nil, fmt.Errorf("cancel job: %w", err)
		}
		if ok {
			if updated, err := e.loadScoped(ctx, id); err == nil {
				e.publishJob(events.TypeCancelled, updated)
				e.publishQueueUpdated()
			}
		}
	}

	updated, err := e.loadScoped(ctx, id)
	if err != nil {
		return nil, err
	}
	if updated.Status != queue.StatusCancelled {
		return nil, fmt.Errorf("%w: job %s settled as %s", ErrInvalidState, id, updated.Status)
	}
	return updated.Clone(), nil
}

// ClearCompleted removes this scope's completed jobs and reports how many.
func (e *Engine) ClearCompleted(ctx context.Context) (int64, error) {
	removed, err := e.store.ClearCompleted(ctx, e.ownerID)
	if err != nil {
		e.publishStoreError(err)
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	if removed > 0 {
		e.logger.Info("cleared completed jobs", logging.Int64("count", removed))
		e.publishQueueUpdated()
	}
	return removed, nil
}

func (e *Engine) loadScoped(ctx context.Context, id string) (*queue.Job, error) {
	job, err := e.store.GetByID(ctx, id)
	if err != nil {
		e.publishStoreError(err)
		return nil, fmt.Errorf("load job: %w", err)
	}
	if job == nil || job.OwnerID != e.ownerID {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return job, nil
}

func (e *Engine) publishJob(eventType events.Type, job *queue.Job) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.Event{
		Type:    eventType,
		OwnerID: e.ownerID,
		Job:     job.Clone(),
	})
}

func (e *Engine) publishQueueUpdated() {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.Event{Type: events.TypeQueueUpdated, OwnerID: e.ownerID})
}

func (e *Engine) publishStoreError(err error) {
	if e.bus == nil || err == nil {
		return
	}
	e.bus.Publish(events.Event{
		Type:    events.TypeStoreError,
		OwnerID: e.ownerID,
		Error:   err.Error(),
	})
}

func (e *Engine) kickScheduler() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}
