package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"uplink/internal/events"
	"uplink/internal/logging"
	"uplink/internal/queue"
	"uplink/internal/transport"
)

// Start begins background queue processing.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("engine already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.wg.Add(1)
	e.mu.Unlock()

	go e.run(runCtx)
	return nil
}

// Stop terminates background processing and waits for in-flight workers.
// Interrupted attempts are demoted back to pending by the workers themselves,
// so a later Start (or another process) resumes them.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	e.running = false
	e.cancel = nil
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		e.dispatch(ctx)
		select {
		case <-ctx.Done():
			return
		case <-e.kick:
		case <-ticker.C:
		}
	}
}

// dispatch claims eligible pending jobs until the queue drains or every
// worker slot is busy.
func (e *Engine) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !e.sem.TryAcquire(1) {
			return
		}

		job, err := e.store.ClaimNextPending(ctx, e.ownerID, time.Now().UTC())
		if err != nil {
			e.sem.Release(1)
			if errors.Is(err, context.Canceled) {
				return
			}
			e.logger.Error("failed to claim next pending job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "claim_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
			e.publishStoreError(err)
			select {
			case <-ctx.Done():
			case <-time.After(e.errorRetryInterval):
			}
			return
		}
		if job == nil {
			e.sem.Release(1)
			return
		}

		e.wg.Add(1)
		go func(job *queue.Job) {
			defer e.wg.Done()
			defer e.sem.Release(1)
			e.runJob(ctx, job)
			e.kickScheduler()
		}(job)
	}
}

// runJob drives a single claimed upload attempt to a settled state.
func (e *Engine) runJob(ctx context.Context, job *queue.Job) {
	attemptCtx, cancelAttempt := context.WithTimeout(ctx, e.attemptTimeout)
	defer cancelAttempt()

	handle := &cancelHandle{
		cancel:    cancelAttempt,
		requested: make(chan struct{}),
		done:      make(chan struct{}),
	}
	e.mu.Lock()
	e.handles[job.ID] = handle
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.handles, job.ID)
		e.mu.Unlock()
		close(handle.done)
	}()

	logger := e.logger.With(
		logging.String(logging.FieldJobID, job.ID),
		logging.Int(logging.FieldAttempt, job.Attempt),
	)
	logger.Info("upload attempt started",
		logging.String("payload", job.PayloadPath),
		logging.String(logging.FieldEventType, "attempt_start"),
	)
	started := time.Now()
	e.publishJob(events.TypeUploading, job)

	sampler := logging.NewProgressSampler(0)
	onProgress := func(fraction float64) {
		if !sampler.ShouldEmit(fraction) {
			return
		}
		if _, err := e.store.UpdateProgress(ctx, job.ID, fraction); err != nil {
			logger.Warn("failed to persist progress", logging.Error(err))
			return
		}
		snapshot := job.Clone()
		snapshot.Status = queue.StatusUploading
		snapshot.Progress = fraction
		e.publishJob(events.TypeProgress, snapshot)
	}

	remoteID, uploadErr := e.uploader.Upload(attemptCtx, transport.Request{
		JobID:       job.ID,
		OwnerID:     job.OwnerID,
		PayloadPath: job.PayloadPath,
		Metadata:    job.Metadata,
	}, onProgress)

	// Settling the record must survive scheduler shutdown.
	persistCtx, cancelPersist := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancelPersist()

	switch {
	case uploadErr == nil:
		e.settleCompleted(persistCtx, logger, job, remoteID, time.Since(started))
	case handle.cancelRequested():
		e.settleCancelled(persistCtx, logger, job)
	case ctx.Err() != nil:
		// Shutdown: hand the attempt back without consuming backoff.
		if _, err := e.store.Requeue(persistCtx, job.ID, nil); err != nil {
			logger.Error("failed to requeue interrupted upload", logging.Error(err))
			e.publishStoreError(err)
		} else {
			logger.Info("upload interrupted by shutdown, requeued",
				logging.String(logging.FieldEventType, "attempt_interrupted"),
			)
		}
	default:
		if errors.Is(uploadErr, context.DeadlineExceeded) {
			uploadErr = transport.Retryablef("upload attempt timed out after %s", e.attemptTimeout)
		}
		e.settleFailure(persistCtx, logger, job, uploadErr)
	}
}

func (e *Engine) settleCompleted(ctx context.Context, logger *slog.Logger, job *queue.Job, remoteID string, elapsed time.Duration) {
	ok, err := e.store.MarkCompleted(ctx, job.ID, remoteID)
	if err != nil {
		logger.Error("failed to persist completed upload", logging.Error(err))
		e.publishStoreError(err)
		return
	}
	if !ok {
		// Cancelled while the final bytes were in flight; the cancel path
		// already owns the record.
		return
	}
	logger.Info("upload completed",
		logging.String("remote_id", remoteID),
		logging.Duration("elapsed", elapsed),
		logging.String(logging.FieldEventType, "attempt_complete"),
	)
	e.emitSettled(ctx, events.TypeCompleted, job.ID)
}

func (e *Engine) settleCancelled(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	ok, err := e.store.MarkCancelled(ctx, job.ID, queue.StatusUploading)
	if err != nil {
		logger.Error("failed to persist cancelled upload", logging.Error(err))
		e.publishStoreError(err)
		return
	}
	if ok {
		logger.Info("upload cancelled", logging.String(logging.FieldEventType, "attempt_cancelled"))
		e.emitSettled(ctx, events.TypeCancelled, job.ID)
	}
}

func (e *Engine) settleFailure(ctx context.Context, logger *slog.Logger, job *queue.Job, uploadErr error) {
	if e.policy.ShouldRetry(uploadErr, job.Attempt) {
		delay := e.policy.Delay(job.Attempt)
		gate := time.Now().UTC().Add(delay)
		ok, err := e.store.Requeue(ctx, job.ID, &gate)
		if err != nil {
			logger.Error("failed to requeue for retry", logging.Error(err))
			e.publishStoreError(err)
			return
		}
		if !ok {
			return
		}
		logger.Warn("upload attempt failed, retrying",
			logging.Error(uploadErr),
			logging.Duration("backoff", delay),
			logging.String(logging.FieldEventType, "attempt_retry"),
		)
		e.emitSettled(ctx, events.TypeRetried, job.ID)
		time.AfterFunc(delay, e.kickScheduler)
		return
	}

	ok, err := e.store.MarkFailed(ctx, job.ID, uploadErr.Error())
	if err != nil {
		logger.Error("failed to persist upload failure", logging.Error(err))
		e.publishStoreError(err)
		return
	}
	if !ok {
		return
	}
	logger.Error("upload failed",
		logging.Error(uploadErr),
		logging.Bool("retryable", transport.IsRetryable(uploadErr)),
		logging.String(logging.FieldEventType, "attempt_failed"),
	)
	e.emitSettled(ctx, events.TypeFailed, job.ID)
}

// emitSettled publishes the post-transition snapshot plus a queue_updated.
func (e *Engine) emitSettled(ctx context.Context, eventType events.Type, id string) {
	job, err := e.store.GetByID(ctx, id)
	if err != nil {
		e.publishStoreError(err)
		return
	}
	if job != nil {
		e.publishJob(eventType, job)
	}
	e.publishQueueUpdated()
}
