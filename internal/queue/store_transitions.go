package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ClaimNextPending atomically claims the oldest eligible pending job for an
// owner scope, transitioning it to uploading and counting the attempt. It
// returns (nil, nil) when nothing is eligible. The compare-and-swap on status
// guarantees no two workers ever claim the same job.
func (s *Store) ClaimNextPending(ctx context.Context, ownerID string, now time.Time) (*Job, error) {
	nowStr := now.UTC().Format(time.RFC3339Nano)
	for {
		var id string
		err := s.db.QueryRowContext(
			ctx,
			`SELECT id FROM upload_jobs
             WHERE owner_id = ? AND status = ?
               AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
             ORDER BY created_at, id LIMIT 1`,
			ownerID,
			StatusPending,
			nowStr,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("select next pending: %w", err)
		}

		res, err := s.execWithRetry(
			ctx,
			`UPDATE upload_jobs
             SET status = ?, attempt = attempt + 1, progress = 0,
                 error_message = NULL, next_attempt_at = NULL, updated_at = ?
             WHERE id = ? AND status = ?`,
			StatusUploading,
			nowStr,
			id,
			StatusPending,
		)
		if err != nil {
			return nil, fmt.Errorf("claim job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected: %w", err)
		}
		if affected == 1 {
			return s.GetByID(ctx, id)
		}
		// Lost the race to a concurrent claim or cancel; scan again.
	}
}

// MarkCompleted transitions an uploading job to completed.
func (s *Store) MarkCompleted(ctx context.Context, id, remoteID string) (bool, error) {
	now := time.Now().UTC()
	return s.transition(
		ctx,
		`UPDATE upload_jobs
         SET status = ?, progress = 1.0, remote_id = ?, completed_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusCompleted,
		nullableString(remoteID),
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		id,
		StatusUploading,
	)
}

// MarkFailed transitions an uploading job to failed with the stored reason.
func (s *Store) MarkFailed(ctx context.Context, id, message string) (bool, error) {
	return s.transition(
		ctx,
		`UPDATE upload_jobs
         SET status = ?, progress = 0, error_message = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusFailed,
		message,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusUploading,
	)
}

// MarkCancelled transitions a job to cancelled from the given current status.
func (s *Store) MarkCancelled(ctx context.Context, id string, from Status) (bool, error) {
	if !CanTransition(from, StatusCancelled) {
		return false, nil
	}
	return s.transition(
		ctx,
		`UPDATE upload_jobs
         SET status = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusCancelled,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		from,
	)
}

// Requeue returns an uploading job to pending for another automatic attempt.
// A non-nil nextAttemptAt gates claim eligibility for backoff.
func (s *Store) Requeue(ctx context.Context, id string, nextAttemptAt *time.Time) (bool, error) {
	return s.transition(
		ctx,
		`UPDATE upload_jobs
         SET status = ?, progress = 0, next_attempt_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusPending,
		nullableTime(nextAttemptAt),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusUploading,
	)
}

// RetryFailed moves a failed job back to pending for a user-requested retry.
// The attempt count is not reset; attempts accumulate across manual retries.
func (s *Store) RetryFailed(ctx context.Context, id string) (bool, error) {
	return s.transition(
		ctx,
		`UPDATE upload_jobs
         SET status = ?, progress = 0, error_message = NULL, next_attempt_at = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusPending,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusFailed,
	)
}

// UpdateProgress persists a progress fraction for an in-flight job. Updates
// for jobs no longer uploading are dropped, which keeps stale transport
// callbacks from resurrecting finished work.
func (s *Store) UpdateProgress(ctx context.Context, id string, fraction float64) (bool, error) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return s.transition(
		ctx,
		`UPDATE upload_jobs SET progress = ?, updated_at = ? WHERE id = ? AND status = ?`,
		fraction,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusUploading,
	)
}

// ReclaimInterrupted demotes an owner's uploading jobs back to pending. No
// transport call can survive a process restart, so anything found uploading at
// startup is an interrupted attempt. The attempt count is kept; progress resets.
func (s *Store) ReclaimInterrupted(ctx context.Context, ownerID string) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE upload_jobs
         SET status = ?, progress = 0, next_attempt_at = NULL, updated_at = ?
         WHERE owner_id = ? AND status = ?`,
		StatusPending,
		time.Now().UTC().Format(time.RFC3339Nano),
		ownerID,
		StatusUploading,
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim interrupted jobs: %w", err)
	}
	return res.RowsAffected()
}

// ClearCompleted removes all of an owner's completed jobs regardless of age.
func (s *Store) ClearCompleted(ctx context.Context, ownerID string) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM upload_jobs WHERE owner_id = ? AND status = ?`,
		ownerID,
		StatusCompleted,
	)
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return res.RowsAffected()
}

// PruneCompleted removes completed jobs across all owner scopes whose
// completion timestamp is older than the cutoff.
func (s *Store) PruneCompleted(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM upload_jobs
         WHERE status = ? AND completed_at IS NOT NULL AND completed_at < ?`,
		StatusCompleted,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("prune completed: %w", err)
	}
	return res.RowsAffected()
}

// Remove deletes a job by identifier.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM upload_jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func (s *Store) transition(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("transition job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}
