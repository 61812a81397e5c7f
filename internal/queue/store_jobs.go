package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const jobColumns = "id, owner_id, status, payload_path, thumbnail_path, metadata_json, progress, attempt, error_message, remote_id, created_at, updated_at, completed_at, next_attempt_at"

// NewJob inserts a pending upload job and returns the stored record.
func (s *Store) NewJob(ctx context.Context, ownerID, payloadPath string, metadata map[string]string, thumbnailPath string) (*Job, error) {
	if strings.TrimSpace(payloadPath) == "" {
		return nil, errors.New("payload path is required")
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	metadataJSON, err := encodeMetadata(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.execWithRetry(
		ctx,
		`INSERT INTO upload_jobs (
            id, owner_id, status, payload_path, thumbnail_path, metadata_json,
            progress, attempt, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		ownerID,
		StatusPending,
		payloadPath,
		nullableString(thumbnailPath),
		nullableString(metadataJSON),
		0.0,
		0,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches a job by identifier. Missing jobs return (nil, nil).
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM upload_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns an owner scope's jobs matching the filter, in enqueue order.
func (s *Store) List(ctx context.Context, ownerID string, filter Filter) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM upload_jobs WHERE owner_id = ?`
	args := []any{ownerID}

	if len(filter.Statuses) > 0 {
		query += ` AND status IN (` + makePlaceholders(len(filter.Statuses)) + `)`
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, filter.CreatedAfter.UTC().Format(time.RFC3339Nano))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Stats returns a count of an owner's jobs grouped by status.
func (s *Store) Stats(ctx context.Context, ownerID string) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM upload_jobs WHERE owner_id = ? GROUP BY status`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates an owner scope's queue state for diagnostic output.
func (s *Store) Health(ctx context.Context, ownerID string) (HealthSummary, error) {
	stats, err := s.Stats(ctx, ownerID)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusUploading:
			health.Uploading += count
		case StatusCompleted:
			health.Completed += count
		case StatusFailed:
			health.Failed += count
		case StatusCancelled:
			health.Cancelled += count
		}
	}
	return health, nil
}

// Owners returns the distinct owner scopes present in the store.
func (s *Store) Owners(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT owner_id FROM upload_jobs ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, err
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id            string
		ownerID       string
		statusStr     string
		payloadPath   string
		thumbnailPath sql.NullString
		metadataRaw   sql.NullString
		progress      sql.NullFloat64
		attempt       sql.NullInt64
		errorMessage  sql.NullString
		remoteID      sql.NullString
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
		completedRaw  sql.NullString
		nextRaw       sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&ownerID,
		&statusStr,
		&payloadPath,
		&thumbnailPath,
		&metadataRaw,
		&progress,
		&attempt,
		&errorMessage,
		&remoteID,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
		&nextRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:            id,
		OwnerID:       ownerID,
		Status:        Status(statusStr),
		PayloadPath:   payloadPath,
		ThumbnailPath: thumbnailPath.String,
		Metadata:      decodeMetadata(metadataRaw.String),
		Progress:      progress.Float64,
		Attempt:       int(attempt.Int64),
		ErrorMessage:  errorMessage.String,
		RemoteID:      remoteID.String,
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			job.CompletedAt = &completed
		}
	}
	if nextRaw.Valid {
		if next, err := parseTimeString(nextRaw.String); err == nil {
			job.NextAttemptAt = &next
		}
	}
	return job, nil
}

func encodeMetadata(metadata map[string]string) (string, error) {
	if len(metadata) == 0 {
		return "", nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeMetadata tolerates malformed or unknown-shaped metadata: a bag that
// cannot be parsed is dropped rather than failing rehydration.
func decodeMetadata(raw string) map[string]string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var metadata map[string]string
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil
	}
	return metadata
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
