package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of an upload job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var allStatuses = []Status{
	StatusPending,
	StatusUploading,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// legalTransitions encodes the state machine. Anything absent is rejected.
var legalTransitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusUploading: {},
		StatusCancelled: {},
	},
	StatusUploading: {
		StatusCompleted: {},
		StatusFailed:    {},
		StatusPending:   {},
		StatusCancelled: {},
	},
	StatusFailed: {
		StatusPending:   {},
		StatusCancelled: {},
	},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	targets, ok := legalTransitions[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

// IsTerminal reports whether a status permits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Job represents one queued unit of upload work persisted in SQLite.
type Job struct {
	ID            string
	OwnerID       string
	Status        Status
	PayloadPath   string
	ThumbnailPath string
	Metadata      map[string]string
	Progress      float64
	Attempt       int
	ErrorMessage  string
	RemoteID      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
	NextAttemptAt *time.Time
}

// Clone returns a deep copy so callers cannot mutate engine state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	if j.Metadata != nil {
		cp.Metadata = make(map[string]string, len(j.Metadata))
		for k, v := range j.Metadata {
			cp.Metadata[k] = v
		}
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	if j.NextAttemptAt != nil {
		t := *j.NextAttemptAt
		cp.NextAttemptAt = &t
	}
	return &cp
}

// Eligible reports whether a pending job may be claimed at the given time.
func (j *Job) Eligible(now time.Time) bool {
	if j == nil || j.Status != StatusPending {
		return false
	}
	return j.NextAttemptAt == nil || !j.NextAttemptAt.After(now)
}

// HealthSummary describes aggregated queue counts per key lifecycle states.
type HealthSummary struct {
	Total     int
	Pending   int
	Uploading int
	Completed int
	Failed    int
	Cancelled int
}

// Filter narrows List results.
type Filter struct {
	Statuses     []Status
	CreatedAfter time.Time
}
