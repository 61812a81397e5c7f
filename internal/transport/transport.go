package transport

import (
	"context"
	"errors"
	"fmt"
)

// Request describes one upload attempt.
type Request struct {
	JobID       string
	OwnerID     string
	PayloadPath string
	Metadata    map[string]string
}

// ProgressFunc receives upload progress as a fraction in [0, 1].
type ProgressFunc func(fraction float64)

// Uploader streams a local asset to the remote store and returns its remote
// identifier. Implementations honour context cancellation to support
// cooperative job cancellation and attempt timeouts.
type Uploader interface {
	Upload(ctx context.Context, req Request, onProgress ProgressFunc) (remoteID string, err error)
}

// Classifier allows errors to declare whether another automatic attempt may
// succeed. Errors that do not implement it are treated as retryable.
type Classifier interface {
	Retryable() bool
}

type classifiedError struct {
	err       error
	retryable bool
}

func (e *classifiedError) Error() string { return e.err.Error() }

func (e *classifiedError) Unwrap() error { return e.err }

func (e *classifiedError) Retryable() bool { return e.retryable }

// MarkRetryable wraps an error as retryable (network timeout, 5xx, transient
// storage failure).
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, retryable: true}
}

// MarkTerminal wraps an error as terminal (auth rejection, payload validation
// failure, asset missing from disk). Terminal errors bypass the attempt budget.
func MarkTerminal(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, retryable: false}
}

// Retryablef is shorthand for MarkRetryable(fmt.Errorf(...)).
func Retryablef(format string, args ...any) error {
	return MarkRetryable(fmt.Errorf(format, args...))
}

// Terminalf is shorthand for MarkTerminal(fmt.Errorf(...)).
func Terminalf(format string, args ...any) error {
	return MarkTerminal(fmt.Errorf(format, args...))
}

// IsRetryable reports whether an upload error may succeed on another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var classifier Classifier
	if errors.As(err, &classifier) {
		return classifier.Retryable()
	}
	return true
}
