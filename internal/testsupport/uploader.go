package testsupport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"uplink/internal/transport"
)

// UploadOutcome scripts one attempt of the stub uploader.
type UploadOutcome struct {
	RemoteID string
	Err      error
	// Progress fractions reported before the outcome is returned.
	Progress []float64
	// Block, when non-nil, is closed by the test to release the attempt.
	// The attempt returns ctx.Err() if the context ends first.
	Block chan struct{}
}

// StubUploader is a scripted transport.Uploader for engine and scheduler
// tests. Outcomes are consumed per job in script order; when a job's script
// is exhausted the uploader succeeds with a synthetic remote ID. It also
// tracks the peak number of concurrent attempts.
type StubUploader struct {
	mu      sync.Mutex
	scripts map[string][]UploadOutcome
	calls   map[string]int

	active  atomic.Int64
	peak    atomic.Int64
	started chan string
}

// NewStubUploader returns an empty stub uploader.
func NewStubUploader() *StubUploader {
	return &StubUploader{
		scripts: make(map[string][]UploadOutcome),
		calls:   make(map[string]int),
		started: make(chan string, 64),
	}
}

// Script appends attempt outcomes for the given job ID.
func (u *StubUploader) Script(jobID string, outcomes ...UploadOutcome) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.scripts[jobID] = append(u.scripts[jobID], outcomes...)
}

// Calls reports how many attempts have started for the given job ID.
func (u *StubUploader) Calls(jobID string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls[jobID]
}

// Peak reports the highest number of attempts observed in flight at once.
func (u *StubUploader) Peak() int64 { return u.peak.Load() }

// Started yields job IDs in the order their attempts began.
func (u *StubUploader) Started() <-chan string { return u.started }

func (u *StubUploader) next(jobID string) UploadOutcome {
	u.mu.Lock()
	defer u.mu.Unlock()

	idx := u.calls[jobID]
	u.calls[jobID]++
	script := u.scripts[jobID]
	if idx < len(script) {
		return script[idx]
	}
	return UploadOutcome{RemoteID: fmt.Sprintf("remote-%s-%d", jobID, idx+1)}
}

// Upload implements transport.Uploader.
func (u *StubUploader) Upload(ctx context.Context, req transport.Request, onProgress transport.ProgressFunc) (string, error) {
	n := u.active.Add(1)
	defer u.active.Add(-1)
	for {
		prev := u.peak.Load()
		if n <= prev || u.peak.CompareAndSwap(prev, n) {
			break
		}
	}

	outcome := u.next(req.JobID)
	select {
	case u.started <- req.JobID:
	default:
	}

	if onProgress != nil {
		for _, fraction := range outcome.Progress {
			onProgress(fraction)
		}
	}
	if outcome.Block != nil {
		select {
		case <-outcome.Block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if outcome.Err != nil {
		return "", outcome.Err
	}
	return outcome.RemoteID, nil
}
