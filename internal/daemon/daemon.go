// Package daemon wires the queue store, owner scopes, retention pruning, and
// notifications into a single-instance background service.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"

	"uplink/internal/config"
	"uplink/internal/engine"
	"uplink/internal/events"
	"uplink/internal/logging"
	"uplink/internal/notifications"
	"uplink/internal/queue"
	"uplink/internal/scope"
	"uplink/internal/transport"
)

// Daemon coordinates the background upload service and enforces
// single-instance execution via a file lock.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	bus      *events.Bus
	registry *scope.Registry
	notifier notifications.Service
	cron     *cron.Cron

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu   sync.Mutex
	busy map[string]bool
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	QueueDBPath   string
	LockFilePath  string
	ActiveScopes  []string
	DroppedEvents uint64
}

// New constructs a daemon with its default HTTP uploader and ntfy notifier.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger) (*Daemon, error) {
	return NewWithDependencies(cfg, store, logger, transport.NewHTTPUploader(cfg), notifications.NewService(cfg))
}

// NewWithDependencies constructs a daemon with a custom uploader and notifier
// (used in tests).
func NewWithDependencies(cfg *config.Config, store *queue.Store, logger *slog.Logger, uploader transport.Uploader, notifier notifications.Service) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if uploader == nil {
		return nil, errors.New("daemon requires an uploader")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewNoop()
	}

	bus := events.NewBus(cfg.Events.BufferSize)
	lockPath := filepath.Join(cfg.Paths.LogDir, "uplinkd.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		bus:      bus,
		registry: scope.NewRegistry(cfg, store, bus, uploader, logger),
		notifier: notifier,
		cron:     cron.New(),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
		busy:     make(map[string]bool),
	}, nil
}

// Bus exposes the shared event bus for subscribers such as the CLI status
// stream.
func (d *Daemon) Bus() *events.Bus { return d.bus }

// Scope returns the engine for an owner, activating it on first use.
func (d *Daemon) Scope(ownerID string) (*engine.Engine, error) {
	return d.registry.Get(ownerID)
}

// Start acquires the instance lock, resumes every owner scope found in the
// store, and launches the retention pruner and notification relay.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another uplink daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.resumeScopes(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	if schedule := strings.TrimSpace(d.cfg.Retention.PruneSchedule); schedule != "" {
		if _, err := d.cron.AddFunc(schedule, func() { d.pruneCompleted(runCtx) }); err != nil {
			cancel()
			_ = d.lock.Unlock()
			return fmt.Errorf("schedule retention prune: %w", err)
		}
		d.cron.Start()
	}

	ch, unsubscribe := d.bus.Subscribe()
	d.wg.Add(1)
	go func() {
		defer unsubscribe()
		d.relay(runCtx, ch)
	}()

	d.running.Store(true)
	d.logger.Info("uplink daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	cronCtx := d.cron.Stop()
	<-cronCtx.Done()
	d.registry.Close()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("uplink daemon stopped")
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status reports runtime information for CLI display.
func (d *Daemon) Status() Status {
	return Status{
		Running:       d.running.Load(),
		QueueDBPath:   d.store.Path(),
		LockFilePath:  d.lockPath,
		ActiveScopes:  d.registry.Active(),
		DroppedEvents: d.bus.Dropped(),
	}
}

// TestNotification sends a test push through the configured notifier.
func (d *Daemon) TestNotification(ctx context.Context) error {
	return d.notifier.TestNotification(ctx)
}

// resumeScopes activates an engine for every owner present in the store so
// interrupted uploads resume without waiting for client activity.
func (d *Daemon) resumeScopes(ctx context.Context) error {
	owners, err := d.store.Owners(ctx)
	if err != nil {
		return fmt.Errorf("list owner scopes: %w", err)
	}
	for _, owner := range owners {
		if _, err := d.registry.Get(owner); err != nil {
			return fmt.Errorf("resume owner scope %s: %w", owner, err)
		}
	}
	if len(owners) > 0 {
		d.logger.Info("resumed owner scopes", logging.Int("count", len(owners)))
	}
	return nil
}

func (d *Daemon) pruneCompleted(ctx context.Context) {
	retention := time.Duration(d.cfg.Retention.CompletedHours) * time.Hour
	cutoff := time.Now().UTC().Add(-retention)
	pruned, err := d.store.PruneCompleted(ctx, cutoff)
	if err != nil {
		d.logger.Error("retention prune failed", logging.Error(err))
		if d.cfg.Notifications.Errors {
			_ = d.notifier.NotifyError(ctx, err, "retention pruner")
		}
		return
	}
	if pruned > 0 {
		d.logger.Info("pruned completed uploads",
			logging.Int64("count", pruned),
			logging.String("cutoff", cutoff.Format(time.RFC3339)),
		)
	}
}

// relay translates bus events into push notifications.
func (d *Daemon) relay(ctx context.Context, ch <-chan events.Event) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			d.handleEvent(ctx, evt)
		}
	}
}

func (d *Daemon) handleEvent(ctx context.Context, evt events.Event) {
	switch evt.Type {
	case events.TypeUploading:
		d.mu.Lock()
		d.busy[evt.OwnerID] = true
		d.mu.Unlock()
	case events.TypeCompleted:
		if d.cfg.Notifications.Uploads && evt.Job != nil {
			if err := d.notifier.NotifyUploadCompleted(ctx, jobTitle(evt.Job), evt.Job.PayloadPath); err != nil {
				d.logger.Warn("completion notification failed", logging.Error(err))
			}
		}
		d.checkDrained(ctx, evt.OwnerID)
	case events.TypeFailed:
		if d.cfg.Notifications.Errors && evt.Job != nil {
			if err := d.notifier.NotifyUploadFailed(ctx, jobTitle(evt.Job), evt.Job.ErrorMessage); err != nil {
				d.logger.Warn("failure notification failed", logging.Error(err))
			}
		}
		d.checkDrained(ctx, evt.OwnerID)
	case events.TypeCancelled:
		d.checkDrained(ctx, evt.OwnerID)
	case events.TypeStoreError:
		if d.cfg.Notifications.Errors && evt.Error != "" {
			if err := d.notifier.NotifyError(ctx, errors.New(evt.Error), "queue store"); err != nil {
				d.logger.Warn("store error notification failed", logging.Error(err))
			}
		}
	}
}

// checkDrained emits one queue-drained notification per busy-to-idle cycle.
func (d *Daemon) checkDrained(ctx context.Context, ownerID string) {
	d.mu.Lock()
	wasBusy := d.busy[ownerID]
	d.mu.Unlock()
	if !wasBusy || !d.cfg.Notifications.Uploads {
		return
	}

	health, err := d.store.Health(ctx, ownerID)
	if err != nil {
		d.logger.Warn("queue health check failed", logging.Error(err))
		return
	}
	if health.Pending+health.Uploading > 0 {
		return
	}

	d.mu.Lock()
	delete(d.busy, ownerID)
	d.mu.Unlock()
	if err := d.notifier.NotifyQueueDrained(ctx, health.Completed, health.Failed); err != nil {
		d.logger.Warn("queue drained notification failed", logging.Error(err))
	}
}

func jobTitle(job *queue.Job) string {
	if title := strings.TrimSpace(job.Metadata["title"]); title != "" {
		return title
	}
	return filepath.Base(job.PayloadPath)
}
