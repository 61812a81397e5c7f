// Package scope hands out one queue engine per owner and keeps each owner's
// jobs isolated while every scope shares the same store and event bus.
package scope

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"uplink/internal/config"
	"uplink/internal/engine"
	"uplink/internal/events"
	"uplink/internal/logging"
	"uplink/internal/queue"
	"uplink/internal/transport"
)

// ErrClosed reports that the registry has been shut down.
var ErrClosed = errors.New("scope registry closed")

// Registry creates and caches engines keyed by owner ID. An engine lives for
// the remainder of the process once created, unless released explicitly.
type Registry struct {
	cfg      *config.Config
	store    *queue.Store
	bus      *events.Bus
	uploader transport.Uploader
	logger   *slog.Logger

	mu      sync.Mutex
	engines map[string]*engine.Engine
	closed  bool
}

// NewRegistry constructs a registry over the shared store and bus.
func NewRegistry(cfg *config.Config, store *queue.Store, bus *events.Bus, uploader transport.Uploader, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{
		cfg:      cfg,
		store:    store,
		bus:      bus,
		uploader: uploader,
		logger:   logging.NewComponentLogger(logger, "scope"),
		engines:  make(map[string]*engine.Engine),
	}
}

// Get returns the engine for an owner, creating and starting it on first use.
// Creation rehydrates the owner's interrupted uploads from the store.
func (r *Registry) Get(ownerID string) (*engine.Engine, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, errors.New("owner ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if eng, ok := r.engines[ownerID]; ok {
		return eng, nil
	}

	eng, err := engine.New(r.cfg, r.store, r.bus, r.uploader, r.logger, ownerID)
	if err != nil {
		return nil, fmt.Errorf("create engine for owner %s: %w", ownerID, err)
	}
	if err := eng.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("start engine for owner %s: %w", ownerID, err)
	}
	r.engines[ownerID] = eng
	r.logger.Info("owner scope activated", logging.String(logging.FieldOwner, eng.OwnerID()))
	return eng, nil
}

// Active returns the owner IDs with a live engine.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	owners := make([]string, 0, len(r.engines))
	for owner := range r.engines {
		owners = append(owners, owner)
	}
	return owners
}

// Release stops one owner's engine and forgets it. In-flight uploads are
// requeued by their workers; other scopes keep running.
func (r *Registry) Release(ownerID string) {
	r.mu.Lock()
	eng, ok := r.engines[ownerID]
	if ok {
		delete(r.engines, ownerID)
	}
	r.mu.Unlock()

	if ok {
		eng.Stop()
		r.logger.Info("owner scope released", logging.String(logging.FieldOwner, ownerID))
	}
}

// Close stops every engine and rejects further lookups.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	engines := make([]*engine.Engine, 0, len(r.engines))
	for _, eng := range r.engines {
		engines = append(engines, eng)
	}
	r.engines = make(map[string]*engine.Engine)
	r.mu.Unlock()

	for _, eng := range engines {
		eng.Stop()
	}
}
