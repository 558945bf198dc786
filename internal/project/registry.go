package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/framelapse/framelapse-agent/internal/catalog"
	"github.com/framelapse/framelapse-agent/internal/logging"
)

type RegistryStore interface {
	Store
	GetProject(ctx context.Context, id int64) (*catalog.Project, error)
}

// Registry keeps at most one open handle per project id, so one writer owns each
// project record.
type Registry struct {
	store   RegistryStore
	updater Updater
	logger  *slog.Logger

	mu      sync.Mutex
	handles map[int64]*Handle
}

func NewRegistry(store RegistryStore, updater Updater, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Registry{
		store:   store,
		updater: updater,
		logger:  logger,
		handles: make(map[int64]*Handle),
	}
}

// Open returns the open handle for id, loading the project if needed. The store read
// happens outside the registry lock; concurrent opens of one id still share a handle.
func (r *Registry) Open(ctx context.Context, id int64) (*Handle, error) {
	if h, ok := r.Get(id); ok {
		return h, nil
	}

	rec, err := r.store.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[id]; ok {
		return h, nil
	}
	h := New(r.store, rec, r.updater, logging.WithProjectID(r.logger, id))
	r.handles[id] = h
	return h, nil
}

func (r *Registry) Get(id int64) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	return h, ok
}

// Adopt registers a handle that was stored after being opened elsewhere, such as a
// stored clone.
func (r *Registry) Adopt(h *Handle) error {
	id := h.ID()
	if id == 0 {
		return errors.New("cannot adopt an unstored handle")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[id]; ok {
		return fmt.Errorf("project %d already has an open handle", id)
	}
	if r.updater != nil {
		h.SetUpdater(r.updater)
	}
	r.handles[id] = h
	return nil
}

// Close flushes and forgets the handle for id. Closing an id with no handle is a no-op.
func (r *Registry) Close(ctx context.Context, id int64) error {
	r.mu.Lock()
	h, ok := r.handles[id]
	delete(r.handles, id)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return h.Close(ctx)
}

func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[int64]*Handle)
	r.mu.Unlock()

	var errs []error
	for id, h := range handles {
		if err := h.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("project %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// LoadProject returns a project and its ordered frame contents. An open handle's
// in-memory state wins over the stored record.
func (r *Registry) LoadProject(ctx context.Context, id int64) (*catalog.Project, []string, error) {
	if h, ok := r.Get(id); ok {
		return h.Contents(ctx)
	}

	p, err := r.store.GetProject(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	frames, err := r.store.GetFramesOfProject(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return p, catalog.OrderFrames(p.FrameIDs, frames), nil
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
