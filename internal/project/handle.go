// Package project holds the in-memory editing handle for one project. Every mutation
// lands in memory first, is reported to the registered updater, and is persisted in the
// background by a per-handle writer.
package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/framelapse/framelapse-agent/internal/catalog"
	"github.com/framelapse/framelapse-agent/internal/logging"
)

const persistTimeout = 30 * time.Second

var ErrClosed = errors.New("handle closed")

// Store is the persistence a handle writes through.
type Store interface {
	catalog.FrameStore
	AddProject(ctx context.Context, p *catalog.Project) (int64, error)
	ImportProject(ctx context.Context, p *catalog.Project, frames []string) (int64, error)
	UpdateProject(ctx context.Context, id int64, p *catalog.Project) error
}

// Updater is told about every change to the handle's project. It receives a copy.
type Updater func(p *catalog.Project)

type Handle struct {
	store  Store
	logger *slog.Logger

	mu      sync.Mutex
	rec     *catalog.Project
	updater Updater

	qmu    sync.Mutex
	qcond  *sync.Cond
	queue  []func(ctx context.Context)
	closed bool
	done   chan struct{}
}

// New wraps rec. A record with ID 0 is unstored: mutations stay in memory until Store.
func New(store Store, rec *catalog.Project, updater Updater, logger *slog.Logger) *Handle {
	if logger == nil {
		logger = logging.Discard()
	}
	rec = rec.Clone()
	if rec.FrameIDs == nil {
		rec.FrameIDs = []int64{}
	}

	h := &Handle{
		store:   store,
		logger:  logger,
		rec:     rec,
		updater: updater,
		done:    make(chan struct{}),
	}
	h.qcond = sync.NewCond(&h.qmu)
	go h.writer()
	return h
}

func (h *Handle) writer() {
	defer close(h.done)

	for {
		h.qmu.Lock()
		for len(h.queue) == 0 && !h.closed {
			h.qcond.Wait()
		}
		if len(h.queue) == 0 {
			h.qmu.Unlock()
			return
		}
		job := h.queue[0]
		h.queue[0] = nil
		h.queue = h.queue[1:]
		h.qmu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		job(ctx)
		cancel()
	}
}

func (h *Handle) enqueue(job func(ctx context.Context)) bool {
	h.qmu.Lock()
	defer h.qmu.Unlock()

	if h.closed {
		return false
	}
	h.queue = append(h.queue, job)
	h.qcond.Signal()
	return true
}

func (h *Handle) SetUpdater(u Updater) {
	h.mu.Lock()
	h.updater = u
	h.mu.Unlock()
}

func (h *Handle) ID() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rec.ID
}

func (h *Handle) Title() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rec.Title
}

func (h *Handle) Settings() catalog.Settings {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rec.Settings
}

func (h *Handle) FrameRate() int     { return h.Settings().FrameRate }
func (h *Handle) Size() catalog.Size { return h.Settings().Size }
func (h *Handle) Mirror() bool       { return h.Settings().Mirror }
func (h *Handle) Rotate() int        { return h.Settings().Rotate }

func (h *Handle) FrameIDs() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int64(nil), h.rec.FrameIDs...)
}

// Snapshot returns a copy of the in-memory project.
func (h *Handle) Snapshot() *catalog.Project {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rec.Clone()
}

func (h *Handle) HasContent() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rec.FrameIDs) > 0
}

func (h *Handle) SetTitle(title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: title must not be empty", catalog.ErrInvalidSetting)
	}
	h.mutate("set title", func(p *catalog.Project) { p.Title = title })
	return nil
}

func (h *Handle) SetFrameRate(rate int) error {
	if !catalog.ValidFrameRate(rate) {
		return fmt.Errorf("%w: frame rate %d not in %v", catalog.ErrInvalidSetting, rate, catalog.FrameRates)
	}
	h.mutate("set frame rate", func(p *catalog.Project) { p.FrameRate = rate })
	return nil
}

func (h *Handle) SetSize(size catalog.Size) error {
	if !catalog.ValidSize(size) {
		return fmt.Errorf("%w: size %s not supported", catalog.ErrInvalidSetting, size)
	}
	h.mutate("set size", func(p *catalog.Project) { p.Size = size })
	return nil
}

func (h *Handle) SetMirror(mirror bool) {
	h.mutate("set mirror", func(p *catalog.Project) { p.Mirror = mirror })
}

func (h *Handle) SetRotate(deg int) error {
	if !catalog.ValidRotation(deg) {
		return fmt.Errorf("%w: rotation %d not in %v", catalog.ErrInvalidSetting, deg, catalog.Rotations)
	}
	h.mutate("set rotate", func(p *catalog.Project) { p.Rotate = deg })
	return nil
}

// mutate applies fn in memory, notifies, then queues a write of the whole record.
func (h *Handle) mutate(op string, fn func(p *catalog.Project)) {
	h.mu.Lock()
	fn(h.rec)
	snap := h.rec.Clone()
	updater := h.updater
	h.mu.Unlock()

	if updater != nil {
		updater(snap)
	}
	h.enqueuePersist(op)
}

func (h *Handle) enqueuePersist(op string) {
	if !h.enqueue(func(ctx context.Context) { h.persist(ctx, op) }) {
		h.logger.Warn("dropping write on closed handle", "project_id", h.ID(), "op", op)
	}
}

// persist writes the record as it is when the job runs, not as it was when queued, so
// the last queued write always carries the newest state.
func (h *Handle) persist(ctx context.Context, op string) bool {
	snap := h.Snapshot()
	if snap.ID == 0 {
		return true
	}
	if err := h.store.UpdateProject(ctx, snap.ID, snap); err != nil {
		h.logger.Warn("project write failed", "project_id", snap.ID, "op", op, "error", err)
		return false
	}
	return true
}

func (h *Handle) notify() {
	h.mu.Lock()
	snap := h.rec.Clone()
	updater := h.updater
	h.mu.Unlock()

	if updater != nil {
		updater(snap)
	}
}

// AddFrame stores content as a new frame. The frame id joins FrameIDs only after the
// store has confirmed it, then the record is written and the updater notified.
func (h *Handle) AddFrame(content string) {
	ok := h.enqueue(func(ctx context.Context) {
		h.addFrame(ctx, content)
	})
	if !ok {
		h.logger.Warn("dropping frame on closed handle", "project_id", h.ID())
	}
}

func (h *Handle) addFrame(ctx context.Context, content string) {
	projectID := h.ID()
	if projectID == 0 {
		h.logger.Warn("cannot add frame to an unstored project")
		return
	}

	id, err := h.store.AddFrame(ctx, projectID, content)
	if err != nil {
		h.logger.Warn("frame write failed", "project_id", projectID, "op", "add frame", "error", err)
		return
	}

	h.mu.Lock()
	h.rec.FrameIDs = append(h.rec.FrameIDs, id)
	h.mu.Unlock()

	h.persist(ctx, "add frame")
	h.notify()
}

// DuplicateFrame appends a copy of the frame at index. Out of range is a no-op.
func (h *Handle) DuplicateFrame(index int) {
	h.mu.Lock()
	if index < 0 || index >= len(h.rec.FrameIDs) {
		h.mu.Unlock()
		return
	}
	frameID := h.rec.FrameIDs[index]
	h.mu.Unlock()

	ok := h.enqueue(func(ctx context.Context) {
		frame, err := h.store.GetFrame(ctx, frameID)
		if err != nil {
			h.logger.Warn("frame read failed", "project_id", h.ID(), "op", "duplicate frame", "error", err)
			return
		}
		h.addFrame(ctx, frame.Content)
	})
	if !ok {
		h.logger.Warn("dropping duplicate on closed handle", "project_id", h.ID())
	}
}

// DeleteFrame removes the frame at index from the list at once. The record is rewritten
// and then the frame itself deleted in the background. Out of range is a no-op.
func (h *Handle) DeleteFrame(index int) {
	h.mu.Lock()
	if index < 0 || index >= len(h.rec.FrameIDs) {
		h.mu.Unlock()
		return
	}
	frameID := h.rec.FrameIDs[index]
	h.rec.FrameIDs = append(h.rec.FrameIDs[:index:index], h.rec.FrameIDs[index+1:]...)
	snap := h.rec.Clone()
	updater := h.updater
	h.mu.Unlock()

	if updater != nil {
		updater(snap)
	}

	ok := h.enqueue(func(ctx context.Context) {
		if snap.ID == 0 {
			return
		}
		// a record that failed to drop the id still points at the frame; keep it
		if !h.persist(ctx, "delete frame") {
			return
		}
		if err := h.store.DeleteFrame(ctx, frameID); err != nil {
			h.logger.Warn("frame delete failed", "project_id", snap.ID, "frame_id", frameID, "error", err)
		}
	})
	if !ok {
		h.logger.Warn("dropping frame delete on closed handle", "project_id", snap.ID)
	}
}

func (h *Handle) DeleteLastFrame() {
	h.mu.Lock()
	last := len(h.rec.FrameIDs) - 1
	h.mu.Unlock()
	h.DeleteFrame(last)
}

// Clone returns an unstored handle carrying a copy of the title, settings and frame ids.
// It shares no state with h; Store gives it a record of its own.
func (h *Handle) Clone() *Handle {
	h.mu.Lock()
	rec := h.rec.Clone()
	h.mu.Unlock()

	rec.ID = 0
	rec.CreatedAt = time.Time{}
	rec.UpdatedAt = time.Time{}
	return New(h.store, rec, nil, h.logger)
}

// Store persists an unstored handle as a new project. The frames its ids point at are
// copied into new frames owned by the new project. Storing a stored handle returns its id.
func (h *Handle) Store(ctx context.Context) (int64, error) {
	if err := h.Flush(ctx); err != nil {
		return 0, err
	}

	h.mu.Lock()
	if h.rec.ID != 0 {
		id := h.rec.ID
		h.mu.Unlock()
		return id, nil
	}
	rec := h.rec.Clone()
	h.mu.Unlock()

	contents := make([]string, 0, len(rec.FrameIDs))
	for _, src := range rec.FrameIDs {
		frame, err := h.store.GetFrame(ctx, src)
		if errors.Is(err, catalog.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		contents = append(contents, frame.Content)
	}

	// project and frame copies land in one transaction
	id, err := h.store.ImportProject(ctx, rec, contents)
	if err != nil {
		return 0, err
	}

	h.mu.Lock()
	changed := h.rec.Title != rec.Title || h.rec.Settings != rec.Settings
	h.rec.ID = id
	h.rec.FrameIDs = rec.FrameIDs
	h.rec.CreatedAt = rec.CreatedAt
	h.rec.UpdatedAt = rec.UpdatedAt
	snap := h.rec.Clone()
	h.mu.Unlock()

	if changed {
		if err := h.store.UpdateProject(ctx, id, snap); err != nil {
			return 0, err
		}
	}
	h.logger.Info("project stored", "project_id", id, "frames", len(snap.FrameIDs))
	h.notify()
	return id, nil
}

// LoadFrames returns frame contents in FrameIDs order.
func (h *Handle) LoadFrames(ctx context.Context) ([]string, error) {
	_, frames, err := h.Contents(ctx)
	return frames, err
}

// Contents returns a snapshot together with the frame contents it orders, so the two
// agree even while mutations keep arriving.
func (h *Handle) Contents(ctx context.Context) (*catalog.Project, []string, error) {
	snap := h.Snapshot()
	if snap.ID == 0 && len(snap.FrameIDs) == 0 {
		return snap, []string{}, nil
	}

	frames, err := h.loadSourceFrames(ctx, snap)
	if err != nil {
		return nil, nil, err
	}
	return snap, catalog.OrderFrames(snap.FrameIDs, frames), nil
}

func (h *Handle) loadSourceFrames(ctx context.Context, snap *catalog.Project) ([]*catalog.Frame, error) {
	if snap.ID != 0 {
		return h.store.GetFramesOfProject(ctx, snap.ID)
	}
	// unstored clone: its ids still point at the source project's frames
	frames := make([]*catalog.Frame, 0, len(snap.FrameIDs))
	for _, id := range snap.FrameIDs {
		f, err := h.store.GetFrame(ctx, id)
		if errors.Is(err, catalog.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// Flush waits until every write queued before the call has been attempted.
func (h *Handle) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	if !h.enqueue(func(context.Context) { close(barrier) }) {
		return ErrClosed
	}
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes pending writes and stops the writer. Later mutations still change
// memory but are not persisted.
func (h *Handle) Close(ctx context.Context) error {
	h.qmu.Lock()
	h.closed = true
	h.qcond.Signal()
	h.qmu.Unlock()

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
