package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/framelapse/framelapse-agent/internal/catalog"
	"github.com/framelapse/framelapse-agent/internal/logging"
)

// ProjectLoader returns a project together with its frame contents in playback order.
type ProjectLoader interface {
	LoadProject(ctx context.Context, id int64) (*catalog.Project, []string, error)
}

var ErrNoFrames = errors.New("project has no frames")

// Runner works through queued export jobs one at a time.
type Runner struct {
	store        catalog.ExportStore
	loader       ProjectLoader
	pipeline     *Pipeline
	notifier     Notifier
	logger       *slog.Logger
	pollInterval time.Duration
	wake         chan struct{}
	running      atomic.Bool
	paused       atomic.Bool

	mu     sync.Mutex
	active string
}

func NewRunner(store catalog.ExportStore, loader ProjectLoader, pipeline *Pipeline, notifier Notifier, logger *slog.Logger) *Runner {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runner{
		store:        store,
		loader:       loader,
		pipeline:     pipeline,
		notifier:     notifier,
		logger:       logger,
		pollInterval: 5 * time.Second,
		wake:         make(chan struct{}, 1),
	}
}

// Enqueue records a pending export job for a project and wakes the runner.
func (r *Runner) Enqueue(ctx context.Context, projectID int64, format Format) (*catalog.Export, error) {
	if _, err := ParseFormat(string(format)); err != nil {
		return nil, err
	}
	_, frames, err := r.loader.LoadProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}

	now := time.Now().UTC()
	e := &catalog.Export{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Format:    string(format),
		Status:    catalog.ExportStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.CreateExport(ctx, e); err != nil {
		return nil, err
	}

	r.logger.Info("export queued", "export_id", e.ID, "project_id", projectID, "format", format)
	select {
	case r.wake <- struct{}{}:
	default:
	}
	return e, nil
}

func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("export runner started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("export runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
		case <-r.wake:
		}
		if !r.paused.Load() {
			r.drain(ctx)
		}
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("export runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("export runner resumed")
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// ActiveExport returns the id of the export being processed, or "".
func (r *Runner) ActiveExport() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// drain runs every job pending at the time of the call, oldest first. Jobs queued while
// it runs wake the loop again.
func (r *Runner) drain(ctx context.Context) {
	pending, err := r.store.ListPendingExports(ctx)
	if err != nil {
		r.logger.Error("failed to list pending exports", "error", err)
		return
	}
	for _, e := range pending {
		if r.paused.Load() || ctx.Err() != nil {
			return
		}
		r.process(ctx, e)
	}
}

func (r *Runner) process(ctx context.Context, e *catalog.Export) {
	logger := logging.WithExportID(r.logger, e.ID)
	// job bookkeeping must land even when ctx is cancelled mid-export
	bg := context.WithoutCancel(ctx)

	r.mu.Lock()
	r.active = e.ID
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.active = ""
		r.mu.Unlock()
	}()

	format, err := ParseFormat(e.Format)
	if err != nil {
		r.store.UpdateExportStatus(bg, e.ID, catalog.ExportStatusFailed, err.Error())
		return
	}

	proj, frames, err := r.loader.LoadProject(ctx, e.ProjectID)
	if err != nil {
		msg := "cannot load project"
		if errors.Is(err, catalog.ErrNotFound) {
			msg = "project not found"
		}
		r.store.UpdateExportStatus(bg, e.ID, catalog.ExportStatusFailed, msg)
		return
	}

	r.store.UpdateExportStatus(bg, e.ID, catalog.ExportStatusRunning, "")
	logger.Info("processing export", "project_id", proj.ID, "format", format, "frames", len(frames))

	last := -1.0
	progress := func(pct float64) {
		// persist whole-percent steps and the endpoints only
		if pct != 0 && pct != 100 && pct-last < 1 {
			return
		}
		last = pct
		if err := r.store.UpdateExportProgress(bg, e.ID, pct); err != nil {
			logger.Warn("failed to persist export progress", "error", err)
		}
	}

	art, err := r.pipeline.Export(ctx, format, proj, frames, progress)
	if err != nil {
		r.store.UpdateExportStatus(bg, e.ID, catalog.ExportStatusFailed, truncateStr(err.Error(), 512))
		r.notifier.ExportFailed(proj.Title, err)
		return
	}
	if art == nil {
		// nothing to export; the job still ends cleanly
		r.store.UpdateExportStatus(bg, e.ID, catalog.ExportStatusCompleted, "")
		logger.Info("export skipped, no frames")
		return
	}

	if err := r.store.SetExportArtifact(bg, e.ID, art.Path); err != nil {
		r.store.UpdateExportStatus(bg, e.ID, catalog.ExportStatusFailed, fmt.Sprintf("cannot record artifact: %v", err))
		return
	}
	r.store.UpdateExportStatus(bg, e.ID, catalog.ExportStatusCompleted, "")
	r.notifier.ExportFinished(proj.Title, art)
	logger.Info("export completed", "artifact", art.Name)
}

// ActiveCount reports how many recent jobs are queued or running.
func (r *Runner) ActiveCount(ctx context.Context) int {
	exports, err := r.store.ListExports(ctx, 100)
	if err != nil {
		return 0
	}
	count := 0
	for _, e := range exports {
		if e.Status == catalog.ExportStatusRunning || e.Status == catalog.ExportStatusPending {
			count++
		}
	}
	return count
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
