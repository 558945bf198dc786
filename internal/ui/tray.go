package ui

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/framelapse/framelapse-agent/internal/catalog"
	"github.com/framelapse/framelapse-agent/internal/logging"
)

const refreshInterval = 5 * time.Second

// ExportControl is the part of the export runner the tray drives.
type ExportControl interface {
	IsPaused() bool
	Pause()
	Resume()
	ActiveExport() string
}

type Tray struct {
	catalogSvc catalog.CatalogService
	exports    ExportControl
	logger     *slog.Logger

	statusItem   *systray.MenuItem
	projectsItem *systray.MenuItem
	pauseItem    *systray.MenuItem

	mu sync.Mutex

	onNewProject func() error
	onQuit       func()
	stop         chan struct{}
}

type TrayConfig struct {
	CatalogService catalog.CatalogService
	Exports        ExportControl
	Logger         *slog.Logger
	OnNewProject   func() error
	OnQuit         func()
}

func NewTray(cfg TrayConfig) *Tray {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &Tray{
		catalogSvc:   cfg.CatalogService,
		exports:      cfg.Exports,
		logger:       cfg.Logger,
		onNewProject: cfg.OnNewProject,
		onQuit:       cfg.OnQuit,
		stop:         make(chan struct{}),
	}
}

// Run blocks until the tray quits.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Framelapse")
	systray.SetTooltip("Framelapse Agent")

	t.statusItem = systray.AddMenuItem(statusTitle(false, ""), "Export status")
	t.statusItem.Disable()

	t.projectsItem = systray.AddMenuItem(projectsTitle(0), "Stored projects")
	t.projectsItem.Disable()

	systray.AddSeparator()

	t.pauseItem = systray.AddMenuItem(pauseTitle(false), "Pause exports")

	newProjectItem := systray.AddMenuItem("New Project", "Create an empty project")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Framelapse Agent")

	go func() {
		for {
			select {
			case <-t.pauseItem.ClickedCh:
				t.togglePause()
			case <-newProjectItem.ClickedCh:
				t.handleNewProject()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()
	go t.refreshLoop()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	close(t.stop)
	t.logger.Info("system tray exiting")
}

func (t *Tray) refreshLoop() {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	t.refresh()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.refresh()
		}
	}
}

func (t *Tray) refresh() {
	if t.catalogSvc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), refreshInterval)
		count, err := t.catalogSvc.CountProjects(ctx)
		cancel()
		if err != nil {
			t.logger.Warn("tray could not count projects", "error", err)
		} else {
			t.UpdateProjectsCount(count)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.exports != nil {
		t.statusItem.SetTitle(statusTitle(t.exports.IsPaused(), t.exports.ActiveExport()))
	}
}

func (t *Tray) togglePause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.exports == nil {
		return
	}

	if t.exports.IsPaused() {
		t.exports.Resume()
	} else {
		t.exports.Pause()
	}
	paused := t.exports.IsPaused()
	t.pauseItem.SetTitle(pauseTitle(paused))
	t.statusItem.SetTitle(statusTitle(paused, t.exports.ActiveExport()))
}

func (t *Tray) handleNewProject() {
	if t.onNewProject == nil {
		return
	}
	if err := t.onNewProject(); err != nil {
		t.logger.Error("failed to create project", "error", err)
		return
	}
	t.refresh()
}

func (t *Tray) UpdateProjectsCount(count int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.projectsItem.SetTitle(projectsTitle(count))
}

func (t *Tray) Quit() {
	systray.Quit()
}

func statusTitle(paused bool, active string) string {
	switch {
	case paused:
		return "Exports: Paused"
	case active != "":
		return "Exports: Running"
	default:
		return "Exports: Idle"
	}
}

func pauseTitle(paused bool) string {
	if paused {
		return "Resume Exports"
	}
	return "Pause Exports"
}

func projectsTitle(count int) string {
	if count == 1 {
		return "1 Project"
	}
	return fmt.Sprintf("%d Projects", count)
}
