package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/framelapse/framelapse-agent/internal/catalog"
	"github.com/framelapse/framelapse-agent/internal/config"
	"github.com/framelapse/framelapse-agent/internal/db"
	"github.com/framelapse/framelapse-agent/internal/export"
	"github.com/framelapse/framelapse-agent/internal/logging"
	"github.com/framelapse/framelapse-agent/internal/pipelines"
)

// app is the state every command opens: config, logger and the project store.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	db     *db.DB
	repo   *catalog.SQLiteRepository
	svc    *catalog.Service
}

func openApp(ctx context.Context, opts *RootOptions, logOut io.Writer) (*app, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	level := cfg.LogLevel()
	if opts.Verbose {
		level = "debug"
	}
	logger := logging.NewLoggerTo(logOut, level)

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	repo := catalog.NewRepository(database.Conn())
	svc := catalog.NewService(repo, logger)
	if err := svc.Initialize(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize project store: %w", err)
	}

	return &app{cfg: cfg, logger: logger, db: database, repo: repo, svc: svc}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// newPipeline builds an export pipeline saving into dir. Video exports are only wired
// when an ffmpeg binary resolves; the returned doctor is nil otherwise.
func (a *app) newPipeline(dir string) (*export.Pipeline, *pipelines.CachedDoctor) {
	pcfg := export.PipelineConfig{
		Sink:     export.NewDirSink(dir),
		Sequence: export.NewGIFEncoder(a.cfg.GIFWidth(), a.cfg.GIFHeight()),
		Logger:   logging.WithComponent(a.logger, "export"),
	}

	var doctor *pipelines.CachedDoctor
	runner, err := pipelines.NewRunner(pipelines.DefaultConfig(a.cfg.FFmpegPath(), a.logger))
	if err != nil {
		a.logger.Warn("ffmpeg unavailable, video exports disabled", "error", err)
	} else {
		doctor = pipelines.NewCachedDoctor(runner, a.logger)
		pcfg.Recorder = runner
		pcfg.Capabilities = doctor
	}
	return export.NewPipeline(pcfg), doctor
}
