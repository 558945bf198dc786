package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/framelapse/framelapse-agent/internal/api"
	"github.com/framelapse/framelapse-agent/internal/catalog"
	"github.com/framelapse/framelapse-agent/internal/export"
	"github.com/framelapse/framelapse-agent/internal/logging"
	"github.com/framelapse/framelapse-agent/internal/playback"
	"github.com/framelapse/framelapse-agent/internal/project"
	"github.com/framelapse/framelapse-agent/internal/ui"
)

const shutdownTimeout = 10 * time.Second

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local API server (the default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts, cmd)
		},
	}
}

func runServe(opts *RootOptions, cmd *cobra.Command) error {
	startTime := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := openApp(ctx, opts, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()

	logger := a.logger
	cfg := a.cfg
	logger.Info("starting framelapse agent", "version", opts.Version, "data_dir", cfg.DataDir())

	authToken, err := ensureAuthToken(ctx, a.repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}
	printBanner(cmd.ErrOrStderr(), opts.Version, cfg.Port(), authToken)

	if err := os.MkdirAll(cfg.ExportsDir(), 0755); err != nil {
		return fmt.Errorf("failed to create exports dir: %w", err)
	}

	pipeline, doctor := a.newPipeline(cfg.ExportsDir())
	if doctor != nil {
		probeCtx, probeCancel := context.WithTimeout(ctx, 15*time.Second)
		if caps, err := doctor.Refresh(probeCtx); err != nil {
			logger.Warn("initial ffmpeg probe failed", "error", err)
		} else {
			logger.Info("ffmpeg capabilities detected",
				"version", caps.Version,
				"video_encoder", caps.VideoEncoder(),
			)
		}
		probeCancel()
	}

	registry := project.NewRegistry(a.repo, nil, logging.WithComponent(logger, "project"))
	runner := export.NewRunner(a.repo, registry, pipeline,
		export.NewNotifier(cfg.DesktopNotify()), logging.WithComponent(logger, "exports"))
	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		runner.Start(ctx)
	}()

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		Version:        opts.Version,
		ExportsDir:     cfg.ExportsDir(),
		CatalogService: a.svc,
		Repository:     a.repo,
		Registry:       registry,
		Exports:        runner,
		PlaybackServer: playback.NewServer(nil, logger),
		Doctor:         doctor,
		Logger:         logger,
		StartTime:      startTime,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- apiServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	quitCh := make(chan struct{})
	var quitOnce sync.Once
	quit := func() { quitOnce.Do(func() { close(quitCh) }) }

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
		case err := <-serverErr:
			if err != nil {
				logger.Error("HTTP server error", "error", err)
			}
		case <-quitCh:
			return
		}
		quit()
	}()

	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			CatalogService: a.svc,
			Exports:        runner,
			Logger:         logging.WithComponent(logger, "tray"),
			OnNewProject: func() error {
				_, err := a.svc.NewProject(context.Background())
				return err
			},
			OnQuit: quit,
		})
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}
	// an in-flight export still writes its final status to the database
	select {
	case <-runnerDone:
	case <-shutdownCtx.Done():
		logger.Warn("export runner did not stop before the shutdown deadline")
	}
	if err := registry.CloseAll(shutdownCtx); err != nil {
		logger.Error("failed to flush open projects", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func printBanner(w io.Writer, version string, port int, token string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔═══════════════════════════════════════════════════════════╗")
	fmt.Fprintf(w, "║  FRAMELAPSE AGENT %-39s ║\n", version)
	fmt.Fprintln(w, "╠═══════════════════════════════════════════════════════════╣")
	fmt.Fprintf(w, "║  API URL:    http://127.0.0.1:%-27d ║\n", port)
	fmt.Fprintf(w, "║  Auth Token: %-45s ║\n", token)
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)
}

func ensureAuthToken(ctx context.Context, repo catalog.Repository) (string, error) {
	existing, err := repo.GetConfig(ctx, api.ConfigKeyAuthToken)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, api.ConfigKeyAuthToken, token); err != nil {
		return "", err
	}

	return token, nil
}
