package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/framelapse/framelapse-agent/internal/catalog"
	"github.com/framelapse/framelapse-agent/internal/export"
	"github.com/framelapse/framelapse-agent/internal/pipelines"
	"github.com/framelapse/framelapse-agent/internal/playback"
	"github.com/framelapse/framelapse-agent/internal/project"
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// ExportQueue accepts export jobs and reports on them. *export.Runner is one.
type ExportQueue interface {
	Enqueue(ctx context.Context, projectID int64, format export.Format) (*catalog.Export, error)
	IsPaused() bool
	ActiveExport() string
	ActiveCount(ctx context.Context) int
}

type ServerConfig struct {
	Port           int
	Version        string
	ExportsDir     string
	CatalogService catalog.CatalogService
	Repository     catalog.Repository
	Registry       *project.Registry
	Exports        ExportQueue
	PlaybackServer playback.PlaybackService
	Doctor         *pipelines.CachedDoctor
	Logger         *slog.Logger
	StartTime      time.Time
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0, // preview streams stay open
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
