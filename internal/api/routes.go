package api

import (
	"encoding/json"
	"io/fs"
	"net/http"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/framelapse/framelapse-agent/internal/catalog"
	"github.com/framelapse/framelapse-agent/internal/logging"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/settings/defaults", getDefaultsHandler(cfg))
		r.Put("/settings/defaults", putDefaultsHandler(cfg))

		r.Get("/projects", listProjectsHandler(cfg))
		r.Post("/projects", createProjectHandler(cfg))
		r.Post("/projects/import", importProjectHandler(cfg))
		r.Route("/projects/{id}", func(r chi.Router) {
			r.Get("/", getProjectHandler(cfg))
			r.Patch("/", updateProjectHandler(cfg))
			r.Delete("/", deleteProjectHandler(cfg))
			r.Post("/clone", cloneProjectHandler(cfg))

			r.Get("/frames", listFramesHandler(cfg))
			r.Post("/frames", addFrameHandler(cfg))
			r.Post("/frames/{index}/duplicate", duplicateFrameHandler(cfg))
			r.Delete("/frames/last", deleteLastFrameHandler(cfg))
			r.Delete("/frames/{index}", deleteFrameHandler(cfg))

			r.With(LoopbackGuard()).Get("/preview", previewHandler(cfg))
			r.Get("/export.json", structuralExportHandler(cfg))
			r.Post("/exports", createExportHandler(cfg))
		})

		r.Get("/exports", listExportsHandler(cfg))
		r.Get("/exports/{id}", getExportHandler(cfg))
		r.With(LoopbackGuard()).Get("/exports/{id}/artifact", exportArtifactHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		count, _ := cfg.CatalogService.CountProjects(ctx)
		exports, _ := cfg.Repository.ListExports(ctx, 10)

		state := "idle"
		var active *ExportResponse
		lastError := ""
		running := 0

		if cfg.Exports != nil && cfg.Exports.IsPaused() {
			state = "paused"
		}

		for _, e := range exports {
			if e.Status == catalog.ExportStatusRunning {
				state = "exporting"
				resp := ExportToResponse(e)
				active = &resp
				running++
			}
			if e.Status == catalog.ExportStatusFailed && lastError == "" {
				lastError = e.Error
			}
		}
		if cfg.Exports != nil {
			running = cfg.Exports.ActiveCount(ctx)
		}

		if lastError != "" && state == "idle" {
			state = "error"
		}

		resp := StatusResponse{
			State:         state,
			LastError:     lastError,
			ProjectsCount: count,
			ExportsActive: running,
			ActiveExport:  active,
		}
		if cfg.Registry != nil {
			resp.OpenProjects = cfg.Registry.Count()
		}
		if cfg.ExportsDir != "" {
			resp.ExportsDirSize = humanize.Bytes(dirSize(cfg.ExportsDir))
		}

		if cfg.Doctor != nil {
			if caps := cfg.Doctor.Peek(); caps != nil {
				ff := &FFmpegStatusResponse{
					Version:      caps.Version,
					VideoEncoder: caps.VideoEncoder(),
					HasVideo:     caps.HasVideo,
				}
				if !caps.ProbedAt.IsZero() {
					ff.LastProbeAt = caps.ProbedAt.Format(time.RFC3339)
				}
				resp.FFmpeg = ff
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func dirSize(dir string) uint64 {
	var total uint64
	filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += uint64(info.Size())
		}
		return nil
	})
	return total
}

func getDefaultsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := cfg.CatalogService.Defaults(r.Context())
		if err != nil {
			writeStoreError(w, err, "defaults not found")
			return
		}
		WriteJSON(w, http.StatusOK, settingsBody(s))
	}
}

func putDefaultsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SettingsBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if err := cfg.CatalogService.SetDefaults(r.Context(), req.Settings()); err != nil {
			writeStoreError(w, err, "defaults not found")
			return
		}
		WriteJSON(w, http.StatusOK, req)
	}
}

func settingsBody(s catalog.Settings) SettingsBody {
	return SettingsBody{FrameRate: s.FrameRate, Size: s.Size, Mirror: s.Mirror, Rotate: s.Rotate}
}
