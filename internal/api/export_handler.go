package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/framelapse/framelapse-agent/internal/catalog"
	"github.com/framelapse/framelapse-agent/internal/export"
)

const defaultExportsLimit = 50

func createExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := projectID(r)
		if !ok {
			WriteError(w, http.StatusBadRequest, "invalid project id", "BAD_REQUEST")
			return
		}
		if cfg.Exports == nil {
			WriteError(w, http.StatusServiceUnavailable, "exports are not available", "UNAVAILABLE")
			return
		}

		var req CreateExportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		format, err := export.ParseFormat(req.Format)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		// an open handle may still be writing frames the job has to see
		if h, ok := cfg.Registry.Get(id); ok {
			if err := h.Flush(r.Context()); err != nil {
				cfg.Logger.Warn("project flush failed", "project_id", id, "error", err)
			}
		}

		e, err := cfg.Exports.Enqueue(r.Context(), id, format)
		if errors.Is(err, export.ErrNoFrames) {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		if err != nil {
			writeStoreError(w, err, "project not found")
			return
		}
		WriteJSON(w, http.StatusAccepted, ExportToResponse(e))
	}
}

func listExportsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultExportsLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				WriteError(w, http.StatusBadRequest, "invalid limit", "BAD_REQUEST")
				return
			}
			limit = n
		}

		exports, err := cfg.Repository.ListExports(r.Context(), limit)
		if err != nil {
			writeStoreError(w, err, "exports not found")
			return
		}

		resp := ExportsResponse{Exports: make([]ExportResponse, 0, len(exports))}
		for _, e := range exports {
			resp.Exports = append(resp.Exports, ExportToResponse(e))
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func lookupExport(cfg ServerConfig, w http.ResponseWriter, r *http.Request) (*catalog.Export, bool) {
	e, err := cfg.Repository.GetExport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err, "export not found")
		return nil, false
	}
	if e == nil {
		WriteError(w, http.StatusNotFound, "export not found", "NOT_FOUND")
		return nil, false
	}
	return e, true
}

func getExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := lookupExport(cfg, w, r)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, ExportToResponse(e))
	}
}

func exportArtifactHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := lookupExport(cfg, w, r)
		if !ok {
			return
		}
		if e.Status != catalog.ExportStatusCompleted || e.ArtifactPath == "" {
			WriteError(w, http.StatusConflict, "export has no artifact yet", "CONFLICT")
			return
		}

		if err := cfg.PlaybackServer.ServeArtifact(w, r, e.ArtifactPath); err != nil {
			cfg.Logger.Warn("artifact serve failed", "export_id", e.ID, "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to read artifact", "INTERNAL_ERROR")
		}
	}
}
