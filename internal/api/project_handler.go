package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/framelapse/framelapse-agent/internal/catalog"
	"github.com/framelapse/framelapse-agent/internal/export"
	"github.com/framelapse/framelapse-agent/internal/playback"
	"github.com/framelapse/framelapse-agent/internal/project"
)

// maxImportBody bounds an imported project document; frames are inline base64.
const maxImportBody = 256 << 20

func projectID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// openHandle resolves the {id} route param to the project's open handle.
func openHandle(cfg ServerConfig, w http.ResponseWriter, r *http.Request) (*project.Handle, bool) {
	id, ok := projectID(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "invalid project id", "BAD_REQUEST")
		return nil, false
	}
	h, err := cfg.Registry.Open(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "project not found")
		return nil, false
	}
	return h, true
}

func listProjectsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := cfg.CatalogService.ListProjects(r.Context())
		if err != nil {
			writeStoreError(w, err, "projects not found")
			return
		}

		resp := ProjectsResponse{Projects: make([]ProjectResponse, 0, len(projects))}
		for _, p := range projects {
			if h, ok := cfg.Registry.Get(p.ID); ok {
				resp.Projects = append(resp.Projects, ProjectToResponse(h.Snapshot(), true))
				continue
			}
			resp.Projects = append(resp.Projects, ProjectToResponse(p, false))
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func createProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := cfg.CatalogService.NewProject(r.Context())
		if err != nil {
			writeStoreError(w, err, "project not found")
			return
		}
		WriteJSON(w, http.StatusCreated, ProjectToResponse(p, false))
	}
}

func importProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxImportBody))
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		doc, err := export.ParseDocument(data)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		p, err := cfg.CatalogService.ImportProject(r.Context(), doc.Title, doc.Settings(), doc.Frames)
		if err != nil {
			writeStoreError(w, err, "project not found")
			return
		}
		WriteJSON(w, http.StatusCreated, ProjectToResponse(p, false))
	}
}

func getProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := projectID(r)
		if !ok {
			WriteError(w, http.StatusBadRequest, "invalid project id", "BAD_REQUEST")
			return
		}
		if h, ok := cfg.Registry.Get(id); ok {
			WriteJSON(w, http.StatusOK, ProjectToResponse(h.Snapshot(), true))
			return
		}

		p, err := cfg.CatalogService.GetProject(r.Context(), id)
		if err != nil {
			writeStoreError(w, err, "project not found")
			return
		}
		WriteJSON(w, http.StatusOK, ProjectToResponse(p, false))
	}
}

func updateProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateProjectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		// all or nothing: a bad field must not leave the others applied
		if err := validateUpdate(req); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		h, ok := openHandle(cfg, w, r)
		if !ok {
			return
		}
		if err := applyUpdate(h, req); err != nil {
			writeStoreError(w, err, "project not found")
			return
		}
		if err := h.Flush(r.Context()); err != nil {
			cfg.Logger.Warn("project flush failed", "project_id", h.ID(), "error", err)
		}
		WriteJSON(w, http.StatusOK, ProjectToResponse(h.Snapshot(), true))
	}
}

func validateUpdate(req UpdateProjectRequest) error {
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		return fmt.Errorf("%w: title must not be empty", catalog.ErrInvalidSetting)
	}
	if req.FrameRate != nil && !catalog.ValidFrameRate(*req.FrameRate) {
		return fmt.Errorf("%w: frame rate %d not in %v", catalog.ErrInvalidSetting, *req.FrameRate, catalog.FrameRates)
	}
	if req.Size != nil && !catalog.ValidSize(*req.Size) {
		return fmt.Errorf("%w: size %s not supported", catalog.ErrInvalidSetting, *req.Size)
	}
	if req.Rotate != nil && !catalog.ValidRotation(*req.Rotate) {
		return fmt.Errorf("%w: rotation %d not in %v", catalog.ErrInvalidSetting, *req.Rotate, catalog.Rotations)
	}
	return nil
}

func applyUpdate(h *project.Handle, req UpdateProjectRequest) error {
	if req.Title != nil {
		if err := h.SetTitle(*req.Title); err != nil {
			return err
		}
	}
	if req.FrameRate != nil {
		if err := h.SetFrameRate(*req.FrameRate); err != nil {
			return err
		}
	}
	if req.Size != nil {
		if err := h.SetSize(*req.Size); err != nil {
			return err
		}
	}
	if req.Mirror != nil {
		h.SetMirror(*req.Mirror)
	}
	if req.Rotate != nil {
		if err := h.SetRotate(*req.Rotate); err != nil {
			return err
		}
	}
	return nil
}

func deleteProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := projectID(r)
		if !ok {
			WriteError(w, http.StatusBadRequest, "invalid project id", "BAD_REQUEST")
			return
		}

		// flush pending writes before the record goes
		if err := cfg.Registry.Close(r.Context(), id); err != nil {
			cfg.Logger.Warn("closing project before delete failed", "project_id", id, "error", err)
		}
		if err := cfg.CatalogService.DeleteProject(r.Context(), id); err != nil {
			writeStoreError(w, err, "project not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func cloneProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CloneProjectRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
				WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
				return
			}
		}

		h, ok := openHandle(cfg, w, r)
		if !ok {
			return
		}
		if err := h.Flush(r.Context()); err != nil {
			writeStoreError(w, err, "project not found")
			return
		}

		c := h.Clone()
		if title := strings.TrimSpace(req.Title); title != "" {
			c.SetTitle(title)
		}

		if _, err := c.Store(r.Context()); err != nil {
			c.Close(context.WithoutCancel(r.Context()))
			writeStoreError(w, err, "project not found")
			return
		}
		if err := cfg.Registry.Adopt(c); err != nil {
			c.Close(context.WithoutCancel(r.Context()))
			WriteError(w, http.StatusConflict, err.Error(), "CONFLICT")
			return
		}
		WriteJSON(w, http.StatusCreated, ProjectToResponse(c.Snapshot(), true))
	}
}

func listFramesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := projectID(r)
		if !ok {
			WriteError(w, http.StatusBadRequest, "invalid project id", "BAD_REQUEST")
			return
		}
		_, frames, err := cfg.Registry.LoadProject(r.Context(), id)
		if err != nil {
			writeStoreError(w, err, "project not found")
			return
		}
		WriteJSON(w, http.StatusOK, FramesResponse{ProjectID: id, Frames: frames})
	}
}

func addFrameHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AddFrameRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Content == "" {
			WriteError(w, http.StatusBadRequest, "content is required", "BAD_REQUEST")
			return
		}

		h, ok := openHandle(cfg, w, r)
		if !ok {
			return
		}
		before := len(h.FrameIDs())
		h.AddFrame(req.Content)
		if err := h.Flush(r.Context()); err != nil {
			writeStoreError(w, err, "project not found")
			return
		}
		if len(h.FrameIDs()) == before {
			WriteError(w, http.StatusServiceUnavailable, "frame was not stored", "STORAGE_FAULT")
			return
		}
		WriteJSON(w, http.StatusCreated, ProjectToResponse(h.Snapshot(), true))
	}
}

// frameEdit runs a frame list edit on the project's handle and answers with the result.
func frameEdit(cfg ServerConfig, edit func(h *project.Handle, r *http.Request) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, ok := openHandle(cfg, w, r)
		if !ok {
			return
		}
		if !edit(h, r) {
			WriteError(w, http.StatusBadRequest, "invalid frame index", "BAD_REQUEST")
			return
		}
		if err := h.Flush(r.Context()); err != nil {
			writeStoreError(w, err, "project not found")
			return
		}
		WriteJSON(w, http.StatusOK, ProjectToResponse(h.Snapshot(), true))
	}
}

func frameIndex(r *http.Request) (int, bool) {
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	return idx, err == nil
}

func duplicateFrameHandler(cfg ServerConfig) http.HandlerFunc {
	return frameEdit(cfg, func(h *project.Handle, r *http.Request) bool {
		idx, ok := frameIndex(r)
		if ok {
			h.DuplicateFrame(idx)
		}
		return ok
	})
}

func deleteFrameHandler(cfg ServerConfig) http.HandlerFunc {
	return frameEdit(cfg, func(h *project.Handle, r *http.Request) bool {
		idx, ok := frameIndex(r)
		if ok {
			h.DeleteFrame(idx)
		}
		return ok
	})
}

func deleteLastFrameHandler(cfg ServerConfig) http.HandlerFunc {
	return frameEdit(cfg, func(h *project.Handle, _ *http.Request) bool {
		h.DeleteLastFrame()
		return true
	})
}

func previewHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := projectID(r)
		if !ok {
			WriteError(w, http.StatusBadRequest, "invalid project id", "BAD_REQUEST")
			return
		}
		p, frames, err := cfg.Registry.LoadProject(r.Context(), id)
		if err != nil {
			writeStoreError(w, err, "project not found")
			return
		}

		maxWidth := playback.DefaultPreviewWidth
		if v := r.URL.Query().Get("width"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				WriteError(w, http.StatusBadRequest, "invalid width", "BAD_REQUEST")
				return
			}
			maxWidth = n
		}
		width, height := playback.Fit(p.Size.Width, p.Size.Height, maxWidth)

		opts := playback.PreviewOptions{
			FrameRate: p.FrameRate,
			Width:     width,
			Height:    height,
			Loop:      r.URL.Query().Get("loop") != "false",
		}
		if err := cfg.PlaybackServer.StreamPreview(w, r, frames, opts); err != nil {
			cfg.Logger.Warn("preview stream ended", "project_id", id, "error", err)
		}
	}
}

func structuralExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := projectID(r)
		if !ok {
			WriteError(w, http.StatusBadRequest, "invalid project id", "BAD_REQUEST")
			return
		}
		p, frames, err := cfg.Registry.LoadProject(r.Context(), id)
		if err != nil {
			writeStoreError(w, err, "project not found")
			return
		}
		if len(frames) == 0 {
			WriteError(w, http.StatusBadRequest, "project has no frames", "BAD_REQUEST")
			return
		}

		data, err := export.MarshalDocument(export.NewDocument(p, frames))
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		name := export.ArtifactName(p.Title, export.FormatJSON)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}
