package api

import (
	"time"

	"github.com/framelapse/framelapse-agent/internal/catalog"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State          string                `json:"state"`
	LastError      string                `json:"last_error,omitempty"`
	ProjectsCount  int                   `json:"projects_count"`
	OpenProjects   int                   `json:"open_projects"`
	ExportsActive  int                   `json:"exports_active"`
	ActiveExport   *ExportResponse       `json:"active_export,omitempty"`
	ExportsDirSize string                `json:"exports_dir_size,omitempty"`
	FFmpeg         *FFmpegStatusResponse `json:"ffmpeg,omitempty"`
}

type FFmpegStatusResponse struct {
	Version      string `json:"version,omitempty"`
	VideoEncoder string `json:"video_encoder,omitempty"`
	HasVideo     bool   `json:"has_video"`
	LastProbeAt  string `json:"last_probe_at,omitempty"`
}

type SettingsBody struct {
	FrameRate int          `json:"frame_rate"`
	Size      catalog.Size `json:"size"`
	Mirror    bool         `json:"mirror"`
	Rotate    int          `json:"rotate"`
}

func (b SettingsBody) Settings() catalog.Settings {
	return catalog.Settings{FrameRate: b.FrameRate, Size: b.Size, Mirror: b.Mirror, Rotate: b.Rotate}
}

// UpdateProjectRequest is a partial update; absent fields are left alone.
type UpdateProjectRequest struct {
	Title     *string       `json:"title,omitempty"`
	FrameRate *int          `json:"frame_rate,omitempty"`
	Size      *catalog.Size `json:"size,omitempty"`
	Mirror    *bool         `json:"mirror,omitempty"`
	Rotate    *int          `json:"rotate,omitempty"`
}

type CloneProjectRequest struct {
	Title string `json:"title,omitempty"`
}

type AddFrameRequest struct {
	Content string `json:"content"`
}

type CreateExportRequest struct {
	Format string `json:"format"`
}

type ProjectResponse struct {
	ID         int64        `json:"id"`
	Title      string       `json:"title"`
	FrameRate  int          `json:"frame_rate"`
	Size       catalog.Size `json:"size"`
	Mirror     bool         `json:"mirror"`
	Rotate     int          `json:"rotate"`
	FrameIDs   []int64      `json:"frame_ids"`
	FrameCount int          `json:"frame_count"`
	Open       bool         `json:"open"`
	CreatedAt  string       `json:"created_at"`
	UpdatedAt  string       `json:"updated_at"`
}

type ProjectsResponse struct {
	Projects []ProjectResponse `json:"projects"`
}

type FramesResponse struct {
	ProjectID int64    `json:"project_id"`
	Frames    []string `json:"frames"`
}

type ExportResponse struct {
	ID          string  `json:"id"`
	ProjectID   int64   `json:"project_id"`
	Format      string  `json:"format"`
	Status      string  `json:"status"`
	Progress    float64 `json:"progress"`
	Error       string  `json:"error,omitempty"`
	ArtifactURL string  `json:"artifact_url,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

type ExportsResponse struct {
	Exports []ExportResponse `json:"exports"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func ProjectToResponse(p *catalog.Project, open bool) ProjectResponse {
	ids := p.FrameIDs
	if ids == nil {
		ids = []int64{}
	}
	return ProjectResponse{
		ID:         p.ID,
		Title:      p.Title,
		FrameRate:  p.FrameRate,
		Size:       p.Size,
		Mirror:     p.Mirror,
		Rotate:     p.Rotate,
		FrameIDs:   ids,
		FrameCount: len(ids),
		Open:       open,
		CreatedAt:  formatTime(p.CreatedAt),
		UpdatedAt:  formatTime(p.UpdatedAt),
	}
}

func ExportToResponse(e *catalog.Export) ExportResponse {
	resp := ExportResponse{
		ID:        e.ID,
		ProjectID: e.ProjectID,
		Format:    e.Format,
		Status:    e.Status,
		Progress:  e.Progress,
		Error:     e.Error,
		CreatedAt: formatTime(e.CreatedAt),
		UpdatedAt: formatTime(e.UpdatedAt),
	}
	if e.Status == catalog.ExportStatusCompleted && e.ArtifactPath != "" {
		resp.ArtifactURL = "/exports/" + e.ID + "/artifact"
	}
	return resp
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
