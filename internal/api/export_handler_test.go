package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/framelapse/framelapse-agent/internal/catalog"
)

func TestCreateExport_QueuesJob(t *testing.T) {
	f := setupAPI(t)
	p := f.importProject(t, "Walk cycle", "a", "b")

	rr := f.do(t, http.MethodPost, projectPath(p.ID, "/exports"), CreateExportRequest{Format: "gif"})
	wantStatus(t, rr, http.StatusAccepted)

	var job ExportResponse
	decodeInto(t, rr, &job)
	if job.ID == "" || job.ProjectID != p.ID || job.Format != "gif" || job.Status != catalog.ExportStatusPending {
		t.Fatalf("job = %+v", job)
	}
	if job.ArtifactURL != "" {
		t.Errorf("pending job artifact_url = %q, want empty", job.ArtifactURL)
	}

	rr = f.do(t, http.MethodGet, "/exports/"+job.ID, nil)
	wantStatus(t, rr, http.StatusOK)

	rr = f.do(t, http.MethodGet, "/exports", nil)
	wantStatus(t, rr, http.StatusOK)
	var list ExportsResponse
	decodeInto(t, rr, &list)
	if len(list.Exports) != 1 || list.Exports[0].ID != job.ID {
		t.Errorf("exports = %+v", list.Exports)
	}

	rr = f.do(t, http.MethodGet, "/exports/"+job.ID+"/artifact", nil)
	wantStatus(t, rr, http.StatusConflict)

	rr = httptest.NewRecorder()
	statusHandler(f.cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	body := decodeJSONBody(t, rr)
	if body["exports_active"] != float64(1) {
		t.Errorf("exports_active = %v, want 1", body["exports_active"])
	}
}

func TestCreateExport_Rejections(t *testing.T) {
	f := setupAPI(t)
	empty := f.importProject(t, "empty")
	full := f.importProject(t, "full", "a")

	cases := []struct {
		name string
		path string
		body interface{}
		want int
	}{
		{"unknown format", projectPath(full.ID, "/exports"), CreateExportRequest{Format: "webm"}, http.StatusBadRequest},
		{"missing format", projectPath(full.ID, "/exports"), CreateExportRequest{}, http.StatusBadRequest},
		{"bad body", projectPath(full.ID, "/exports"), []byte("{"), http.StatusBadRequest},
		{"no frames", projectPath(empty.ID, "/exports"), CreateExportRequest{Format: "json"}, http.StatusBadRequest},
		{"missing project", "/projects/999/exports", CreateExportRequest{Format: "video"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.do(t, http.MethodPost, tc.path, tc.body)
			wantStatus(t, rr, tc.want)
		})
	}

	exports, err := f.repo.ListExports(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListExports() error = %v", err)
	}
	if len(exports) != 0 {
		t.Errorf("rejected requests queued %d jobs", len(exports))
	}
}

func TestCreateExport_SeesUnflushedFrames(t *testing.T) {
	f := setupAPI(t)
	p := f.importProject(t, "p")

	h, err := f.registry.Open(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	h.AddFrame("a")

	rr := f.do(t, http.MethodPost, projectPath(p.ID, "/exports"), CreateExportRequest{Format: "json"})
	wantStatus(t, rr, http.StatusAccepted)
}

func completedExport(t *testing.T, f *apiFixture, projectID int64, id, name, content string) *catalog.Export {
	t.Helper()
	ctx := context.Background()

	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	now := time.Now().UTC()
	e := &catalog.Export{
		ID:        id,
		ProjectID: projectID,
		Format:    catalog.ExportFormatGIF,
		Status:    catalog.ExportStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := f.repo.CreateExport(ctx, e); err != nil {
		t.Fatalf("CreateExport() error = %v", err)
	}
	if err := f.repo.SetExportArtifact(ctx, e.ID, path); err != nil {
		t.Fatalf("SetExportArtifact() error = %v", err)
	}
	if err := f.repo.UpdateExportStatus(ctx, e.ID, catalog.ExportStatusCompleted, ""); err != nil {
		t.Fatalf("UpdateExportStatus() error = %v", err)
	}
	e.Status = catalog.ExportStatusCompleted
	e.ArtifactPath = path
	return e
}

func TestExportArtifact_ServesCompleted(t *testing.T) {
	f := setupAPI(t)
	p := f.importProject(t, "Walk cycle", "a")
	e := completedExport(t, f, p.ID, "done-1", "Walk cycle.gif", "0123456789")

	rr := f.do(t, http.MethodGet, "/exports/"+e.ID, nil)
	wantStatus(t, rr, http.StatusOK)
	var job ExportResponse
	decodeInto(t, rr, &job)
	if job.ArtifactURL != "/exports/"+e.ID+"/artifact" {
		t.Errorf("artifact_url = %q", job.ArtifactURL)
	}

	rr = f.do(t, http.MethodGet, job.ArtifactURL, nil)
	wantStatus(t, rr, http.StatusOK)
	if rr.Body.String() != "0123456789" {
		t.Errorf("body = %q", rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "image/gif" {
		t.Errorf("Content-Type = %q, want image/gif", got)
	}

	req := httptest.NewRequest(http.MethodGet, job.ArtifactURL, nil)
	req.RemoteAddr = "127.0.0.1:50000"
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Range", "bytes=0-3")
	rr = httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	wantStatus(t, rr, http.StatusPartialContent)
	if rr.Body.String() != "0123" {
		t.Errorf("range body = %q, want 0123", rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, job.ArtifactURL, nil)
	req.RemoteAddr = "192.168.1.20:50000"
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr = httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	wantStatus(t, rr, http.StatusForbidden)
}

func TestExportArtifact_MissingFile(t *testing.T) {
	f := setupAPI(t)
	p := f.importProject(t, "p", "a")
	e := completedExport(t, f, p.ID, "done-2", "gone.gif", "x")
	if err := os.Remove(e.ArtifactPath); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	rr := f.do(t, http.MethodGet, "/exports/"+e.ID+"/artifact", nil)
	wantStatus(t, rr, http.StatusNotFound)
}

func TestGetExport_NotFound(t *testing.T) {
	f := setupAPI(t)

	rr := f.do(t, http.MethodGet, "/exports/nope", nil)
	wantStatus(t, rr, http.StatusNotFound)
	if body := decodeJSONBody(t, rr); body["code"] != "NOT_FOUND" {
		t.Errorf("code = %v, want NOT_FOUND", body["code"])
	}

	rr = f.do(t, http.MethodGet, "/exports/nope/artifact", nil)
	wantStatus(t, rr, http.StatusNotFound)

	rr = f.do(t, http.MethodGet, "/exports?limit=0", nil)
	wantStatus(t, rr, http.StatusBadRequest)
}
