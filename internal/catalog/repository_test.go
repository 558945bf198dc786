package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func addTestProject(t *testing.T, repo Repository, title string) *Project {
	t.Helper()
	p := &Project{Title: title, Settings: DefaultSettings(), FrameIDs: []int64{}}
	id, err := repo.AddProject(context.Background(), p)
	if err != nil {
		t.Fatalf("AddProject() error = %v", err)
	}
	p.ID = id
	return p
}

func addTestFrames(t *testing.T, repo Repository, p *Project, contents ...string) {
	t.Helper()
	ctx := context.Background()
	for _, c := range contents {
		id, err := repo.AddFrame(ctx, p.ID, c)
		if err != nil {
			t.Fatalf("AddFrame(%s) error = %v", c, err)
		}
		p.FrameIDs = append(p.FrameIDs, id)
	}
	if err := repo.UpdateProject(ctx, p.ID, p); err != nil {
		t.Fatalf("UpdateProject() error = %v", err)
	}
}

func frameContents(t *testing.T, repo Repository, projectID int64) []string {
	t.Helper()
	frames, err := repo.GetFramesOfProject(context.Background(), projectID)
	if err != nil {
		t.Fatalf("GetFramesOfProject() error = %v", err)
	}
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Content
	}
	return out
}

func TestRepository_DeleteProjectCascades(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()
	ctx := context.Background()

	a := addTestProject(t, repo, "A")
	b := addTestProject(t, repo, "B")
	addTestFrames(t, repo, a, "x", "y")
	addTestFrames(t, repo, b, "z")

	if err := repo.DeleteProject(ctx, a.ID); err != nil {
		t.Fatalf("DeleteProject() error = %v", err)
	}

	projects, err := repo.ListProjects(ctx)
	if err != nil {
		t.Fatalf("ListProjects() error = %v", err)
	}
	if len(projects) != 1 || projects[0].ID != b.ID {
		t.Fatalf("ListProjects() = %+v, want only B", projects)
	}

	if got := frameContents(t, repo, a.ID); len(got) != 0 {
		t.Errorf("frames of deleted project = %v, want none", got)
	}
	if got := frameContents(t, repo, b.ID); len(got) != 1 || got[0] != "z" {
		t.Errorf("frames of B = %v, want [z]", got)
	}

	var orphans int
	if err := database.Conn().QueryRow("SELECT COUNT(*) FROM frames WHERE project_id = ?", a.ID).Scan(&orphans); err != nil {
		t.Fatalf("count orphans error = %v", err)
	}
	if orphans != 0 {
		t.Errorf("orphan frames = %d, want 0", orphans)
	}
}

func TestRepository_DeleteProjectIdempotent(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()
	ctx := context.Background()

	p := addTestProject(t, repo, "once")
	if err := repo.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("first DeleteProject() error = %v", err)
	}
	if err := repo.DeleteProject(ctx, p.ID); err != nil {
		t.Errorf("second DeleteProject() error = %v, want nil", err)
	}
	if err := repo.DeleteProject(ctx, 424242); err != nil {
		t.Errorf("DeleteProject(missing) error = %v, want nil", err)
	}
}

func TestRepository_DeleteProjectRollsBackOnFailure(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	p := addTestProject(t, repo, "survivor")
	addTestFrames(t, repo, p, "keep")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := repo.DeleteProject(ctx, p.ID); err == nil {
		t.Fatal("DeleteProject() with cancelled context should fail")
	}

	if _, err := repo.GetProject(context.Background(), p.ID); err != nil {
		t.Errorf("GetProject() after failed delete error = %v", err)
	}
	if got := frameContents(t, repo, p.ID); len(got) != 1 {
		t.Errorf("frames after failed delete = %v, want [keep]", got)
	}
}

func TestRepository_FrameIDsNeverReused(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()
	ctx := context.Background()

	p := addTestProject(t, repo, "ids")
	seen := make(map[int64]bool)

	for round := 0; round < 5; round++ {
		var ids []int64
		for i := 0; i < 10; i++ {
			id, err := repo.AddFrame(ctx, p.ID, fmt.Sprintf("r%d-f%d", round, i))
			if err != nil {
				t.Fatalf("AddFrame() error = %v", err)
			}
			if seen[id] {
				t.Fatalf("frame id %d handed out twice", id)
			}
			seen[id] = true
			ids = append(ids, id)
		}
		for _, id := range ids {
			if err := repo.DeleteFrame(ctx, id); err != nil {
				t.Fatalf("DeleteFrame() error = %v", err)
			}
		}
	}

	// deleting the newest project must not let its id come back either
	q := addTestProject(t, repo, "q")
	if err := repo.DeleteProject(ctx, q.ID); err != nil {
		t.Fatalf("DeleteProject() error = %v", err)
	}
	r := addTestProject(t, repo, "r")
	if r.ID == q.ID {
		t.Errorf("project id %d reused after deletion", q.ID)
	}
}

func TestRepository_AddFrameMissingProject(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	_, err := repo.AddFrame(context.Background(), 999, "x")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("AddFrame() error = %v, want ErrNotFound", err)
	}
}

func TestRepository_DeleteFrameIdempotent(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()
	ctx := context.Background()

	p := addTestProject(t, repo, "frames")
	id, err := repo.AddFrame(ctx, p.ID, "x")
	if err != nil {
		t.Fatalf("AddFrame() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := repo.DeleteFrame(ctx, id); err != nil {
			t.Errorf("DeleteFrame() #%d error = %v", i, err)
		}
	}
	if _, err := repo.GetFrame(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetFrame() error = %v, want ErrNotFound", err)
	}
}

func TestRepository_GetFramesOfProjectInsertionOrder(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	p := addTestProject(t, repo, "order")
	addTestFrames(t, repo, p, "1", "2", "3")

	got := frameContents(t, repo, p.ID)
	want := []string{"1", "2", "3"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRepository_UpdateProjectNotFound(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	p := &Project{ID: 77, Title: "ghost", Settings: DefaultSettings()}
	err := repo.UpdateProject(context.Background(), 77, p)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateProject() error = %v, want ErrNotFound", err)
	}
}

func TestRepository_GetProjectNotFound(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	_, err := repo.GetProject(context.Background(), 5)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetProject() error = %v, want ErrNotFound", err)
	}
}

func TestRepository_UpdateProjectOverwritesRecord(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()
	ctx := context.Background()

	p := addTestProject(t, repo, "before")
	p.Title = "after"
	p.FrameRate = 30
	p.Size = Size{Width: 720, Height: 1080}
	p.Mirror = true
	p.Rotate = 180
	p.FrameIDs = []int64{3, 1, 2}
	if err := repo.UpdateProject(ctx, p.ID, p); err != nil {
		t.Fatalf("UpdateProject() error = %v", err)
	}

	got, err := repo.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProject() error = %v", err)
	}
	if got.Title != "after" || got.Settings != p.Settings {
		t.Errorf("got %+v, want %+v", got, p)
	}
	if len(got.FrameIDs) != 3 || got.FrameIDs[0] != 3 || got.FrameIDs[1] != 1 || got.FrameIDs[2] != 2 {
		t.Errorf("FrameIDs = %v, want [3 1 2]", got.FrameIDs)
	}
}

// Two writers on one project id with no version check: the write submitted last wins
// and nothing detects the lost update.
func TestRepository_ConcurrentUpdatesLastWriteWins(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()
	ctx := context.Background()

	p := addTestProject(t, repo, "race")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			snap := p.Clone()
			snap.Title = fmt.Sprintf("writer-%d", n)
			if err := repo.UpdateProject(ctx, p.ID, snap); err != nil {
				t.Errorf("UpdateProject() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	final := p.Clone()
	final.Title = "last"
	if err := repo.UpdateProject(ctx, p.ID, final); err != nil {
		t.Fatalf("UpdateProject() error = %v", err)
	}

	got, err := repo.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProject() error = %v", err)
	}
	if got.Title != "last" {
		t.Errorf("Title = %s, want last", got.Title)
	}
}

func TestRepository_PopulateIfEmpty(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()
	ctx := context.Background()

	if err := repo.PopulateIfEmpty(ctx, DefaultSettings()); err != nil {
		t.Fatalf("PopulateIfEmpty() error = %v", err)
	}
	projects, err := repo.ListProjects(ctx)
	if err != nil {
		t.Fatalf("ListProjects() error = %v", err)
	}
	if len(projects) != 1 {
		t.Fatalf("len(projects) = %d, want 1", len(projects))
	}
	if projects[0].Title == "" {
		t.Error("default project has empty title")
	}
	if projects[0].Settings != DefaultSettings() {
		t.Errorf("default project settings = %+v", projects[0].Settings)
	}

	if err := repo.PopulateIfEmpty(ctx, DefaultSettings()); err != nil {
		t.Fatalf("second PopulateIfEmpty() error = %v", err)
	}
	count, _ := repo.CountProjects(ctx)
	if count != 1 {
		t.Errorf("CountProjects() = %d, want 1", count)
	}
}

func TestRepository_StorageFaultWhenClosed(t *testing.T) {
	database, repo := setupTestDB(t)
	database.Close()

	_, err := repo.AddProject(context.Background(), &Project{Title: "x", Settings: DefaultSettings()})
	if !IsStorageFault(err) {
		t.Errorf("AddProject() on closed store error = %v, want StorageFault", err)
	}
	if _, err := repo.ListProjects(context.Background()); !IsStorageFault(err) {
		t.Errorf("ListProjects() on closed store error = %v, want StorageFault", err)
	}
}

func TestRepository_Exports(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()
	ctx := context.Background()

	now := time.Now()
	e := &Export{
		ID:        "exp-1",
		ProjectID: 1,
		Format:    ExportFormatGIF,
		Status:    ExportStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.CreateExport(ctx, e); err != nil {
		t.Fatalf("CreateExport() error = %v", err)
	}

	pending, err := repo.ListPendingExports(ctx)
	if err != nil {
		t.Fatalf("ListPendingExports() error = %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "exp-1" {
		t.Fatalf("pending = %+v, want exp-1", pending)
	}

	if err := repo.UpdateExportStatus(ctx, "exp-1", ExportStatusRunning, ""); err != nil {
		t.Fatalf("UpdateExportStatus() error = %v", err)
	}
	if err := repo.UpdateExportProgress(ctx, "exp-1", 42.5); err != nil {
		t.Fatalf("UpdateExportProgress() error = %v", err)
	}
	if err := repo.SetExportArtifact(ctx, "exp-1", "/tmp/out.gif"); err != nil {
		t.Fatalf("SetExportArtifact() error = %v", err)
	}

	got, err := repo.GetExport(ctx, "exp-1")
	if err != nil {
		t.Fatalf("GetExport() error = %v", err)
	}
	if got.Status != ExportStatusRunning || got.Progress != 42.5 || got.ArtifactPath != "/tmp/out.gif" {
		t.Errorf("export = %+v", got)
	}

	missing, err := repo.GetExport(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetExport(missing) = %v, %v; want nil, nil", missing, err)
	}

	all, err := repo.ListExports(ctx, 10)
	if err != nil {
		t.Fatalf("ListExports() error = %v", err)
	}
	if len(all) != 1 {
		t.Errorf("len(ListExports()) = %d, want 1", len(all))
	}
}

func TestRepository_Config(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()
	ctx := context.Background()

	v, err := repo.GetConfig(ctx, "missing")
	if err != nil || v != "" {
		t.Errorf("GetConfig(missing) = %q, %v", v, err)
	}
	if err := repo.SetConfig(ctx, "k", "v1"); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}
	if err := repo.SetConfig(ctx, "k", "v2"); err != nil {
		t.Fatalf("SetConfig() overwrite error = %v", err)
	}
	v, _ = repo.GetConfig(ctx, "k")
	if v != "v2" {
		t.Errorf("GetConfig() = %q, want v2", v)
	}
}
