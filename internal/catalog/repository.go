package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

type FrameStore interface {
	AddFrame(ctx context.Context, projectID int64, content string) (int64, error)
	GetFrame(ctx context.Context, id int64) (*Frame, error)
	DeleteFrame(ctx context.Context, id int64) error
	DeleteFramesOfProject(ctx context.Context, projectID int64) error
	// GetFramesOfProject returns frames in insertion order. Callers that need playback
	// order reorder by the project's FrameIDs.
	GetFramesOfProject(ctx context.Context, projectID int64) ([]*Frame, error)
}

type ProjectStore interface {
	AddProject(ctx context.Context, p *Project) (int64, error)
	GetProject(ctx context.Context, id int64) (*Project, error)
	UpdateProject(ctx context.Context, id int64, p *Project) error
	DeleteProject(ctx context.Context, id int64) error
	ListProjects(ctx context.Context) ([]*Project, error)
	CountProjects(ctx context.Context) (int, error)
	PopulateIfEmpty(ctx context.Context, defaults Settings) error
}

type ExportStore interface {
	CreateExport(ctx context.Context, e *Export) error
	GetExport(ctx context.Context, id string) (*Export, error)
	ListExports(ctx context.Context, limit int) ([]*Export, error)
	ListPendingExports(ctx context.Context) ([]*Export, error)
	UpdateExportStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateExportProgress(ctx context.Context, id string, progress float64) error
	SetExportArtifact(ctx context.Context, id, path string) error
}

type Repository interface {
	FrameStore
	ProjectStore
	ExportStore

	ImportProject(ctx context.Context, p *Project, frames []string) (int64, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type SQLiteRepository struct {
	db *sql.DB

	// writes to one project id are applied in submission order
	projectLocks sync.Map
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) lockProject(id int64) func() {
	v, _ := r.projectLocks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (r *SQLiteRepository) AddFrame(ctx context.Context, projectID int64, content string) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fault("add frame", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM projects WHERE id = ?", projectID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("project %d: %w", projectID, ErrNotFound)
	}
	if err != nil {
		return 0, fault("add frame", err)
	}

	res, err := tx.ExecContext(ctx,
		"INSERT INTO frames (project_id, content, created_at) VALUES (?, ?, ?)",
		projectID, content, formatTime(time.Now()))
	if err != nil {
		return 0, fault("add frame", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fault("add frame", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fault("add frame", err)
	}
	return id, nil
}

func (r *SQLiteRepository) GetFrame(ctx context.Context, id int64) (*Frame, error) {
	var f Frame
	var createdAt string
	err := r.db.QueryRowContext(ctx,
		"SELECT id, project_id, content, created_at FROM frames WHERE id = ?", id,
	).Scan(&f.ID, &f.ProjectID, &f.Content, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("frame %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fault("get frame", err)
	}
	f.CreatedAt = parseTime(createdAt)
	return &f, nil
}

func (r *SQLiteRepository) DeleteFrame(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM frames WHERE id = ?", id)
	return fault("delete frame", err)
}

func (r *SQLiteRepository) DeleteFramesOfProject(ctx context.Context, projectID int64) error {
	return fault("delete frames", deleteFramesOfProject(ctx, r.db, projectID))
}

func deleteFramesOfProject(ctx context.Context, ex execer, projectID int64) error {
	_, err := ex.ExecContext(ctx, "DELETE FROM frames WHERE project_id = ?", projectID)
	return err
}

func (r *SQLiteRepository) GetFramesOfProject(ctx context.Context, projectID int64) ([]*Frame, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, project_id, content, created_at FROM frames WHERE project_id = ? ORDER BY id",
		projectID)
	if err != nil {
		return nil, fault("get frames", err)
	}
	defer rows.Close()

	frames := []*Frame{}
	for rows.Next() {
		var f Frame
		var createdAt string
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Content, &createdAt); err != nil {
			return nil, fault("get frames", err)
		}
		f.CreatedAt = parseTime(createdAt)
		frames = append(frames, &f)
	}
	return frames, fault("get frames", rows.Err())
}

func (r *SQLiteRepository) AddProject(ctx context.Context, p *Project) (int64, error) {
	id, err := insertProject(ctx, r.db, p)
	return id, fault("add project", err)
}

func insertProject(ctx context.Context, ex execer, p *Project) (int64, error) {
	frameIDs, err := encodeFrameIDs(p.FrameIDs)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	res, err := ex.ExecContext(ctx, `
		INSERT INTO projects (title, frame_rate, width, height, mirror, rotate, frame_ids, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.Title, p.FrameRate, p.Size.Width, p.Size.Height, boolToInt(p.Mirror), p.Rotate, frameIDs,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *SQLiteRepository) GetProject(ctx context.Context, id int64) (*Project, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, title, frame_rate, width, height, mirror, rotate, frame_ids, created_at, updated_at
		FROM projects WHERE id = ?
	`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fault("get project", err)
	}
	return p, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(row scanner) (*Project, error) {
	var p Project
	var mirror int
	var frameIDs, createdAt, updatedAt string

	err := row.Scan(&p.ID, &p.Title, &p.FrameRate, &p.Size.Width, &p.Size.Height, &mirror, &p.Rotate,
		&frameIDs, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.Mirror = mirror == 1
	if err := json.Unmarshal([]byte(frameIDs), &p.FrameIDs); err != nil {
		return nil, fmt.Errorf("corrupt frame_ids for project %d: %w", p.ID, err)
	}
	if p.FrameIDs == nil {
		p.FrameIDs = []int64{}
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

// UpdateProject overwrites the whole record. There is no version check: of two writers
// racing on one id, the one submitted last wins.
func (r *SQLiteRepository) UpdateProject(ctx context.Context, id int64, p *Project) error {
	unlock := r.lockProject(id)
	defer unlock()

	frameIDs, err := encodeFrameIDs(p.FrameIDs)
	if err != nil {
		return fault("update project", err)
	}

	now := time.Now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE projects
		SET title = ?, frame_rate = ?, width = ?, height = ?, mirror = ?, rotate = ?, frame_ids = ?, updated_at = ?
		WHERE id = ?
	`, p.Title, p.FrameRate, p.Size.Width, p.Size.Height, boolToInt(p.Mirror), p.Rotate, frameIDs,
		formatTime(now), id)
	if err != nil {
		return fault("update project", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fault("update project", err)
	}
	if n == 0 {
		return fmt.Errorf("project %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteProject removes the project and all of its frames in one transaction. Deleting
// a missing project succeeds.
func (r *SQLiteRepository) DeleteProject(ctx context.Context, id int64) error {
	unlock := r.lockProject(id)
	defer unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fault("delete project", err)
	}
	defer tx.Rollback()

	if err := deleteFramesOfProject(ctx, tx, id); err != nil {
		return fault("delete project", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id); err != nil {
		return fault("delete project", err)
	}
	return fault("delete project", tx.Commit())
}

func (r *SQLiteRepository) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, frame_rate, width, height, mirror, rotate, frame_ids, created_at, updated_at
		FROM projects ORDER BY id
	`)
	if err != nil {
		return nil, fault("list projects", err)
	}
	defer rows.Close()

	projects := []*Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fault("list projects", err)
		}
		projects = append(projects, p)
	}
	return projects, fault("list projects", rows.Err())
}

func (r *SQLiteRepository) CountProjects(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM projects").Scan(&count)
	return count, fault("count projects", err)
}

// PopulateIfEmpty creates one default project on a store with no projects.
func (r *SQLiteRepository) PopulateIfEmpty(ctx context.Context, defaults Settings) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fault("populate", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM projects").Scan(&count); err != nil {
		return fault("populate", err)
	}
	if count > 0 {
		return nil
	}

	p := &Project{Title: GenerateTitle(), Settings: defaults, FrameIDs: []int64{}}
	if _, err := insertProject(ctx, tx, p); err != nil {
		return fault("populate", err)
	}
	return fault("populate", tx.Commit())
}

// ImportProject creates a project and its frames atomically. The new frame ids become the
// project's FrameIDs in the order of frames.
func (r *SQLiteRepository) ImportProject(ctx context.Context, p *Project, frames []string) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fault("import project", err)
	}
	defer tx.Rollback()

	p.FrameIDs = []int64{}
	id, err := insertProject(ctx, tx, p)
	if err != nil {
		return 0, fault("import project", err)
	}

	now := formatTime(time.Now())
	frameIDs := make([]int64, 0, len(frames))
	for _, content := range frames {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO frames (project_id, content, created_at) VALUES (?, ?, ?)", id, content, now)
		if err != nil {
			return 0, fault("import project", err)
		}
		frameID, err := res.LastInsertId()
		if err != nil {
			return 0, fault("import project", err)
		}
		frameIDs = append(frameIDs, frameID)
	}

	encoded, err := encodeFrameIDs(frameIDs)
	if err != nil {
		return 0, fault("import project", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE projects SET frame_ids = ? WHERE id = ?", encoded, id); err != nil {
		return 0, fault("import project", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fault("import project", err)
	}

	p.ID = id
	p.FrameIDs = frameIDs
	return id, nil
}

func (r *SQLiteRepository) CreateExport(ctx context.Context, e *Export) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO exports (id, project_id, format, status, progress, error, artifact_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.ProjectID, e.Format, e.Status, e.Progress, nullString(e.Error), nullString(e.ArtifactPath),
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt))
	return fault("create export", err)
}

const exportColumns = "id, project_id, format, status, progress, error, artifact_path, created_at, updated_at"

func (r *SQLiteRepository) GetExport(ctx context.Context, id string) (*Export, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+exportColumns+" FROM exports WHERE id = ?", id)
	e, err := scanExport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fault("get export", err)
	}
	return e, nil
}

func scanExport(row scanner) (*Export, error) {
	var e Export
	var errMsg, artifact sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&e.ID, &e.ProjectID, &e.Format, &e.Status, &e.Progress, &errMsg, &artifact,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	e.Error = errMsg.String
	e.ArtifactPath = artifact.String
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return &e, nil
}

func (r *SQLiteRepository) ListExports(ctx context.Context, limit int) ([]*Export, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+exportColumns+" FROM exports ORDER BY created_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, fault("list exports", err)
	}
	return scanExports(rows)
}

func (r *SQLiteRepository) ListPendingExports(ctx context.Context) ([]*Export, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+exportColumns+" FROM exports WHERE status = ? ORDER BY created_at ASC, rowid ASC",
		ExportStatusPending)
	if err != nil {
		return nil, fault("list pending exports", err)
	}
	return scanExports(rows)
}

func scanExports(rows *sql.Rows) ([]*Export, error) {
	defer rows.Close()

	exports := []*Export{}
	for rows.Next() {
		e, err := scanExport(rows)
		if err != nil {
			return nil, fault("scan exports", err)
		}
		exports = append(exports, e)
	}
	return exports, fault("scan exports", rows.Err())
}

func (r *SQLiteRepository) UpdateExportStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE exports SET status = ?, error = ?, updated_at = ? WHERE id = ?",
		status, nullString(errorMsg), formatTime(time.Now()), id)
	return fault("update export status", err)
}

func (r *SQLiteRepository) UpdateExportProgress(ctx context.Context, id string, progress float64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE exports SET progress = ?, updated_at = ? WHERE id = ?",
		progress, formatTime(time.Now()), id)
	return fault("update export progress", err)
}

func (r *SQLiteRepository) SetExportArtifact(ctx context.Context, id, path string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE exports SET artifact_path = ?, updated_at = ? WHERE id = ?",
		path, formatTime(time.Now()), id)
	return fault("set export artifact", err)
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, fault("get config", err)
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return fault("set config", err)
}

func encodeFrameIDs(ids []int64) (string, error) {
	if ids == nil {
		ids = []int64{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
