package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

const ConfigKeyProjectDefaults = "project_defaults"

type CatalogService interface {
	Initialize(ctx context.Context) error
	Defaults(ctx context.Context) (Settings, error)
	SetDefaults(ctx context.Context, s Settings) error
	NewProject(ctx context.Context) (*Project, error)
	ImportProject(ctx context.Context, title string, s Settings, frames []string) (*Project, error)
	GetProject(ctx context.Context, id int64) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)
	CountProjects(ctx context.Context) (int, error)
	DeleteProject(ctx context.Context, id int64) error
	LoadFrames(ctx context.Context, p *Project) ([]string, error)
}

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Initialize runs once at process start.
func (s *Service) Initialize(ctx context.Context) error {
	defaults, err := s.Defaults(ctx)
	if err != nil {
		return err
	}
	if err := s.repo.PopulateIfEmpty(ctx, defaults); err != nil {
		return fmt.Errorf("failed to populate store: %w", err)
	}
	return nil
}

func (s *Service) Defaults(ctx context.Context) (Settings, error) {
	raw, err := s.repo.GetConfig(ctx, ConfigKeyProjectDefaults)
	if err != nil {
		return Settings{}, err
	}
	if raw == "" {
		return DefaultSettings(), nil
	}

	var settings Settings
	if err := json.Unmarshal([]byte(raw), &settings); err != nil || ValidateSettings(settings) != nil {
		if s.logger != nil {
			s.logger.Warn("ignoring unreadable project defaults", "value", raw)
		}
		return DefaultSettings(), nil
	}
	return settings, nil
}

func (s *Service) SetDefaults(ctx context.Context, settings Settings) error {
	if err := ValidateSettings(settings); err != nil {
		return err
	}
	b, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return s.repo.SetConfig(ctx, ConfigKeyProjectDefaults, string(b))
}

// NewProject persists an empty project with a generated title and the current defaults.
func (s *Service) NewProject(ctx context.Context) (*Project, error) {
	defaults, err := s.Defaults(ctx)
	if err != nil {
		return nil, err
	}

	p := &Project{
		Title:    GenerateTitle(),
		Settings: defaults,
		FrameIDs: []int64{},
	}
	id, err := s.repo.AddProject(ctx, p)
	if err != nil {
		return nil, err
	}
	p.ID = id

	if s.logger != nil {
		s.logger.Info("project created", "project_id", id, "title", p.Title)
	}
	return p, nil
}

func (s *Service) ImportProject(ctx context.Context, title string, settings Settings, frames []string) (*Project, error) {
	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = GenerateTitle()
	}

	p := &Project{Title: title, Settings: settings}
	if _, err := s.repo.ImportProject(ctx, p, frames); err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("project imported", "project_id", p.ID, "frames", len(frames))
	}
	return p, nil
}

func (s *Service) GetProject(ctx context.Context, id int64) (*Project, error) {
	return s.repo.GetProject(ctx, id)
}

func (s *Service) ListProjects(ctx context.Context) ([]*Project, error) {
	return s.repo.ListProjects(ctx)
}

func (s *Service) CountProjects(ctx context.Context) (int, error) {
	return s.repo.CountProjects(ctx)
}

func (s *Service) DeleteProject(ctx context.Context, id int64) error {
	if err := s.repo.DeleteProject(ctx, id); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Info("project deleted", "project_id", id)
	}
	return nil
}

// LoadFrames returns the project's frame contents in playback order.
func (s *Service) LoadFrames(ctx context.Context, p *Project) ([]string, error) {
	frames, err := s.repo.GetFramesOfProject(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return OrderFrames(p.FrameIDs, frames), nil
}
