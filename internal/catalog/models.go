package catalog

import (
	"fmt"
	"time"
)

type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Settings are the playback/export parameters shared by every frame of a project.
type Settings struct {
	FrameRate int  `json:"frame_rate"`
	Size      Size `json:"size"`
	Mirror    bool `json:"mirror"`
	Rotate    int  `json:"rotate"`
}

type Project struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Settings
	// FrameIDs is the authoritative playback order; frames carry no position.
	FrameIDs  []int64   `json:"frame_ids"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of p.
func (p *Project) Clone() *Project {
	c := *p
	c.FrameIDs = append([]int64(nil), p.FrameIDs...)
	return &c
}

type Frame struct {
	ID        int64     `json:"id"`
	ProjectID int64     `json:"project_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	ExportFormatJSON  = "json"
	ExportFormatGIF   = "gif"
	ExportFormatVideo = "video"

	ExportStatusPending   = "pending"
	ExportStatusRunning   = "running"
	ExportStatusCompleted = "completed"
	ExportStatusFailed    = "failed"
)

type Export struct {
	ID           string    `json:"id"`
	ProjectID    int64     `json:"project_id"`
	Format       string    `json:"format"`
	Status       string    `json:"status"`
	Progress     float64   `json:"progress"`
	Error        string    `json:"error,omitempty"`
	ArtifactPath string    `json:"artifact_path,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

var (
	FrameRates = []int{10, 15, 30}
	Sizes      = []Size{
		{Width: 1920, Height: 1080},
		{Width: 1280, Height: 720},
		{Width: 1080, Height: 1920},
		{Width: 720, Height: 1080},
	}
	Rotations = []int{0, 90, 180, 270}
)

// DefaultSettings is what a fresh install uses for new projects.
func DefaultSettings() Settings {
	return Settings{
		FrameRate: FrameRates[1],
		Size:      Sizes[0],
		Mirror:    false,
		Rotate:    0,
	}
}

func ValidFrameRate(rate int) bool {
	for _, r := range FrameRates {
		if r == rate {
			return true
		}
	}
	return false
}

func ValidSize(size Size) bool {
	for _, s := range Sizes {
		if s == size {
			return true
		}
	}
	return false
}

func ValidRotation(deg int) bool {
	for _, r := range Rotations {
		if r == deg {
			return true
		}
	}
	return false
}

func ValidateSettings(s Settings) error {
	if !ValidFrameRate(s.FrameRate) {
		return fmt.Errorf("%w: frame rate %d not in %v", ErrInvalidSetting, s.FrameRate, FrameRates)
	}
	if !ValidSize(s.Size) {
		return fmt.Errorf("%w: size %s not supported", ErrInvalidSetting, s.Size)
	}
	if !ValidRotation(s.Rotate) {
		return fmt.Errorf("%w: rotation %d not in %v", ErrInvalidSetting, s.Rotate, Rotations)
	}
	return nil
}

func ValidExportFormat(format string) bool {
	switch format {
	case ExportFormatJSON, ExportFormatGIF, ExportFormatVideo:
		return true
	}
	return false
}

// OrderFrames returns frame contents in frameIDs order. Ids with no matching frame are
// skipped.
func OrderFrames(frameIDs []int64, frames []*Frame) []string {
	byID := make(map[int64]string, len(frames))
	for _, f := range frames {
		byID[f.ID] = f.Content
	}

	ordered := make([]string, 0, len(frameIDs))
	for _, id := range frameIDs {
		if content, ok := byID[id]; ok {
			ordered = append(ordered, content)
		}
	}
	return ordered
}
