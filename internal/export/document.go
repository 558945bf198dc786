package export

import (
	"encoding/json"
	"fmt"

	"github.com/framelapse/framelapse-agent/internal/catalog"
)

// Document is the structural export format. It is also what "import" accepts, so the
// field names are part of the interchange contract.
type Document struct {
	Title     string       `json:"title"`
	FrameRate int          `json:"frameRate"`
	Size      catalog.Size `json:"size"`
	Mirror    bool         `json:"mirror"`
	Rotate    int          `json:"rotate"`
	Frames    []string     `json:"frames"`
}

func NewDocument(p *catalog.Project, frames []string) *Document {
	return &Document{
		Title:     p.Title,
		FrameRate: p.FrameRate,
		Size:      p.Size,
		Mirror:    p.Mirror,
		Rotate:    p.Rotate,
		Frames:    append(make([]string, 0, len(frames)), frames...),
	}
}

func (d *Document) Settings() catalog.Settings {
	return catalog.Settings{
		FrameRate: d.FrameRate,
		Size:      d.Size,
		Mirror:    d.Mirror,
		Rotate:    d.Rotate,
	}
}

func MarshalDocument(d *Document) ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// ParseDocument decodes a structural export and checks its settings. A missing title is
// allowed; the importer generates one.
func ParseDocument(data []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("invalid project document: %w", err)
	}
	if err := catalog.ValidateSettings(d.Settings()); err != nil {
		return nil, err
	}
	if d.Frames == nil {
		d.Frames = []string{}
	}
	return &d, nil
}
