// Package export turns a project's ordered frames into downloadable artifacts: a
// structural JSON document, an animated GIF, or an ffmpeg-encoded video.
package export

import (
	"fmt"
	"math"

	"github.com/framelapse/framelapse-agent/internal/catalog"
)

type Format string

const (
	FormatJSON  Format = catalog.ExportFormatJSON
	FormatGIF   Format = catalog.ExportFormatGIF
	FormatVideo Format = catalog.ExportFormatVideo
)

// Ext returns the artifact file extension for the format, including the dot.
func (f Format) Ext() string {
	switch f {
	case FormatJSON:
		return ".json"
	case FormatGIF:
		return ".gif"
	case FormatVideo:
		return ".mp4"
	default:
		return ""
	}
}

func ParseFormat(s string) (Format, error) {
	if !catalog.ValidExportFormat(s) {
		return "", fmt.Errorf("unsupported export format %q", s)
	}
	return Format(s), nil
}

// ProgressFunc receives export progress as a percentage in [0, 100] with one decimal.
type ProgressFunc func(percent float64)

// Artifact is a finished export sitting in a sink.
type Artifact struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Format Format `json:"format"`
}

// EncodingFault is returned when an encoder or recorder fails. No artifact is left
// behind and progress has been reset to zero.
type EncodingFault struct {
	Format Format
	Err    error
}

func (e *EncodingFault) Error() string {
	return fmt.Sprintf("%s export failed: %v", e.Format, e.Err)
}

func (e *EncodingFault) Unwrap() error {
	return e.Err
}

// Percent converts a fraction to a percentage truncated to one decimal place.
func Percent(fraction float64) float64 {
	switch {
	case fraction <= 0 || math.IsNaN(fraction):
		return 0
	case fraction >= 1:
		return 100
	}
	return math.Trunc(fraction*1000) / 10
}
