// Package pipelines drives the external ffmpeg binary: capability probing and
// frame-by-frame video recording over a stdin image pipe.
package pipelines

import (
	"image"
	"time"
)

// Capabilities describes what the installed ffmpeg can do, as reported by
// `ffmpeg -version` and `ffmpeg -encoders`.
type Capabilities struct {
	FFmpegPath string          `json:"ffmpeg_path"`
	Version    string          `json:"version"`
	Encoders   map[string]bool `json:"encoders,omitempty"`

	HasX264  bool      `json:"has_x264"`
	HasVideo bool      `json:"has_video"`
	ProbedAt time.Time `json:"probed_at"`
}

// VideoEncoder returns the encoder recordings should use, or "" when none is usable.
func (c *Capabilities) VideoEncoder() string {
	switch {
	case c.HasX264:
		return "libx264"
	case c.Encoders["mpeg4"]:
		return "mpeg4"
	default:
		return ""
	}
}

// RunResult is the structured outcome of executing an ffmpeg subprocess.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	OutputPath string        `json:"output_path,omitempty"`
	StderrTail string        `json:"stderr_tail,omitempty"` // last N bytes of stderr
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

type RecordOptions struct {
	// FrameRate is the rate frames are written at, which is the rate of the output.
	FrameRate  int
	Width      int
	Height     int
	Encoder    string // empty = libx264
	OutputPath string
}

// Recording is a live "record what I draw" sink. Frames written with WriteFrame become
// consecutive frames of the output file once Finish returns successfully.
type Recording interface {
	WriteFrame(img image.Image) error
	Finish() (RunResult, error)
	// Abort kills the encoder and removes any partial output.
	Abort()
}
