package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/framelapse/framelapse-agent/internal/catalog"
	"github.com/framelapse/framelapse-agent/internal/logging"
	"github.com/framelapse/framelapse-agent/internal/pipelines"
	"github.com/framelapse/framelapse-agent/internal/playback"
)

// Recorder starts live video recordings.
type Recorder interface {
	StartRecording(ctx context.Context, opts pipelines.RecordOptions) (pipelines.Recording, error)
}

// CapabilitySource reports what the installed encoder supports. CachedDoctor is one.
type CapabilitySource interface {
	Get(ctx context.Context) (*pipelines.Capabilities, error)
}

var ErrVideoUnavailable = errors.New("video recording is not available")

type PipelineConfig struct {
	Sink     Sink
	Sequence SequenceEncoder

	// Recorder and Capabilities are optional; without them video exports fail.
	Recorder     Recorder
	Capabilities CapabilitySource

	// Clock paces video exports. Nil means a 60 Hz host clock.
	Clock  *playback.Clock
	Logger *slog.Logger
}

type Pipeline struct {
	sink     Sink
	sequence SequenceEncoder
	recorder Recorder
	caps     CapabilitySource
	clock    *playback.Clock
	logger   *slog.Logger
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	p := &Pipeline{
		sink:     cfg.Sink,
		sequence: cfg.Sequence,
		recorder: cfg.Recorder,
		caps:     cfg.Capabilities,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
	}
	if p.sequence == nil {
		p.sequence = NewGIFEncoder(DefaultGIFWidth, DefaultGIFHeight)
	}
	if p.clock == nil {
		p.clock = playback.NewClock()
	}
	if p.logger == nil {
		p.logger = logging.Discard()
	}
	return p
}

// Export renders frames, already in playback order, in the given format. Exporting zero
// frames does nothing and returns a nil artifact. On failure progress is reset to zero,
// nothing is left in the sink and the error is an *EncodingFault.
func (p *Pipeline) Export(ctx context.Context, format Format, proj *catalog.Project, frames []string, progress ProgressFunc) (*Artifact, error) {
	if len(frames) == 0 {
		return nil, nil
	}
	if progress == nil {
		progress = func(float64) {}
	}

	logger := logging.WithProjectID(p.logger, proj.ID).With("format", string(format), "frames", len(frames))

	var (
		art *Artifact
		err error
	)
	switch format {
	case FormatJSON:
		art, err = p.ExportStructural(ctx, proj, frames)
	case FormatGIF:
		art, err = p.ExportSequence(ctx, proj, frames, progress)
	case FormatVideo:
		art, err = p.ExportVideo(ctx, proj, frames, progress)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}

	if err != nil {
		progress(0)
		var fault *EncodingFault
		if !errors.As(err, &fault) {
			err = &EncodingFault{Format: format, Err: err}
		}
		logger.Error("export failed", "error", err)
		return nil, err
	}

	progress(100)
	logger.Info("export finished",
		"artifact", art.Name,
		"size", humanize.Bytes(uint64(art.Size)),
	)
	return art, nil
}

// ExportStructural writes the project settings and frame payloads as one JSON document.
func (p *Pipeline) ExportStructural(ctx context.Context, proj *catalog.Project, frames []string) (*Artifact, error) {
	data, err := MarshalDocument(NewDocument(proj, frames))
	if err != nil {
		return nil, &EncodingFault{Format: FormatJSON, Err: err}
	}
	return p.save(FormatJSON, proj.Title, func(b Blob) error {
		_, err := b.Write(data)
		return err
	})
}

// ExportSequence feeds every frame to the sequence encoder and stores the animation.
func (p *Pipeline) ExportSequence(ctx context.Context, proj *catalog.Project, frames []string, progress ProgressFunc) (*Artifact, error) {
	if progress == nil {
		progress = func(float64) {}
	}
	delay := GIFDelay(proj.FrameRate)
	return p.save(FormatGIF, proj.Title, func(b Blob) error {
		return p.sequence.Encode(ctx, b, frames, delay, func(f float64) {
			progress(Percent(f))
		})
	})
}

// save runs write against a fresh blob and commits it, discarding it on any error.
func (p *Pipeline) save(format Format, title string, write func(Blob) error) (*Artifact, error) {
	if p.sink == nil {
		return nil, &EncodingFault{Format: format, Err: errors.New("no artifact sink configured")}
	}
	blob, err := p.sink.Create(ArtifactName(title, format))
	if err != nil {
		return nil, &EncodingFault{Format: format, Err: err}
	}
	if err := write(blob); err != nil {
		blob.Discard()
		return nil, &EncodingFault{Format: format, Err: err}
	}
	art, err := blob.Commit()
	if err != nil {
		return nil, &EncodingFault{Format: format, Err: err}
	}
	art.Format = format
	return art, nil
}
