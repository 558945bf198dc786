package export

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/framelapse/framelapse-agent/internal/catalog"
	"github.com/framelapse/framelapse-agent/internal/pipelines"
	"github.com/framelapse/framelapse-agent/internal/playback"
)

// Oversample is how many clock ticks run per logical frame during a video export.
const Oversample = 2

// ExportVideo replays the frames on a project-sized surface while a recording captures
// it. Tick k draws frames[k mod n]; after the tick where k+1 exceeds n the clock stops
// and the recording is finalised. Output plays at the project frame rate.
func (p *Pipeline) ExportVideo(ctx context.Context, proj *catalog.Project, frames []string, progress ProgressFunc) (*Artifact, error) {
	if progress == nil {
		progress = func(float64) {}
	}
	if p.recorder == nil || p.caps == nil {
		return nil, &EncodingFault{Format: FormatVideo, Err: ErrVideoUnavailable}
	}
	caps, err := p.caps.Get(ctx)
	if err != nil {
		return nil, &EncodingFault{Format: FormatVideo, Err: err}
	}
	encoder := caps.VideoEncoder()
	if encoder == "" {
		return nil, &EncodingFault{Format: FormatVideo, Err: ErrVideoUnavailable}
	}

	return p.save(FormatVideo, proj.Title, func(b Blob) error {
		rec, err := p.recorder.StartRecording(ctx, pipelines.RecordOptions{
			FrameRate:  proj.FrameRate,
			Width:      proj.Size.Width,
			Height:     proj.Size.Height,
			Encoder:    encoder,
			OutputPath: b.Path(),
		})
		if err != nil {
			return err
		}
		if err := p.drive(ctx, rec, proj, frames, progress); err != nil {
			rec.Abort()
			return err
		}
		_, err = rec.Finish()
		return err
	})
}

// drive runs the frame clock until every frame has been written to rec.
func (p *Pipeline) drive(ctx context.Context, rec pipelines.Recording, proj *catalog.Project, frames []string, progress ProgressFunc) error {
	n := len(frames)
	surface := playback.NewSurface(proj.Size.Width, proj.Size.Height)
	surface.Clear()

	var (
		once     sync.Once
		finished = make(chan struct{})
		writeErr error
	)
	finish := func(err error) {
		once.Do(func() {
			writeErr = err
			close(finished)
		})
	}

	token := p.clock.Start(proj.FrameRate*Oversample, func(k int) {
		select {
		case <-finished:
			return
		default:
		}
		if err := surface.DrawPayload(frames[k%n]); err != nil {
			finish(fmt.Errorf("frame %d: %w", k%n, err))
			return
		}
		if err := rec.WriteFrame(surface.Snapshot()); err != nil {
			finish(err)
			return
		}
		progress(Percent(float64(k+1) / float64(n)))
		if k+1 > n {
			finish(nil)
		}
	})

	select {
	case <-finished:
	case <-token.Done():
	case <-ctx.Done():
		finish(ctx.Err())
	}
	p.clock.Stop(token)
	<-token.Done()

	if writeErr != nil {
		return writeErr
	}
	if token.Frames() <= n {
		return errors.New("frame clock stopped early")
	}
	return nil
}
