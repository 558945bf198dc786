package export

import (
	"context"
	"fmt"
	"image"
	"image/color/palette"
	"image/gif"
	"io"
	"math"
	"sync"

	"golang.org/x/image/draw"

	"github.com/framelapse/framelapse-agent/internal/playback"
)

const (
	DefaultGIFWidth   = 500
	DefaultGIFHeight  = 300
	DefaultGIFWorkers = 5
)

// SequenceEncoder turns a full frame list into one animated image. delay is the
// per-frame display time in hundredths of a second; progress receives fractions in
// [0, 1] and may be called from any goroutine, but never concurrently.
type SequenceEncoder interface {
	Encode(ctx context.Context, w io.Writer, frames []string, delay int, progress func(float64)) error
}

// GIFEncoder scales every frame to a fixed size and quantises it to the Plan 9 palette
// on a pool of workers, then writes a looping GIF.
type GIFEncoder struct {
	Width   int
	Height  int
	Workers int
}

func NewGIFEncoder(width, height int) *GIFEncoder {
	if width <= 0 || height <= 0 {
		width, height = DefaultGIFWidth, DefaultGIFHeight
	}
	return &GIFEncoder{Width: width, Height: height, Workers: DefaultGIFWorkers}
}

// GIFDelay is the per-frame delay, in hundredths of a second, for a frame rate.
func GIFDelay(frameRate int) int {
	if frameRate <= 0 {
		return 0
	}
	return int(math.Round(100 / float64(frameRate)))
}

func (e *GIFEncoder) Encode(ctx context.Context, w io.Writer, frames []string, delay int, progress func(float64)) error {
	if len(frames) == 0 {
		return fmt.Errorf("no frames to encode")
	}
	if progress == nil {
		progress = func(float64) {}
	}

	workers := e.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(frames) {
		workers = len(frames)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make([]*image.Paletted, len(frames))
	jobs := make(chan int)

	var (
		mu       sync.Mutex
		done     int
		firstErr error
		wg       sync.WaitGroup
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		cancel()
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			surface := playback.NewSurface(e.Width, e.Height)
			for idx := range jobs {
				if err := surface.DrawPayload(frames[idx]); err != nil {
					fail(fmt.Errorf("frame %d: %w", idx, err))
					continue
				}
				out[idx] = quantize(surface.Snapshot())

				mu.Lock()
				done++
				progress(float64(done) / float64(len(frames)))
				mu.Unlock()
			}
		}()
	}

feed:
	for idx := range frames {
		select {
		case jobs <- idx:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	anim := &gif.GIF{
		Image:     out,
		Delay:     make([]int, len(out)),
		LoopCount: 0,
	}
	for i := range anim.Delay {
		anim.Delay[i] = delay
	}
	if err := gif.EncodeAll(w, anim); err != nil {
		return fmt.Errorf("gif encode: %w", err)
	}
	return nil
}

func quantize(src *image.RGBA) *image.Paletted {
	dst := image.NewPaletted(src.Bounds(), palette.Plan9)
	draw.FloydSteinberg.Draw(dst, dst.Bounds(), src, src.Bounds().Min)
	return dst
}
