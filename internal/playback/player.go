package playback

import (
	"image"
	"log/slog"
	"sync"

	"github.com/framelapse/framelapse-agent/internal/logging"
)

// FrameFunc receives a copy of the surface after every frame the player draws.
type FrameFunc func(frame int, img image.Image)

// Player loops an ordered frame list onto a surface at a fixed frame rate. Stopping and
// playing again restarts from the first frame.
type Player struct {
	clock   *Clock
	surface *Surface
	logger  *slog.Logger

	mu      sync.Mutex
	frames  []string
	rate    int
	loop    bool
	token   *Token
	gen     int
	onFrame FrameFunc
	decoded map[int]image.Image
	decode  func(string) (image.Image, error)
}

func NewPlayer(clock *Clock, surface *Surface, logger *slog.Logger) *Player {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Player{
		clock:   clock,
		surface: surface,
		logger:  logger,
		loop:    true,
		decoded: make(map[int]image.Image),
		decode:  DecodePayload,
	}
}

// Load replaces the frame list and rate. Playback in progress is stopped.
func (p *Player) Load(frames []string, frameRate int) {
	p.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append([]string(nil), frames...)
	p.rate = frameRate
	p.decoded = make(map[int]image.Image)
}

// SetLoop controls whether playback wraps around or stops after the last frame.
func (p *Player) SetLoop(loop bool) {
	p.mu.Lock()
	p.loop = loop
	p.mu.Unlock()
}

func (p *Player) OnFrame(fn FrameFunc) {
	p.mu.Lock()
	p.onFrame = fn
	p.mu.Unlock()
}

// Play starts playback from frame 0. It returns false when there is nothing to play.
func (p *Player) Play() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != nil {
		return true
	}
	if len(p.frames) == 0 || p.rate <= 0 {
		return false
	}

	p.gen++
	gen := p.gen
	p.token = p.clock.Start(p.rate, func(frame int) {
		p.tick(gen, frame)
	})
	return true
}

func (p *Player) tick(gen, frame int) {
	p.mu.Lock()
	if gen != p.gen || p.token == nil {
		p.mu.Unlock()
		return
	}
	n := len(p.frames)
	if n == 0 || (!p.loop && frame >= n) {
		token := p.token
		p.token = nil
		p.mu.Unlock()
		token.Stop()
		return
	}
	index := frame % n
	img, ok := p.decoded[index]
	payload := p.frames[index]
	onFrame := p.onFrame
	decode := p.decode
	p.mu.Unlock()

	if !ok {
		var err error
		img, err = decode(payload)
		if err != nil {
			p.logger.Warn("skipping undecodable frame", "index", index, "error", err)
			return
		}
		p.mu.Lock()
		if gen != p.gen {
			// stopped or reloaded while decoding; img belongs to the old frame list
			p.mu.Unlock()
			return
		}
		p.decoded[index] = img
		p.mu.Unlock()
	}

	p.surface.DrawImage(img)
	if onFrame != nil {
		onFrame(frame, p.surface.Snapshot())
	}
}

// Stop halts playback. It does not wait for an in-flight frame to finish drawing.
func (p *Player) Stop() {
	p.mu.Lock()
	token := p.token
	p.token = nil
	p.gen++
	p.mu.Unlock()

	p.clock.Stop(token)
}

// Toggle flips between playing and stopped and reports whether the player is now playing.
func (p *Player) Toggle() bool {
	if p.Playing() {
		p.Stop()
		return false
	}
	return p.Play()
}

func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token != nil
}

// Done returns a channel closed when the current playback ends, or nil when idle.
func (p *Player) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == nil {
		return nil
	}
	return p.token.Done()
}
