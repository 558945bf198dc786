// Package playback holds the fixed-rate frame clock and everything that draws frames on
// its ticks: the drawing surface, the preview player and the HTTP preview stream.
package playback

import (
	"sync"
	"sync/atomic"
	"time"
)

// HostInterval is the cadence of the default tick source, a 60 Hz paint loop.
const HostInterval = time.Second / 60

// Source is the host's continuous callback primitive. The clock decides on each delivered
// tick whether a frame boundary has passed.
type Source interface {
	C() <-chan time.Time
	Stop()
}

type tickerSource struct {
	t *time.Ticker
}

func NewTickerSource(interval time.Duration) Source {
	return tickerSource{t: time.NewTicker(interval)}
}

func (s tickerSource) C() <-chan time.Time { return s.t.C }
func (s tickerSource) Stop()               { s.t.Stop() }

type ClockOption func(*Clock)

func WithSource(newSource func() Source) ClockOption {
	return func(c *Clock) { c.newSource = newSource }
}

func WithNow(now func() time.Time) ClockOption {
	return func(c *Clock) { c.now = now }
}

// Clock starts free-running fixed-rate tickers. One Clock may run any number of
// independent tickers.
type Clock struct {
	newSource func() Source
	now       func() time.Time
}

func NewClock(opts ...ClockOption) *Clock {
	c := &Clock{
		newSource: func() Source { return NewTickerSource(HostInterval) },
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token identifies one running ticker. A token is RUNNING from Start until Stop, then
// STOPPED for good; a stopped ticker is never restarted.
type Token struct {
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
	frames atomic.Int64
}

// Stop halts future ticks. Calling it again, or from inside onTick, is fine.
func (t *Token) Stop() {
	t.once.Do(func() { close(t.stop) })
}

// Done is closed once the ticker goroutine has exited and no onTick call is in flight.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Frames reports how many times onTick has been invoked.
func (t *Token) Frames() int {
	return int(t.frames.Load())
}

// Start invokes onTick(0), onTick(1), ... on a goroutine, one call each time more than
// 1/frameRate seconds have passed since the last frame boundary. A non-positive rate
// yields an already stopped token.
func (c *Clock) Start(frameRate int, onTick func(frame int)) *Token {
	t := &Token{stop: make(chan struct{}), done: make(chan struct{})}
	if frameRate <= 0 {
		t.Stop()
		close(t.done)
		return t
	}

	p := &pacer{interval: time.Second / time.Duration(frameRate), then: c.now()}
	src := c.newSource()
	go run(t, src, p, onTick)
	return t
}

func (c *Clock) Stop(t *Token) {
	if t != nil {
		t.Stop()
	}
}

func run(t *Token, src Source, p *pacer, onTick func(frame int)) {
	defer close(t.done)
	defer src.Stop()

	for {
		select {
		case <-t.stop:
			return
		case now := <-src.C():
			select {
			case <-t.stop:
				return
			default:
			}
			if !p.advance(now) {
				continue
			}
			onTick(int(t.frames.Load()))
			t.frames.Add(1)
		}
	}
}

// pacer turns an irregular stream of host ticks into frame boundaries. Late ticks are
// coalesced into one boundary and the reference time keeps the remainder, so the phase
// does not drift against the host cadence.
type pacer struct {
	interval time.Duration
	then     time.Time
}

func (p *pacer) advance(now time.Time) bool {
	elapsed := now.Sub(p.then)
	if elapsed <= p.interval {
		return false
	}
	p.then = now.Add(-(elapsed % p.interval))
	return true
}
