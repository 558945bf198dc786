package playback

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// manualSource delivers host ticks only when the test sends them.
type manualSource struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func newManualSource() *manualSource {
	return &manualSource{ch: make(chan time.Time)}
}

func (s *manualSource) C() <-chan time.Time { return s.ch }

func (s *manualSource) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

// feed delivers each tick and then repeats the last one. A repeated tick never fires,
// and its delivery proves the previous tick has been fully handled.
func (s *manualSource) feed(ticks ...time.Time) {
	for _, t := range ticks {
		s.ch <- t
	}
	if len(ticks) > 0 {
		s.ch <- ticks[len(ticks)-1]
	}
}

func newManualClock(src *manualSource) *Clock {
	return NewClock(
		WithSource(func() Source { return src }),
		WithNow(func() time.Time { return epoch }),
	)
}

func at(ms int) time.Time {
	return epoch.Add(time.Duration(ms) * time.Millisecond)
}

func TestPacer_FiresOnlyAfterInterval(t *testing.T) {
	p := &pacer{interval: 100 * time.Millisecond, then: epoch}

	assert.False(t, p.advance(at(50)))
	assert.False(t, p.advance(at(100)), "exactly one interval is not enough")
	assert.True(t, p.advance(at(150)))
	assert.Equal(t, at(100), p.then, "remainder is kept")
	assert.False(t, p.advance(at(160)))
	assert.True(t, p.advance(at(201)))
}

func TestPacer_CoalescesLongGap(t *testing.T) {
	p := &pacer{interval: 100 * time.Millisecond, then: epoch}

	assert.True(t, p.advance(at(1050)), "a long stall yields one boundary")
	assert.Equal(t, at(1000), p.then)
	assert.False(t, p.advance(at(1050)))
	assert.False(t, p.advance(at(1100)))
	assert.True(t, p.advance(at(1101)))
}

func TestClock_FrameIndexStartsAtZero(t *testing.T) {
	src := newManualSource()
	clock := newManualClock(src)

	var got []int
	token := clock.Start(10, func(frame int) { got = append(got, frame) })

	src.feed(at(16), at(50), at(101), at(150), at(203), at(330))
	clock.Stop(token)
	<-token.Done()

	assert.Equal(t, []int{0, 1, 2}, got)
	assert.Equal(t, 3, token.Frames())
}

func TestClock_CoalescingBound(t *testing.T) {
	rates := []int{10, 15, 30, 60}
	rng := rand.New(rand.NewSource(42))

	for _, rate := range rates {
		for trial := 0; trial < 20; trial++ {
			src := newManualSource()
			clock := newManualClock(src)

			var got []int
			token := clock.Start(rate, func(frame int) { got = append(got, frame) })

			var ticks []time.Time
			now := epoch
			for i := 0; i < 300; i++ {
				switch rng.Intn(4) {
				case 0: // burst: same instant
				case 1:
					now = now.Add(time.Duration(rng.Intn(5)) * time.Millisecond)
				case 2:
					now = now.Add(HostInterval)
				case 3: // stall
					now = now.Add(time.Duration(rng.Intn(400)) * time.Millisecond)
				}
				ticks = append(ticks, now)
			}
			src.feed(ticks...)
			clock.Stop(token)
			<-token.Done()

			interval := time.Second / time.Duration(rate)
			elapsed := now.Sub(epoch)
			bound := int(elapsed/interval) + 1
			require.LessOrEqual(t, len(got), bound, "rate %d trial %d", rate, trial)
			for i, frame := range got {
				require.Equal(t, i, frame, "frame counter must advance by exactly one")
			}
		}
	}
}

func TestClock_StopIsIdempotent(t *testing.T) {
	src := newManualSource()
	clock := newManualClock(src)

	token := clock.Start(15, func(int) {})
	clock.Stop(token)
	clock.Stop(token)
	token.Stop()
	<-token.Done()

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.True(t, src.stopped, "host source is released")
}

func TestClock_StopFromTick(t *testing.T) {
	src := newManualSource()
	clock := newManualClock(src)

	var token *Token
	var mu sync.Mutex
	calls := 0
	token = clock.Start(10, func(frame int) {
		mu.Lock()
		calls++
		mu.Unlock()
		if frame == 1 {
			token.Stop()
		}
	})

	src.ch <- at(101)
	src.ch <- at(202)
	<-token.Done()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
}

func TestClock_NonPositiveRate(t *testing.T) {
	clock := NewClock()
	token := clock.Start(0, func(int) { t.Error("onTick must not run") })

	select {
	case <-token.Done():
	case <-time.After(time.Second):
		t.Fatal("token for a zero rate should be stopped")
	}
	assert.Equal(t, 0, token.Frames())
}

func TestClock_RealTicker(t *testing.T) {
	clock := NewClock()
	start := time.Now()
	token := clock.Start(50, func(int) {})

	time.Sleep(250 * time.Millisecond)
	clock.Stop(token)
	<-token.Done()
	elapsed := time.Since(start)

	frames := token.Frames()
	assert.Greater(t, frames, 0)
	assert.LessOrEqual(t, frames, int(elapsed/(20*time.Millisecond))+1)
}
