package export

import (
	"bytes"
	"context"
	"image/gif"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGIFDelay(t *testing.T) {
	assert.Equal(t, 10, GIFDelay(10))
	assert.Equal(t, 7, GIFDelay(15))
	assert.Equal(t, 3, GIFDelay(30))
	assert.Equal(t, 0, GIFDelay(0))
}

func TestGIFEncoder_EncodesEveryFrameInOrder(t *testing.T) {
	enc := &GIFEncoder{Width: 16, Height: 8, Workers: 3}
	frames := []string{framePayload(t, red), framePayload(t, green), framePayload(t, blue), framePayload(t, red)}

	var got []float64
	var buf bytes.Buffer
	require.NoError(t, enc.Encode(context.Background(), &buf, frames, 7, func(f float64) {
		got = append(got, f)
	}))

	anim, err := gif.DecodeAll(&buf)
	require.NoError(t, err)
	require.Len(t, anim.Image, 4)
	assert.Equal(t, []int{7, 7, 7, 7}, anim.Delay)
	assert.Equal(t, 0, anim.LoopCount)

	for i, want := range []string{"r", "g", "b", "r"} {
		img := anim.Image[i]
		assert.Equal(t, 16, img.Bounds().Dx())
		assert.Equal(t, 8, img.Bounds().Dy())

		r, g, b, _ := img.At(4, 4).RGBA()
		switch want {
		case "r":
			assert.True(t, r > g && r > b, "frame %d should be red", i)
		case "g":
			assert.True(t, g > r && g > b, "frame %d should be green", i)
		case "b":
			assert.True(t, b > r && b > g, "frame %d should be blue", i)
		}
	}

	require.Len(t, got, 4)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i], got[i-1])
	}
	assert.Equal(t, 1.0, got[len(got)-1])
}

func TestGIFEncoder_BadFrameFails(t *testing.T) {
	enc := NewGIFEncoder(0, 0)
	assert.Equal(t, DefaultGIFWidth, enc.Width)
	assert.Equal(t, DefaultGIFHeight, enc.Height)

	var buf bytes.Buffer
	err := enc.Encode(context.Background(), &buf, []string{framePayload(t, red), "garbage"}, 10, nil)
	assert.Error(t, err)
	assert.Zero(t, buf.Len(), "nothing is written on failure")
}

func TestGIFEncoder_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	err := (&GIFEncoder{Width: 4, Height: 4, Workers: 1}).Encode(ctx, &buf, []string{framePayload(t, red)}, 10, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGIFEncoder_NoFrames(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, NewGIFEncoder(4, 4).Encode(context.Background(), &buf, nil, 10, nil))
}
