package ui

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

var iconBytes = renderIcon(32)

// renderIcon draws a film strip: a dark frame with sprocket holes down both edges and a
// light exposure in the middle.
func renderIcon(size int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	film := color.NRGBA{R: 0x22, G: 0x22, B: 0x2a, A: 0xff}
	hole := color.NRGBA{}
	frame := color.NRGBA{R: 0xf2, G: 0xb7, B: 0x3c, A: 0xff}

	edge := size / 5
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := film
			switch {
			case x < edge || x >= size-edge:
				if (y/(size/8))%2 == 1 && x > edge/4 && x < size-edge/4 && (x < edge-edge/4 || x >= size-edge+edge/4) {
					c = hole
				}
			case y >= size/4 && y < size-size/4:
				c = frame
			}
			img.SetNRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
