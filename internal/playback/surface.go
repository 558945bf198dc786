package playback

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"sync"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var ErrEmptyPayload = errors.New("empty image payload")

// Surface is a 2D RGBA drawing target owned by its caller.
type Surface struct {
	mu  sync.Mutex
	img *image.RGBA
}

func NewSurface(width, height int) *Surface {
	return &Surface{img: image.NewRGBA(image.Rect(0, 0, width, height))}
}

func (s *Surface) Bounds() image.Rectangle {
	return s.img.Bounds()
}

// Snapshot returns a copy of the current pixels.
func (s *Surface) Snapshot() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := image.NewRGBA(s.img.Bounds())
	copy(out.Pix, s.img.Pix)
	return out
}

func (s *Surface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	draw.Draw(s.img, s.img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
}

// DrawImage scales src to the surface bounds and paints it over the whole surface.
func (s *Surface) DrawImage(src image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	draw.ApproxBiLinear.Scale(s.img, s.img.Bounds(), src, src.Bounds(), draw.Src, nil)
}

func (s *Surface) DrawPayload(payload string) error {
	img, err := DecodePayload(payload)
	if err != nil {
		return err
	}
	s.DrawImage(img)
	return nil
}

// DecodePayload decodes a captured frame. Payloads are data URLs
// ("data:image/png;base64,...") or bare base64; png, jpeg, gif and webp are accepted.
func DecodePayload(payload string) (image.Image, error) {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "data:") {
		_, data, ok := strings.Cut(payload, ",")
		if !ok {
			return nil, fmt.Errorf("malformed data URL")
		}
		payload = data
	}
	if payload == "" {
		return nil, ErrEmptyPayload
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("payload is not base64: %w", err)
		}
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("cannot decode image payload: %w", err)
	}
	return img, nil
}

// Fit scales width x height down to at most maxWidth wide, keeping the aspect ratio.
func Fit(width, height, maxWidth int) (int, int) {
	if maxWidth <= 0 || width <= maxWidth {
		return width, height
	}
	h := height * maxWidth / width
	if h < 1 {
		h = 1
	}
	return maxWidth, h
}
