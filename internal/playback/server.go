package playback

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"

	"github.com/framelapse/framelapse-agent/internal/logging"
)

const DefaultPreviewWidth = 640

type PreviewOptions struct {
	FrameRate int
	Width     int
	Height    int
	Loop      bool
}

type PlaybackService interface {
	StreamPreview(w http.ResponseWriter, r *http.Request, frames []string, opts PreviewOptions) error
	ServeArtifact(w http.ResponseWriter, r *http.Request, path string) error
}

type Server struct {
	clock  *Clock
	logger *slog.Logger
}

func NewServer(clock *Clock, logger *slog.Logger) *Server {
	if clock == nil {
		clock = NewClock()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{clock: clock, logger: logger}
}

// StreamPreview plays frames as a multipart/x-mixed-replace MJPEG stream until the client
// goes away or, without Loop, until the last frame has been sent.
func (s *Server) StreamPreview(w http.ResponseWriter, r *http.Request, frames []string, opts PreviewOptions) error {
	if len(frames) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}

	width, height := Fit(opts.Width, opts.Height, DefaultPreviewWidth)
	player := NewPlayer(s.clock, NewSurface(width, height), s.logger)
	player.Load(frames, opts.FrameRate)
	player.SetLoop(opts.Loop)

	// drop frames the client cannot keep up with
	out := make(chan []byte, 2)
	player.OnFrame(func(frame int, img image.Image) {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
			s.logger.Warn("preview frame encode failed", "frame", frame, "error", err)
			return
		}
		select {
		case out <- buf.Bytes():
		default:
		}
	})

	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)

	if !player.Play() {
		return nil
	}
	done := player.Done()
	defer player.Stop()

	writePart := func(jpg []byte) error {
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":   {"image/jpeg"},
			"Content-Length": {strconv.Itoa(len(jpg))},
		})
		if err != nil {
			return err
		}
		if _, err := part.Write(jpg); err != nil {
			return err
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		return nil
	}

	for {
		select {
		case <-r.Context().Done():
			return nil
		case <-done:
			for {
				select {
				case jpg := <-out:
					if err := writePart(jpg); err != nil {
						return err
					}
				default:
					return mw.Close()
				}
			}
		case jpg := <-out:
			if err := writePart(jpg); err != nil {
				return err
			}
		}
	}
}

// ServeArtifact serves an exported file with byte-range support.
func (s *Server) ServeArtifact(w http.ResponseWriter, r *http.Request, path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "file not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	name := filepath.Base(path)
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))

	http.ServeContent(w, r, name, stat.ModTime(), file)
	return nil
}
