package export

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Sink stores finished artifacts.
type Sink interface {
	// Create opens a pending blob. Nothing appears under name until Commit.
	Create(name string) (Blob, error)
}

// Blob is a pending artifact. Encoders that need a file path instead of a writer, like
// an ffmpeg recording, write to Path directly.
type Blob interface {
	io.Writer
	Path() string
	Commit() (*Artifact, error)
	Discard()
}

var ErrBlobClosed = errors.New("blob already committed or discarded")

// DirSink writes artifacts into a directory, through a hidden temp file that is renamed
// into place on commit.
type DirSink struct {
	Dir string
}

func NewDirSink(dir string) *DirSink {
	return &DirSink{Dir: dir}
}

func (s *DirSink) Create(name string) (Blob, error) {
	if name == "" || name != filepath.Base(name) {
		return nil, fmt.Errorf("invalid artifact name %q", name)
	}
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create export dir: %w", err)
	}

	// The temp name keeps the extension so tools that sniff it still work.
	ext := filepath.Ext(name)
	pattern := "." + strings.TrimSuffix(name, ext) + "-*" + ext
	f, err := os.CreateTemp(s.Dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("cannot create temp artifact: %w", err)
	}
	return &fileBlob{f: f, name: name, final: filepath.Join(s.Dir, name)}, nil
}

type fileBlob struct {
	mu     sync.Mutex
	f      *os.File
	name   string
	final  string
	closed bool
}

func (b *fileBlob) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrBlobClosed
	}
	return b.f.Write(p)
}

func (b *fileBlob) Path() string {
	return b.f.Name()
}

func (b *fileBlob) Commit() (*Artifact, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBlobClosed
	}
	b.closed = true

	tmp := b.f.Name()
	if err := b.f.Close(); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("cannot close artifact: %w", err)
	}
	info, err := os.Stat(tmp)
	if err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("artifact missing: %w", err)
	}
	if err := os.Rename(tmp, b.final); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("cannot move artifact into place: %w", err)
	}
	return &Artifact{Name: b.name, Path: b.final, Size: info.Size()}, nil
}

func (b *fileBlob) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.f.Close()
	os.Remove(b.f.Name())
}
