package pipelines

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/framelapse/framelapse-agent/internal/logging"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics
)

var ErrRecordingClosed = errors.New("recording already finished")

// Runner executes ffmpeg as a subprocess.
type Runner interface {
	Prober

	// StartRecording spawns an encoder that turns the frames written to the returned
	// Recording into a video file at opts.OutputPath.
	StartRecording(ctx context.Context, opts RecordOptions) (Recording, error)
}

type Config struct {
	FFmpegPath    string        // path to ffmpeg binary; empty = auto-detect
	DoctorTimeout time.Duration // timeout for each probe command
	RecordTimeout time.Duration // upper bound on one recording
	Logger        *slog.Logger
	DebugPaths    bool // if true, log full file paths; otherwise sanitise
}

func DefaultConfig(ffmpegPath string, logger *slog.Logger) Config {
	return Config{
		FFmpegPath:    ffmpegPath,
		DoctorTimeout: 15 * time.Second,
		RecordTimeout: 30 * time.Minute,
		Logger:        logger,
		DebugPaths:    false,
	}
}

// SubprocessRunner is the production implementation of Runner.
type SubprocessRunner struct {
	cfg    Config
	ffmpeg string // resolved ffmpeg path
}

// NewRunner creates a SubprocessRunner, resolving the ffmpeg binary path.
func NewRunner(cfg Config) (*SubprocessRunner, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}

	ffmpeg, err := resolveFFmpeg(cfg.FFmpegPath)
	if err != nil {
		return nil, fmt.Errorf("cannot locate ffmpeg: %w", err)
	}

	cfg.Logger.Info("ffmpeg runner initialised", "ffmpeg", ffmpeg)
	return &SubprocessRunner{cfg: cfg, ffmpeg: ffmpeg}, nil
}

// RunDoctor probes the installed ffmpeg for its version and encoders.
func (r *SubprocessRunner) RunDoctor(ctx context.Context) (*Capabilities, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.DoctorTimeout)
	defer cancel()

	versionOut, result := r.exec(ctx, "-hide_banner", "-version")
	if !result.IsSuccess() {
		return nil, fmt.Errorf("ffmpeg -version exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}

	encodersOut, result := r.exec(ctx, "-hide_banner", "-encoders")
	if !result.IsSuccess() {
		return nil, fmt.Errorf("ffmpeg -encoders exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}

	caps := &Capabilities{
		FFmpegPath: r.ffmpeg,
		Version:    parseVersion(versionOut),
		Encoders:   parseEncoders(encodersOut),
	}
	caps.HasX264 = caps.Encoders["libx264"]
	caps.HasVideo = caps.VideoEncoder() != ""
	caps.ProbedAt = time.Now()

	r.cfg.Logger.Info("ffmpeg probe complete",
		"version", caps.Version,
		"x264", caps.HasX264,
		"video", caps.HasVideo,
		"encoders", len(caps.Encoders),
	)
	return caps, nil
}

func (r *SubprocessRunner) StartRecording(ctx context.Context, opts RecordOptions) (Recording, error) {
	if opts.FrameRate <= 0 || opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid recording options: %dfps %dx%d", opts.FrameRate, opts.Width, opts.Height)
	}
	if opts.Encoder == "" {
		opts.Encoder = "libx264"
	}
	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0755); err != nil {
		return nil, fmt.Errorf("cannot create output dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.RecordTimeout)
	cmd := exec.CommandContext(ctx, r.ffmpeg, recordArgs(opts)...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("cannot open ffmpeg stdin: %w", err)
	}

	rec := &pipeRecording{
		cmd:    cmd,
		stdin:  stdin,
		cancel: cancel,
		opts:   opts,
		logger: r.cfg.Logger,
		path:   r.safePath(opts.OutputPath),
		enc:    &png.Encoder{CompressionLevel: png.BestSpeed},
	}
	cmd.Stderr = &limitedWriter{w: &rec.stderr, limit: maxStderrBytes}
	cmd.Stdout = io.Discard

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("cannot start ffmpeg: %w", err)
	}
	rec.start = time.Now()

	r.cfg.Logger.Info("recording started",
		"encoder", opts.Encoder,
		"fps", opts.FrameRate,
		"size", fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"output", rec.path,
	)
	return rec, nil
}

// recordArgs reads PNG frames from stdin and writes an h264/mpeg4 mp4.
func recordArgs(opts RecordOptions) []string {
	fps := strconv.Itoa(opts.FrameRate)
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "image2pipe", "-framerate", fps, "-c:v", "png", "-i", "-",
		"-vf", fmt.Sprintf("scale=%d:%d", opts.Width, opts.Height),
		"-c:v", opts.Encoder,
		"-pix_fmt", "yuv420p",
		"-r", fps,
		"-movflags", "+faststart",
		opts.OutputPath,
	}
}

type pipeRecording struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	cancel context.CancelFunc
	opts   RecordOptions
	logger *slog.Logger
	path   string
	enc    *png.Encoder
	start  time.Time
	stderr bytes.Buffer

	mu     sync.Mutex
	done   bool
	frames int
}

func (p *pipeRecording) WriteFrame(img image.Image) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done {
		return ErrRecordingClosed
	}
	if err := p.enc.Encode(p.stdin, img); err != nil {
		return fmt.Errorf("ffmpeg rejected frame %d: %w", p.frames, err)
	}
	p.frames++
	return nil
}

func (p *pipeRecording) Finish() (RunResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done {
		return RunResult{}, ErrRecordingClosed
	}
	p.done = true

	p.stdin.Close()
	err := p.cmd.Wait()
	p.cancel()

	result := RunResult{
		ExitCode:   exitCode(err),
		OutputPath: p.opts.OutputPath,
		StderrTail: p.stderr.String(),
		Duration:   time.Since(p.start),
	}

	if !result.IsSuccess() {
		os.Remove(p.opts.OutputPath)
		p.logger.Warn("recording failed",
			"exit_code", result.ExitCode,
			"frames", p.frames,
			"stderr_tail", truncate(result.StderrTail, 512),
		)
		return result, fmt.Errorf("ffmpeg exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}

	p.logger.Info("recording finished",
		"frames", p.frames,
		"duration_ms", result.Duration.Milliseconds(),
		"output", p.path,
	)
	return result, nil
}

func (p *pipeRecording) Abort() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done {
		return
	}
	p.done = true

	p.cancel()
	p.stdin.Close()
	p.cmd.Wait()
	os.Remove(p.opts.OutputPath)
	p.logger.Info("recording aborted", "frames", p.frames, "output", p.path)
}

// exec runs one short ffmpeg command and returns its stdout.
func (r *SubprocessRunner) exec(ctx context.Context, args ...string) (string, RunResult) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, r.ffmpeg, args...)

	var stdout, stderrBuf bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}

	r.cfg.Logger.Debug("executing ffmpeg command", "args", args)

	err := cmd.Run()
	result := RunResult{
		ExitCode:   exitCode(err),
		StderrTail: stderrBuf.String(),
		Duration:   time.Since(start),
	}
	if !result.IsSuccess() {
		r.cfg.Logger.Warn("ffmpeg command failed",
			"args", args,
			"exit_code", result.ExitCode,
			"stderr_tail", truncate(result.StderrTail, 512),
		)
	}
	return stdout.String(), result
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func (r *SubprocessRunner) safePath(path string) string {
	if r.cfg.DebugPaths {
		return path
	}
	if sanitized := logging.SanitizePath(path); sanitized != path {
		return sanitized
	}
	return filepath.Base(path)
}

// parseVersion extracts "6.1.1" from "ffmpeg version 6.1.1 Copyright ...".
func parseVersion(out string) string {
	line, _, _ := strings.Cut(out, "\n")
	fields := strings.Fields(line)
	if len(fields) >= 3 && fields[0] == "ffmpeg" && fields[1] == "version" {
		return fields[2]
	}
	return "unknown"
}

// parseEncoders reads the table printed by `ffmpeg -encoders`. Entries follow a
// " ------" separator line and look like " V....D libx264   H.264 / AVC ...".
func parseEncoders(out string) map[string]bool {
	encoders := make(map[string]bool)
	inTable := false

	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "------") {
			inTable = true
			continue
		}
		if !inTable {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		encoders[fields[1]] = true
	}
	return encoders
}

// resolveFFmpeg finds a usable ffmpeg binary.
func resolveFFmpeg(preferred string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured ffmpeg %q not found", preferred)
	}
	if p, err := exec.LookPath("ffmpeg"); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("no ffmpeg binary found on PATH")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		tail := lw.w.Bytes()[lw.w.Len()-lw.limit:]
		kept := make([]byte, len(tail))
		copy(kept, tail)
		lw.w.Reset()
		lw.w.Write(kept)
	}
	return n, nil
}
