// Package ffmpeg implements the [audio] device interfaces on top of ffmpeg and
// ffplay child processes.
//
// Microphone capture runs ffmpeg against the platform's capture API
// (PulseAudio on Linux, AVFoundation on macOS) and reads raw s16le PCM from
// its stdout. Playback pipes s16le PCM into ffplay. The cue player decodes a
// looping asset with ffmpeg, applies gain in-process and plays the result
// through its own ffplay instance.
//
// The backend requires ffmpeg and ffplay on PATH (or at configured paths);
// their absence surfaces as [audio.ErrDeviceUnavailable].
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/voicedeck/voicedeck/pkg/audio"
	"github.com/voicedeck/voicedeck/pkg/audio/timeline"
)

// Compile-time interface assertions.
var (
	_ audio.Microphone = (*Backend)(nil)
	_ audio.Speaker    = (*Backend)(nil)
)

// Config holds the backend settings.
type Config struct {
	// FFmpegPath is the ffmpeg binary. Defaults to "ffmpeg".
	FFmpegPath string

	// FFplayPath is the ffplay binary. Defaults to "ffplay".
	FFplayPath string

	// InputDevice selects the capture device. Defaults to "default" on Linux
	// and ":0" on macOS.
	InputDevice string
}

// Backend opens capture streams, playback timelines and cue players.
type Backend struct {
	cfg  Config
	goos string

	// command builds child processes; replaced in tests.
	command func(name string, args ...string) *exec.Cmd
}

// New returns a Backend for the current platform.
func New(cfg Config) *Backend {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFplayPath == "" {
		cfg.FFplayPath = "ffplay"
	}
	return &Backend{cfg: cfg, goos: runtime.GOOS, command: exec.Command}
}

// Available reports whether both binaries can be found.
func (b *Backend) Available() error {
	if _, err := exec.LookPath(b.cfg.FFmpegPath); err != nil {
		return fmt.Errorf("%w: ffmpeg not found: %w", audio.ErrDeviceUnavailable, err)
	}
	if _, err := exec.LookPath(b.cfg.FFplayPath); err != nil {
		return fmt.Errorf("%w: ffplay not found: %w", audio.ErrDeviceUnavailable, err)
	}
	return nil
}

// OpenOutput implements [audio.Speaker]. The returned timeline renders into a new
// ffplay process.
func (b *Backend) OpenOutput(ctx context.Context, format audio.Format) (audio.OutputContext, error) {
	s, err := b.openSink(format)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return timeline.New(s, format), nil
}

// micArgs returns the ffmpeg arguments that capture the default input device
// as raw s16le PCM on stdout.
func micArgs(goos, device string, format audio.Format) ([]string, error) {
	var input []string
	switch goos {
	case "darwin":
		if device == "" {
			device = ":0"
		}
		input = []string{"-f", "avfoundation", "-i", device}
	case "linux":
		if device == "" {
			device = "default"
		}
		input = []string{"-f", "pulse", "-i", device}
	default:
		return nil, fmt.Errorf("%w: capture is not implemented for %s; supported platforms: darwin, linux",
			audio.ErrDeviceUnavailable, goos)
	}
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, input...)
	args = append(args, pcmOut(format)...)
	return append(args, "-"), nil
}

// playArgs returns the ffplay arguments that play raw s16le PCM from stdin.
func playArgs(format audio.Format) []string {
	return []string{
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(format.SampleRate),
		"-ac", strconv.Itoa(format.Channels),
		"-i", "pipe:0",
	}
}

// cueArgs returns the ffmpeg arguments that decode asset in a realtime loop,
// starting offset seconds in.
func cueArgs(asset string, offset float64, format audio.Format) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-re", "-stream_loop", "-1"}
	if offset > 0 {
		args = append(args, "-ss", strconv.FormatFloat(offset, 'f', 3, 64))
	}
	args = append(args, "-i", asset)
	args = append(args, pcmOut(format)...)
	return append(args, "-")
}

func pcmOut(format audio.Format) []string {
	return []string{
		"-ac", strconv.Itoa(format.Channels),
		"-ar", strconv.Itoa(format.SampleRate),
		"-f", "s16le",
	}
}

// classify maps a failed capture start to the device error taxonomy using the
// tail of ffmpeg's stderr.
func classify(stderr string, cause error) error {
	msg := strings.TrimSpace(stderr)
	lower := strings.ToLower(msg)
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	for _, marker := range []string{"permission denied", "operation not permitted", "access denied", "not authorized"} {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: %s", audio.ErrPermissionDenied, msg)
		}
	}
	return fmt.Errorf("%w: %s", audio.ErrDeviceUnavailable, msg)
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// kill terminates cmd and reaps it. Errors are ignored: the process is being
// discarded either way.
func kill(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
	_ = cmd.Wait()
}

// isClosedPipe reports whether err is the expected result of writing to a
// process that has gone away.
func isClosedPipe(err error) bool {
	return errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.EOF) ||
		strings.Contains(err.Error(), "broken pipe") || strings.Contains(err.Error(), "file already closed")
}
