package ffmpeg

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/voicedeck/voicedeck/pkg/audio"
)

// sink pipes raw PCM into an ffplay process.
type sink struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	closed    atomic.Bool
	closeOnce sync.Once
}

func (b *Backend) openSink(format audio.Format) (*sink, error) {
	path, err := exec.LookPath(b.cfg.FFplayPath)
	if err != nil {
		return nil, fmt.Errorf("%w: ffplay not found: %w", audio.ErrDeviceUnavailable, err)
	}
	cmd := b.command(path, playArgs(format)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: open ffplay stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffplay: %w", audio.ErrDeviceUnavailable, err)
	}
	return &sink{cmd: cmd, stdin: stdin}, nil
}

// Write sends PCM bytes to ffplay. It returns [os.ErrClosed] after Close.
func (s *sink) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, os.ErrClosed
	}
	n, err := s.stdin.Write(p)
	if err != nil && s.closed.Load() {
		return n, os.ErrClosed
	}
	return n, err
}

// Close stops ffplay immediately, discarding buffered audio. Close is
// idempotent.
func (s *sink) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		_ = s.stdin.Close()
		kill(s.cmd)
	})
	return nil
}
