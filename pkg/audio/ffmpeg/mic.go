package ffmpeg

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/voicedeck/voicedeck/pkg/audio"
)

// stderrTail bounds how much ffmpeg diagnostic output is kept for error
// classification.
const stderrTail = 4096

// Open implements [audio.Microphone]. It starts an ffmpeg capture process and
// waits until the first PCM bytes arrive, so that permission and device
// failures surface here rather than after the session has opened.
func (b *Backend) Open(ctx context.Context, format audio.Format, frameSize int) (audio.CaptureStream, error) {
	if frameSize <= 0 {
		return nil, fmt.Errorf("ffmpeg: frame size must be positive, got %d", frameSize)
	}
	path, err := exec.LookPath(b.cfg.FFmpegPath)
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg not found: %w", audio.ErrDeviceUnavailable, err)
	}
	args, err := micArgs(b.goos, b.cfg.InputDevice, format)
	if err != nil {
		return nil, err
	}

	cmd := b.command(path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: open capture stdout: %w", err)
	}
	stderr := &tailBuffer{limit: stderrTail}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg capture: %w", audio.ErrDeviceUnavailable, err)
	}

	s := &micStream{
		cmd:       cmd,
		r:         bufio.NewReaderSize(stdout, frameSize*2),
		frameSize: frameSize,
		channels:  max(format.Channels, 1),
		done:      make(chan struct{}),
	}

	ready := make(chan error, 1)
	go func() {
		_, err := s.r.Peek(2)
		ready <- err
	}()

	select {
	case err := <-ready:
		if err != nil {
			kill(cmd)
			return nil, classify(stderr.String(), err)
		}
	case <-ctx.Done():
		kill(cmd)
		<-ready
		return nil, ctx.Err()
	}
	// Keep the pipe drained until Start so that audio captured while the
	// session connects is dropped instead of flushed upstream later.
	go s.readLoop()
	return s, nil
}

// micStream is an [audio.CaptureStream] backed by a running ffmpeg process.
type micStream struct {
	cmd       *exec.Cmd
	r         *bufio.Reader
	frameSize int
	channels  int

	mu        sync.Mutex
	started   bool
	onFrame   atomic.Pointer[func([]float32)] // nil until Start
	stopped   atomic.Bool
	closeOnce sync.Once
	done      chan struct{} // closed when the read loop exits
}

// Start implements [audio.CaptureStream].
func (s *micStream) Start(onFrame func(samples []float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("ffmpeg: capture already started")
	}
	if s.stopped.Load() {
		return errors.New("ffmpeg: capture stopped")
	}
	s.started = true
	s.onFrame.Store(&onFrame)
	return nil
}

func (s *micStream) readLoop() {
	defer close(s.done)
	// One frame holds frameSize samples of the first channel; extra channels
	// are read and dropped.
	buf := make([]byte, s.frameSize*s.channels*2)
	for {
		if _, err := io.ReadFull(s.r, buf); err != nil {
			return
		}
		if s.stopped.Load() {
			return
		}
		if fn := s.onFrame.Load(); fn != nil {
			(*fn)(firstChannel(buf, s.channels))
		}
	}
}

// Stop implements [audio.CaptureStream].
func (s *micStream) Stop() {
	s.stopped.Store(true)
}

// Close implements [audio.CaptureStream]. It terminates ffmpeg, which releases
// the capture device.
func (s *micStream) Close() error {
	s.closeOnce.Do(func() {
		s.stopped.Store(true)
		kill(s.cmd)
		<-s.done
	})
	return nil
}

// firstChannel converts interleaved s16le bytes to float samples of channel 0.
func firstChannel(b []byte, channels int) []float32 {
	frames := len(b) / (2 * channels)
	out := make([]float32, frames)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(b[i*channels*2:]))) / 32768
	}
	return out
}
