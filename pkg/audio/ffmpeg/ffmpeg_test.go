package ffmpeg

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"testing"
	"time"

	"github.com/voicedeck/voicedeck/pkg/audio"
)

// helperCommand re-executes the test binary as a stand-in for ffmpeg/ffplay.
// See TestHelperProcess for the supported modes.
func helperCommand(mode string) func(string, ...string) *exec.Cmd {
	return func(name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.Command(os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "HELPER_MODE="+mode)
		return cmd
	}
}

// TestHelperProcess is not a real test. It is invoked as a child process by
// helperCommand.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	mode := os.Getenv("HELPER_MODE")
	if slices.Contains(os.Args, "pipe:0") {
		// Invoked as ffplay.
		mode = "sink"
	}
	switch mode {
	case "tone":
		// Half-scale constant signal, forever.
		buf := make([]byte, 2048)
		for i := 0; i < len(buf); i += 2 {
			binary.LittleEndian.PutUint16(buf[i:], 16384)
		}
		for {
			if _, err := os.Stdout.Write(buf); err != nil {
				os.Exit(0)
			}
		}
	case "late":
		// A quarter-scale burst, a pause, then a half-scale tone.
		burst := make([]byte, 4096)
		for i := 0; i < len(burst); i += 2 {
			binary.LittleEndian.PutUint16(burst[i:], 8192)
		}
		_, _ = os.Stdout.Write(burst)
		time.Sleep(100 * time.Millisecond)
		buf := make([]byte, 2048)
		for i := 0; i < len(buf); i += 2 {
			binary.LittleEndian.PutUint16(buf[i:], 16384)
		}
		for {
			if _, err := os.Stdout.Write(buf); err != nil {
				os.Exit(0)
			}
		}
	case "denied":
		fmt.Fprintln(os.Stderr, "[pulse @ 0x1] Permission denied")
		os.Exit(1)
	case "nodevice":
		fmt.Fprintln(os.Stderr, "default: No such file or directory")
		os.Exit(1)
	case "sink":
		_, _ = io.Copy(io.Discard, os.Stdin)
	}
	os.Exit(0)
}

func newTestBackend(mode string) *Backend {
	b := New(Config{FFmpegPath: os.Args[0], FFplayPath: os.Args[0]})
	b.goos = "linux"
	b.command = helperCommand(mode)
	return b
}

func TestMicArgs(t *testing.T) {
	t.Parallel()

	linux, err := micArgs("linux", "", audio.CaptureFormat)
	if err != nil {
		t.Fatalf("linux: %v", err)
	}
	want := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "pulse", "-i", "default",
		"-ac", "1", "-ar", "16000", "-f", "s16le", "-",
	}
	if !slices.Equal(linux, want) {
		t.Errorf("linux args = %v, want %v", linux, want)
	}

	darwin, err := micArgs("darwin", "", audio.CaptureFormat)
	if err != nil {
		t.Fatalf("darwin: %v", err)
	}
	if !slices.Contains(darwin, "avfoundation") || !slices.Contains(darwin, ":0") {
		t.Errorf("darwin args = %v, want avfoundation input :0", darwin)
	}

	custom, err := micArgs("linux", "alsa_input.usb", audio.CaptureFormat)
	if err != nil {
		t.Fatalf("custom device: %v", err)
	}
	if !slices.Contains(custom, "alsa_input.usb") {
		t.Errorf("custom device args = %v", custom)
	}

	if _, err := micArgs("plan9", "", audio.CaptureFormat); !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Errorf("unsupported OS: err = %v, want ErrDeviceUnavailable", err)
	}
}

func TestCueArgs_Offset(t *testing.T) {
	t.Parallel()

	args := cueArgs("hold.mp3", 0, audio.PlaybackFormat)
	if slices.Contains(args, "-ss") {
		t.Errorf("zero offset should not seek: %v", args)
	}
	args = cueArgs("hold.mp3", 1.5, audio.PlaybackFormat)
	i := slices.Index(args, "-ss")
	if i < 0 || args[i+1] != "1.500" {
		t.Errorf("offset args = %v, want -ss 1.500", args)
	}
	if j := slices.Index(args, "-i"); j < i {
		t.Errorf("-ss must precede -i for input seeking: %v", args)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		stderr string
		want   error
	}{
		{"[pulse] Permission denied", audio.ErrPermissionDenied},
		{"avfoundation: Operation not permitted", audio.ErrPermissionDenied},
		{"default: No such file or directory", audio.ErrDeviceUnavailable},
		{"", audio.ErrDeviceUnavailable},
	}
	for _, tt := range tests {
		err := classify(tt.stderr, io.EOF)
		if !errors.Is(err, tt.want) {
			t.Errorf("classify(%q) = %v, want %v", tt.stderr, err, tt.want)
		}
	}
}

func TestApplyGain(t *testing.T) {
	t.Parallel()

	b := make([]byte, 4)
	binary.LittleEndian.PutUint16(b[0:], uint16(int16(10000)))
	neg := int16(-10000)
	binary.LittleEndian.PutUint16(b[2:], uint16(neg))
	applyGain(b, 0.3)
	if got := int16(binary.LittleEndian.Uint16(b[0:])); got != 3000 {
		t.Errorf("positive sample = %d, want 3000", got)
	}
	if got := int16(binary.LittleEndian.Uint16(b[2:])); got != -3000 {
		t.Errorf("negative sample = %d, want -3000", got)
	}

	applyGain(b, 0)
	if got := int16(binary.LittleEndian.Uint16(b[0:])); got != 0 {
		t.Errorf("muted sample = %d, want 0", got)
	}
}

func TestFirstChannel(t *testing.T) {
	t.Parallel()

	b := make([]byte, 8)
	binary.LittleEndian.PutUint16(b[0:], 16384)
	binary.LittleEndian.PutUint16(b[2:], 0)
	neg := int16(-16384)
	binary.LittleEndian.PutUint16(b[4:], uint16(neg))
	binary.LittleEndian.PutUint16(b[6:], 0)
	got := firstChannel(b, 2)
	if len(got) != 2 || got[0] != 0.5 || got[1] != -0.5 {
		t.Errorf("firstChannel = %v, want [0.5 -0.5]", got)
	}
}

func TestOpen_DeliversFrames(t *testing.T) {
	t.Parallel()

	b := newTestBackend("tone")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := b.Open(ctx, audio.CaptureFormat, 256)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()

	frames := make(chan []float32, 4)
	if err := stream.Start(func(s []float32) {
		select {
		case frames <- s:
		default:
		}
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case f := <-frames:
		if len(f) != 256 {
			t.Fatalf("frame length = %d, want 256", len(f))
		}
		if f[0] != 0.5 {
			t.Errorf("sample = %v, want 0.5", f[0])
		}
	case <-ctx.Done():
		t.Fatal("no frame delivered")
	}

	if err := stream.Start(func([]float32) {}); err == nil {
		t.Error("second Start should fail")
	}
	if err := stream.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestOpen_DropsAudioBeforeStart(t *testing.T) {
	t.Parallel()

	b := newTestBackend("late")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := b.Open(ctx, audio.CaptureFormat, 256)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()

	// The burst is captured while the session would still be connecting.
	time.Sleep(400 * time.Millisecond)

	frames := make(chan []float32, 1)
	if err := stream.Start(func(s []float32) {
		select {
		case frames <- s:
		default:
		}
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case f := <-frames:
		if f[0] != 0.5 {
			t.Errorf("first delivered sample = %v, want 0.5 (pre-start audio leaked)", f[0])
		}
	case <-ctx.Done():
		t.Fatal("no frame delivered")
	}
}

func TestOpen_PermissionDenied(t *testing.T) {
	t.Parallel()

	b := newTestBackend("denied")
	_, err := b.Open(context.Background(), audio.CaptureFormat, 256)
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
}

func TestOpen_NoDevice(t *testing.T) {
	t.Parallel()

	b := newTestBackend("nodevice")
	_, err := b.Open(context.Background(), audio.CaptureFormat, 256)
	if !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Fatalf("err = %v, want ErrDeviceUnavailable", err)
	}
}

func TestOpen_MissingBinary(t *testing.T) {
	t.Parallel()

	b := New(Config{FFmpegPath: "/nonexistent/ffmpeg-voicedeck"})
	_, err := b.Open(context.Background(), audio.CaptureFormat, 256)
	if !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Fatalf("err = %v, want ErrDeviceUnavailable", err)
	}
	if err := b.Available(); !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Errorf("Available = %v, want ErrDeviceUnavailable", err)
	}
}

func TestSink_WriteAndClose(t *testing.T) {
	t.Parallel()

	b := newTestBackend("sink")
	s, err := b.openSink(audio.PlaybackFormat)
	if err != nil {
		t.Fatalf("openSink: %v", err)
	}
	if _, err := s.Write(make([]byte, 960)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.Write([]byte{0, 0}); !errors.Is(err, os.ErrClosed) {
		t.Errorf("Write after Close: err = %v, want os.ErrClosed", err)
	}
}

func TestCuePlayer_VolumeAndPauseState(t *testing.T) {
	t.Parallel()

	asset := t.TempDir() + "/hold.raw"
	if err := os.WriteFile(asset, make([]byte, 64), 0o600); err != nil {
		t.Fatal(err)
	}
	b := newTestBackend("tone")
	c, err := b.NewCuePlayer(asset)
	if err != nil {
		t.Fatalf("NewCuePlayer: %v", err)
	}
	defer c.Close()

	if !c.Paused() {
		t.Error("new player should be paused")
	}
	if c.Volume() != 1 {
		t.Errorf("initial volume = %v, want 1", c.Volume())
	}
	c.SetVolume(1.5)
	if c.Volume() != 1 {
		t.Errorf("volume not clamped: %v", c.Volume())
	}
	c.SetVolume(0.3)
	if c.Volume() != 0.3 {
		t.Errorf("volume = %v, want 0.3", c.Volume())
	}

	if err := c.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if c.Paused() {
		t.Error("player should be playing after Play")
	}
	c.Pause()
	if !c.Paused() {
		t.Error("player should be paused after Pause")
	}
	c.Rewind()
	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := c.Play(); err == nil {
		t.Error("Play after Close should fail")
	}
}

func TestNewCuePlayer_MissingAsset(t *testing.T) {
	t.Parallel()

	if _, err := newTestBackend("tone").NewCuePlayer("/nonexistent/hold.mp3"); err == nil {
		t.Error("expected error for missing asset")
	}
}
