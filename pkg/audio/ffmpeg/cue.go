package ffmpeg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/voicedeck/voicedeck/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.CuePlayer = (*CuePlayer)(nil)

// cueChunk is the number of bytes pumped from the decoder per write.
const cueChunk = 4096

// CuePlayer loops an audio asset through ffmpeg and ffplay with gain applied
// in-process, so volume changes take effect within one chunk.
//
// A new player is paused at full volume.
type CuePlayer struct {
	b      *Backend
	asset  string
	format audio.Format

	volume atomic.Uint64 // math.Float64bits
	muted  atomic.Bool
	offset atomic.Int64 // bytes played since the last rewind

	mu      sync.Mutex
	out     *sink
	dec     *exec.Cmd
	pumped  chan struct{} // closed when the current pump exits
	closed  bool
	warnErr sync.Once
}

// NewCuePlayer returns a paused player for asset. The asset is not opened
// until the first Play.
func (b *Backend) NewCuePlayer(asset string) (*CuePlayer, error) {
	if _, err := os.Stat(asset); err != nil {
		return nil, fmt.Errorf("ffmpeg: cue asset: %w", err)
	}
	c := &CuePlayer{b: b, asset: asset, format: audio.PlaybackFormat}
	c.volume.Store(math.Float64bits(1))
	return c, nil
}

// Play implements [audio.CuePlayer].
func (c *CuePlayer) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("ffmpeg: cue player closed")
	}
	if c.dec != nil {
		return nil
	}
	if c.out == nil {
		out, err := c.b.openSink(c.format)
		if err != nil {
			return err
		}
		c.out = out
	}
	return c.startLocked()
}

func (c *CuePlayer) startLocked() error {
	path, err := exec.LookPath(c.b.cfg.FFmpegPath)
	if err != nil {
		return fmt.Errorf("%w: ffmpeg not found: %w", audio.ErrDeviceUnavailable, err)
	}
	bytesPerSecond := float64(c.format.SampleRate * c.format.Channels * 2)
	offset := float64(c.offset.Load()) / bytesPerSecond

	cmd := c.b.command(path, cueArgs(c.asset, offset, c.format)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg: open cue decoder stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg: start cue decoder: %w", err)
	}
	c.dec = cmd
	c.pumped = make(chan struct{})
	go c.pump(stdout, c.out, c.pumped)
	return nil
}

func (c *CuePlayer) pump(r io.Reader, out *sink, done chan struct{}) {
	defer close(done)
	buf := make([]byte, cueChunk)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 1 {
			chunk := buf[:n&^1]
			gain := math.Float64frombits(c.volume.Load())
			if c.muted.Load() {
				gain = 0
			}
			applyGain(chunk, gain)
			if _, werr := out.Write(chunk); werr != nil {
				if !isClosedPipe(werr) && !errors.Is(werr, os.ErrClosed) {
					c.warnErr.Do(func() {
						slog.Warn("cue player: output write failed", "err", werr)
					})
				}
				return
			}
			c.offset.Add(int64(len(chunk)))
		}
		if err != nil {
			return
		}
	}
}

func (c *CuePlayer) stopLocked() {
	if c.dec == nil {
		return
	}
	kill(c.dec)
	<-c.pumped
	c.dec = nil
	c.pumped = nil
}

// Pause implements [audio.CuePlayer].
func (c *CuePlayer) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Rewind implements [audio.CuePlayer]. A playing cue restarts from the top.
func (c *CuePlayer) Rewind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset.Store(0)
	if c.dec == nil {
		return
	}
	c.stopLocked()
	if err := c.startLocked(); err != nil {
		slog.Warn("cue player: restart after rewind failed", "err", err)
	}
}

// SetVolume implements [audio.CuePlayer].
func (c *CuePlayer) SetVolume(v float64) {
	c.volume.Store(math.Float64bits(audio.ClampVolume(v)))
}

// Volume implements [audio.CuePlayer].
func (c *CuePlayer) Volume() float64 {
	return math.Float64frombits(c.volume.Load())
}

// SetMuted implements [audio.CuePlayer].
func (c *CuePlayer) SetMuted(muted bool) {
	c.muted.Store(muted)
}

// Paused implements [audio.CuePlayer].
func (c *CuePlayer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dec == nil
}

// Close implements [audio.CuePlayer].
func (c *CuePlayer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.stopLocked()
	if c.out != nil {
		return c.out.Close()
	}
	return nil
}

// applyGain scales s16le samples in place, clamping to the int16 range.
func applyGain(b []byte, gain float64) {
	if gain == 1 {
		return
	}
	for i := 0; i+1 < len(b); i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(b[i:]))) * gain
		s = math.Max(math.MinInt16, math.Min(math.MaxInt16, math.Round(s)))
		binary.LittleEndian.PutUint16(b[i:], uint16(int16(s)))
	}
}
