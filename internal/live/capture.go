package live

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/voicedeck/voicedeck/internal/observe"
	"github.com/voicedeck/voicedeck/pkg/audio"
	"github.com/voicedeck/voicedeck/pkg/audio/pcm"
	"github.com/voicedeck/voicedeck/pkg/provider/realtime"
)

// FrameSize is the number of 16 kHz samples per outbound frame (256 ms).
const FrameSize = 4096

// Capture forwards microphone frames to an open channel. Each frame is
// encoded and sent synchronously on the stream's delivery goroutine, so
// frames reach the channel in capture order. The first failed send stops
// forwarding and is reported once through [Capture.OnSendError].
type Capture struct {
	stream  audio.CaptureStream
	ch      realtime.Channel
	metrics *observe.Metrics
	log     *slog.Logger

	onSendErr func(error)
	failed    atomic.Bool

	stopOnce sync.Once
	closeErr error
}

// NewCapture binds an acquired stream to ch. Nothing flows until Start.
func NewCapture(stream audio.CaptureStream, ch realtime.Channel, m *observe.Metrics, log *slog.Logger) *Capture {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Capture{stream: stream, ch: ch, metrics: m, log: log}
}

// OnSendError sets the callback for the first failed send. It runs on the
// delivery goroutine and must not wait for [Capture.Stop]. Call it before
// Start.
func (c *Capture) OnSendError(fn func(error)) {
	c.onSendErr = fn
}

// Start begins frame delivery.
func (c *Capture) Start() error {
	if err := c.stream.Start(c.onFrame); err != nil {
		return fmt.Errorf("live: start capture: %w", err)
	}
	return nil
}

func (c *Capture) onFrame(samples []float32) {
	if c.failed.Load() {
		return
	}
	if err := c.ch.SendAudio(pcm.Encode(samples)); err != nil {
		if c.failed.CompareAndSwap(false, true) {
			c.log.Warn("live: send frame failed, capture halted", "err", err)
			if c.onSendErr != nil {
				c.onSendErr(err)
			}
		}
		return
	}
	c.metrics.FramesSent.Add(context.Background(), 1)
}

// Stop disconnects frame processing and releases the device. It is
// idempotent and returns the release error of the first call.
func (c *Capture) Stop() error {
	c.stopOnce.Do(func() {
		c.stream.Stop()
		c.closeErr = c.stream.Close()
	})
	return c.closeErr
}
