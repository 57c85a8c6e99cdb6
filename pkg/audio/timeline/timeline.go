// Package timeline implements [audio.OutputContext] in software: scheduled
// buffers are mixed into fixed quanta and written as 16-bit little-endian PCM
// to an output sink such as an ffplay process.
//
// The context clock is the amount of audio rendered so far. A background
// render goroutine paces rendering against the wall clock; tests can instead
// construct the context with [WithManualRender] and drive it through
// [Context.Render].
package timeline

import (
	"cmp"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/voicedeck/voicedeck/pkg/audio"
	"github.com/voicedeck/voicedeck/pkg/audio/pcm"
)

// Compile-time interface assertion.
var _ audio.OutputContext = (*Context)(nil)

// DefaultQuantum is the render block length when no explicit quantum is
// configured via [WithQuantum].
const DefaultQuantum = 20 * time.Millisecond

// ErrClosed is returned by [Context.Render] after [Context.Close].
var ErrClosed = errors.New("timeline: context closed")

// Option configures a [Context] during construction.
type Option func(*Context)

// WithQuantum sets how often the render goroutine wakes up.
func WithQuantum(d time.Duration) Option {
	return func(c *Context) {
		if d > 0 {
			c.quantum = d
		}
	}
}

// WithManualRender disables the background render goroutine. The clock only
// advances when the caller invokes [Context.Render].
func WithManualRender() Option {
	return func(c *Context) {
		c.manual = true
	}
}

// Context is a software playback timeline.
//
// All exported methods are safe for concurrent use.
type Context struct {
	sink    io.WriteCloser
	format  audio.Format
	quantum time.Duration
	manual  bool

	renderMu sync.Mutex // serialises Render; held across the sink write

	mu       sync.Mutex
	rendered int64 // frames rendered since creation
	seq      uint64
	sources  map[uint64]*source
	closed   bool

	warnOnce sync.Once
	done     chan struct{} // closed by Close to stop the render goroutine
	stopped  chan struct{} // closed when the render goroutine exits
}

// New creates a timeline that writes mixed PCM in format to sink. Unless
// [WithManualRender] is given, a render goroutine starts immediately.
//
// Call [Context.Close] to stop rendering and close sink.
func New(sink io.WriteCloser, format audio.Format, opts ...Option) *Context {
	if format.Channels < 1 {
		format.Channels = 1
	}
	c := &Context{
		sink:    sink,
		format:  format,
		quantum: DefaultQuantum,
		sources: make(map[uint64]*source),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.manual {
		close(c.stopped)
	} else {
		go c.loop()
	}
	return c
}

// CurrentTime implements [audio.OutputContext].
func (c *Context) CurrentTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.format.Offset(c.rendered)
}

// Schedule implements [audio.OutputContext]. Mono buffers are copied to every
// output channel.
func (c *Context) Schedule(buf *pcm.Buffer, at time.Duration, onEnded func()) audio.Scheduled {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &source{ctx: c, buf: buf, onEnded: onEnded}
	if c.closed {
		return s
	}
	start := c.format.Frames(at)
	if start < c.rendered {
		start = c.rendered
	}
	c.seq++
	s.id = c.seq
	s.start = start
	c.sources[s.id] = s
	return s
}

// Pending returns the number of buffers that have not finished playing.
func (c *Context) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sources)
}

// Render mixes the next frames of the timeline, writes them to the sink and
// fires end callbacks of buffers that finished inside the block, in start
// order.
func (c *Context) Render(frames int) error {
	if frames <= 0 {
		return nil
	}
	c.renderMu.Lock()
	defer c.renderMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	channels := c.format.Channels
	from := c.rendered
	to := from + int64(frames)
	mix := make([]float32, frames*channels)

	var finished []*source
	for id, s := range c.sources {
		if s.start >= to {
			continue
		}
		end := s.start + int64(s.buf.Frames())
		lo, hi := max(s.start, from), min(end, to)
		for f := lo; f < hi; f++ {
			for ch := range channels {
				src := min(ch, s.buf.Channels()-1)
				mix[int(f-from)*channels+ch] += s.buf.Channel(src)[f-s.start]
			}
		}
		if end <= to {
			finished = append(finished, s)
			delete(c.sources, id)
		}
	}
	c.rendered = to
	c.mu.Unlock()

	_, err := c.sink.Write(pcm.Bytes(pcm.Quantize(mix)))

	slices.SortFunc(finished, func(a, b *source) int {
		return cmp.Or(cmp.Compare(a.start, b.start), cmp.Compare(a.id, b.id))
	})
	for _, s := range finished {
		if s.onEnded != nil {
			s.onEnded()
		}
	}
	return err
}

// Close stops every scheduled buffer, stops the render goroutine and closes
// the sink. Close is idempotent; subsequent calls return nil.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	clear(c.sources)
	close(c.done)
	c.mu.Unlock()

	err := c.sink.Close()
	<-c.stopped
	return err
}

// loop paces rendering against the wall clock so that CurrentTime tracks
// real playback.
func (c *Context) loop() {
	defer close(c.stopped)

	ticker := time.NewTicker(c.quantum)
	defer ticker.Stop()
	begin := time.Now()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		target := c.format.Frames(time.Since(begin))
		c.mu.Lock()
		n := target - c.rendered
		c.mu.Unlock()
		if n <= 0 {
			continue
		}
		if err := c.Render(int(n)); err != nil {
			if errors.Is(err, ErrClosed) {
				return
			}
			c.warnOnce.Do(func() {
				slog.Warn("timeline: output sink write failed, audio is being dropped", "err", err)
			})
		}
	}
}

// source is one buffer placed on the timeline.
type source struct {
	ctx     *Context
	id      uint64
	buf     *pcm.Buffer
	start   int64 // first frame on the timeline
	onEnded func()
}

// Stop implements [audio.Scheduled].
func (s *source) Stop() {
	if s.id == 0 {
		return
	}
	s.ctx.mu.Lock()
	delete(s.ctx.sources, s.id)
	s.ctx.mu.Unlock()
}
