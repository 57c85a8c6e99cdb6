// Package mock provides in-memory implementations of the [audio.Microphone],
// [audio.CaptureStream], [audio.Speaker], [audio.OutputContext] and
// [audio.CuePlayer] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	stream := &mock.CaptureStream{}
//	mic := &mock.Microphone{Stream: stream}
//	got, err := mic.Open(ctx, audio.CaptureFormat, 4096)
//	stream.Emit(make([]float32, 4096)) // drives the registered frame handler
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/voicedeck/voicedeck/pkg/audio"
	"github.com/voicedeck/voicedeck/pkg/audio/pcm"
)

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock implementation of [audio.Microphone].
type Microphone struct {
	mu sync.Mutex

	// Stream is returned by [Microphone.Open]. A fresh [CaptureStream] is
	// created when nil.
	Stream *CaptureStream

	// OpenErr, when non-nil, is returned by [Microphone.Open].
	OpenErr error

	// Block, when non-nil, makes Open wait until the channel is closed or the
	// context is cancelled.
	Block chan struct{}

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// LastFormat and LastFrameSize record the arguments of the last Open.
	LastFormat    audio.Format
	LastFrameSize int
}

// Open implements [audio.Microphone].
func (m *Microphone) Open(ctx context.Context, format audio.Format, frameSize int) (audio.CaptureStream, error) {
	m.mu.Lock()
	m.CallCountOpen++
	m.LastFormat = format
	m.LastFrameSize = frameSize
	block := m.Block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	if m.Stream == nil {
		m.Stream = &CaptureStream{}
	}
	m.Stream.acquire()
	return m.Stream, nil
}

// Opens returns how many times Open was called.
func (m *Microphone) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCountOpen
}

// ─── CaptureStream ────────────────────────────────────────────────────────────

// CaptureStream is a mock implementation of [audio.CaptureStream]. Tests push
// frames through [CaptureStream.Emit].
type CaptureStream struct {
	mu      sync.Mutex
	handler func([]float32)
	tracks  int
	stopped bool

	// delivering tracks Emit calls inside the handler; Close waits for them
	// the way a device waits for its delivery goroutine.
	delivering sync.WaitGroup

	// StartErr, when non-nil, is returned by [CaptureStream.Start].
	StartErr error

	// CallCountStart, CallCountStop and CallCountClose record method calls.
	CallCountStart int
	CallCountStop  int
	CallCountClose int
}

func (s *CaptureStream) acquire() {
	s.tracks = 1
	s.stopped = false
	s.handler = nil
}

// Start implements [audio.CaptureStream].
func (s *CaptureStream) Start(onFrame func(samples []float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartErr != nil {
		return s.StartErr
	}
	s.handler = onFrame
	return nil
}

// Stop implements [audio.CaptureStream].
func (s *CaptureStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	s.stopped = true
}

// Close implements [audio.CaptureStream].
func (s *CaptureStream) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	s.stopped = true
	s.tracks = 0
	s.mu.Unlock()
	s.delivering.Wait()
	return nil
}

// Emit delivers a frame to the registered handler. It reports whether the
// frame was delivered; frames are discarded after Stop or Close.
func (s *CaptureStream) Emit(samples []float32) bool {
	s.mu.Lock()
	h := s.handler
	live := !s.stopped && s.tracks > 0
	if h == nil || !live {
		s.mu.Unlock()
		return false
	}
	s.delivering.Add(1)
	s.mu.Unlock()
	defer s.delivering.Done()
	h(samples)
	return true
}

// ActiveTracks returns the number of live device tracks (0 or 1).
func (s *CaptureStream) ActiveTracks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracks
}

// Stopped reports whether Stop or Close has been called since the last Open.
func (s *CaptureStream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// ─── Speaker ──────────────────────────────────────────────────────────────────

// Speaker is a mock implementation of [audio.Speaker].
type Speaker struct {
	mu sync.Mutex

	// Output is returned by [Speaker.OpenOutput]. A fresh [OutputContext] is
	// created for every call when nil.
	Output *OutputContext

	// OpenErr, when non-nil, is returned by [Speaker.OpenOutput].
	OpenErr error

	// Opened records every context handed out, in order.
	Opened []*OutputContext
}

// OpenOutput implements [audio.Speaker].
func (s *Speaker) OpenOutput(_ context.Context, _ audio.Format) (audio.OutputContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	out := s.Output
	if out == nil {
		out = &OutputContext{}
	}
	s.Opened = append(s.Opened, out)
	return out, nil
}

// Last returns the most recently opened context, or nil.
func (s *Speaker) Last() *OutputContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Opened) == 0 {
		return nil
	}
	return s.Opened[len(s.Opened)-1]
}

// ─── OutputContext ────────────────────────────────────────────────────────────

// ScheduleCall records one [OutputContext.Schedule] invocation.
type ScheduleCall struct {
	Buffer  *pcm.Buffer
	At      time.Duration
	OnEnded func()
	handle  *Handle
}

// Handle is the [audio.Scheduled] returned by [OutputContext.Schedule].
type Handle struct {
	mu      sync.Mutex
	stopped bool
}

// Stop implements [audio.Scheduled].
func (h *Handle) Stop() {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
}

// Stopped reports whether Stop was called.
func (h *Handle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// OutputContext is a mock implementation of [audio.OutputContext] with a
// manually controlled clock.
type OutputContext struct {
	mu     sync.Mutex
	now    time.Duration
	calls  []ScheduleCall
	closed int

	// CloseGate, when non-nil, makes Close wait until it is closed.
	CloseGate chan struct{}
}

// SetTime sets the value returned by CurrentTime.
func (o *OutputContext) SetTime(d time.Duration) {
	o.mu.Lock()
	o.now = d
	o.mu.Unlock()
}

// CurrentTime implements [audio.OutputContext].
func (o *OutputContext) CurrentTime() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// Schedule implements [audio.OutputContext].
func (o *OutputContext) Schedule(buf *pcm.Buffer, at time.Duration, onEnded func()) audio.Scheduled {
	o.mu.Lock()
	defer o.mu.Unlock()
	h := &Handle{}
	o.calls = append(o.calls, ScheduleCall{Buffer: buf, At: at, OnEnded: onEnded, handle: h})
	return h
}

// Close implements [audio.OutputContext].
func (o *OutputContext) Close() error {
	o.mu.Lock()
	o.closed++
	gate := o.CloseGate
	o.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return nil
}

// Calls returns a copy of every Schedule invocation so far.
func (o *OutputContext) Calls() []ScheduleCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]ScheduleCall(nil), o.calls...)
}

// Handle returns the handle of the i-th Schedule call.
func (o *OutputContext) Handle(i int) *Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[i].handle
}

// Finish fires the end callback of the i-th Schedule call, as if the buffer
// had played out.
func (o *OutputContext) Finish(i int) {
	o.mu.Lock()
	fn := o.calls[i].OnEnded
	o.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Closed returns how many times Close was called.
func (o *OutputContext) Closed() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// ─── CuePlayer ────────────────────────────────────────────────────────────────

// CuePlayer is a mock implementation of [audio.CuePlayer]. It starts paused at
// full volume, like a freshly loaded media element.
type CuePlayer struct {
	mu      sync.Mutex
	playing bool
	volume  float64
	muted   bool
	init    bool

	// PlayErr, when non-nil, is returned by [CuePlayer.Play].
	PlayErr error

	// Call counters.
	CallCountPlay   int
	CallCountPause  int
	CallCountRewind int
	CallCountClose  int

	// Volumes records every value passed to SetVolume after clamping.
	Volumes []float64

	// MutedPlays counts Play calls made while muted.
	MutedPlays int
}

func (c *CuePlayer) lazyInit() {
	if !c.init {
		c.init = true
		c.volume = 1
	}
}

// Play implements [audio.CuePlayer].
func (c *CuePlayer) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lazyInit()
	c.CallCountPlay++
	if c.muted {
		c.MutedPlays++
	}
	if c.PlayErr != nil {
		return c.PlayErr
	}
	c.playing = true
	return nil
}

// Pause implements [audio.CuePlayer].
func (c *CuePlayer) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountPause++
	c.playing = false
}

// Rewind implements [audio.CuePlayer].
func (c *CuePlayer) Rewind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountRewind++
}

// SetVolume implements [audio.CuePlayer].
func (c *CuePlayer) SetVolume(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lazyInit()
	c.volume = audio.ClampVolume(v)
	c.Volumes = append(c.Volumes, c.volume)
}

// Volume implements [audio.CuePlayer].
func (c *CuePlayer) Volume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lazyInit()
	return c.volume
}

// SetMuted implements [audio.CuePlayer].
func (c *CuePlayer) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = muted
}

// Muted reports the mute state.
func (c *CuePlayer) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// Paused implements [audio.CuePlayer].
func (c *CuePlayer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.playing
}

// Close implements [audio.CuePlayer].
func (c *CuePlayer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	c.playing = false
	return nil
}

// Snapshot returns a copy of the recorded volumes and counters under lock.
func (c *CuePlayer) Snapshot() (volumes []float64, plays, pauses, rewinds int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]float64(nil), c.Volumes...), c.CallCountPlay, c.CallCountPause, c.CallCountRewind
}
