package live

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voicedeck/voicedeck/internal/observe"
	"github.com/voicedeck/voicedeck/pkg/audio"
	"github.com/voicedeck/voicedeck/pkg/audio/pcm"
)

// Scheduler places inbound speech on an output timeline back to back. Each
// chunk starts where the previous one ends, or immediately when the timeline
// has already passed that point, so playback never overlaps and only gaps
// when the network falls behind.
//
// All methods are safe for concurrent use.
type Scheduler struct {
	out     audio.OutputContext
	format  audio.Format
	holding func() bool
	metrics *observe.Metrics
	log     *slog.Logger

	mu        sync.Mutex
	nextFrame int64 // output frame where the next chunk may start
	active    map[uint64]audio.Scheduled
	seq       uint64
}

// NewScheduler returns a Scheduler rendering to out. holding, if non-nil,
// reports whether the hold cue is playing; chunks arriving meanwhile are
// dropped.
func NewScheduler(out audio.OutputContext, holding func() bool, m *observe.Metrics, log *slog.Logger) *Scheduler {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		out:     out,
		format:  audio.PlaybackFormat,
		holding: holding,
		metrics: m,
		log:     log,
		active:  make(map[uint64]audio.Scheduled),
	}
}

// Enqueue decodes one base64 PCM chunk and schedules it. A chunk that cannot
// be decoded is dropped and the error, wrapping [ErrDecode], is returned;
// the session is unaffected.
func (s *Scheduler) Enqueue(payload string) error {
	ctx := context.Background()
	s.metrics.FramesReceived.Add(ctx, 1)

	if s.holding != nil && s.holding() {
		s.metrics.RecordFrameDropped(ctx, "hold")
		return nil
	}

	buf, err := s.decode(payload)
	if err != nil {
		s.metrics.RecordFrameDropped(ctx, "decode")
		s.log.Warn("live: dropping undecodable audio chunk", "err", err, "bytes", len(payload))
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		s.metrics.RecordFrameDropped(ctx, "closed")
		return nil
	}

	start := max(s.nextFrame, s.format.Frames(s.out.CurrentTime()))
	s.seq++
	id := s.seq
	h := s.out.Schedule(buf, s.format.Offset(start), func() { s.ended(id) })
	s.active[id] = h
	s.nextFrame = start + int64(buf.Frames())
	return nil
}

func (s *Scheduler) decode(payload string) (*pcm.Buffer, error) {
	raw, err := pcm.DecodeBase64(payload)
	if err != nil {
		return nil, err
	}
	buf, err := pcm.DecodeAudioData(raw, s.format.SampleRate, s.format.Channels)
	if err != nil {
		return nil, fmt.Errorf("live: decode audio chunk: %w", err)
	}
	return buf, nil
}

func (s *Scheduler) ended(id uint64) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}

// Reset stops every scheduled chunk, forgets them and rewinds the next start
// time to zero.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	active := s.active
	if active != nil {
		s.active = make(map[uint64]audio.Scheduled)
	}
	s.nextFrame = 0
	s.mu.Unlock()

	for _, h := range active {
		h.Stop()
	}
}

// Close resets the scheduler and rejects later chunks.
func (s *Scheduler) Close() {
	s.mu.Lock()
	active := s.active
	s.active = nil
	s.nextFrame = 0
	s.mu.Unlock()

	for _, h := range active {
		h.Stop()
	}
}

// Active returns the number of chunks scheduled but not yet finished.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextStartTime returns the timeline position where the next chunk starts
// at the earliest.
func (s *Scheduler) NextStartTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format.Offset(s.nextFrame)
}
