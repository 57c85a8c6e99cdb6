package live

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/voicedeck/voicedeck/internal/observe"
	"github.com/voicedeck/voicedeck/pkg/audio"
)

// HoldConfig tunes the hold cue.
type HoldConfig struct {
	// Volume is the cue gain once faded in.
	Volume float64

	// MinDuration and MaxDuration bound the uniformly random hold time.
	MinDuration time.Duration
	MaxDuration time.Duration

	FadeIn    time.Duration
	FadeOut   time.Duration
	FadeSteps int
}

// DefaultHoldConfig returns the stock hold cue settings.
func DefaultHoldConfig() HoldConfig {
	return HoldConfig{
		Volume:      0.3,
		MinDuration: 8 * time.Second,
		MaxDuration: 15 * time.Second,
		FadeIn:      400 * time.Millisecond,
		FadeOut:     250 * time.Millisecond,
		FadeSteps:   20,
	}
}

func (c HoldConfig) withDefaults() HoldConfig {
	d := DefaultHoldConfig()
	if c.Volume <= 0 {
		c.Volume = d.Volume
	}
	if c.MinDuration <= 0 {
		c.MinDuration = d.MinDuration
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = max(d.MaxDuration, c.MinDuration)
	}
	if c.MaxDuration < c.MinDuration {
		c.MaxDuration = c.MinDuration
	}
	if c.FadeIn <= 0 {
		c.FadeIn = d.FadeIn
	}
	if c.FadeOut <= 0 {
		c.FadeOut = d.FadeOut
	}
	if c.FadeSteps <= 0 {
		c.FadeSteps = d.FadeSteps
	}
	c.Volume = audio.ClampVolume(c.Volume)
	return c
}

// HoldController overlays a looping cue while the agent looks something up.
//
// One hold cycle runs at a time: fade in, wait a random duration, fade out,
// pause and rewind. The controller owns the pending wait timer and the
// in-flight fade; starting a fade cancels the previous one and Reset cancels
// both. The cue player itself is shared and outlives sessions.
type HoldController struct {
	cue      audio.CuePlayer
	cfg      HoldConfig
	randN    func(n int64) int64
	metrics  *observe.Metrics
	log      *slog.Logger
	onChange func(holding bool)

	primeOnce sync.Once

	mu       sync.Mutex
	holding  bool
	gen      uint64
	wait     *time.Timer
	fadeStop chan struct{}
}

// HoldOption configures a HoldController.
type HoldOption func(*HoldController)

// WithHoldRand replaces the random source used to pick the hold duration.
// fn must return a value in [0, n).
func WithHoldRand(fn func(n int64) int64) HoldOption {
	return func(h *HoldController) { h.randN = fn }
}

// WithHoldChange registers a callback for holding state changes. It runs
// outside the controller's lock.
func WithHoldChange(fn func(holding bool)) HoldOption {
	return func(h *HoldController) { h.onChange = fn }
}

// WithHoldMetrics sets the metrics sink.
func WithHoldMetrics(m *observe.Metrics) HoldOption {
	return func(h *HoldController) { h.metrics = m }
}

// NewHoldController presets cue to the configured volume.
func NewHoldController(cue audio.CuePlayer, cfg HoldConfig, opts ...HoldOption) *HoldController {
	h := &HoldController{
		cue:   cue,
		cfg:   cfg.withDefaults(),
		randN: rand.Int64N,
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	cue.SetVolume(h.cfg.Volume)
	return h
}

// Prime unlocks playback on the first user interaction with a muted play
// and pause. Only the first call has an effect; it reports whether this call
// primed the cue.
func (h *HoldController) Prime() bool {
	primed := false
	h.primeOnce.Do(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.holding || !h.cue.Paused() {
			return
		}
		h.cue.SetMuted(true)
		if err := h.cue.Play(); err != nil {
			h.log.Debug("live: hold cue priming play failed", "err", err)
		}
		h.cue.Pause()
		h.cue.Rewind()
		h.cue.SetMuted(false)
		primed = true
	})
	return primed
}

// Holding reports whether a hold cycle is running.
func (h *HoldController) Holding() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.holding
}

// EnterHold starts a hold cycle and reports whether it did. It is a no-op
// while a cycle is already running. It returns immediately; the cycle runs
// on timers.
func (h *HoldController) EnterHold() bool {
	h.mu.Lock()
	if h.holding {
		h.mu.Unlock()
		return false
	}
	h.holding = true
	h.gen++
	gen := h.gen

	h.cancelFadeLocked()
	h.cue.SetVolume(0)
	if err := h.cue.Play(); err != nil {
		h.log.Warn("live: hold cue play failed", "err", err)
	}
	h.startFadeLocked(h.cfg.Volume, h.cfg.FadeIn, nil)

	wait := h.cfg.MinDuration
	if span := int64(h.cfg.MaxDuration - h.cfg.MinDuration); span > 0 {
		wait += time.Duration(h.randN(span + 1))
	}
	h.wait = time.AfterFunc(wait, func() { h.release(gen) })
	h.mu.Unlock()

	h.metrics.HoldCycles.Add(context.Background(), 1)
	h.log.Debug("live: hold cue started", "duration", wait)
	h.notify(true)
	return true
}

// release fades the cue out at the end of cycle gen.
func (h *HoldController) release(gen uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if gen != h.gen || !h.holding {
		return
	}
	h.wait = nil
	h.startFadeLocked(0, h.cfg.FadeOut, func() { h.finish(gen) })
}

// finish parks the cue once the fade-out of cycle gen completed.
func (h *HoldController) finish(gen uint64) {
	h.mu.Lock()
	if gen != h.gen || !h.holding {
		h.mu.Unlock()
		return
	}
	h.cue.Pause()
	h.cue.Rewind()
	h.holding = false
	h.mu.Unlock()
	h.notify(false)
}

// Reset aborts any running cycle: timers and fades are cancelled and the cue
// is paused and rewound.
func (h *HoldController) Reset() {
	h.mu.Lock()
	h.gen++
	if h.wait != nil {
		h.wait.Stop()
		h.wait = nil
	}
	h.cancelFadeLocked()
	h.cue.Pause()
	h.cue.Rewind()
	was := h.holding
	h.holding = false
	h.mu.Unlock()

	if was {
		h.notify(false)
	}
}

// startFadeLocked ramps the cue volume linearly to target in FadeSteps steps
// over d, then calls then. Any fade in flight is cancelled first.
func (h *HoldController) startFadeLocked(target float64, d time.Duration, then func()) {
	h.cancelFadeLocked()
	stop := make(chan struct{})
	h.fadeStop = stop

	from := h.cue.Volume()
	steps := h.cfg.FadeSteps
	interval := max(d/time.Duration(steps), time.Millisecond)

	go func() {
		tick := time.NewTicker(interval)
		defer tick.Stop()
		for i := 1; i <= steps; i++ {
			select {
			case <-stop:
				return
			case <-tick.C:
			}
			h.mu.Lock()
			if h.fadeStop != stop {
				h.mu.Unlock()
				return
			}
			h.cue.SetVolume(from + (target-from)*float64(i)/float64(steps))
			if i == steps {
				h.fadeStop = nil
			}
			h.mu.Unlock()
		}
		if then != nil {
			then()
		}
	}()
}

func (h *HoldController) cancelFadeLocked() {
	if h.fadeStop != nil {
		close(h.fadeStop)
		h.fadeStop = nil
	}
}

func (h *HoldController) notify(holding bool) {
	if h.onChange != nil {
		h.onChange(holding)
	}
}
