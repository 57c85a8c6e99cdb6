// Package live runs the operator's live voice conversation with the remote
// agent model.
//
// A [Manager] owns at most one session at a time. Starting a session acquires
// the microphone and an output timeline, opens a realtime channel and then
// streams 4096-sample microphone frames upstream while transcripts and
// synthesised speech flow back. Every exit path, whether a local end, a remote
// close or a failure, runs the same teardown so no device, timer or channel
// outlives the session.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/voicedeck/voicedeck/internal/observe"
	"github.com/voicedeck/voicedeck/internal/persona"
	"github.com/voicedeck/voicedeck/pkg/audio"
	"github.com/voicedeck/voicedeck/pkg/provider/realtime"
)

// State is the lifecycle state of the manager.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateClosing
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return "idle"
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = StateIdle
	case "connecting":
		*s = StateConnecting
	case "active":
		*s = StateActive
	case "closing":
		*s = StateClosing
	default:
		return fmt.Errorf("live: unknown state %q", b)
	}
	return nil
}

// DefaultConnectTimeout bounds how long StartSession waits for the session to
// open.
const DefaultConnectTimeout = 30 * time.Second

// SessionRecord is the archived transcript of a session that was open.
type SessionRecord struct {
	ID          string            `json:"id"`
	PersonaID   string            `json:"persona_id"`
	PersonaName string            `json:"persona_name"`
	StartedAt   time.Time         `json:"started_at"`
	EndedAt     time.Time         `json:"ended_at"`
	Error       string            `json:"error,omitempty"`
	Transcripts []TranscriptEntry `json:"transcripts"`
}

// Archiver stores the records of finished sessions.
type Archiver interface {
	Archive(ctx context.Context, rec SessionRecord) error
}

// Config holds the dependencies of a [Manager].
type Config struct {
	Provider   realtime.Provider
	Microphone audio.Microphone
	Speaker    audio.Speaker

	// Cue is the shared hold cue player. A silent player is used when nil.
	Cue  audio.CuePlayer
	Hold HoldConfig

	// Triggers are the hold-cue trigger phrases. Empty uses DefaultTriggers.
	Triggers []string

	// Archive, if non-nil, receives the transcript of every session that
	// opened.
	Archive Archiver

	ConnectTimeout time.Duration
	Metrics        *observe.Metrics
	Logger         *slog.Logger

	// NewID generates session IDs. Defaults to random UUIDs.
	NewID func() string
}

// Snapshot is the externally visible state of the manager.
type Snapshot struct {
	State           State             `json:"state"`
	IsConnecting    bool              `json:"isConnecting"`
	IsSessionActive bool              `json:"isSessionActive"`
	Transcripts     []TranscriptEntry `json:"transcripts"`
	Error           string            `json:"error,omitempty"`
	IsHolding       bool              `json:"isHolding"`
	SessionID       string            `json:"sessionId,omitempty"`
	PersonaID       string            `json:"personaId,omitempty"`
}

// liveSession holds the resources of one session. Fields are written under
// Manager.mu while the session is current and are read-only afterwards.
type liveSession struct {
	id        string
	persona   persona.Persona
	startedAt time.Time
	openedAt  time.Time
	log       *slog.Logger
	cancel    context.CancelFunc

	stream   audio.CaptureStream
	out      audio.OutputContext
	playback *Scheduler
	ch       realtime.Channel
	capture  *Capture

	// failure is set when the session was torn down by an error.
	failure *SessionError

	released chan struct{} // closed when teardown has finished
}

// Manager is the live session lifecycle manager.
//
// All exported methods are safe for concurrent use.
type Manager struct {
	cfg      Config
	hold     *HoldController
	detector *TriggerDetector
	agg      *Aggregator
	metrics  *observe.Metrics
	log      *slog.Logger

	mu      sync.Mutex
	state   State
	sess    *liveSession
	closing *liveSession // being torn down
	lastErr *SessionError

	// evMu serialises event dispatch with teardown.
	evMu sync.Mutex

	subMu  sync.Mutex
	subs   map[uint64]chan Snapshot
	subSeq uint64
}

// NewManager returns an idle Manager.
func NewManager(cfg Config) *Manager {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Cue == nil {
		cfg.Cue = &silentCue{}
	}
	m := &Manager{
		cfg:      cfg,
		detector: NewTriggerDetector(cfg.Triggers),
		agg:      NewAggregator(),
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		subs:     make(map[uint64]chan Snapshot),
	}
	m.hold = NewHoldController(cfg.Cue, cfg.Hold,
		WithHoldMetrics(cfg.Metrics),
		WithHoldChange(func(bool) { m.publish() }),
	)
	return m
}

// StartSession opens a session for p. It returns once the session is active
// or has failed; on failure every acquired resource is released and the
// returned error is a [*SessionError]. While another session is connecting
// or active it fails immediately with an error wrapping
// [ErrConcurrentSession] and changes nothing.
//
// ctx bounds only the opening of the session.
func (m *Manager) StartSession(ctx context.Context, p persona.Persona) error {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		m.metrics.RecordLiveError(ctx, KindConcurrentSession.String())
		return &SessionError{Kind: KindConcurrentSession, Msg: "A session is already in progress"}
	}
	id := m.cfg.NewID()
	openCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	ls := &liveSession{
		id:        id,
		persona:   p,
		startedAt: time.Now(),
		log:       m.log.With("session_id", id),
		cancel:    cancel,
		released:  make(chan struct{}),
	}
	m.state = StateConnecting
	m.sess = ls
	m.lastErr = nil
	m.agg.Reset()
	m.mu.Unlock()

	// Starting a session is a user interaction, which is what priming needs.
	m.hold.Prime()
	m.publish()

	openCtx = observe.WithSessionID(openCtx, id)
	openCtx, span := observe.StartSpan(openCtx, "live.StartSession",
		trace.WithAttributes(
			attribute.String("session.id", id),
			attribute.String("persona.id", p.ID),
		),
	)
	defer span.End()
	defer cancel()

	ls.log.Info("live: session connecting", "persona", p.ID, "voice", p.Voice)
	begin := time.Now()

	if err := m.open(openCtx, ls); err != nil {
		se := m.failStart(ls, err)
		span.RecordError(se)
		span.SetStatus(codes.Error, se.Msg)
		return se
	}

	m.metrics.ConnectDuration.Record(ctx, time.Since(begin).Seconds())
	m.metrics.LiveSessions.Add(ctx, 1)
	ls.log.Info("live: session active", "connect", time.Since(begin))
	m.publish()
	return nil
}

// open acquires devices and the channel for ls. After each suspension point
// it checks that ls is still the current session before keeping a resource.
func (m *Manager) open(ctx context.Context, ls *liveSession) error {
	stream, err := m.cfg.Microphone.Open(ctx, audio.CaptureFormat, FrameSize)
	if err != nil {
		return err
	}
	if !m.adopt(ls, func() { ls.stream = stream }) {
		_ = stream.Close()
		return ErrSessionEnded
	}

	out, err := m.cfg.Speaker.OpenOutput(ctx, audio.PlaybackFormat)
	if err != nil {
		return err
	}
	if !m.adopt(ls, func() {
		ls.out = out
		ls.playback = NewScheduler(out, m.hold.Holding, m.metrics, ls.log)
	}) {
		_ = out.Close()
		return ErrSessionEnded
	}

	ch, err := m.cfg.Provider.Connect(ctx, realtime.SessionConfig{
		Voice:        ls.persona.Voice,
		Instructions: ls.persona.Instructions(),
	}, realtime.Handler{
		OnEvent: func(ev realtime.Event) { m.dispatch(ls, ev) },
		OnClose: func(err error) { m.remoteClosed(ls, err) },
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != ls {
		_ = ch.Close()
		if ls.failure != nil {
			return ls.failure
		}
		return ErrSessionEnded
	}
	ls.ch = ch
	ls.capture = NewCapture(ls.stream, ch, m.metrics, ls.log)
	ls.capture.OnSendError(func(err error) {
		// Teardown waits for the delivery goroutine this runs on.
		go m.remoteClosed(ls, fmt.Errorf("%w: %w", ErrTransport, err))
	})
	if err := ls.capture.Start(); err != nil {
		return err
	}
	ls.openedAt = time.Now()
	m.state = StateActive
	return nil
}

// adopt runs keep under the lock if ls is still current.
func (m *Manager) adopt(ls *liveSession, keep func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != ls {
		return false
	}
	keep()
	return true
}

// failStart converts an opening failure into the error StartSession returns
// and tears the attempt down.
func (m *Manager) failStart(ls *liveSession, err error) *SessionError {
	var se *SessionError
	if errors.As(err, &se) {
		return se
	}
	m.mu.Lock()
	current := m.sess == ls
	m.mu.Unlock()
	if !current || errors.Is(err, ErrSessionEnded) {
		// EndSession won the race; it already tore everything down.
		ls.log.Info("live: session ended while connecting")
		return &SessionError{Kind: KindTransport, Msg: "Failed to start session: session ended", Err: ErrSessionEnded}
	}

	se = startError(err)
	m.metrics.RecordLiveError(context.Background(), se.Kind.String())
	ls.log.Warn("live: session failed to start", "kind", se.Kind, "err", err)
	m.teardown(ls, se)
	return se
}

// remoteClosed handles the end of the channel of ls.
func (m *Manager) remoteClosed(ls *liveSession, err error) {
	var se *SessionError
	if err != nil {
		se = sessionError(err)
		m.metrics.RecordLiveError(context.Background(), se.Kind.String())
		ls.log.Warn("live: session failed", "err", err)
	} else {
		ls.log.Info("live: session closed by remote")
	}
	m.teardown(ls, se)
}

// EndSession ends the current session, if any, and clears the transcript.
// It is safe to call in any state, including while a session is connecting;
// the pending StartSession then fails.
func (m *Manager) EndSession() {
	m.mu.Lock()
	ls, closing := m.sess, m.closing
	m.mu.Unlock()

	switch {
	case ls != nil:
		ls.log.Info("live: ending session")
		m.teardown(ls, nil)
	case closing != nil:
		// A remote close is tearing down; let it archive the transcript
		// before it is cleared.
		<-closing.released
	}
	m.hold.Reset()
	m.agg.Reset()
	m.publish()
}

// teardown releases everything ls holds, in order: capture delivery,
// channel, microphone, hold cue, playback, output timeline. Only the first call for a session does
// anything. cause, if non-nil, becomes the surfaced error.
func (m *Manager) teardown(ls *liveSession, cause *SessionError) bool {
	m.mu.Lock()
	if ls == nil || m.sess != ls {
		m.mu.Unlock()
		return false
	}
	m.sess = nil
	m.closing = ls
	m.state = StateClosing
	if cause != nil {
		ls.failure = cause
		m.lastErr = cause
	}
	m.mu.Unlock()
	m.publish()

	ls.cancel()

	// Wait for an in-flight event to finish; later events see no session.
	m.evMu.Lock()
	m.evMu.Unlock() //nolint:staticcheck

	// Halt delivery, then close the channel so a send stuck on the socket
	// returns, and only then wait for the device to let go.
	if ls.stream != nil {
		ls.stream.Stop()
	}
	if ls.ch != nil {
		if err := ls.ch.Close(); err != nil {
			ls.log.Warn("live: close channel", "err", err)
		}
	}
	switch {
	case ls.capture != nil:
		if err := ls.capture.Stop(); err != nil {
			ls.log.Warn("live: release microphone", "err", err)
		}
	case ls.stream != nil:
		if err := ls.stream.Close(); err != nil {
			ls.log.Warn("live: release microphone", "err", err)
		}
	}
	m.hold.Reset()
	if ls.playback != nil {
		ls.playback.Close()
	}
	if ls.out != nil {
		if err := ls.out.Close(); err != nil {
			ls.log.Warn("live: close output", "err", err)
		}
	}

	if !ls.openedAt.IsZero() {
		ended := time.Now()
		ctx := context.Background()
		m.metrics.LiveSessions.Add(ctx, -1)
		m.metrics.SessionDuration.Record(ctx, ended.Sub(ls.openedAt).Seconds(),
			metric.WithAttributes(observe.Attr("persona_id", ls.persona.ID)),
		)
		m.archive(ls, ended)
	}

	m.mu.Lock()
	m.state = StateIdle
	if m.closing == ls {
		m.closing = nil
	}
	m.mu.Unlock()
	close(ls.released)
	ls.log.Info("live: session torn down")
	m.publish()
	return true
}

func (m *Manager) archive(ls *liveSession, ended time.Time) {
	if m.cfg.Archive == nil {
		return
	}
	rec := SessionRecord{
		ID:          ls.id,
		PersonaID:   ls.persona.ID,
		PersonaName: ls.persona.Name,
		StartedAt:   ls.startedAt.UTC(),
		EndedAt:     ended.UTC(),
		Transcripts: m.agg.Entries(),
	}
	if ls.failure != nil {
		rec.Error = ls.failure.Msg
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.cfg.Archive.Archive(ctx, rec); err != nil {
		ls.log.Warn("live: archive session transcript", "err", err)
	}
}

// dispatch routes one channel event to its consumers, in arrival order.
func (m *Manager) dispatch(ls *liveSession, ev realtime.Event) {
	m.evMu.Lock()
	defer m.evMu.Unlock()

	m.mu.Lock()
	current := m.sess == ls
	pb := ls.playback
	m.mu.Unlock()
	if !current {
		return
	}

	ctx := context.Background()
	switch e := ev.(type) {
	case realtime.InputTranscript:
		m.agg.Add(RoleUser, e.Text, e.Final)
		m.metrics.RecordTranscriptFragment(ctx, string(RoleUser))
		m.publish()
	case realtime.OutputTranscript:
		if m.detector.Match(e.Text) {
			m.hold.EnterHold()
		}
		m.agg.Add(RoleModel, e.Text, e.Final)
		m.metrics.RecordTranscriptFragment(ctx, string(RoleModel))
		m.publish()
	case realtime.TurnComplete:
		m.agg.TurnComplete()
		m.publish()
	case realtime.AudioChunk:
		if pb != nil {
			// Decode failures are logged and counted by the scheduler.
			_ = pb.Enqueue(e.Data)
		}
	default:
		ls.log.Debug("live: ignoring unknown event", "type", ev)
	}
}

// Prime primes the hold cue. Call it on the first user interaction.
func (m *Manager) Prime() bool {
	return m.hold.Prime()
}

// SetTriggers replaces the hold-cue trigger phrases.
func (m *Manager) SetTriggers(phrases []string) {
	m.detector.SetPhrases(phrases)
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns the current externally visible state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	snap := Snapshot{State: m.state}
	if m.lastErr != nil {
		snap.Error = m.lastErr.Msg
	}
	if m.sess != nil {
		snap.SessionID = m.sess.id
		snap.PersonaID = m.sess.persona.ID
	}
	m.mu.Unlock()

	snap.IsConnecting = snap.State == StateConnecting
	snap.IsSessionActive = snap.State == StateActive
	snap.Transcripts = m.agg.Entries()
	if snap.Transcripts == nil {
		snap.Transcripts = []TranscriptEntry{}
	}
	snap.IsHolding = m.hold.Holding()
	return snap
}

// Subscribe returns a channel that receives the current snapshot and then a
// new one after every change. Slow readers only see the latest snapshot.
// Call cancel to unsubscribe; it closes the channel.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	m.subMu.Lock()
	m.subSeq++
	id := m.subSeq
	m.subs[id] = ch
	ch <- m.Snapshot()
	m.subMu.Unlock()

	cancel := func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (m *Manager) publish() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if len(m.subs) == 0 {
		return
	}
	snap := m.Snapshot()
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// silentCue is the hold cue used when no player is configured.
type silentCue struct {
	mu      sync.Mutex
	playing bool
	volume  float64
}

func (c *silentCue) Play() error {
	c.mu.Lock()
	c.playing = true
	c.mu.Unlock()
	return nil
}

func (c *silentCue) Pause() {
	c.mu.Lock()
	c.playing = false
	c.mu.Unlock()
}

func (c *silentCue) Rewind()       {}
func (c *silentCue) SetMuted(bool) {}
func (c *silentCue) Close() error  { return nil }

func (c *silentCue) SetVolume(v float64) {
	c.mu.Lock()
	c.volume = audio.ClampVolume(v)
	c.mu.Unlock()
}

func (c *silentCue) Volume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

func (c *silentCue) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.playing
}
