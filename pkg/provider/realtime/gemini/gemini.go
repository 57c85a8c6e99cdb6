// Package gemini implements the realtime.Provider interface for Google's Gemini
// Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live endpoint
// and exchanges JSON messages according to the BidiGenerateContent protocol.
// Audio travels as base64-encoded PCM chunks in both directions; input and
// output transcription are always requested so the caller can render a live
// transcript.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voicedeck/voicedeck/pkg/provider/realtime"
)

// Compile-time assertions that Provider and session satisfy the realtime
// interfaces.
var _ realtime.Provider = (*Provider)(nil)
var _ realtime.Channel = (*session)(nil)

const (
	// DefaultModel is the native-audio model used when none is configured.
	DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"

	// DefaultVoice is the prebuilt voice used when a session names none.
	DefaultVoice = "Zephyr"

	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	inputMIMEType = "audio/pcm;rate=16000"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
)

// voices are the prebuilt voices accepted by the native-audio models.
var voices = []realtime.Voice{
	{ID: "Zephyr", Name: "Zephyr"},
	{ID: "Puck", Name: "Puck"},
	{ID: "Charon", Name: "Charon"},
	{ID: "Kore", Name: "Kore"},
	{ID: "Fenrir", Name: "Fenrir"},
	{ID: "Aoede", Name: "Aoede"},
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements realtime.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new Gemini Live Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   DefaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Model returns the configured model name.
func (p *Provider) Model() string { return p.model }

// Voices returns the prebuilt voices accepted by the native-audio models.
func (p *Provider) Voices() []realtime.Voice {
	return append([]realtime.Voice(nil), voices...)
}

// Connect establishes a new Gemini Live session and waits for the server's
// setupComplete acknowledgement. Events start flowing to h only after Connect
// has returned successfully.
func (p *Provider) Connect(ctx context.Context, cfg realtime.SessionConfig, h realtime.Handler) (realtime.Channel, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		p.baseURL, url.QueryEscape(p.apiKey),
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	// Audio replies can be large.
	conn.SetReadLimit(16 << 20)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:    conn,
		handler: h,
		done:    make(chan struct{}),
		ctx:     sessCtx,
		cancel:  sessCancel,
	}

	if err := sess.sendSetup(ctx, p.model, cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}
	if err := sess.awaitSetupComplete(ctx); err != nil {
		sessCancel()
		conn.Close(websocket.StatusNormalClosure, "setup aborted")
		return nil, err
	}

	go sess.receiveLoop()
	go sess.keepaliveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string             `json:"model"`
	GenerationConfig         generationConfig   `json:"generationConfig"`
	SystemInstruction        *systemInstruction `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}          `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}          `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []inlineData `json:"mediaChunks"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	GoAway        *goAway          `json:"goAway,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

func (e *geminiError) err() error {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	if e.Status != "" {
		return fmt.Errorf("gemini: %s: %s", e.Status, msg)
	}
	return fmt.Errorf("gemini: %s", msg)
}

type goAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text     string `json:"text"`
	Finished bool   `json:"finished,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn    *websocket.Conn
	handler realtime.Handler

	mu     sync.Mutex
	done   chan struct{}
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSetup sends the initial BidiGenerateContent setup message.
func (s *session) sendSetup(ctx context.Context, model string, cfg realtime.SessionConfig) error {
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	voice := cfg.Voice
	if voice == "" {
		voice = DefaultVoice
	}
	msg := setupMessage{
		Setup: setupConfig{
			Model: model,
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
				SpeechConfig: &speechConfig{
					VoiceConfig: voiceConfig{
						PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voice},
					},
				},
			},
			InputAudioTranscription:  &struct{}{},
			OutputAudioTranscription: &struct{}{},
		},
	}

	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: cfg.Instructions}},
		}
	}

	return s.writeJSON(ctx, msg)
}

// awaitSetupComplete reads until the server acknowledges the setup. Any other
// message arriving first is ignored; an error message aborts the connect.
func (s *session) awaitSetupComplete(ctx context.Context) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("gemini: waiting for setup: %w", ctx.Err())
			}
			return fmt.Errorf("gemini: waiting for setup: %w", err)
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != nil {
			return msg.Error.err()
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop reads messages from the WebSocket and dispatches them. It owns
// the OnClose notification and fires it exactly once on exit.
func (s *session) receiveLoop() {
	var cause error
	defer func() {
		s.shutdown(websocket.StatusNormalClosure, "session closed")
		if s.handler.OnClose != nil {
			s.handler.OnClose(cause)
		}
	}()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// Local close or an orderly remote close are not failures.
			if s.ctx.Err() != nil {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			cause = fmt.Errorf("gemini: read: %w", err)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("gemini: skipping malformed frame", "err", err)
			continue
		}

		if err := s.handleServerMessage(&msg); err != nil {
			cause = err
			return
		}
	}
}

func (s *session) handleServerMessage(msg *serverMessage) error {
	if msg.Error != nil {
		return msg.Error.err()
	}
	if msg.GoAway != nil {
		slog.Info("gemini: server announced disconnect", "time_left", msg.GoAway.TimeLeft)
	}
	if msg.ServerContent != nil {
		s.handleServerContent(msg.ServerContent)
	}
	return nil
}

// handleServerContent emits events in a fixed order per message: user
// transcript, agent transcript, turn boundary, then audio parts.
func (s *session) handleServerContent(sc *serverContent) {
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		s.emit(realtime.InputTranscript{
			Text:  sc.InputTranscription.Text,
			Final: sc.InputTranscription.Finished,
		})
	}

	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		s.emit(realtime.OutputTranscript{
			Text:  sc.OutputTranscription.Text,
			Final: sc.OutputTranscription.Finished,
		})
	}

	if sc.TurnComplete {
		s.emit(realtime.TurnComplete{})
	}

	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			s.emit(realtime.AudioChunk{
				Data:     p.InlineData.Data,
				MIMEType: p.InlineData.MIMEType,
			})
		}
	}
}

func (s *session) emit(ev realtime.Event) {
	if s.ctx.Err() != nil || s.handler.OnEvent == nil {
		return
	}
	s.handler.OnEvent(ev)
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

// shutdown marks the session closed, stops the background loops and closes
// the socket. Safe to call more than once.
func (s *session) shutdown(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.cancel()    // unblocks receiveLoop and keepaliveLoop
		close(s.done) // signals keepaliveLoop via done channel
		s.conn.Close(code, reason)
	})
}

// ── Channel methods ────────────────────────────────────────────────────────────

// SendAudio delivers one base64-encoded PCM frame (16 kHz, s16le, mono) to the
// model. Frames sent after the session closed are dropped silently.
func (s *session) SendAudio(payload string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil
	}

	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []inlineData{{MIMEType: inputMIMEType, Data: payload}},
		},
	}
	if err := s.writeJSON(s.ctx, msg); err != nil {
		if s.ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("gemini: send audio: %w", err)
	}
	return nil
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.shutdown(websocket.StatusNormalClosure, "session closed")
	return nil
}
