// Package realtime defines the Provider interface for bidirectional voice
// sessions with a remote conversational model.
//
// A realtime provider accepts a continuous stream of 16 kHz PCM frames and
// pushes back a stream of [Event] values: incremental transcripts of both
// speakers, turn boundaries and chunks of synthesised 24 kHz speech. The
// caller supplies a [Handler] at connect time; events are delivered on the
// provider's receive goroutine in the order the service produced them.
//
// All implementations must be safe for concurrent use.
package realtime

import "context"

// Event is a notification pushed by an open [Channel]. The concrete types are
// [InputTranscript], [OutputTranscript], [TurnComplete] and [AudioChunk].
type Event interface {
	isEvent()
}

// InputTranscript carries recognised user speech.
type InputTranscript struct {
	Text string

	// Final marks the fragment as the last one of the utterance.
	Final bool
}

// OutputTranscript carries the text of the agent's spoken reply.
type OutputTranscript struct {
	Text  string
	Final bool
}

// TurnComplete marks the end of the agent's turn.
type TurnComplete struct{}

// AudioChunk carries base64-encoded 16-bit little-endian PCM of synthesised
// speech at 24 kHz mono.
type AudioChunk struct {
	Data     string
	MIMEType string
}

func (InputTranscript) isEvent()  {}
func (OutputTranscript) isEvent() {}
func (TurnComplete) isEvent()     {}
func (AudioChunk) isEvent()       {}

// Voice is a prebuilt voice offered by the provider.
type Voice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SessionConfig is the initial configuration for a new session.
type SessionConfig struct {
	// Voice is the ID of the prebuilt voice used for synthesised speech.
	Voice string

	// Instructions is the system prompt that defines the agent persona.
	Instructions string
}

// Handler receives notifications from an open [Channel]. Both callbacks are
// invoked from the provider's receive goroutine and must not block for long.
type Handler struct {
	// OnEvent receives every event in arrival order.
	OnEvent func(Event)

	// OnClose is invoked exactly once when the channel ends. err is nil when
	// the channel was closed locally or the service closed it normally, and
	// describes the failure otherwise.
	OnClose func(err error)
}

// Channel is an open session.
type Channel interface {
	// SendAudio delivers one base64-encoded 16 kHz PCM frame. It is a silent
	// no-op once the channel has closed.
	SendAudio(payload string) error

	// Close terminates the session. Close is idempotent.
	Close() error
}

// Provider opens realtime sessions.
type Provider interface {
	// Connect dials the service, sends the session setup and blocks until the
	// service acknowledges it or ctx is done. ctx bounds only the connection
	// attempt; the returned channel lives until Close or a remote close.
	Connect(ctx context.Context, cfg SessionConfig, h Handler) (Channel, error)

	// Voices lists the prebuilt voices the provider accepts.
	Voices() []Voice
}
