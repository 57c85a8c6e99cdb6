package live

import (
	"context"
	"errors"

	"github.com/voicedeck/voicedeck/pkg/audio"
	"github.com/voicedeck/voicedeck/pkg/audio/pcm"
)

// Sentinel errors. A [*SessionError] unwraps to exactly one of the first five
// so callers can branch with [errors.Is].
var (
	// ErrPermissionDenied reports that microphone access was refused.
	// Retrying after the user grants access may succeed.
	ErrPermissionDenied = errors.New("live: microphone permission denied")

	// ErrDeviceUnavailable reports that no usable audio device exists.
	ErrDeviceUnavailable = errors.New("live: audio device unavailable")

	// ErrTransport reports a failed connect, a send failure or an abnormal
	// remote close. Transport errors are never retried.
	ErrTransport = errors.New("live: transport error")

	// ErrDecode reports an inbound audio frame that could not be decoded.
	// It is the same value as [pcm.ErrDecode].
	ErrDecode = pcm.ErrDecode

	// ErrConcurrentSession is returned by StartSession while another session
	// is connecting or active.
	ErrConcurrentSession = errors.New("live: a session is already connecting or active")

	// ErrSessionEnded is returned by StartSession when EndSession cancelled
	// the attempt before the session opened.
	ErrSessionEnded = errors.New("live: session ended before it opened")
)

// Kind classifies a session failure.
type Kind int

const (
	KindTransport Kind = iota
	KindPermissionDenied
	KindDeviceUnavailable
	KindDecode
	KindConcurrentSession
)

// String returns the metric label for k.
func (k Kind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission_denied"
	case KindDeviceUnavailable:
		return "device_unavailable"
	case KindDecode:
		return "decode"
	case KindConcurrentSession:
		return "concurrent_session"
	default:
		return "transport"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindPermissionDenied:
		return ErrPermissionDenied
	case KindDeviceUnavailable:
		return ErrDeviceUnavailable
	case KindDecode:
		return ErrDecode
	case KindConcurrentSession:
		return ErrConcurrentSession
	default:
		return ErrTransport
	}
}

// SessionError is a classified session failure. Msg is the human-readable
// text surfaced in snapshots.
type SessionError struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *SessionError) Error() string { return e.Msg }

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *SessionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

// classify maps device and codec failures onto a [Kind]. Anything else is a
// transport failure.
func classify(err error) Kind {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied), errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, audio.ErrDeviceUnavailable), errors.Is(err, ErrDeviceUnavailable):
		return KindDeviceUnavailable
	case errors.Is(err, pcm.ErrDecode):
		return KindDecode
	case errors.Is(err, ErrConcurrentSession):
		return KindConcurrentSession
	default:
		return KindTransport
	}
}

// startError wraps a failure that prevented a session from opening.
func startError(err error) *SessionError {
	return &SessionError{Kind: classify(err), Msg: "Failed to start session: " + causeText(err), Err: err}
}

// sessionError wraps a failure of an open session.
func sessionError(err error) *SessionError {
	return &SessionError{Kind: classify(err), Msg: "Session error: " + causeText(err), Err: err}
}

func causeText(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "connection timed out"
	}
	return err.Error()
}
