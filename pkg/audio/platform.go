// Package audio defines the device abstractions the live session manager uses
// to capture microphone audio and to play synthesized speech and cue sounds.
//
// The primary abstractions are:
//
//   - [Microphone] acquires an input device and returns a [CaptureStream].
//   - [Speaker] opens an [OutputContext], a sample-accurate playback timeline.
//   - [CuePlayer] is a looping player with volume control for short cue assets.
//
// Implementations live in sub-packages: audio/ffmpeg drives the local sound
// system through ffmpeg/ffplay child processes, and audio/mock provides
// recording fakes for tests.
package audio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/voicedeck/voicedeck/pkg/audio/pcm"
)

// Device acquisition failures. Implementations wrap one of these so callers
// can classify errors with [errors.Is].
var (
	// ErrPermissionDenied reports that the user or OS refused microphone access.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrDeviceUnavailable reports that no usable audio device exists.
	ErrDeviceUnavailable = errors.New("audio: no audio device available")
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Formats used by the live session pipeline.
var (
	// CaptureFormat is the microphone format sent upstream.
	CaptureFormat = Format{SampleRate: 16000, Channels: 1}

	// PlaybackFormat is the format of synthesized speech returned by the agent.
	PlaybackFormat = Format{SampleRate: 24000, Channels: 1}
)

// String returns a compact description such as "16kHz mono".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	if f.SampleRate%1000 == 0 {
		return fmt.Sprintf("%dkHz %s", f.SampleRate/1000, ch)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// MIMEType returns the raw PCM MIME type for this format, e.g.
// "audio/pcm;rate=16000".
func (f Format) MIMEType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", f.SampleRate)
}

// Frames converts a timeline position to a frame index, rounding to the
// nearest frame.
func (f Format) Frames(d time.Duration) int64 {
	if f.SampleRate <= 0 {
		return 0
	}
	return (int64(d)*int64(f.SampleRate) + int64(time.Second)/2) / int64(time.Second)
}

// Offset is the timeline position of frame n, rounded up to the next
// nanosecond. Frames(Offset(n)) == n for every n >= 0.
func (f Format) Offset(n int64) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	rate := int64(f.SampleRate)
	return time.Duration((n*int64(time.Second) + rate - 1) / rate)
}

// Microphone acquires exclusive access to an audio input device.
type Microphone interface {
	// Open requests the device and returns a stream that is acquired but not
	// yet delivering frames. frameSize is the number of samples per frame
	// delivered to the [CaptureStream.Start] callback.
	//
	// Errors wrap [ErrPermissionDenied] or [ErrDeviceUnavailable]. The context
	// bounds the acquisition only; the stream outlives it.
	Open(ctx context.Context, format Format, frameSize int) (CaptureStream, error)
}

// CaptureStream is an acquired input device.
//
// Implementations must be safe for concurrent use. Stop and Close are
// idempotent.
type CaptureStream interface {
	// Start begins delivering fixed-size frames of float samples in [-1, 1]
	// to onFrame from a single goroutine. Frames arriving after Stop are
	// discarded.
	Start(onFrame func(samples []float32)) error

	// Stop disconnects frame processing. The device stays acquired.
	Stop()

	// Close releases the device. After Close no device tracks remain live.
	Close() error
}

// Scheduled is a buffer placed on an [OutputContext] timeline.
type Scheduled interface {
	// Stop removes the buffer from the timeline. Its end callback is not
	// invoked. Stop is idempotent.
	Stop()
}

// OutputContext is a playback timeline with its own monotonic clock, in the
// manner of a WebAudio AudioContext.
//
// Implementations must be safe for concurrent use.
type OutputContext interface {
	// CurrentTime reports how much audio the timeline has rendered.
	CurrentTime() time.Duration

	// Schedule plays buf starting at timeline position at. If at lies in the
	// past, playback starts immediately. onEnded, if non-nil, is called once
	// from a goroutine owned by the context after the last frame rendered.
	Schedule(buf *pcm.Buffer, at time.Duration, onEnded func()) Scheduled

	// Close stops every scheduled buffer and releases the output device.
	// Close is idempotent.
	Close() error
}

// Speaker opens playback timelines on an output device.
type Speaker interface {
	// OpenOutput returns a running timeline that renders to the device.
	OpenOutput(ctx context.Context, format Format) (OutputContext, error)
}

// CuePlayer plays a single looping cue asset with adjustable volume.
//
// Implementations must be safe for concurrent use.
type CuePlayer interface {
	// Play resumes playback from the current position.
	Play() error

	// Pause halts playback, keeping the position.
	Pause()

	// Rewind moves the position back to the start of the asset.
	Rewind()

	// SetVolume sets the gain in [0, 1]. Values outside the range are clamped.
	SetVolume(v float64)

	// Volume returns the current gain.
	Volume() float64

	// SetMuted silences output without changing the volume.
	SetMuted(muted bool)

	// Paused reports whether the player is currently paused.
	Paused() bool

	// Close releases the player's resources. Close is idempotent.
	Close() error
}

// ClampVolume limits v to [0, 1].
func ClampVolume(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
