package audio

import (
	"context"
	"fmt"
)

var (
	_ Microphone = NoDevice{}
	_ Speaker    = NoDevice{}
)

// NoDevice is a Microphone and Speaker for hosts without audio hardware.
// Every open fails with [ErrDeviceUnavailable].
type NoDevice struct{}

// Open implements [Microphone].
func (NoDevice) Open(context.Context, Format, int) (CaptureStream, error) {
	return nil, fmt.Errorf("audio: no input device configured: %w", ErrDeviceUnavailable)
}

// OpenOutput implements [Speaker].
func (NoDevice) OpenOutput(context.Context, Format) (OutputContext, error) {
	return nil, fmt.Errorf("audio: no output device configured: %w", ErrDeviceUnavailable)
}
