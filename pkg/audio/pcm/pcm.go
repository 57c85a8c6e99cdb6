// Package pcm converts between the floating-point samples produced by capture
// devices, 16-bit little-endian PCM, and the base64 text payloads carried on
// the realtime transport.
//
// Capture direction:
//
//	[]float32 → Quantize → []int16 → little-endian bytes → base64 (Encode)
//
// Playback direction:
//
//	base64 → DecodeBase64 → DecodeAudioData → *Buffer (per-channel float32)
//
// All functions are pure and safe for concurrent use.
package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// scale maps the float range [-1, 1] onto the int16 range.
const scale = 32768

// ErrDecode is returned when a payload is not valid base64 or its byte length
// does not divide evenly into 16-bit frames.
var ErrDecode = errors.New("pcm: malformed audio payload")

// Quantize converts float samples in [-1, 1] to 16-bit integers using
// round(s * 32768) clamped to [-32768, 32767]. NaN maps to 0.
func Quantize(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = quantize(s)
	}
	return out
}

func quantize(s float32) int16 {
	if s != s { // NaN
		return 0
	}
	v := math.Round(float64(s) * scale)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// Bytes serialises samples as little-endian int16 (2 bytes per sample).
func Bytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// Samples is the inverse of [Bytes]. A trailing odd byte is ignored.
func Samples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// Encode quantizes a capture frame and returns the base64 text form of its
// little-endian int16 bytes, ready to be sent as an outbound audio frame.
func Encode(samples []float32) string {
	return base64.StdEncoding.EncodeToString(Bytes(Quantize(samples)))
}

// DecodeBase64 decodes a base64 payload into raw little-endian PCM bytes.
func DecodeBase64(payload string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return data, nil
}

// Decode is the inverse of [Encode] up to quantization: it returns the int16
// samples carried by payload.
func Decode(payload string) ([]int16, error) {
	data, err := DecodeBase64(payload)
	if err != nil {
		return nil, err
	}
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d", ErrDecode, len(data))
	}
	return Samples(data), nil
}

// Buffer holds de-interleaved float samples ready for scheduling on an output
// timeline. Each channel slice has the same length.
type Buffer struct {
	SampleRate int
	channels   [][]float32
}

// NewBuffer wraps per-channel sample slices. All slices must have equal length.
func NewBuffer(sampleRate int, channels ...[]float32) *Buffer {
	return &Buffer{SampleRate: sampleRate, channels: channels}
}

// Channels returns the channel count.
func (b *Buffer) Channels() int { return len(b.channels) }

// Frames returns the number of sample frames per channel.
func (b *Buffer) Frames() int {
	if len(b.channels) == 0 {
		return 0
	}
	return len(b.channels[0])
}

// Channel returns the samples of channel c. The slice must not be modified.
func (b *Buffer) Channel(c int) []float32 { return b.channels[c] }

// Duration is frames divided by the sample rate.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// DecodeAudioData turns interleaved little-endian int16 bytes into a [Buffer]
// of length len(data)/(2*channels) frames. Each channel's sample j is the
// interleaved sample j*channels+c divided by 32768.
//
// Returns [ErrDecode] when channels < 1 or len(data) is not a multiple of
// channels*2.
func DecodeAudioData(data []byte, sampleRate, channels int) (*Buffer, error) {
	if channels < 1 {
		return nil, fmt.Errorf("%w: invalid channel count %d", ErrDecode, channels)
	}
	frameBytes := channels * 2
	if len(data)%frameBytes != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrDecode, len(data), frameBytes)
	}
	frames := len(data) / frameBytes
	out := make([][]float32, channels)
	for c := range out {
		out[c] = make([]float32, frames)
	}
	for j := range frames {
		for c := range channels {
			s := int16(binary.LittleEndian.Uint16(data[(j*channels+c)*2:]))
			out[c][j] = float32(s) / scale
		}
	}
	return &Buffer{SampleRate: sampleRate, channels: out}, nil
}
