package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// InputSampleRate is the capture rate the remote service expects.
	InputSampleRate = 16000
	// OutputSampleRate is the rate of audio returned by the remote service.
	OutputSampleRate = 24000

	pcmBytesPerSample = 2
)

// ErrMalformedAudio is returned when an inbound audio payload cannot be decoded.
var ErrMalformedAudio = errors.New("malformed audio payload")

// Blob is the wire form of a captured audio frame.
type Blob struct {
	MIMEType string
	Data     []byte
}

// Buffer is decoded, playable audio.
type Buffer struct {
	SampleRate int
	Channels   int
	Samples    []float32
}

// Frames returns the number of sample frames (samples per channel).
func (b Buffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the playback length in seconds.
func (b Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// PCMMIMEType returns the MIME-style tag for 16-bit PCM at the given rate.
func PCMMIMEType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}

// Encode quantizes mono float samples to 16-bit little-endian PCM.
// Samples outside [-1, 1] (and NaN) are clamped rather than rejected.
func Encode(samples []float32) Blob {
	data := make([]byte, len(samples)*pcmBytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*pcmBytesPerSample:], uint16(quantize(s)))
	}
	return Blob{MIMEType: PCMMIMEType(InputSampleRate), Data: data}
}

func quantize(s float32) int16 {
	v := float64(s)
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	if v < 0 {
		return int16(math.Round(v * 32768))
	}
	return int16(math.Round(v * 32767))
}

// Decode reverses the transport-safe text encoding of an audio payload.
func Decode(text string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAudio, err)
	}
	return raw, nil
}

// EncodeText is the inverse of Decode.
func EncodeText(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeAudioData reinterprets little-endian 16-bit PCM as normalized float
// samples. Interleaved channels are kept interleaved; a trailing partial
// sample or frame is dropped. Empty input yields an empty, valid Buffer.
func DecodeAudioData(raw []byte, sampleRate, channels int) (Buffer, error) {
	if sampleRate <= 0 {
		return Buffer{}, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if channels <= 0 {
		return Buffer{}, fmt.Errorf("invalid channel count %d", channels)
	}

	frames := len(raw) / pcmBytesPerSample / channels
	samples := make([]float32, frames*channels)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(raw[i*pcmBytesPerSample:]))
		samples[i] = float32(v) / 32768
	}

	return Buffer{SampleRate: sampleRate, Channels: channels, Samples: samples}, nil
}

// RMS returns the root mean square of the sample magnitudes.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
