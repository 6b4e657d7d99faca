package session

import (
	"context"

	"github.com/sjawhar/lingua-live/internal/audio"
	"github.com/sjawhar/lingua-live/internal/live"
	"github.com/sjawhar/lingua-live/internal/playback"
	"github.com/sjawhar/lingua-live/internal/transcript"
	"github.com/sjawhar/lingua-live/internal/tutor"
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

type MicState string

const (
	MicIdle      MicState = "idle"
	MicListening MicState = "listening"
	// MicProcessing is part of the published vocabulary but no transition
	// produces it.
	MicProcessing MicState = "processing"
	MicSpeaking   MicState = "speaking"
)

// DeriveMicState computes the mic indicator. Queued playback wins over the
// gate, so the tutor speaking shows as speaking even while the mic is open.
func DeriveMicState(gate bool, queued int) MicState {
	switch {
	case queued > 0:
		return MicSpeaking
	case gate:
		return MicListening
	default:
		return MicIdle
	}
}

// State is what the reducer operates on.
type State struct {
	Status     Status
	Gate       bool
	Queued     int
	Transcript transcript.Accumulator
	Err        string
}

func (s State) MicState() MicState { return DeriveMicState(s.Gate, s.Queued) }

// Snapshot is the externally observable session state.
type Snapshot struct {
	Status    Status         `json:"status"`
	Connected bool           `json:"connected"`
	MicState  MicState       `json:"mic_state"`
	MicActive bool           `json:"mic_active"`
	Error     string         `json:"error"`
	Volume    float64        `json:"volume"`
	Language  tutor.Language `json:"language"`
	Scenario  tutor.Scenario `json:"scenario"`
}

// EventSink receives session output. Calls are made with the manager lock
// held, in order; implementations must not block or call back into the
// Manager.
type EventSink interface {
	Transcript(msg transcript.Message)
	StateChanged(snap Snapshot)
	Volume(level float64)
	RecapReady(recap string)
}

// Stream is an open conversation with the remote service.
type Stream interface {
	SendAudio(blob audio.Blob) error
	SendText(ctx context.Context, text string) error
	Events() <-chan live.ServerMessage
	Err() error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, setup live.Setup) (Stream, error)
}

// Capture is a started-on-demand microphone delivering fixed-size frames.
type Capture interface {
	Start() error
	ReadFrame() ([]float32, error)
	Stop() error
	Close() error
}

// Output is the playback device. Failed is closed when the device stops
// accepting audio; Err then reports why.
type Output interface {
	playback.Output
	Failed() <-chan struct{}
	Err() error
	Close() error
}

type CaptureOpener func(sampleRate, framesPerBuffer int) (Capture, error)

type OutputOpener func(sampleRate, framesPerBuffer int) (Output, error)

// Recapper turns a finished conversation into learner feedback.
type Recapper interface {
	Recap(ctx context.Context, language tutor.Language, scenario tutor.Scenario, lines []transcript.Message) (string, error)
}

// LiveDialer adapts a live.Client to Dialer.
type LiveDialer struct {
	Client *live.Client
}

func (d LiveDialer) Dial(ctx context.Context, setup live.Setup) (Stream, error) {
	conn, err := d.Client.Dial(ctx, setup)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
