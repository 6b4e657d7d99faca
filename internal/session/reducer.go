package session

import (
	"errors"

	"github.com/sjawhar/lingua-live/internal/live"
	"github.com/sjawhar/lingua-live/internal/transcript"
)

type EventKind int

const (
	EventAIText EventKind = iota + 1
	EventUserText
	EventAIAudio
	EventTurnComplete
	EventInterrupted
	EventClosed
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventAIText:
		return "ai_text"
	case EventUserText:
		return "user_text"
	case EventAIAudio:
		return "ai_audio"
	case EventTurnComplete:
		return "turn_complete"
	case EventInterrupted:
		return "interrupted"
	case EventClosed:
		return "closed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one inbound occurrence. Text carries transcript fragments, Audio
// the base64 payload of an AI speech segment.
type Event struct {
	Kind     EventKind
	Text     string
	Audio    string
	MIMEType string
	Err      error
}

type EffectKind int

const (
	EffectEmit EffectKind = iota + 1
	EffectSchedule
	EffectDrain
	EffectTeardown
)

// Effect is work the Manager performs after a transition.
type Effect struct {
	Kind     EffectKind
	Message  transcript.Message
	Audio    string
	MIMEType string
	Err      error
}

// Reduce applies ev to st. It performs no I/O; side effects are returned in
// the order they must run.
func Reduce(st State, ev Event) (State, []Effect) {
	var effects []Effect
	emit := func(msg transcript.Message) {
		effects = append(effects, Effect{Kind: EffectEmit, Message: msg})
	}

	switch ev.Kind {
	case EventAIText:
		if ev.Text == "" {
			return st, nil
		}
		if msg, ok := st.Transcript.Finalize(transcript.RoleUser); ok {
			emit(msg)
		}
		emit(st.Transcript.Append(transcript.RoleAI, ev.Text))

	case EventUserText:
		if ev.Text == "" {
			return st, nil
		}
		emit(st.Transcript.Append(transcript.RoleUser, ev.Text))

	case EventAIAudio:
		if msg, ok := st.Transcript.Finalize(transcript.RoleUser); ok {
			emit(msg)
		}
		effects = append(effects, Effect{Kind: EffectSchedule, Audio: ev.Audio, MIMEType: ev.MIMEType})

	case EventTurnComplete:
		if msg, ok := st.Transcript.Finalize(transcript.RoleUser); ok {
			emit(msg)
		}
		if msg, ok := st.Transcript.Finalize(transcript.RoleAI); ok {
			emit(msg)
		}

	case EventInterrupted:
		effects = append(effects, Effect{Kind: EffectDrain})
		st.Transcript.Discard(transcript.RoleAI)
		st.Queued = 0

	case EventClosed, EventError:
		effects = append(effects, Effect{Kind: EffectTeardown, Err: ev.Err})
		st.Status = StatusDisconnected
		st.Gate = false
		st.Queued = 0
		st.Transcript.Discard(transcript.RoleUser)
		st.Transcript.Discard(transcript.RoleAI)
		if ev.Kind == EventError {
			st.Err = msgTransport
			var serr *Error
			if errors.As(ev.Err, &serr) && serr.Message != "" {
				st.Err = serr.Message
			}
		}
	}

	return st, effects
}

// Translate splits one server message into events in wire order: user then
// AI transcription, audio parts, interruption, turn completion.
func Translate(msg live.ServerMessage) []Event {
	sc := msg.ServerContent
	if sc == nil {
		return nil
	}

	var events []Event
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		events = append(events, Event{Kind: EventUserText, Text: sc.InputTranscription.Text})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		events = append(events, Event{Kind: EventAIText, Text: sc.OutputTranscription.Text})
	}
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.InlineData == nil {
				continue
			}
			events = append(events, Event{Kind: EventAIAudio, Audio: part.InlineData.Data, MIMEType: part.InlineData.MIMEType})
		}
	}
	if sc.Interrupted {
		events = append(events, Event{Kind: EventInterrupted})
	}
	if sc.TurnComplete {
		events = append(events, Event{Kind: EventTurnComplete})
	}
	return events
}
