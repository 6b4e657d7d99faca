package session

import (
	"errors"
	"fmt"
	"testing"

	"github.com/sjawhar/lingua-live/internal/live"
	"github.com/sjawhar/lingua-live/internal/transcript"
)

func connectedState() State {
	n := 0
	return State{
		Status: StatusConnected,
		Transcript: transcript.Accumulator{
			NewID: func() string { n++; return fmt.Sprintf("m%d", n) },
		},
	}
}

func kinds(effects []Effect) []EffectKind {
	out := make([]EffectKind, len(effects))
	for i, e := range effects {
		out[i] = e.Kind
	}
	return out
}

func sameKinds(a, b []EffectKind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDeriveMicState(t *testing.T) {
	tests := []struct {
		gate   bool
		queued int
		want   MicState
	}{
		{false, 0, MicIdle},
		{true, 0, MicListening},
		{false, 2, MicSpeaking},
		{true, 1, MicSpeaking},
	}
	for _, tt := range tests {
		if got := DeriveMicState(tt.gate, tt.queued); got != tt.want {
			t.Errorf("DeriveMicState(%v, %d) = %s, want %s", tt.gate, tt.queued, got, tt.want)
		}
	}
}

func TestReduceEffects(t *testing.T) {
	withUser := func() State {
		st := connectedState()
		st.Transcript.Append(transcript.RoleUser, "hola")
		return st
	}

	tests := []struct {
		name  string
		state State
		event Event
		want  []EffectKind
	}{
		{"ai text finalizes pending user", withUser(), Event{Kind: EventAIText, Text: "Buenas"}, []EffectKind{EffectEmit, EffectEmit}},
		{"ai text without user", connectedState(), Event{Kind: EventAIText, Text: "Buenas"}, []EffectKind{EffectEmit}},
		{"empty ai text ignored", withUser(), Event{Kind: EventAIText}, nil},
		{"user text", connectedState(), Event{Kind: EventUserText, Text: "hola"}, []EffectKind{EffectEmit}},
		{"audio finalizes pending user", withUser(), Event{Kind: EventAIAudio, Audio: "AAA="}, []EffectKind{EffectEmit, EffectSchedule}},
		{"audio alone", connectedState(), Event{Kind: EventAIAudio, Audio: "AAA="}, []EffectKind{EffectSchedule}},
		{"turn complete with nothing pending", connectedState(), Event{Kind: EventTurnComplete}, nil},
		{"interrupted", connectedState(), Event{Kind: EventInterrupted}, []EffectKind{EffectDrain}},
		{"closed", connectedState(), Event{Kind: EventClosed}, []EffectKind{EffectTeardown}},
		{"error", connectedState(), Event{Kind: EventError, Err: errors.New("x")}, []EffectKind{EffectTeardown}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, effects := Reduce(tt.state, tt.event)
			if got := kinds(effects); !sameKinds(got, tt.want) {
				t.Fatalf("effects = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReduceTurnCompleteFinalizesUserThenAI(t *testing.T) {
	st := connectedState()
	st, _ = Reduce(st, Event{Kind: EventUserText, Text: "Un billet"})
	// Inject AI text directly so the user turn stays pending.
	st.Transcript.Append(transcript.RoleAI, "Pour où ?")

	st, effects := Reduce(st, Event{Kind: EventTurnComplete})
	if len(effects) != 2 {
		t.Fatalf("expected 2 effects, got %d", len(effects))
	}
	if effects[0].Message.Role != transcript.RoleUser || !effects[0].Message.Final {
		t.Fatalf("expected final user message first, got %+v", effects[0].Message)
	}
	if effects[1].Message.Role != transcript.RoleAI || effects[1].Message.Text != "Pour où ?" {
		t.Fatalf("expected final AI message second, got %+v", effects[1].Message)
	}
	if st.Transcript.Peek(transcript.RoleUser) != "" || st.Transcript.Peek(transcript.RoleAI) != "" {
		t.Fatal("accumulators must be cleared")
	}
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	st := connectedState()
	st, _ = Reduce(st, Event{Kind: EventUserText, Text: "a"})

	next, _ := Reduce(st, Event{Kind: EventUserText, Text: "b"})
	if st.Transcript.Peek(transcript.RoleUser) != "a" {
		t.Fatalf("input state changed: %q", st.Transcript.Peek(transcript.RoleUser))
	}
	if next.Transcript.Peek(transcript.RoleUser) != "ab" {
		t.Fatalf("unexpected accumulated text %q", next.Transcript.Peek(transcript.RoleUser))
	}
}

func TestReduceInterruptedDiscardsAI(t *testing.T) {
	st := connectedState()
	st, first := Reduce(st, Event{Kind: EventAIText, Text: "Alors"})
	st.Queued = 3

	st, _ = Reduce(st, Event{Kind: EventInterrupted})
	if st.Queued != 0 || st.Transcript.Peek(transcript.RoleAI) != "" {
		t.Fatalf("unexpected state after interrupt: %+v", st)
	}

	_, next := Reduce(st, Event{Kind: EventAIText, Text: "Oui"})
	if next[0].Message.ID == first[0].Message.ID {
		t.Fatal("text after interruption must start a new message")
	}
}

func TestReduceTeardown(t *testing.T) {
	st := connectedState()
	st.Gate = true
	st.Queued = 1

	closed, _ := Reduce(st, Event{Kind: EventClosed})
	if closed.Status != StatusDisconnected || closed.MicState() != MicIdle || closed.Err != "" {
		t.Fatalf("unexpected closed state %+v", closed)
	}

	failed, effects := Reduce(st, Event{Kind: EventError, Err: errors.New("reset")})
	if failed.Err != "Connection error. Please try again." {
		t.Fatalf("unexpected error message %q", failed.Err)
	}
	if effects[0].Err == nil {
		t.Fatal("teardown effect must carry the cause")
	}

	device, _ := Reduce(st, Event{Kind: EventError, Err: newError(KindDevice, "read microphone", errors.New("gone"))})
	if device.Err != msgDevice {
		t.Fatalf("unexpected device message %q", device.Err)
	}
}

func TestTranslateOrdersEvents(t *testing.T) {
	msg := live.ServerMessage{ServerContent: &live.ServerContent{
		InputTranscription:  &live.Transcription{Text: "u"},
		OutputTranscription: &live.Transcription{Text: "a"},
		ModelTurn: &live.Content{Parts: []live.Part{
			{Text: "thought"},
			{InlineData: &live.InlineData{MIMEType: "audio/pcm;rate=24000", Data: "AAA="}},
		}},
		Interrupted:  true,
		TurnComplete: true,
	}}

	got := Translate(msg)
	want := []EventKind{EventUserText, EventAIText, EventAIAudio, EventInterrupted, EventTurnComplete}
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].Kind != want[i] {
			t.Fatalf("event %d = %s, want %s", i, got[i].Kind, want[i])
		}
	}

	if events := Translate(live.ServerMessage{GoAway: &live.GoAway{}}); len(events) != 0 {
		t.Fatalf("expected no events, got %v", events)
	}
}
