package server

import "time"

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

type TranscriptEvent struct {
	Event
	ID    string `json:"id"`
	Role  string `json:"role"`
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

type StateEvent struct {
	Event
	Status     string `json:"status"`
	MicState   string `json:"mic_state"`
	MicActive  bool   `json:"mic_active"`
	Connected  bool   `json:"connected"`
	AISpeaking bool   `json:"ai_speaking"`
	Error      string `json:"error"`
	Language   string `json:"language"`
	Scenario   string `json:"scenario"`
}

type VolumeEvent struct {
	Event
	Level float64 `json:"level"`
}

type RecapReadyEvent struct {
	Event
	Recap string `json:"recap"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
