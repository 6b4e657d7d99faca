package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sjawhar/lingua-live/internal/session"
	"github.com/sjawhar/lingua-live/internal/transcript"
)

// Hub fans session events out to websocket subscribers. Slow subscribers
// miss events rather than block the session.
type Hub struct {
	log logrus.FieldLogger

	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub(log logrus.FieldLogger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{log: log, clients: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) Transcript(msg transcript.Message) {
	h.broadcastEvent(TranscriptEvent{
		Event: newEvent("transcript", msg.Timestamp),
		ID:    msg.ID,
		Role:  string(msg.Role),
		Text:  msg.Text,
		Final: msg.Final,
	})
}

func (h *Hub) StateChanged(snap session.Snapshot) {
	h.broadcastEvent(stateEvent(snap))
}

func (h *Hub) Volume(level float64) {
	h.broadcastEvent(VolumeEvent{
		Event: newEvent("volume", time.Now().UTC()),
		Level: level,
	})
}

func (h *Hub) RecapReady(recap string) {
	h.broadcastEvent(RecapReadyEvent{
		Event: newEvent("recap_ready", time.Now().UTC()),
		Recap: recap,
	})
}

func stateEvent(snap session.Snapshot) StateEvent {
	return StateEvent{
		Event:      newEvent("state", time.Now().UTC()),
		Status:     string(snap.Status),
		MicState:   string(snap.MicState),
		MicActive:  snap.MicActive,
		Connected:  snap.Connected,
		AISpeaking: snap.MicState == session.MicSpeaking,
		Error:      snap.Error,
		Language:   string(snap.Language),
		Scenario:   string(snap.Scenario),
	}
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.WithError(err).Error("event marshal error")
		return
	}
	h.Broadcast(payload)
}
