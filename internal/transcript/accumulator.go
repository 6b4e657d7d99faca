// Package transcript assembles streamed text fragments into per-role turn
// messages.
package transcript

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser Role = "user"
	RoleAI   Role = "ai"
)

// Message is one transcript line shown to the learner. A non-final message
// may be superseded by a newer one with the same ID; a final one never
// changes.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Final     bool      `json:"final"`
}

type turn struct {
	id   string
	text string
}

// Accumulator holds the in-progress text of the current turn for each role.
// The zero value is ready to use. It is a plain value with no locking; the
// session serializes access.
type Accumulator struct {
	user turn
	ai   turn

	// NewID and Now are overridable for tests.
	NewID func() string
	Now   func() time.Time
}

func (a *Accumulator) slot(role Role) *turn {
	if role == RoleUser {
		return &a.user
	}
	return &a.ai
}

func (a *Accumulator) newID() string {
	if a.NewID != nil {
		return a.NewID()
	}
	return uuid.NewString()
}

func (a *Accumulator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now().UTC()
}

// Append adds a fragment to the role's turn and returns the updated,
// non-final message.
func (a *Accumulator) Append(role Role, fragment string) Message {
	t := a.slot(role)
	if t.id == "" {
		t.id = a.newID()
	}
	t.text += fragment
	return Message{ID: t.id, Role: role, Text: t.text, Timestamp: a.now(), Final: false}
}

// Finalize emits the role's turn as a final message and clears it. It
// reports false when there is nothing to finalize.
func (a *Accumulator) Finalize(role Role) (Message, bool) {
	t := a.slot(role)
	if t.text == "" {
		t.id = ""
		return Message{}, false
	}
	msg := Message{ID: t.id, Role: role, Text: t.text, Timestamp: a.now(), Final: true}
	*t = turn{}
	return msg, true
}

// Peek returns the role's in-progress text.
func (a *Accumulator) Peek(role Role) string {
	return a.slot(role).text
}

// Discard clears the role's turn without emitting anything.
func (a *Accumulator) Discard(role Role) {
	*a.slot(role) = turn{}
}

// Final builds a standalone final message, used for text the learner typed.
func (a *Accumulator) Final(role Role, text string) Message {
	return Message{ID: a.newID(), Role: role, Text: text, Timestamp: a.now(), Final: true}
}
