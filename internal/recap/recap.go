package recap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sjawhar/lingua-live/internal/transcript"
	"github.com/sjawhar/lingua-live/internal/tutor"
)

// ErrTooShort is returned when the learner said too little to review.
var ErrTooShort = errors.New("conversation too short for a recap")

const minUserLines = 2

const systemPrompt = `You are a friendly %[1]s tutor reviewing a short role-play the learner just finished (%[2]s).
Write a brief recap in English markdown with three sections: "What went well", "Corrections" (quote the learner's %[1]s, then the corrected form), and "Try next time" (two or three useful phrases in %[1]s with translations).
Keep it under 200 words.`

// Recapper produces tutor feedback for a finished conversation.
type Recapper struct {
	llm   Completer
	log   logrus.FieldLogger
	sleep func(time.Duration)
}

func New(llm Completer, log logrus.FieldLogger) *Recapper {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Recapper{llm: llm, log: log.WithField("component", "recap"), sleep: time.Sleep}
}

// Recap formats the final lines as a dialogue and asks the model to review it.
func (r *Recapper) Recap(ctx context.Context, lang tutor.Language, scenario tutor.Scenario, lines []transcript.Message) (string, error) {
	dialogue, userLines := formatDialogue(lines)
	if userLines < minUserLines {
		return "", ErrTooShort
	}

	system := fmt.Sprintf(systemPrompt, lang.Name(), scenario.Title())

	backoff := []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}
	var lastErr error
	for attempt := range backoff {
		text, err := r.llm.Complete(ctx, system, dialogue)
		if err == nil {
			return text, nil
		}
		lastErr = err
		r.log.WithError(err).WithField("attempt", attempt+1).Warn("recap request failed")
		if ctx.Err() != nil {
			break
		}
		if attempt < len(backoff)-1 {
			r.sleep(backoff[attempt])
		}
	}
	return "", fmt.Errorf("recap failed after retries: %w", lastErr)
}

func formatDialogue(lines []transcript.Message) (string, int) {
	var b strings.Builder
	userLines := 0
	for _, line := range lines {
		text := strings.TrimSpace(line.Text)
		if !line.Final || text == "" {
			continue
		}
		speaker := "Tutor"
		if line.Role == transcript.RoleUser {
			speaker = "Learner"
			userLines++
		}
		b.WriteString(speaker)
		b.WriteString(": ")
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String(), userLines
}
