// Package playback schedules decoded speech segments back-to-back on an
// output clock and supports an immediate full stop.
package playback

import (
	"fmt"
	"sync"

	"github.com/sjawhar/lingua-live/internal/audio"
)

// Output is an audio sink with its own clock, in seconds.
type Output interface {
	Now() float64
	Start(buf audio.Buffer, at float64, onEnded func()) (audio.Voice, error)
}

// Handle identifies a scheduled segment.
type Handle struct {
	ID    uint64
	Start float64
	End   float64
}

// Tracker owns the set of scheduled segments and the next-start cursor.
// Segments play in schedule order; the tracker never reorders them.
type Tracker struct {
	out Output

	mu     sync.Mutex
	next   float64
	seq    uint64
	voices map[uint64]audio.Voice
}

func NewTracker(out Output) *Tracker {
	return &Tracker{out: out, voices: make(map[uint64]audio.Voice)}
}

// Schedule starts buf at max(cursor, now) and advances the cursor from the
// segment's actual start by its duration. onEnded runs after the segment has been removed from the set,
// unless the segment was drained first.
func (t *Tracker) Schedule(buf audio.Buffer, onEnded func()) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := t.next
	if now := t.out.Now(); now > start {
		start = now
	}

	t.seq++
	id := t.seq
	voice, err := t.out.Start(buf, start, func() { t.finish(id, onEnded) })
	if err != nil {
		return Handle{}, fmt.Errorf("schedule segment: %w", err)
	}

	// The output may have rendered past start since Now was read.
	start = voice.StartTime()
	t.voices[id] = voice
	t.next = start + buf.Duration()
	return Handle{ID: id, Start: start, End: t.next}, nil
}

func (t *Tracker) finish(id uint64, onEnded func()) {
	t.mu.Lock()
	_, ok := t.voices[id]
	delete(t.voices, id)
	t.mu.Unlock()

	if ok && onEnded != nil {
		onEnded()
	}
}

// DrainAll stops every scheduled segment immediately and resets the cursor
// to the output clock. It returns the number of segments stopped.
func (t *Tracker) DrainAll() int {
	t.mu.Lock()
	voices := t.voices
	t.voices = make(map[uint64]audio.Voice)
	t.next = t.out.Now()
	t.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
	return len(voices)
}

// Len returns the number of segments scheduled or playing.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.voices)
}

// Next returns the cursor at which the next segment would start.
func (t *Tracker) Next() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next
}
