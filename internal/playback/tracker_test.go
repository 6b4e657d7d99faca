package playback

import (
	"errors"
	"sync"
	"testing"

	"github.com/sjawhar/lingua-live/internal/audio"
)

type fakeVoice struct {
	out     *fakeOutput
	at      float64
	dur     float64
	onEnded func()
	stopped bool
}

func (v *fakeVoice) StartTime() float64 { return v.at }

func (v *fakeVoice) Stop() {
	v.out.mu.Lock()
	defer v.out.mu.Unlock()
	v.stopped = true
}

type fakeOutput struct {
	mu       sync.Mutex
	now      float64
	voices   []*fakeVoice
	startErr error
	// renderOnStart advances the clock inside Start, as a device writer
	// rendering between Now and Start would.
	renderOnStart float64
}

func (o *fakeOutput) Now() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

func (o *fakeOutput) Start(buf audio.Buffer, at float64, onEnded func()) (audio.Voice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.startErr != nil {
		return nil, o.startErr
	}
	o.now += o.renderOnStart
	if at < o.now {
		at = o.now
	}
	v := &fakeVoice{out: o, at: at, dur: buf.Duration(), onEnded: onEnded}
	o.voices = append(o.voices, v)
	return v, nil
}

func (o *fakeOutput) advance(to float64) {
	o.mu.Lock()
	o.now = to
	var ended []func()
	for _, v := range o.voices {
		if !v.stopped && v.onEnded != nil && v.at+v.dur <= to {
			ended = append(ended, v.onEnded)
			v.onEnded = nil
		}
	}
	o.mu.Unlock()
	for _, fn := range ended {
		fn()
	}
}

func seconds(d float64) audio.Buffer {
	return audio.Buffer{SampleRate: 100, Channels: 1, Samples: make([]float32, int(d*100))}
}

func TestScheduleIsGaplessAndOrdered(t *testing.T) {
	out := &fakeOutput{now: 1}
	tracker := NewTracker(out)

	var prev Handle
	for i, d := range []float64{0.5, 0.25, 1} {
		h, err := tracker.Schedule(seconds(d), nil)
		if err != nil {
			t.Fatalf("Schedule failed: %v", err)
		}
		if h.Start < out.Now() {
			t.Fatalf("segment %d starts before clock", i)
		}
		if i > 0 && h.Start != prev.End {
			t.Fatalf("segment %d: expected start %v, got %v", i, prev.End, h.Start)
		}
		prev = h
	}

	if tracker.Len() != 3 {
		t.Fatalf("expected 3 queued segments, got %d", tracker.Len())
	}
	if tracker.Next() != 2.75 {
		t.Fatalf("expected cursor 2.75, got %v", tracker.Next())
	}
}

func TestScheduleAfterIdleStartsAtClock(t *testing.T) {
	out := &fakeOutput{}
	tracker := NewTracker(out)

	if _, err := tracker.Schedule(seconds(0.5), nil); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	out.advance(3)

	h, err := tracker.Schedule(seconds(0.5), nil)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if h.Start != 3 {
		t.Fatalf("expected start at clock 3, got %v", h.Start)
	}
}

func TestEndedRemovesSegmentBeforeCallback(t *testing.T) {
	out := &fakeOutput{}
	tracker := NewTracker(out)

	var lenAtCallback = -1
	if _, err := tracker.Schedule(seconds(0.5), func() { lenAtCallback = tracker.Len() }); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	out.advance(0.5)
	if lenAtCallback != 0 {
		t.Fatalf("expected empty queue inside callback, got %d", lenAtCallback)
	}
}

func TestDrainAllStopsEverythingAndResetsCursor(t *testing.T) {
	out := &fakeOutput{now: 2}
	tracker := NewTracker(out)

	ended := 0
	for range 3 {
		if _, err := tracker.Schedule(seconds(1), func() { ended++ }); err != nil {
			t.Fatalf("Schedule failed: %v", err)
		}
	}

	out.advance(2.5)
	if n := tracker.DrainAll(); n != 3 {
		t.Fatalf("expected 3 drained, got %d", n)
	}
	if tracker.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", tracker.Len())
	}
	if tracker.Next() < out.Now() {
		t.Fatalf("cursor %v behind clock %v", tracker.Next(), out.Now())
	}
	for _, v := range out.voices {
		if !v.stopped {
			t.Fatal("expected every voice stopped")
		}
	}

	out.advance(10)
	if ended != 0 {
		t.Fatalf("drained segments must not report completion, got %d", ended)
	}
}

func TestScheduleFollowsActualStartWhenOutputRenders(t *testing.T) {
	out := &fakeOutput{renderOnStart: 0.125}
	tracker := NewTracker(out)

	first, err := tracker.Schedule(seconds(0.5), nil)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if first.Start != 0.125 || first.End != 0.625 {
		t.Fatalf("expected first segment at [0.125, 0.625], got [%v, %v]", first.Start, first.End)
	}

	out.mu.Lock()
	out.now = 0.75
	out.mu.Unlock()
	second, err := tracker.Schedule(seconds(0.25), nil)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	third, err := tracker.Schedule(seconds(0.25), nil)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if second.Start != 0.875 {
		t.Fatalf("expected second segment at rendered clock 0.875, got %v", second.Start)
	}
	if third.Start < second.End {
		t.Fatalf("third segment at %v overlaps second ending at %v", third.Start, second.End)
	}
}

func TestScheduleOutputError(t *testing.T) {
	out := &fakeOutput{startErr: errors.New("device gone")}
	tracker := NewTracker(out)

	if _, err := tracker.Schedule(seconds(1), nil); err == nil {
		t.Fatal("expected error")
	}
	if tracker.Len() != 0 || tracker.Next() != 0 {
		t.Fatal("failed schedule must not move the cursor")
	}
}
