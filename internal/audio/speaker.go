package audio

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/sirupsen/logrus"
)

// ErrSpeakerClosed is returned when scheduling on a closed or failed speaker.
var ErrSpeakerClosed = errors.New("speaker closed")

// Voice is one scheduled segment on an output clock.
type Voice interface {
	Stop()
	// StartTime is the output time the segment actually starts at.
	StartTime() float64
}

// mixer renders scheduled voices into output buffers. Its clock is the
// number of frames rendered so far, expressed in seconds.
type mixer struct {
	rate int

	mu      sync.Mutex
	written int64
	voices  []*voice
}

type voice struct {
	m          *mixer
	buf        Buffer
	startFrame int64
	stopped    bool
	onEnded    func()
}

func newMixer(rate int) *mixer {
	return &mixer{rate: rate}
}

func (m *mixer) now() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.written) / float64(m.rate)
}

func (m *mixer) start(buf Buffer, at float64, onEnded func()) *voice {
	m.mu.Lock()
	defer m.mu.Unlock()

	startFrame := int64(math.Round(at * float64(m.rate)))
	if startFrame < m.written {
		startFrame = m.written
	}
	v := &voice{m: m, buf: buf, startFrame: startFrame, onEnded: onEnded}
	m.voices = append(m.voices, v)
	return v
}

func (v *voice) StartTime() float64 {
	return float64(v.startFrame) / float64(v.m.rate)
}

func (v *voice) Stop() {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	if v.stopped {
		return
	}
	v.stopped = true
	kept := v.m.voices[:0]
	for _, other := range v.m.voices {
		if other != v {
			kept = append(kept, other)
		}
	}
	v.m.voices = kept
}

// clear drops every voice without firing completion callbacks.
func (m *mixer) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.voices {
		v.stopped = true
	}
	m.voices = nil
}

// fill mixes the next len(out) frames and returns the completion callbacks
// of voices that finished. Callbacks must run without the mixer lock held.
func (m *mixer) fill(out []float32) []func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range out {
		out[i] = 0
	}

	base := m.written
	for _, v := range m.voices {
		frames := int64(v.buf.Frames())
		channels := v.buf.Channels
		for i := range out {
			offset := base + int64(i) - v.startFrame
			if offset < 0 || offset >= frames {
				continue
			}
			var sum float32
			for c := 0; c < channels; c++ {
				sum += v.buf.Samples[offset*int64(channels)+int64(c)]
			}
			out[i] += sum / float32(channels)
		}
	}

	for i := range out {
		if out[i] > 1 {
			out[i] = 1
		} else if out[i] < -1 {
			out[i] = -1
		}
	}

	m.written += int64(len(out))

	var ended []func()
	kept := m.voices[:0]
	for _, v := range m.voices {
		if v.startFrame+int64(v.buf.Frames()) <= m.written {
			v.stopped = true
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		kept = append(kept, v)
	}
	m.voices = kept
	return ended
}

// outputDevice is the blocking write side of an output stream.
type outputDevice interface {
	Write() error
	Stop() error
	Close() error
}

// Speaker plays scheduled voices through the default PortAudio output device.
type Speaker struct {
	mixer   *mixer
	dev     outputDevice
	out     []float32
	log     logrus.FieldLogger
	release func()

	done      chan struct{}
	loopDone  chan struct{}
	failed    chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// OpenSpeaker opens a mono output stream and starts rendering.
func OpenSpeaker(sampleRate, framesPerBuffer int, log logrus.FieldLogger) (*Speaker, error) {
	if err := acquireHost(); err != nil {
		return nil, err
	}
	out := make([]float32, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), framesPerBuffer, out)
	if err != nil {
		releaseHost()
		return nil, fmt.Errorf("open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		releaseHost()
		return nil, fmt.Errorf("start output stream: %w", err)
	}
	return newSpeaker(stream, out, sampleRate, log, releaseHost), nil
}

func newSpeaker(dev outputDevice, out []float32, sampleRate int, log logrus.FieldLogger, release func()) *Speaker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Speaker{
		mixer:    newMixer(sampleRate),
		dev:      dev,
		out:      out,
		log:      log,
		release:  release,
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
		failed:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Now returns the output clock in seconds.
func (s *Speaker) Now() float64 {
	return s.mixer.now()
}

// Start schedules buf to begin at the given output time. A time in the past
// starts at the next rendered frame.
func (s *Speaker) Start(buf Buffer, at float64, onEnded func()) (Voice, error) {
	select {
	case <-s.done:
		return nil, ErrSpeakerClosed
	case <-s.failed:
		return nil, ErrSpeakerClosed
	default:
	}
	return s.mixer.start(buf, at, onEnded), nil
}

// Failed is closed when the output device stops accepting audio.
func (s *Speaker) Failed() <-chan struct{} { return s.failed }

// Err reports the error that stopped the render loop, if any.
func (s *Speaker) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Speaker) run() {
	defer close(s.loopDone)
	for {
		select {
		case <-s.done:
			return
		default:
		}

		ended := s.mixer.fill(s.out)
		if err := s.dev.Write(); err != nil {
			if !errors.Is(err, portaudio.OutputUnderflowed) {
				s.errMu.Lock()
				s.err = fmt.Errorf("write output stream: %w", err)
				s.errMu.Unlock()
				s.mixer.clear()
				close(s.failed)
				return
			}
			s.log.WithError(err).Debug("speaker underflow, continuing")
		}
		for _, fn := range ended {
			fn()
		}
	}
}

// Close stops rendering and releases the device. Safe to call more than once.
func (s *Speaker) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		<-s.loopDone
		if stopErr := s.dev.Stop(); stopErr != nil {
			err = stopErr
		}
		if closeErr := s.dev.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		if s.release != nil {
			s.release()
		}
	})
	return err
}
