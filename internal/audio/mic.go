package audio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

var (
	hostMu   sync.Mutex
	hostRefs int
)

// acquireHost initializes PortAudio on first use. Every successful call must
// be paired with releaseHost.
func acquireHost() error {
	hostMu.Lock()
	defer hostMu.Unlock()
	if hostRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("initialize portaudio: %w", err)
		}
	}
	hostRefs++
	return nil
}

func releaseHost() {
	hostMu.Lock()
	defer hostMu.Unlock()
	if hostRefs == 0 {
		return
	}
	hostRefs--
	if hostRefs == 0 {
		_ = portaudio.Terminate()
	}
}

// Mic wraps a PortAudio mono float32 capture stream with a fixed frame size.
type Mic struct {
	stream *portaudio.Stream
	buf    []float32

	closeOnce sync.Once
}

// OpenMic opens the default input device at the given sample rate, delivering
// frames of framesPerBuffer samples.
func OpenMic(sampleRate, framesPerBuffer int) (*Mic, error) {
	if err := acquireHost(); err != nil {
		return nil, err
	}
	buf := make([]float32, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), framesPerBuffer, buf)
	if err != nil {
		releaseHost()
		return nil, fmt.Errorf("open capture stream: %w", err)
	}
	return &Mic{stream: stream, buf: buf}, nil
}

func (m *Mic) Start() error { return m.stream.Start() }
func (m *Mic) Stop() error  { return m.stream.Stop() }

// ReadFrame blocks until one frame is captured and returns a copy of it.
func (m *Mic) ReadFrame() ([]float32, error) {
	if err := m.stream.Read(); err != nil {
		return nil, err
	}
	frame := make([]float32, len(m.buf))
	copy(frame, m.buf)
	return frame, nil
}

// Close releases the stream. Safe to call more than once.
func (m *Mic) Close() error {
	var err error
	m.closeOnce.Do(func() {
		err = m.stream.Close()
		releaseHost()
	})
	return err
}
