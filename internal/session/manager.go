package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sjawhar/lingua-live/internal/audio"
	"github.com/sjawhar/lingua-live/internal/live"
	"github.com/sjawhar/lingua-live/internal/metrics"
	"github.com/sjawhar/lingua-live/internal/playback"
	"github.com/sjawhar/lingua-live/internal/transcript"
	"github.com/sjawhar/lingua-live/internal/tutor"
)

const recapTimeout = 2 * time.Minute

type Config struct {
	APIKey           string
	Language         tutor.Language
	Scenario         tutor.Scenario
	MicSampleRate    int
	MicFrameSize     int
	OutputSampleRate int
	OutputFrameSize  int

	// Voice overrides the language's default prebuilt voice.
	Voice string
}

func (c Config) withDefaults() Config {
	if c.MicSampleRate <= 0 {
		c.MicSampleRate = audio.InputSampleRate
	}
	if c.MicFrameSize <= 0 {
		c.MicFrameSize = 4096
	}
	if c.OutputSampleRate <= 0 {
		c.OutputSampleRate = audio.OutputSampleRate
	}
	if c.OutputFrameSize <= 0 {
		c.OutputFrameSize = 1024
	}
	if c.Voice == "" {
		c.Voice = c.Language.Voice()
	}
	return c
}

// Deps are the collaborators a Manager drives.
type Deps struct {
	Dialer      Dialer
	OpenCapture CaptureOpener
	OpenOutput  OutputOpener
	Sink        EventSink
	Recapper    Recapper
	Metrics     *metrics.Metrics
	Log         logrus.FieldLogger
}

// active holds the resources of one connected session.
type active struct {
	stream  Stream
	capture Capture
	output  Output
	tracker *playback.Tracker

	// started is set once the loops run; the capture loop then owns
	// stopping and closing the capture device.
	started     bool
	done        chan struct{}
	captureDone chan struct{}
	pumpDone    chan struct{}
	releaseOnce sync.Once
}

// Manager owns the live tutoring session: its connection, microphone,
// playback and transcript. All state changes are serialized by mu.
type Manager struct {
	cfg         Config
	dialer      Dialer
	openCapture CaptureOpener
	openOutput  OutputOpener
	sink        EventSink
	recapper    Recapper
	metrics     *metrics.Metrics
	log         logrus.FieldLogger

	mu       sync.Mutex
	state    State
	volume   float64
	gen      uint64
	cur      *active
	cancel   context.CancelFunc
	lines    []transcript.Message
	lastSnap Snapshot
}

func NewManager(cfg Config, deps Deps) *Manager {
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	m := &Manager{
		cfg:         cfg.withDefaults(),
		dialer:      deps.Dialer,
		openCapture: deps.OpenCapture,
		openOutput:  deps.OpenOutput,
		sink:        deps.Sink,
		recapper:    deps.Recapper,
		metrics:     deps.Metrics,
		log:         log.WithField("component", "session"),
		state:       State{Status: StatusDisconnected},
	}
	m.lastSnap = m.snapshotLocked()
	return m
}

// Connect opens the microphone and speaker, then dials the remote service.
// It returns once the session is connected or the attempt has failed.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Status != StatusDisconnected {
		m.mu.Unlock()
		m.metrics.ConnectOutcome("already_active")
		return ErrAlreadyActive
	}
	if strings.TrimSpace(m.cfg.APIKey) == "" {
		m.state.Err = msgConfiguration
		m.notifyLocked()
		m.mu.Unlock()
		m.metrics.ConnectOutcome("configuration")
		return newError(KindConfiguration, "connect", ErrMissingCredential)
	}
	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.cancel = cancel
	m.state.Status = StatusConnecting
	m.state.Err = ""
	m.notifyLocked()
	m.mu.Unlock()

	a := &active{
		done:        make(chan struct{}),
		captureDone: make(chan struct{}),
		pumpDone:    make(chan struct{}),
	}

	capture, err := m.openCapture(m.cfg.MicSampleRate, m.cfg.MicFrameSize)
	if err != nil {
		return m.failConnect(gen, a, newError(KindDevice, "open microphone", err))
	}
	a.capture = capture
	if err := capture.Start(); err != nil {
		return m.failConnect(gen, a, newError(KindDevice, "start microphone", err))
	}

	output, err := m.openOutput(m.cfg.OutputSampleRate, m.cfg.OutputFrameSize)
	if err != nil {
		return m.failConnect(gen, a, newError(KindDevice, "open speaker", err))
	}
	a.output = output
	a.tracker = playback.NewTracker(output)

	setup := live.Setup{
		SystemInstruction: tutor.SystemInstruction(m.cfg.Scenario, m.cfg.Language),
		Voice:             m.cfg.Voice,
	}
	stream, err := m.dialer.Dial(ctx, setup)
	if err != nil {
		return m.failConnect(gen, a, newError(KindTransport, "dial live service", err))
	}
	a.stream = stream

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		m.release(a, false)
		m.metrics.ConnectOutcome("canceled")
		return ErrConnectCanceled
	}
	m.cur = a
	m.cancel = nil
	a.started = true
	m.state.Status = StatusConnected
	m.state.Gate = false
	m.state.Queued = 0
	m.volume = 0
	m.lines = nil
	m.notifyLocked()
	m.mu.Unlock()

	m.metrics.ConnectOutcome("connected")
	m.metrics.SessionStarted()
	m.log.WithFields(logrus.Fields{
		"language": m.cfg.Language,
		"scenario": m.cfg.Scenario,
	}).Info("session connected")

	go m.captureLoop(a)
	go m.pump(a)
	return nil
}

func (m *Manager) failConnect(gen uint64, a *active, serr *Error) error {
	m.release(a, false)

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		m.metrics.ConnectOutcome("canceled")
		return ErrConnectCanceled
	}
	m.cancel = nil
	m.state.Status = StatusDisconnected
	m.state.Err = serr.Message
	m.notifyLocked()
	m.mu.Unlock()

	m.metrics.ConnectOutcome(string(serr.Kind))
	m.log.WithError(serr).WithField("kind", serr.Kind).Warn("session connect failed")
	return serr
}

// Disconnect tears the session down. It is safe to call at any time,
// including while Connect is in progress, and more than once.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	a := m.cur
	m.cur = nil
	m.resetLocked()
	m.state.Err = ""
	lines := m.takeLinesLocked()
	m.notifyLocked()
	m.mu.Unlock()

	if a == nil {
		return nil
	}

	m.release(a, true)
	m.waitLoops(ctx, a)
	m.metrics.SessionEnded("disconnect")
	m.log.Info("session disconnected")
	m.startRecap(lines)
	return nil
}

func (m *Manager) resetLocked() {
	m.state.Status = StatusDisconnected
	m.state.Gate = false
	m.state.Queued = 0
	m.state.Transcript.Discard(transcript.RoleUser)
	m.state.Transcript.Discard(transcript.RoleAI)
	m.volume = 0
	if m.sink != nil {
		m.sink.Volume(0)
	}
}

func (m *Manager) takeLinesLocked() []transcript.Message {
	lines := m.lines
	m.lines = nil
	return lines
}

// release closes every resource of a, continuing past failures. stopPlayback
// drains queued speech before the speaker closes.
func (m *Manager) release(a *active, stopPlayback bool) {
	a.releaseOnce.Do(func() {
		close(a.done)

		if a.stream != nil {
			if err := a.stream.Close(); err != nil {
				m.log.WithError(err).Warn("close live stream")
			}
		}
		if a.capture != nil {
			if !a.started {
				m.closeCapture(a)
			}
		}
		if a.tracker != nil && stopPlayback {
			a.tracker.DrainAll()
		}
		if a.output != nil {
			if err := a.output.Close(); err != nil {
				m.log.WithError(err).Warn("close speaker")
			}
		}
	})
}

func (m *Manager) closeCapture(a *active) {
	if err := a.capture.Stop(); err != nil {
		m.log.WithError(err).Warn("stop microphone")
	}
	if err := a.capture.Close(); err != nil {
		m.log.WithError(err).Warn("close microphone")
	}
}

func (m *Manager) waitLoops(ctx context.Context, a *active) {
	for _, ch := range []chan struct{}{a.captureDone, a.pumpDone} {
		select {
		case <-ch:
		case <-ctx.Done():
			m.log.Warn("session loops still running after disconnect deadline")
			return
		}
	}
}

// ActivateMic stops any tutor speech and opens the gate.
func (m *Manager) ActivateMic() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.cur
	if a == nil {
		return ErrNoStream
	}
	if n := a.tracker.DrainAll(); n > 0 {
		m.metrics.BargeIn("mic")
	}
	m.state.Queued = 0
	m.state.Gate = true
	m.metrics.Queued(0)
	m.notifyLocked()
	return nil
}

// DeactivateMic closes the gate. Queued tutor speech keeps playing.
func (m *Manager) DeactivateMic() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Gate = false
	m.notifyLocked()
	return nil
}

// SendText submits a typed learner turn. It is a no-op without an open
// stream. Send failures are logged and the shown message stays.
func (m *Manager) SendText(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	m.mu.Lock()
	a := m.cur
	if a == nil {
		m.mu.Unlock()
		return nil
	}
	if n := a.tracker.DrainAll(); n > 0 {
		m.metrics.BargeIn("text")
	}
	m.state.Queued = 0
	m.metrics.Queued(0)
	if msg, ok := m.state.Transcript.Finalize(transcript.RoleUser); ok {
		m.emitLocked(msg)
	}
	m.emitLocked(m.state.Transcript.Final(transcript.RoleUser, text))
	m.notifyLocked()
	m.mu.Unlock()

	if err := a.stream.SendText(ctx, text); err != nil {
		m.metrics.SendFailed("text")
		m.log.WithError(err).Warn("send text turn")
	}
	return nil
}

// Snapshot returns the current observable state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{
		Status:    m.state.Status,
		Connected: m.state.Status == StatusConnected,
		MicState:  m.state.MicState(),
		MicActive: m.state.Gate,
		Error:     m.state.Err,
		Volume:    m.volume,
		Language:  m.cfg.Language,
		Scenario:  m.cfg.Scenario,
	}
}

// notifyLocked publishes the snapshot when anything but volume changed.
func (m *Manager) notifyLocked() {
	snap := m.snapshotLocked()
	cmp := snap
	cmp.Volume = m.lastSnap.Volume
	if cmp == m.lastSnap {
		return
	}
	m.lastSnap = snap
	if m.sink != nil {
		m.sink.StateChanged(snap)
	}
}

func (m *Manager) emitLocked(msg transcript.Message) {
	if msg.Final {
		m.lines = append(m.lines, msg)
		m.metrics.MessageFinalized(string(msg.Role))
	}
	if m.sink != nil {
		m.sink.Transcript(msg)
	}
}

func (m *Manager) captureLoop(a *active) {
	defer close(a.captureDone)
	defer m.closeCapture(a)

	for {
		select {
		case <-a.done:
			return
		default:
		}

		frame, err := a.capture.ReadFrame()
		if err != nil {
			select {
			case <-a.done:
				return
			default:
			}
			if strings.Contains(strings.ToLower(err.Error()), "overflow") {
				m.log.WithError(err).Debug("microphone overflow, continuing")
				continue
			}
			m.apply(a, Event{Kind: EventError, Err: newError(KindDevice, "read microphone", err)})
			return
		}
		m.onFrame(a, frame)
	}
}

func (m *Manager) onFrame(a *active, frame []float32) {
	level := audio.RMS(frame)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur != a {
		return
	}
	m.volume = level
	if m.sink != nil {
		m.sink.Volume(level)
	}

	forwarded := m.state.Gate
	m.metrics.FrameCaptured(forwarded)
	if !forwarded {
		return
	}
	if err := a.stream.SendAudio(audio.Encode(frame)); err != nil {
		m.metrics.SendFailed("audio")
		m.log.WithError(err).Debug("send audio frame")
	}
}

func (m *Manager) pump(a *active) {
	defer close(a.pumpDone)

	events := a.stream.Events()
	for {
		select {
		case msg, ok := <-events:
			if !ok {
				m.streamEnded(a)
				return
			}
			for _, ev := range Translate(msg) {
				if !m.apply(a, ev) {
					return
				}
			}
		case <-a.output.Failed():
			m.apply(a, Event{Kind: EventError, Err: newError(KindDevice, "play speech", a.output.Err())})
			return
		}
	}
}

func (m *Manager) streamEnded(a *active) {
	if err := a.stream.Err(); err != nil {
		m.apply(a, Event{Kind: EventError, Err: newError(KindTransport, "live stream", err)})
		return
	}
	m.apply(a, Event{Kind: EventClosed})
}

// apply runs one event through the reducer and performs its effects. It
// reports false once a is no longer the current session.
func (m *Manager) apply(a *active, ev Event) bool {
	m.mu.Lock()
	if m.cur != a {
		m.mu.Unlock()
		return false
	}

	m.state.Queued = a.tracker.Len()
	next, effects := Reduce(m.state, ev)
	m.state = next

	teardown := false
	var cause error
	for _, eff := range effects {
		switch eff.Kind {
		case EffectEmit:
			m.emitLocked(eff.Message)
		case EffectSchedule:
			m.scheduleLocked(a, eff.Audio)
		case EffectDrain:
			if n := a.tracker.DrainAll(); n > 0 {
				m.metrics.BargeIn("server")
			}
		case EffectTeardown:
			teardown = true
			cause = eff.Err
		}
	}

	var lines []transcript.Message
	if teardown {
		m.cur = nil
		m.gen++
		m.volume = 0
		if m.sink != nil {
			m.sink.Volume(0)
		}
		lines = m.takeLinesLocked()
	} else {
		m.state.Queued = a.tracker.Len()
	}
	m.metrics.Queued(m.state.Queued)
	m.notifyLocked()
	m.mu.Unlock()

	if !teardown {
		return true
	}

	m.release(a, true)
	reason := "closed"
	if cause != nil {
		reason = "error"
		var serr *Error
		if errors.As(cause, &serr) {
			reason = string(serr.Kind)
		}
		m.log.WithError(cause).Warn("session ended with error")
	} else {
		m.log.Info("session closed by remote service")
	}
	m.metrics.SessionEnded(reason)
	m.startRecap(lines)
	return false
}

func (m *Manager) scheduleLocked(a *active, payload string) {
	raw, err := audio.Decode(payload)
	if err != nil {
		m.dropSegment(err)
		return
	}
	buf, err := audio.DecodeAudioData(raw, m.cfg.OutputSampleRate, 1)
	if err != nil {
		m.dropSegment(err)
		return
	}
	if buf.Frames() == 0 {
		return
	}

	if _, err := a.tracker.Schedule(buf, func() { m.segmentEnded(a) }); err != nil {
		m.dropSegment(err)
		return
	}
	m.metrics.SegmentScheduled(a.tracker.Len())
}

func (m *Manager) dropSegment(err error) {
	m.metrics.SegmentDropped()
	m.log.WithError(newError(KindDecode, "schedule speech", err)).Debug("dropping speech segment")
}

// segmentEnded runs on the speaker goroutine after a segment finishes.
func (m *Manager) segmentEnded(a *active) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur != a {
		return
	}
	m.state.Queued = a.tracker.Len()
	m.metrics.Queued(m.state.Queued)
	m.notifyLocked()
}

func (m *Manager) startRecap(lines []transcript.Message) {
	if m.recapper == nil || len(lines) == 0 {
		return
	}
	go m.generateRecap(lines)
}

func (m *Manager) generateRecap(lines []transcript.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), recapTimeout)
	defer cancel()

	text, err := m.recapper.Recap(ctx, m.cfg.Language, m.cfg.Scenario, lines)
	if err != nil {
		m.log.WithError(err).Info("no recap for session")
		return
	}
	if text == "" || m.sink == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink.RecapReady(text)
}
