package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the session collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Session lifecycle
	ConnectAttempts *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
	SessionsEnded   *prometheus.CounterVec

	// Capture
	FramesCaptured  prometheus.Counter
	FramesForwarded prometheus.Counter
	SendFailures    *prometheus.CounterVec

	// Playback
	SegmentsScheduled prometheus.Counter
	SegmentsDropped   prometheus.Counter
	QueuedSegments    prometheus.Gauge
	BargeIns          *prometheus.CounterVec

	// Transcript
	MessagesFinalized *prometheus.CounterVec
}

// New creates collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ConnectAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lingua_connect_attempts_total",
			Help: "Connection attempts by outcome",
		}, []string{"outcome"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "lingua_active_sessions",
			Help: "1 while a live session is connected",
		}),
		SessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lingua_sessions_ended_total",
			Help: "Sessions ended by reason",
		}, []string{"reason"}),
		FramesCaptured: f.NewCounter(prometheus.CounterOpts{
			Name: "lingua_mic_frames_captured_total",
			Help: "Microphone frames pulled from the capture device",
		}),
		FramesForwarded: f.NewCounter(prometheus.CounterOpts{
			Name: "lingua_mic_frames_forwarded_total",
			Help: "Microphone frames sent to the remote service",
		}),
		SendFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lingua_send_failures_total",
			Help: "Outbound messages that failed to send",
		}, []string{"kind"}),
		SegmentsScheduled: f.NewCounter(prometheus.CounterOpts{
			Name: "lingua_playback_segments_scheduled_total",
			Help: "AI speech segments scheduled for playback",
		}),
		SegmentsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "lingua_playback_segments_dropped_total",
			Help: "AI speech segments dropped because they could not be decoded or scheduled",
		}),
		QueuedSegments: f.NewGauge(prometheus.GaugeOpts{
			Name: "lingua_playback_queued_segments",
			Help: "AI speech segments currently scheduled or playing",
		}),
		BargeIns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lingua_barge_ins_total",
			Help: "Playback drains by trigger",
		}, []string{"trigger"}),
		MessagesFinalized: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lingua_messages_finalized_total",
			Help: "Final transcript messages by role",
		}, []string{"role"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnectOutcome(outcome string) {
	if m == nil {
		return
	}
	m.ConnectAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(1)
}

func (m *Metrics) SessionEnded(reason string) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(0)
	m.QueuedSegments.Set(0)
	m.SessionsEnded.WithLabelValues(reason).Inc()
}

func (m *Metrics) FrameCaptured(forwarded bool) {
	if m == nil {
		return
	}
	m.FramesCaptured.Inc()
	if forwarded {
		m.FramesForwarded.Inc()
	}
}

func (m *Metrics) SendFailed(kind string) {
	if m == nil {
		return
	}
	m.SendFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) SegmentScheduled(queued int) {
	if m == nil {
		return
	}
	m.SegmentsScheduled.Inc()
	m.QueuedSegments.Set(float64(queued))
}

func (m *Metrics) SegmentDropped() {
	if m == nil {
		return
	}
	m.SegmentsDropped.Inc()
}

func (m *Metrics) Queued(n int) {
	if m == nil {
		return
	}
	m.QueuedSegments.Set(float64(n))
}

func (m *Metrics) BargeIn(trigger string) {
	if m == nil {
		return
	}
	m.BargeIns.WithLabelValues(trigger).Inc()
}

func (m *Metrics) MessageFinalized(role string) {
	if m == nil {
		return
	}
	m.MessagesFinalized.WithLabelValues(role).Inc()
}
