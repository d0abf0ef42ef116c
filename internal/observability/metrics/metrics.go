package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DialogueMetrics exposes counters/histograms for the intake dialogue.
type DialogueMetrics struct {
	transitions     *prometheus.CounterVec
	reprompts       *prometheus.CounterVec
	sessionErrors   *prometheus.CounterVec
	handoffs        *prometheus.CounterVec
	handoffLatency  prometheus.Histogram
	transcribeTotal *prometheus.CounterVec
	transcribeTime  prometheus.Histogram
}

func NewDialogueMetrics(reg prometheus.Registerer) *DialogueMetrics {
	m := &DialogueMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "minwondesk",
			Subsystem: "dialogue",
			Name:      "stage_transitions_total",
			Help:      "Stage transitions by destination and reason",
		}, []string{"stage", "reason"}),
		reprompts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "minwondesk",
			Subsystem: "dialogue",
			Name:      "reprompts_total",
			Help:      "Prompts repeated after unrecognized input",
		}, []string{"stage"}),
		sessionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "minwondesk",
			Subsystem: "dialogue",
			Name:      "session_errors_total",
			Help:      "Session errors reported to the kiosk",
		}, []string{"code"}),
		handoffs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "minwondesk",
			Subsystem: "handoff",
			Name:      "submissions_total",
			Help:      "Complaint submissions by outcome",
		}, []string{"status", "requires_visit"}),
		handoffLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "minwondesk",
			Subsystem: "handoff",
			Name:      "submit_latency_seconds",
			Help:      "Latency of complaint store submissions",
			Buckets:   prometheus.DefBuckets,
		}),
		transcribeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "minwondesk",
			Subsystem: "speech",
			Name:      "transcriptions_total",
			Help:      "Utterance transcriptions by outcome",
		}, []string{"status"}),
		transcribeTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "minwondesk",
			Subsystem: "speech",
			Name:      "transcription_latency_seconds",
			Help:      "Latency of utterance transcription",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.transitions,
		m.reprompts,
		m.sessionErrors,
		m.handoffs,
		m.handoffLatency,
		m.transcribeTotal,
		m.transcribeTime,
	)
	return m
}

func (m *DialogueMetrics) ObserveTransition(stage, reason string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(stage, reason).Inc()
}

func (m *DialogueMetrics) ObserveReprompt(stage string) {
	if m == nil {
		return
	}
	m.reprompts.WithLabelValues(stage).Inc()
}

func (m *DialogueMetrics) ObserveSessionError(code string) {
	if m == nil {
		return
	}
	m.sessionErrors.WithLabelValues(code).Inc()
}

func (m *DialogueMetrics) ObserveHandoff(err error, requiresVisit bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "failed"
	}
	visit := "false"
	if requiresVisit {
		visit = "true"
	}
	m.handoffs.WithLabelValues(status, visit).Inc()
	m.handoffLatency.Observe(elapsed.Seconds())
}

func (m *DialogueMetrics) ObserveTranscription(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "failed"
	}
	m.transcribeTotal.WithLabelValues(status).Inc()
	m.transcribeTime.Observe(elapsed.Seconds())
}
