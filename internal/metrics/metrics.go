package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ecomm"

// Send results
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultRejected = "rejected"
)

// Recorder collects client-side messaging metrics. A nil *Recorder records nothing.
type Recorder struct {
	sends            *prometheus.CounterVec
	rollbacks        prometheus.Counter
	refetches        *prometheus.CounterVec
	realtimeEvents   *prometheus.CounterVec
	dedupDiscards    prometheus.Counter
	typingBroadcasts *prometheus.CounterVec
	onlineUsers      prometheus.Gauge
}

// NewRecorder creates a recorder and registers its collectors with reg
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_sends_total",
			Help:      "Message sends by result.",
		}, []string{"result"}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "optimistic_rollbacks_total",
			Help:      "Optimistic messages removed after a failed send.",
		}),
		refetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_refetches_total",
			Help:      "Full message list refetches by reason.",
		}, []string{"reason"}),
		realtimeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_events_total",
			Help:      "Realtime events handled by source and type.",
		}, []string{"source", "type"}),
		dedupDiscards: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_dedup_discards_total",
			Help:      "Inserted messages discarded because the id was already present.",
		}),
		typingBroadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "typing_broadcasts_total",
			Help:      "Typing broadcasts sent by event.",
		}, []string{"event"}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "presence_online_users",
			Help:      "Identities currently online on the presence channel.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			r.sends,
			r.rollbacks,
			r.refetches,
			r.realtimeEvents,
			r.dedupDiscards,
			r.typingBroadcasts,
			r.onlineUsers,
		)
	}
	return r
}

func (r *Recorder) Send(result string) {
	if r == nil {
		return
	}
	r.sends.WithLabelValues(result).Inc()
}

func (r *Recorder) Rollback() {
	if r == nil {
		return
	}
	r.rollbacks.Inc()
}

func (r *Recorder) Refetch(reason string) {
	if r == nil {
		return
	}
	r.refetches.WithLabelValues(reason).Inc()
}

func (r *Recorder) RealtimeEvent(source, eventType string) {
	if r == nil {
		return
	}
	r.realtimeEvents.WithLabelValues(source, eventType).Inc()
}

func (r *Recorder) DedupDiscard() {
	if r == nil {
		return
	}
	r.dedupDiscards.Inc()
}

func (r *Recorder) TypingBroadcast(event string) {
	if r == nil {
		return
	}
	r.typingBroadcasts.WithLabelValues(event).Inc()
}

func (r *Recorder) SetOnline(n int) {
	if r == nil {
		return
	}
	r.onlineUsers.Set(float64(n))
}
