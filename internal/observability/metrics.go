package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ChatTurns     *prometheus.CounterVec
	CrisisFlags   prometheus.Counter
	BrainErrors   *prometheus.CounterVec
	ReplyLatency  prometheus.Histogram
	Checkins      *prometheus.CounterVec
	CacheLookups  *prometheus.CounterVec
	SessionsEnded prometheus.Counter
	EmailsSent    *prometheus.CounterVec
	WSMessages    *prometheus.CounterVec
	ActiveStreams prometheus.Gauge
	HTTPRequests  *prometheus.HistogramVec
	PersistErrors *prometheus.CounterVec
	latency       *latencyWindow
}

// NewMetrics registers instruments on the default registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegistry(namespace, prometheus.DefaultRegisterer)
}

func NewMetricsWithRegistry(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChatTurns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turns_total",
			Help:      "Chat turns by reply provider and outcome.",
		}, []string{"provider", "outcome"}),
		CrisisFlags: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crisis_flags_total",
			Help:      "User messages flagged as describing a crisis.",
		}),
		BrainErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "brain_errors_total",
			Help:      "Model backend errors by stage.",
		}, []string{"stage"}),
		ReplyLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reply_latency_ms",
			Help:      "Time to a complete assistant reply in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		}),
		Checkins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkins_total",
			Help:      "Mood check-ins by owner kind.",
		}, []string{"kind"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "KV cache lookups by cache and result.",
		}, []string{"cache", "result"}),
		SessionsEnded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Conversations closed by the idle janitor.",
		}),
		EmailsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_total",
			Help:      "Outbound emails by kind and outcome.",
		}, []string{"kind", "outcome"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_chat_streams",
			Help:      "Number of open chat websocket connections.",
		}),
		HTTPRequests: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route, method and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		PersistErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Store writes that failed and were skipped.",
		}, []string{"entity"}),
		latency: newLatencyWindow(256),
	}
}

func (m *Metrics) ObserveChatTurn(provider, outcome string) {
	if m == nil {
		return
	}
	if provider == "" {
		provider = "none"
	}
	m.ChatTurns.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) ObserveCrisis() {
	if m == nil {
		return
	}
	m.CrisisFlags.Inc()
	m.latency.ObserveIndicator("crisis_flag")
}

func (m *Metrics) ObserveBrainError(stage string) {
	if m == nil {
		return
	}
	m.BrainErrors.WithLabelValues(stage).Inc()
	m.latency.ObserveIndicator("brain_error")
}

// ObserveStage records a reply stage duration in the rolling window; the
// reply_total stage also feeds the histogram.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	ms := float64(d) / float64(time.Millisecond)
	if stage == StageReplyTotal {
		m.ReplyLatency.Observe(ms)
	}
	m.latency.Observe(stage, ms)
}

func (m *Metrics) ObserveCheckin(anonymous bool) {
	if m == nil {
		return
	}
	kind := "user"
	if anonymous {
		kind = "anonymous"
	}
	m.Checkins.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveCache(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(cache, result).Inc()
}

func (m *Metrics) ObserveSessionsEnded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsEnded.Add(float64(n))
}

func (m *Metrics) ObserveEmail(kind string, err error) {
	if m == nil {
		return
	}
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	m.EmailsSent.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObservePersistError(entity string) {
	if m == nil {
		return
	}
	m.PersistErrors.WithLabelValues(entity).Inc()
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}

func (m *Metrics) ObserveHTTP(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Observe(d.Seconds())
}

// LatencySnapshot summarizes the rolling reply latency window.
func (m *Metrics) LatencySnapshot() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{GeneratedAt: time.Now().UTC(), Stages: []StageStats{}}
	}
	return m.latency.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// MetricsHandlerFor serves a specific gatherer, used with private registries.
func MetricsHandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
