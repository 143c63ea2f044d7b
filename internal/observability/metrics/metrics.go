package metrics

import "github.com/prometheus/client_golang/prometheus"

// HTTPMetrics exposes counters/histograms for the public API surface.
type HTTPMetrics struct {
	requestsTotal  *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carebridge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests served",
		}, []string{"route", "method", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "carebridge",
			Subsystem: "http",
			Name:      "request_latency_seconds",
			Help:      "Latency of HTTP request handling",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requestsTotal, m.requestLatency)
	return m
}

func (m *HTTPMetrics) ObserveRequest(route, method, status string, seconds float64) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, method, status).Inc()
	m.requestLatency.WithLabelValues(route, method).Observe(seconds)
}

// AgentMetrics tracks the assistant chat pipeline.
type AgentMetrics struct {
	jobsTotal    *prometheus.CounterVec
	guardTotal   *prometheus.CounterVec
	queueLatency *prometheus.HistogramVec
}

func NewAgentMetrics(reg prometheus.Registerer) *AgentMetrics {
	m := &AgentMetrics{
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carebridge",
			Subsystem: "agent",
			Name:      "jobs_total",
			Help:      "Total agent chat jobs by terminal status",
		}, []string{"status"}),
		guardTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carebridge",
			Subsystem: "agent",
			Name:      "guard_total",
			Help:      "Prompt/output guard decisions",
		}, []string{"guard", "action"}),
		queueLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "carebridge",
			Subsystem: "agent",
			Name:      "queue_latency_seconds",
			Help:      "Time between enqueue and worker pickup",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"queue"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.jobsTotal, m.guardTotal, m.queueLatency)
	return m
}

func (m *AgentMetrics) ObserveJob(status string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(status).Inc()
}

func (m *AgentMetrics) ObserveGuard(guard, action string) {
	if m == nil {
		return
	}
	m.guardTotal.WithLabelValues(guard, action).Inc()
}

func (m *AgentMetrics) ObserveQueueLatency(queue string, seconds float64) {
	if m == nil {
		return
	}
	m.queueLatency.WithLabelValues(queue).Observe(seconds)
}

// ClaimsMetrics tracks claim lifecycle transitions and clearinghouse traffic.
type ClaimsMetrics struct {
	transitionsTotal *prometheus.CounterVec
	scrubFailTotal   *prometheus.CounterVec
	webhookLatency   *prometheus.HistogramVec
}

func NewClaimsMetrics(reg prometheus.Registerer) *ClaimsMetrics {
	m := &ClaimsMetrics{
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carebridge",
			Subsystem: "claims",
			Name:      "transitions_total",
			Help:      "Claim status transitions",
		}, []string{"from", "to"}),
		scrubFailTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carebridge",
			Subsystem: "claims",
			Name:      "scrub_failures_total",
			Help:      "Claims rejected by the pre-submission scrub",
		}, []string{"reason"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "carebridge",
			Subsystem: "claims",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of clearinghouse webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitionsTotal, m.scrubFailTotal, m.webhookLatency)
	return m
}

func (m *ClaimsMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *ClaimsMetrics) ObserveScrubFailure(reason string) {
	if m == nil {
		return
	}
	m.scrubFailTotal.WithLabelValues(reason).Inc()
}

func (m *ClaimsMetrics) ObserveWebhookLatency(eventType string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(eventType).Observe(seconds)
}
