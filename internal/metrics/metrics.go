package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medtrack"

type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration prometheus.Histogram
	requestsLimited prometheus.Counter

	doseActions        *prometheus.CounterVec
	eventsGenerated    prometheus.Counter
	statusChanges      *prometheus.CounterVec
	frequencyFallbacks prometheus.Counter
	prnDoses           *prometheus.CounterVec

	repairIssues *prometheus.CounterVec
	repairFixes  prometheus.Counter
	sweeps       *prometheus.CounterVec

	activeConnections prometheus.Gauge
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

// New builds a Metrics set on its own registry, so tests can create as many
// as they like without duplicate registration panics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := func(c prometheus.Collector) { reg.MustRegister(c) }

	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by status code.",
		}, []string{"code"}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}),
		requestsLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}),
		doseActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dose_actions_total",
			Help: "Dose transitions applied, by action.",
		}, []string{"action"}),
		eventsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "dose_events_generated_total",
			Help: "Dose events created or revived by schedule generation.",
		}),
		statusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "medication_status_changes_total",
			Help: "Medication lifecycle transitions, by change type.",
		}, []string{"type"}),
		frequencyFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frequency_fallbacks_total",
			Help: "Frequency texts that were not recognized and defaulted to daily.",
		}),
		prnDoses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "prn_doses_total",
			Help: "As-needed intakes, by result.",
		}, []string{"result"}),
		repairIssues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "repair_issues_total",
			Help: "Schedule issues detected by diagnostics, by kind.",
		}, []string{"issue"}),
		repairFixes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "repair_fixes_total",
			Help: "Schedule fixes applied by diagnostics.",
		}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sweep_patients_total",
			Help: "Per-patient repair runs made by the background sweep, by result.",
		}, []string{"result"}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "websocket_connections",
			Help: "Open day-view websocket connections.",
		}),
	}

	f(m.requests)
	f(m.requestDuration)
	f(m.requestsLimited)
	f(m.doseActions)
	f(m.eventsGenerated)
	f(m.statusChanges)
	f(m.frequencyFallbacks)
	f(m.prnDoses)
	f(m.repairIssues)
	f(m.repairFixes)
	f(m.sweeps)
	f(m.activeConnections)
	f(collectors.NewGoCollector())
	f(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

func (m *Metrics) RecordRequest(code int, d time.Duration) {
	m.requests.WithLabelValues(strconv.Itoa(code)).Inc()
	m.requestDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordRequestLimited() {
	m.requestsLimited.Inc()
}

func (m *Metrics) RecordDoseAction(action string) {
	m.doseActions.WithLabelValues(action).Inc()
}

func (m *Metrics) RecordEventsGenerated(n int) {
	if n > 0 {
		m.eventsGenerated.Add(float64(n))
	}
}

func (m *Metrics) RecordStatusChange(changeType string) {
	m.statusChanges.WithLabelValues(changeType).Inc()
}

func (m *Metrics) RecordFrequencyFallback() {
	m.frequencyFallbacks.Inc()
}

func (m *Metrics) RecordPRNDose(blocked bool) {
	result := "recorded"
	if blocked {
		result = "blocked"
	}
	m.prnDoses.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordRepair(issues []string, fixes int) {
	for _, issue := range issues {
		m.repairIssues.WithLabelValues(issue).Inc()
	}
	if fixes > 0 {
		m.repairFixes.Add(float64(fixes))
	}
}

func (m *Metrics) RecordSweep(result string) {
	m.sweeps.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrementActiveConnections() {
	m.activeConnections.Inc()
}

func (m *Metrics) DecrementActiveConnections() {
	m.activeConnections.Dec()
}

// Registry exposes the underlying registry for scraping and tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func RecordRequest(code int, d time.Duration) {
	Default().RecordRequest(code, d)
}

func RecordRequestLimited() {
	Default().RecordRequestLimited()
}

func RecordDoseAction(action string) {
	Default().RecordDoseAction(action)
}

func RecordEventsGenerated(n int) {
	Default().RecordEventsGenerated(n)
}

func RecordStatusChange(changeType string) {
	Default().RecordStatusChange(changeType)
}

func RecordFrequencyFallback() {
	Default().RecordFrequencyFallback()
}

func RecordPRNDose(blocked bool) {
	Default().RecordPRNDose(blocked)
}

func RecordRepair(issues []string, fixes int) {
	Default().RecordRepair(issues, fixes)
}

func RecordSweep(result string) {
	Default().RecordSweep(result)
}

func Handler() http.Handler {
	return Default().Handler()
}
