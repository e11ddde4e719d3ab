// Package metrics holds the Prometheus collectors for the service. All
// methods are safe on a nil *Metrics so callers can leave metrics out.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	ResolveDuration  prometheus.Histogram
	ResolvedClients  prometheus.Gauge
	CacheLookups     *prometheus.CounterVec
	SourceFailures   *prometheus.CounterVec
	RecordsSkipped   *prometheus.CounterVec
	UnknownDates     *prometheus.CounterVec
	LedgerOperations *prometheus.CounterVec
	LapsedPolicies   prometheus.Gauge
	ReportsGenerated *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
}

// New registers every collector on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ResolveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "brokerdesk_client_resolve_duration_seconds",
			Help:    "Duration of full client resolution passes",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		ResolvedClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "brokerdesk_resolved_clients",
			Help: "Number of client profiles produced by the last resolution pass",
		}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "brokerdesk_client_cache_lookups_total",
			Help: "Client cache lookups by result",
		}, []string{"result"}),
		SourceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "brokerdesk_source_fetch_failures_total",
			Help: "Sources that could not be fetched after retries",
		}, []string{"source"}),
		RecordsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "brokerdesk_records_skipped_total",
			Help: "Policy records skipped during resolution",
		}, []string{"source", "reason"}),
		UnknownDates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "brokerdesk_unknown_dates_total",
			Help: "Date values that could not be normalized",
		}, []string{"source", "field"}),
		LedgerOperations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "brokerdesk_ledger_operations_total",
			Help: "Installment ledger writes by operation and outcome",
		}, []string{"operation", "outcome"}),
		LapsedPolicies: f.NewGauge(prometheus.GaugeOpts{
			Name: "brokerdesk_lapsed_installment_policies",
			Help: "Installment policies found lapsed by the last audit",
		}),
		ReportsGenerated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "brokerdesk_reports_generated_total",
			Help: "Reports rendered by kind and format",
		}, []string{"kind", "format"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "brokerdesk_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "brokerdesk_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveResolve(start time.Time, clients int) {
	if m == nil {
		return
	}
	m.ResolveDuration.Observe(time.Since(start).Seconds())
	m.ResolvedClients.Set(float64(clients))
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.CacheLookups.WithLabelValues("hit").Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.CacheLookups.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) SourceFailed(source string) {
	if m != nil {
		m.SourceFailures.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) RecordSkipped(source, reason string) {
	if m != nil {
		m.RecordsSkipped.WithLabelValues(source, reason).Inc()
	}
}

func (m *Metrics) UnknownDate(source, field string) {
	if m != nil {
		m.UnknownDates.WithLabelValues(source, field).Inc()
	}
}

func (m *Metrics) LedgerOperation(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.LedgerOperations.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) SetLapsed(n int) {
	if m != nil {
		m.LapsedPolicies.Set(float64(n))
	}
}

func (m *Metrics) ReportGenerated(kind, format string) {
	if m != nil {
		m.ReportsGenerated.WithLabelValues(kind, format).Inc()
	}
}

func (m *Metrics) ObserveHTTP(method, route string, status int, start time.Time) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
}
