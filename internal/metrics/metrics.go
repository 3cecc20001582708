// Package metrics exports Prometheus collectors for scans, deliveries,
// registrations and the HTTP API. All collectors live on an explicit
// registry so tests can build isolated instances.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"noticebot/internal/scan"
)

const namespace = "noticebot"

type Metrics struct {
	reg *prometheus.Registry

	scans        *prometheus.CounterVec
	scanDuration prometheus.Histogram
	lastScan     prometheus.Gauge
	pages        *prometheus.CounterVec
	newNotices   prometheus.Counter

	sends        *prometheus.CounterVec
	sendDuration prometheus.Histogram

	registrations *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New builds a registry carrying the Go and process collectors plus the
// bot's own.
func New() (*Metrics, error) {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Completed scans partitioned by result.",
		}, []string{"result"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Wall time per scan, fetch through delivery.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		lastScan: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_scan_timestamp_seconds",
			Help:      "Unix time the last scan finished.",
		}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_total",
			Help:      "Board pages processed partitioned by result.",
		}, []string{"result"}),
		newNotices: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notices_new_total",
			Help:      "Notices stored for the first time.",
		}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Outbound messages partitioned by result.",
		}, []string{"result"}),
		sendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notification_duration_seconds",
			Help:      "Time to deliver one message including retries.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Registration attempts partitioned by source and status.",
		}, []string{"source", "status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests partitioned by method and code.",
		}, []string{"method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency partitioned by method and route.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30},
		}, []string{"method", "route"}),
	}
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.scans, m.scanDuration, m.lastScan, m.pages, m.newNotices,
		m.sends, m.sendDuration,
		m.registrations,
		m.httpRequests, m.httpDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) ObserveScan(rep scan.Report) {
	result := "ok"
	if rep.Err != "" {
		result = "error"
	}
	m.scans.WithLabelValues(result).Inc()
	m.scanDuration.Observe(rep.FinishedAt.Sub(rep.StartedAt).Seconds())
	m.lastScan.Set(float64(rep.FinishedAt.Unix()))
	for _, p := range rep.Pages {
		if p.Failed() {
			m.pages.WithLabelValues("failed").Inc()
		} else {
			m.pages.WithLabelValues("ok").Inc()
		}
	}
	m.newNotices.Add(float64(len(rep.NewNotices)))
}

func (m *Metrics) ObserveSend(err error, took time.Duration) {
	if err != nil {
		m.sends.WithLabelValues("failed").Inc()
	} else {
		m.sends.WithLabelValues("sent").Inc()
	}
	m.sendDuration.Observe(took.Seconds())
}

func (m *Metrics) ObserveRegistration(source, status string) {
	m.registrations.WithLabelValues(source, status).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, code int, took time.Duration) {
	m.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(took.Seconds())
}
