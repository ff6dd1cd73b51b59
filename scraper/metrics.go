package scraper

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scraper.
type Metrics struct {
	Registry          *prometheus.Registry
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	PagesTotal        *prometheus.CounterVec
	OrdersTotal       prometheus.Counter
	RetriesTotal      prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
	HeaderExtractions *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_requests_total",
			Help: "Order API requests by response class.",
		},
		[]string{"status"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orders_request_duration_seconds",
			Help:    "Order API request latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_pages_total",
			Help: "Processed pages by result (appended, skipped, duplicate).",
		},
		[]string{"result"},
	)
	orders := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orders_collected_total",
			Help: "Orders matching the year filter on appended pages.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orders_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_errors_total",
			Help: "Total number of collection errors by type.",
		},
		[]string{"error_type"},
	)
	headers := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_header_extractions_total",
			Help: "Header extractions by source and completeness.",
		},
		[]string{"source", "complete"},
	)

	registry.MustRegister(requests, requestDuration, pages, orders, retries, errorsTotal, headers)

	return &Metrics{
		Registry:          registry,
		RequestsTotal:     requests,
		RequestDuration:   requestDuration,
		PagesTotal:        pages,
		OrdersTotal:       orders,
		RetriesTotal:      retries,
		ErrorsTotal:       errorsTotal,
		HeaderExtractions: headers,
	}
}

// IncRequest counts a response by status class, e.g. "2xx" or "error".
func (m *Metrics) IncRequest(statusCode int) {
	if m == nil {
		return
	}
	class := "error"
	if statusCode > 0 {
		class = strconv.Itoa(statusCode/100) + "xx"
	}
	m.RequestsTotal.WithLabelValues(class).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncPage counts a processed page.
func (m *Metrics) IncPage(result string) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(result).Inc()
}

// AddOrders adds matched orders.
func (m *Metrics) AddOrders(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.OrdersTotal.Add(float64(n))
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncHeaderExtraction records one header extraction.
func (m *Metrics) IncHeaderExtraction(source string, complete bool) {
	if m == nil {
		return
	}
	m.HeaderExtractions.WithLabelValues(source, strconv.FormatBool(complete)).Inc()
}
