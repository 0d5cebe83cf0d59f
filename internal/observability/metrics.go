// Package observability exposes the Prometheus registry shared by the HTTP server and services.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	stockMovements  *prometheus.CounterVec
	stockRejections *prometheus.CounterVec
	invoicesCreated prometheus.Counter
	invoiceLines    prometheus.Histogram
}

// NewMetrics initialises the registry with HTTP and domain collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billbook_http_requests_total",
		Help: "HTTP requests partitioned by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "billbook_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billbook_stock_movements_total",
		Help: "Committed stock ledger entries by direction and source.",
	}, []string{"direction", "source"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billbook_stock_rejections_total",
		Help: "Stock mutations rejected before commit, by reason.",
	}, []string{"reason"})
	invoices := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "billbook_invoices_created_total",
		Help: "Invoices committed.",
	})
	lines := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "billbook_invoice_line_items",
		Help:    "Line items per committed invoice.",
		Buckets: []float64{1, 2, 5, 10, 20, 50},
	})
	registry.MustRegister(requests, duration, movements, rejections, invoices, lines)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		stockMovements:  movements,
		stockRejections: rejections,
		invoicesCreated: invoices,
		invoiceLines:    lines,
	}
}

// Handler returns the http.Handler serving /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveMovement counts a committed ledger entry.
func (m *Metrics) ObserveMovement(direction, source string) {
	if m == nil {
		return
	}
	m.stockMovements.WithLabelValues(direction, source).Inc()
}

// ObserveRejection counts a stock mutation that was rolled back.
func (m *Metrics) ObserveRejection(reason string) {
	if m == nil {
		return
	}
	m.stockRejections.WithLabelValues(reason).Inc()
}

// ObserveInvoice counts a committed invoice and its line items.
func (m *Metrics) ObserveInvoice(lines int) {
	if m == nil {
		return
	}
	m.invoicesCreated.Inc()
	m.invoiceLines.Observe(float64(lines))
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
