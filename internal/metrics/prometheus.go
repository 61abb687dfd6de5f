package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector implements the Collector interface using Prometheus metrics.
type PrometheusCollector struct {
	// Connection metrics
	connectionsTotal  prometheus.Counter
	connectionsActive prometheus.Gauge

	// Session metrics
	sessionsActive prometheus.Gauge

	// Authentication metrics
	authAttemptsTotal *prometheus.CounterVec

	// Request metrics
	requestsTotal        *prometheus.CounterVec
	requestFailuresTotal *prometheus.CounterVec

	// Push notification metrics
	pushesTotal *prometheus.CounterVec

	// Confirmation code metrics
	codesIssuedTotal  *prometheus.CounterVec
	codesCheckedTotal *prometheus.CounterVec
}

// NewPrometheusCollector creates a new PrometheusCollector with all metrics registered.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "comcore_connections_total",
			Help: "Total number of protocol connections opened.",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "comcore_connections_active",
			Help: "Number of currently active protocol connections.",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "comcore_sessions_active",
			Help: "Number of currently logged-in sessions.",
		}),

		authAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "comcore_auth_attempts_total",
			Help: "Total number of authentication attempts.",
		}, []string{"method", "result"}),

		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "comcore_requests_total",
			Help: "Total number of protocol requests processed.",
		}, []string{"kind"}),
		requestFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "comcore_request_failures_total",
			Help: "Total number of protocol requests answered with an error frame.",
		}, []string{"kind"}),

		pushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "comcore_pushes_total",
			Help: "Total number of push notification frames sent.",
		}, []string{"kind"}),

		codesIssuedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "comcore_codes_issued_total",
			Help: "Total number of confirmation codes issued.",
		}, []string{"kind"}),
		codesCheckedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "comcore_codes_checked_total",
			Help: "Total number of confirmation code checks.",
		}, []string{"kind", "result"}),
	}

	// Register all metrics
	reg.MustRegister(
		c.connectionsTotal,
		c.connectionsActive,
		c.sessionsActive,
		c.authAttemptsTotal,
		c.requestsTotal,
		c.requestFailuresTotal,
		c.pushesTotal,
		c.codesIssuedTotal,
		c.codesCheckedTotal,
	)

	return c
}

// ConnectionOpened increments the connection counter and active gauge.
func (c *PrometheusCollector) ConnectionOpened() {
	c.connectionsTotal.Inc()
	c.connectionsActive.Inc()
}

// ConnectionClosed decrements the active connections gauge.
func (c *PrometheusCollector) ConnectionClosed() {
	c.connectionsActive.Dec()
}

// SessionOpened increments the active sessions gauge.
func (c *PrometheusCollector) SessionOpened() {
	c.sessionsActive.Inc()
}

// SessionClosed decrements the active sessions gauge.
func (c *PrometheusCollector) SessionClosed() {
	c.sessionsActive.Dec()
}

// AuthAttempt increments the authentication attempts counter.
func (c *PrometheusCollector) AuthAttempt(method string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.authAttemptsTotal.WithLabelValues(method, result).Inc()
}

// RequestProcessed increments the request counter.
func (c *PrometheusCollector) RequestProcessed(kind string) {
	c.requestsTotal.WithLabelValues(kind).Inc()
}

// RequestFailed increments the request failure counter.
func (c *PrometheusCollector) RequestFailed(kind string) {
	c.requestFailuresTotal.WithLabelValues(kind).Inc()
}

// PushSent increments the push notification counter.
func (c *PrometheusCollector) PushSent(kind string) {
	c.pushesTotal.WithLabelValues(kind).Inc()
}

// CodeIssued increments the confirmation code counter.
func (c *PrometheusCollector) CodeIssued(kind string) {
	c.codesIssuedTotal.WithLabelValues(kind).Inc()
}

// CodeChecked increments the confirmation code check counter.
func (c *PrometheusCollector) CodeChecked(kind string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.codesCheckedTotal.WithLabelValues(kind, result).Inc()
}

// PrometheusServer serves Prometheus metrics over HTTP.
type PrometheusServer struct {
	server *http.Server
}

// NewPrometheusServer creates a metrics HTTP server using the default
// Prometheus registry.
func NewPrometheusServer(address, path string) *PrometheusServer {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	return &PrometheusServer{
		server: &http.Server{
			Addr:    address,
			Handler: mux,
		},
	}
}

// Start begins serving metrics. It blocks until the context is canceled or
// the server fails.
func (s *PrometheusServer) Start(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errChan:
		return err
	}
}

// Shutdown gracefully stops the metrics server.
func (s *PrometheusServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
