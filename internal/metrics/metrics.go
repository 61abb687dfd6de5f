// Package metrics provides interfaces and implementations for collecting
// Comcore server metrics. This package defines the Collector interface for
// recording metrics and the Server interface for exposing them.
package metrics

import "context"

// Collector defines the interface for recording Comcore server metrics.
type Collector interface {
	// Connection metrics
	ConnectionOpened()
	ConnectionClosed()

	// Session metrics (logged-in protocol sessions, not raw connections)
	SessionOpened()
	SessionClosed()

	// Authentication metrics
	AuthAttempt(method string, success bool)

	// Request metrics
	RequestProcessed(kind string)
	RequestFailed(kind string)

	// Push notification metrics
	PushSent(kind string)

	// Confirmation code metrics
	CodeIssued(kind string)
	CodeChecked(kind string, success bool)
}

// Server defines the interface for a metrics HTTP server.
type Server interface {
	// Start begins serving metrics. It blocks until the context is canceled
	// or an error occurs.
	Start(ctx context.Context) error

	// Shutdown gracefully stops the metrics server.
	Shutdown(ctx context.Context) error
}
