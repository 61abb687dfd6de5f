package metrics

// NoopCollector is a no-op implementation of the Collector interface.
// All methods are empty stubs that do nothing.
type NoopCollector struct{}

// ConnectionOpened is a no-op.
func (n *NoopCollector) ConnectionOpened() {}

// ConnectionClosed is a no-op.
func (n *NoopCollector) ConnectionClosed() {}

// SessionOpened is a no-op.
func (n *NoopCollector) SessionOpened() {}

// SessionClosed is a no-op.
func (n *NoopCollector) SessionClosed() {}

// AuthAttempt is a no-op.
func (n *NoopCollector) AuthAttempt(method string, success bool) {}

// RequestProcessed is a no-op.
func (n *NoopCollector) RequestProcessed(kind string) {}

// RequestFailed is a no-op.
func (n *NoopCollector) RequestFailed(kind string) {}

// PushSent is a no-op.
func (n *NoopCollector) PushSent(kind string) {}

// CodeIssued is a no-op.
func (n *NoopCollector) CodeIssued(kind string) {}

// CodeChecked is a no-op.
func (n *NoopCollector) CodeChecked(kind string, success bool) {}
