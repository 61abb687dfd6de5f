package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"

	"github.com/infodancer/comcore/internal/config"
	"github.com/infodancer/comcore/internal/logging"
)

// Server coordinates the protocol listeners and the shared connection limit.
type Server struct {
	cfg       *config.Config
	tlsConfig *tls.Config
	logger    *slog.Logger
	handler   ConnectionHandler
	limiter   *ConnectionLimiter

	listeners []*Listener
	mu        sync.Mutex
}

// Config holds configuration for creating a new Server.
type Config struct {
	Cfg       *config.Config
	TLSConfig *tls.Config
	Logger    *slog.Logger
}

// New creates a new Server with the given configuration.
// The TLS configuration is required; every protocol listener serves TLS.
func New(sc Config) (*Server, error) {
	if sc.TLSConfig == nil {
		return nil, fmt.Errorf("TLS configuration is required")
	}

	logger := sc.Logger
	if logger == nil {
		logger = logging.NewLogger(sc.Cfg.LogLevel)
	}

	return &Server{
		cfg:       sc.Cfg,
		tlsConfig: sc.TLSConfig,
		logger:    logger,
		limiter:   NewConnectionLimiter(sc.Cfg.Limits.MaxConnections),
	}, nil
}

// SetHandler sets the connection handler for all listeners.
// Must be called before Run.
func (s *Server) SetHandler(handler ConnectionHandler) {
	s.handler = handler
}

// Run starts all configured listeners and blocks until the context is
// cancelled. All listeners run in their own goroutines.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()

	if s.handler == nil {
		s.mu.Unlock()
		return fmt.Errorf("no connection handler configured")
	}

	for _, lc := range s.cfg.Listeners {
		listener := NewListener(ListenerConfig{
			Address:     lc.Address,
			TLSConfig:   s.tlsConfig,
			IdleTimeout: s.cfg.Timeouts.IdleTimeout(),
			Logger:      s.logger,
			Handler:     s.handler,
			Limiter:     s.limiter,
			RefuseLine:  `{"kind":"ERROR","data":{"message":"server at capacity"}}`,
		})
		s.listeners = append(s.listeners, listener)
	}

	s.mu.Unlock()

	s.logger.Info("starting server",
		slog.String("hostname", s.cfg.Hostname),
		slog.Int("listener_count", len(s.listeners)),
	)

	var wg sync.WaitGroup
	errChan := make(chan error, len(s.listeners))

	for _, l := range s.listeners {
		wg.Add(1)
		go func(listener *Listener) {
			defer wg.Done()
			if err := listener.Start(ctx); err != nil && err != context.Canceled {
				errChan <- fmt.Errorf("listener %s: %w", listener.Address(), err)
			}
		}(l)
	}

	// Wait for context cancellation
	<-ctx.Done()

	s.logger.Info("server shutting down")

	// Wait for all listeners to stop
	wg.Wait()

	// Check for any errors
	close(errChan)
	var firstErr error
	for err := range errChan {
		if firstErr == nil {
			firstErr = err
		}
		s.logger.Error("listener error", slog.String("error", err.Error()))
	}

	s.logger.Info("server stopped")

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// Shutdown stops accepting new connections.
// Existing connections are drained by the protocol engine.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.listeners {
		_ = l.Close()
	}
}

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// TLSConfig returns the server's TLS configuration.
func (s *Server) TLSConfig() *tls.Config {
	return s.tlsConfig
}

// Config returns the server's configuration.
func (s *Server) Config() *config.Config {
	return s.cfg
}
