package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/infodancer/comcore/internal/logging"
)

// ConnectionHandler processes a single client connection.
// It returns when the session ends; the listener closes the socket.
type ConnectionHandler func(ctx context.Context, conn *Connection)

// ListenerConfig holds settings for a single Listener.
type ListenerConfig struct {
	Address     string
	TLSConfig   *tls.Config
	IdleTimeout time.Duration
	Logger      *slog.Logger
	Handler     ConnectionHandler
	Limiter     *ConnectionLimiter
	RefuseLine  string // written before close when the limiter is at capacity
}

// Listener accepts TLS connections on one address and hands each one to the
// configured handler in its own goroutine.
type Listener struct {
	cfg ListenerConfig

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// NewListener creates a Listener from the given configuration.
func NewListener(cfg ListenerConfig) *Listener {
	return &Listener{cfg: cfg}
}

// Address returns the configured listen address.
func (l *Listener) Address() string {
	return l.cfg.Address
}

// Start begins accepting connections and blocks until the context is
// cancelled or the listener fails. Connections still being handled when
// Start returns are waited for.
func (l *Listener) Start(ctx context.Context) error {
	ln, err := tls.Listen("tcp", l.cfg.Address, l.cfg.TLSConfig)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	l.cfg.Logger.Info("listener started", slog.String("address", l.cfg.Address))

	for {
		conn, err := ln.Accept()
		if err != nil {
			l.wg.Wait()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		l.wg.Add(1)
		go l.handle(ctx, conn)
	}
}

func (l *Listener) handle(ctx context.Context, netConn net.Conn) {
	defer l.wg.Done()

	logger := l.cfg.Logger.With(slog.String("remote_addr", netConn.RemoteAddr().String()))
	conn := NewConnection(netConn, logger, l.cfg.IdleTimeout)
	defer conn.Close() //nolint:errcheck

	if l.cfg.Limiter != nil && !l.cfg.Limiter.TryAcquire() {
		logger.Warn("connection refused, at capacity")
		if l.cfg.RefuseLine != "" {
			_ = conn.WriteLine(l.cfg.RefuseLine)
		}
		return
	}
	if l.cfg.Limiter != nil {
		defer l.cfg.Limiter.Release()
	}

	ctx = logging.WithContext(ctx, logger)
	l.cfg.Handler(ctx, conn)
}

// Close stops accepting new connections. Connections already being handled
// are not interrupted.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	err := l.ln.Close()
	l.ln = nil
	return err
}
