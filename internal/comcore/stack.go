package comcore

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/infodancer/comcore/internal/config"
	"github.com/infodancer/comcore/internal/email"
	"github.com/infodancer/comcore/internal/metrics"
	"github.com/infodancer/comcore/internal/server"
	"github.com/infodancer/comcore/internal/store"
	"github.com/infodancer/comcore/internal/web"
)

// StackConfig groups the configuration needed to build a Stack.
// TLSConfig is caller-supplied; tests build one from a self-signed cert.
type StackConfig struct {
	Config    config.Config
	TLSConfig *tls.Config
	Store     store.Store       // nil → in-memory store
	Sender    email.Sender      // nil → per config (SMTP or log)
	Collector metrics.Collector // nil → per config (Prometheus or noop)
	Logger    *slog.Logger      // nil → slog.Default()
}

// Stack owns all components of a running comcore instance and manages
// their lifecycle: store, protocol engine, listeners, and the optional
// metrics and web servers.
type Stack struct {
	cfg    config.Config
	store  store.Store
	engine *Engine
	server *server.Server
	mserv  metrics.Server
	web    *web.Server
	logger *slog.Logger
}

// NewStack creates a Stack from the given configuration, wiring up all
// components.
func NewStack(cfg StackConfig) (*Stack, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	st := cfg.Store
	if st == nil {
		st = store.NewMemStore()
		logger.Info("store enabled", "type", "memory")
	}

	sender := cfg.Sender
	if sender == nil {
		if cfg.Config.SMTP.Host != "" {
			smtp, err := email.NewSMTPSender(cfg.Config.SMTP)
			if err != nil {
				return nil, err
			}
			sender = smtp
			logger.Info("email delivery enabled", "host", cfg.Config.SMTP.Host)
		} else {
			sender = &email.LogSender{Logger: logger}
			logger.Warn("smtp not configured, confirmation codes are logged")
		}
	}

	collector := cfg.Collector
	var mserv metrics.Server
	if collector == nil {
		if cfg.Config.Metrics.Enabled {
			collector = metrics.NewPrometheusCollector(prometheus.DefaultRegisterer)
			mserv = metrics.NewPrometheusServer(cfg.Config.Metrics.Address, cfg.Config.Metrics.Path)
			logger.Info("metrics enabled", "address", cfg.Config.Metrics.Address)
		} else {
			collector = &metrics.NoopCollector{}
		}
	}

	engine := NewEngine(EngineConfig{
		Store:       st,
		Sender:      sender,
		Collector:   collector,
		Logger:      logger,
		UploadDir:   cfg.Config.Web.UploadDir,
		JoinBaseURL: cfg.Config.Web.JoinBaseURL,
	})

	srv, err := server.New(server.Config{
		Cfg:       &cfg.Config,
		TLSConfig: cfg.TLSConfig,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	srv.SetHandler(engine.Handler())

	s := &Stack{
		cfg:    cfg.Config,
		store:  st,
		engine: engine,
		server: srv,
		mserv:  mserv,
		logger: logger,
	}
	if cfg.Config.Web.Enabled {
		s.web = web.New(cfg.Config.Web, engine, logger)
	}
	return s, nil
}

// Engine exposes the protocol engine, primarily for tests.
func (s *Stack) Engine() *Engine {
	return s.engine
}

// Run initializes the store, starts every server, and blocks until the
// context is cancelled. Shutdown order: stop accepting, push end frames to
// live sessions, stop the web and metrics servers, close the store.
func (s *Stack) Run(ctx context.Context) error {
	if err := s.store.Initialize(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	if s.mserv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.mserv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()
	}

	if s.web != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.web.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()
	}

	<-ctx.Done()
	s.logger.Info("shutting down")

	// Refuse new connections, then tell the live sessions the server is
	// going away. Errors during shutdown are logged, not propagated.
	s.server.Shutdown()
	s.engine.EndAll()

	wg.Wait()

	if err := s.store.Close(context.Background()); err != nil {
		s.logger.Error("store close failed", "error", err.Error())
	}

	close(errCh)
	var firstErr error
	for err := range errCh {
		if firstErr == nil {
			firstErr = err
		}
		s.logger.Error("server error", "error", err.Error())
	}
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}
