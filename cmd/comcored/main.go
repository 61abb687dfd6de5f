package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/infodancer/comcore/internal/comcore"
	"github.com/infodancer/comcore/internal/config"
	"github.com/infodancer/comcore/internal/logging"
)

func main() {
	flags := config.ParseFlags()

	cfg, err := config.LoadWithFlags(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel)

	if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
		fmt.Fprintln(os.Stderr, "tls cert_file and key_file are required")
		os.Exit(1)
	}
	cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading TLS certificate: %v\n", err)
		os.Exit(1)
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   cfg.TLS.MinTLSVersion(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	stack, err := comcore.NewStack(comcore.StackConfig{
		Config:    cfg,
		TLSConfig: tlsConfig,
		Logger:    logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error building server: %v\n", err)
		os.Exit(1)
	}

	logger.Info("starting comcored",
		"hostname", cfg.Hostname,
		"listeners", len(cfg.Listeners))

	if err := stack.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}

	logger.Info("comcore server stopped")
}
