// Command bridgemail runs the combined SMTP submission / POP3
// retrieval server against a single shared SQLite store.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"bridgemail/internal/config"
	"bridgemail/internal/logging"
	"bridgemail/internal/metrics"
	"bridgemail/internal/pop3"
	"bridgemail/internal/server"
	"bridgemail/internal/smtp"
	"bridgemail/internal/store"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := config.ParseFlags()

	cfg, err := config.LoadWithFlags(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		return 1
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}

	logger := logging.NewLogger(cfg.LogLevel)

	var collector metrics.Collector = &metrics.NoopCollector{}
	if cfg.Metrics.Enabled {
		collector = metrics.NewPrometheusCollector(prometheus.DefaultRegisterer)
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening store: %v\n", err)
		return 1
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "error", err.Error())
		}
	}()

	srv, err := server.New(server.Config{
		Cfg:     &cfg,
		Logger:  logger,
		Metrics: collector,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating server: %v\n", err)
		return 1
	}

	srv.SetSMTPEngine(func() server.Capability {
		return smtp.New(st, cfg.Hostname, logger.With(slog.String("protocol", "smtp")), collector)
	})
	srv.SetPOP3Engine(func() server.Capability {
		return pop3.New(st, cfg.Hostname, logger.With(slog.String("protocol", "pop3")), collector)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewPrometheusServer(cfg.Metrics.Address, cfg.Metrics.Path)
		go func() {
			if err := metricsServer.Start(ctx); err != nil && err != context.Canceled {
				logger.Error("metrics server error", "error", err.Error())
			}
		}()
		logger.Info("metrics server started", "address", cfg.Metrics.Address, "path", cfg.Metrics.Path)
	}

	logger.Info("starting bridgemail",
		"hostname", cfg.Hostname,
		"smtp_addr", cfg.SMTPAddr,
		"pop3_addr", cfg.POP3Addr,
		"store", cfg.StorePath,
	)

	if err := srv.Run(ctx); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		return 1
	}

	logger.Info("bridgemail stopped")
	return 0
}
