// Package server hosts the connection multiplexer: the SMTP and POP3
// listeners, each driving accepted connections through a protocol
// Capability, plus the shared per-connection plumbing (idle timeouts,
// connection limits) both listeners need.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"bridgemail/internal/config"
	"bridgemail/internal/logging"
	"bridgemail/internal/metrics"
)

// Server owns the SMTP and POP3 listeners and coordinates their
// lifecycle. Unlike a single-protocol daemon, bridgemail always runs
// exactly two listeners, one per protocol, sharing the same store and
// metrics collector through their respective engine factories.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics metrics.Collector

	smtpEngine EngineFactory
	pop3Engine EngineFactory

	mu        sync.Mutex
	listeners []*Listener
}

// Config holds configuration for creating a new Server.
type Config struct {
	Cfg     *config.Config
	Logger  *slog.Logger
	Metrics metrics.Collector
}

// New creates a new Server with the given configuration.
func New(sc Config) (*Server, error) {
	if sc.Cfg == nil {
		return nil, fmt.Errorf("server: config is required")
	}

	logger := sc.Logger
	if logger == nil {
		logger = logging.NewLogger(sc.Cfg.LogLevel)
	}
	collector := sc.Metrics
	if collector == nil {
		collector = metrics.Noop()
	}

	return &Server{
		cfg:     sc.Cfg,
		logger:  logger,
		metrics: collector,
	}, nil
}

// SetSMTPEngine sets the factory used to build a fresh SMTP Capability
// per accepted connection. Must be called before Run.
func (s *Server) SetSMTPEngine(factory EngineFactory) {
	s.smtpEngine = factory
}

// SetPOP3Engine sets the factory used to build a fresh POP3 Capability
// per accepted connection. Must be called before Run.
func (s *Server) SetPOP3Engine(factory EngineFactory) {
	s.pop3Engine = factory
}

// Run binds the SMTP and POP3 listeners and blocks until ctx is
// canceled or a listener fails to bind/accept.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.smtpEngine == nil || s.pop3Engine == nil {
		s.mu.Unlock()
		return fmt.Errorf("server: both SMTP and POP3 engine factories must be set before Run")
	}

	maxConns := s.cfg.Limits.MaxConnections
	idle := s.cfg.Timeouts.IdleTimeout()

	smtpListener := NewListener(ListenerConfig{
		Address:     s.cfg.SMTPAddr,
		Protocol:    "smtp",
		IdleTimeout: idle,
		MaxConns:    maxConns,
		Logger:      s.logger,
		Metrics:     s.metrics,
		NewEngine:   s.smtpEngine,
	})
	pop3Listener := NewListener(ListenerConfig{
		Address:     s.cfg.POP3Addr,
		Protocol:    "pop3",
		IdleTimeout: idle,
		MaxConns:    maxConns,
		Logger:      s.logger,
		Metrics:     s.metrics,
		NewEngine:   s.pop3Engine,
	})
	s.listeners = []*Listener{smtpListener, pop3Listener}
	s.mu.Unlock()

	s.logger.Info("starting bridgemail",
		slog.String("hostname", s.cfg.Hostname),
		slog.String("smtp_addr", s.cfg.SMTPAddr),
		slog.String("pop3_addr", s.cfg.POP3Addr),
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

	var firstErr error
	select {
	case <-ctx.Done():
	case firstErr = <-errChan:
		s.logger.Error("listener error", slog.String("error", firstErr.Error()))
	}
	s.logger.Info("server shutting down")

	s.Shutdown()
	wg.Wait()

	close(errChan)
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

// Shutdown stops accepting new connections on every listener. Existing
// connections are severed abruptly by Listener.Close
// (spec §4.5: no QUIT handshake is attempted on shutdown).
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

// Config returns the server's configuration.
func (s *Server) Config() *config.Config {
	return s.cfg
}
