package server

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"bridgemail/internal/metrics"
)

// Capability is the per-protocol state machine a Listener drives. Both
// internal/smtp.Engine and internal/pop3.Engine satisfy it, so a single
// Listener implementation serves either protocol.
type Capability interface {
	// Greeting returns the banner written immediately after accept.
	Greeting() []byte

	// Process feeds chunk to the engine and returns the bytes to write
	// back, and whether the connection should now close.
	Process(ctx context.Context, chunk []byte) (out []byte, terminate bool)
}

// EngineFactory constructs a fresh Capability for one accepted
// connection. Engines are stateful and not safe for concurrent use, so
// a Listener asks for a new one per connection.
type EngineFactory func() Capability

// ListenerConfig configures a single protocol listener.
type ListenerConfig struct {
	Address     string
	Protocol    string
	IdleTimeout time.Duration
	MaxConns    int
	Logger      *slog.Logger
	Metrics     metrics.Collector
	NewEngine   EngineFactory
}

// Listener accepts connections on one address and drives each through
// an Engine built by its factory.
type Listener struct {
	cfg      ListenerConfig
	limiter  *ConnectionLimiter
	listener net.Listener

	mu     sync.Mutex
	closed bool
	active map[*Connection]struct{}
}

// NewListener constructs a Listener from cfg. It does not bind a socket
// until Start is called.
func NewListener(cfg ListenerConfig) *Listener {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Noop()
	}
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 256
	}

	return &Listener{
		cfg:     cfg,
		limiter: NewConnectionLimiter(maxConns),
		active:  make(map[*Connection]struct{}),
	}
}

// Address returns the address this listener is configured to bind.
func (l *Listener) Address() string {
	return l.cfg.Address
}

// Start binds the listener's address and accepts connections until ctx
// is canceled or Close is called. Each connection is handled in its own
// goroutine.
func (l *Listener) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", l.cfg.Address)
	if err != nil {
		return err
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ln.Close()
	}
	l.listener = ln
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		if !l.limiter.TryAcquire() {
			_ = conn.Close()
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer l.limiter.Release()
			l.handle(ctx, conn)
		}()
	}
}

// Close stops accepting new connections on this listener and abruptly
// severs every connection currently in flight, with no protocol
// handshake (spec §4.5: shutdown closes xfer sockets abruptly).
func (l *Listener) Close() error {
	l.mu.Lock()
	l.closed = true
	var err error
	if l.listener != nil {
		err = l.listener.Close()
	}
	conns := make([]*Connection, 0, len(l.active))
	for c := range l.active {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	return err
}

func (l *Listener) handle(ctx context.Context, netConn net.Conn) {
	conn := NewConnection(netConn, l.cfg.IdleTimeout)
	l.mu.Lock()
	l.active[conn] = struct{}{}
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.active, conn)
		l.mu.Unlock()
		conn.Close()
	}()

	l.cfg.Metrics.ConnectionOpened()
	defer l.cfg.Metrics.ConnectionClosed()

	logger := l.cfg.Logger.With(
		slog.String("protocol", l.cfg.Protocol),
		slog.String("remote_addr", conn.RemoteAddr().String()),
	)

	engine := l.cfg.NewEngine()

	if err := conn.Write(engine.Greeting()); err != nil {
		logger.Debug("failed to write greeting", "error", err.Error())
		return
	}

	for {
		chunk, readErr := conn.ReadChunk()
		if len(chunk) > 0 {
			out, terminate := engine.Process(ctx, chunk)
			if len(out) > 0 {
				if err := conn.Write(out); err != nil {
					logger.Debug("write failed", "error", err.Error())
					return
				}
			}
			if terminate {
				return
			}
		}
		if readErr != nil {
			if ctx.Err() == nil {
				logger.Debug("connection closed", "error", readErr.Error())
			}
			return
		}
	}
}
