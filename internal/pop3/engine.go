package pop3

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bridgemail/internal/framer"
	"bridgemail/internal/metrics"
	"bridgemail/internal/store"
)

// lineMax is the POP3 command line length cap, content-only: spec.md
// states the boundary as 87 bytes including the 2-byte CRLF
// terminator, so the content-only cap the framer enforces is 85.
const lineMax = 85

// Engine is a per-connection POP3 state machine. It is not safe for
// concurrent use; each connection owns exactly one Engine.
type Engine struct {
	sess     *Session
	hostname string
	log      *slog.Logger
	metrics  metrics.Collector

	framer       *framer.Framer
	lastActivity time.Time
}

// New constructs an Engine bound to st, greeting clients with hostname.
func New(st *store.Store, hostname string, log *slog.Logger, collector metrics.Collector) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if collector == nil {
		collector = metrics.Noop()
	}

	return &Engine{
		sess:         NewSession(st),
		hostname:     hostname,
		log:          log,
		metrics:      collector,
		framer:       framer.New(lineMax),
		lastActivity: time.Now(),
	}
}

// Logger implements ConnectionLogger, giving commands access to the
// engine's structured logger.
func (e *Engine) Logger() *slog.Logger {
	return e.log
}

// Greeting returns the banner sent immediately on connection.
func (e *Engine) Greeting() []byte {
	return []byte(fmt.Sprintf("+OK %s POP3 server ready\r\n", e.hostname))
}

// LastActivity reports when the engine last processed a chunk, for
// idle-timeout enforcement by the multiplexer.
func (e *Engine) LastActivity() time.Time {
	return e.lastActivity
}

// Process feeds chunk to the engine and returns the bytes to write
// back to the client, and whether the connection should now close.
func (e *Engine) Process(ctx context.Context, chunk []byte) ([]byte, bool) {
	e.lastActivity = time.Now()

	var out []byte
	for _, ev := range e.framer.Feed(chunk) {
		resp, terminate := e.processLine(ctx, ev)
		out = append(out, []byte(resp)...)
		if terminate {
			return out, true
		}
	}
	return out, false
}

func (e *Engine) processLine(ctx context.Context, ev framer.Event) (string, bool) {
	if ev.Overflow {
		return Response{OK: false}.String(), false
	}

	cmdName, args, err := ParseCommand(string(ev.Line))
	if err != nil {
		return Response{OK: false}.String(), false
	}

	cmd, ok := GetCommand(cmdName)
	if !ok {
		return Response{OK: false}.String(), false
	}

	e.metrics.CommandProcessed(cmdName)
	e.log.Debug("pop3 command", "command", cmdName, "state", e.sess.State())

	resp, err := cmd.Execute(ctx, e.sess, e, args)
	if err != nil {
		e.log.Error("command execution error", "command", cmdName, "error", err.Error())
		return Response{OK: false, Message: "Internal server error"}.String(), false
	}

	if cmdName == "PASS" {
		e.metrics.AuthAttempt(e.sess.Username(), resp.OK)
	}

	// QUIT always closes the connection, even if the commit of
	// tentative deletes failed (spec: "Even on commit failure, the
	// connection closes").
	if cmdName == "QUIT" {
		return resp.String(), true
	}

	return resp.String(), false
}
