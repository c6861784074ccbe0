// Package smtp implements the submission-side protocol engine: a
// per-connection state machine that accepts HELO/MAIL/RCPT/DATA/QUIT
// and delivers accumulated message bodies to the shared store.
package smtp

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"bridgemail/internal/framer"
	"bridgemail/internal/metrics"
	"bridgemail/internal/store"
)

// commandLineMax is RFC 5321 §4.5.3.1's command line length cap,
// content-only (the terminating CRLF is not counted).
const commandLineMax = 1000

// State is the SMTP session's current protocol state.
type State int

const (
	StateInit State = iota
	StateHELO
	StateMAIL
	StateRCPT
	StateDATA
)

// Engine is a per-connection SMTP state machine. It is not safe for
// concurrent use; each connection owns exactly one Engine.
type Engine struct {
	store    *store.Store
	hostname string
	log      *slog.Logger
	metrics  metrics.Collector

	state        State
	active       *framer.Framer
	recipients   []string
	body         bytes.Buffer
	lastActivity time.Time
}

// New constructs an Engine bound to store, greeting clients with
// hostname (falling back to the OS hostname, then "localhost").
func New(st *store.Store, hostname string, log *slog.Logger, collector metrics.Collector) *Engine {
	if hostname == "" {
		if h, err := os.Hostname(); err == nil && h != "" {
			hostname = h
		} else {
			hostname = "localhost"
		}
	}
	if log == nil {
		log = slog.Default()
	}
	if collector == nil {
		collector = metrics.Noop()
	}

	return &Engine{
		store:        st,
		hostname:     hostname,
		log:          log,
		metrics:      collector,
		state:        StateInit,
		active:       framer.New(commandLineMax),
		lastActivity: time.Now(),
	}
}

// Greeting returns the banner sent immediately on connection.
func (e *Engine) Greeting() []byte {
	return []byte(fmt.Sprintf("220 %s\r\n", e.hostname))
}

// LastActivity reports when the engine last processed a chunk, for
// idle-timeout enforcement by the multiplexer.
func (e *Engine) LastActivity() time.Time {
	return e.lastActivity
}

// Process feeds chunk to the engine and returns the bytes to write
// back to the client, and whether the connection should now close.
// Process never blocks on network I/O; store calls it makes are
// ordinary blocking database/sql calls on the caller's goroutine.
func (e *Engine) Process(ctx context.Context, chunk []byte) ([]byte, bool) {
	e.lastActivity = time.Now()

	var out bytes.Buffer

	// Bytes are fed one at a time so that a state transition (notably
	// entering DATA) swaps the active framer exactly at the boundary
	// between the command line and the body that may follow it within
	// the same chunk.
	for _, b := range chunk {
		for _, ev := range e.active.Feed([]byte{b}) {
			var terminate bool
			if e.state == StateDATA {
				terminate = e.processDataLine(ctx, ev, &out)
			} else {
				terminate = e.processCommand(ctx, ev, &out)
			}
			if terminate {
				return out.Bytes(), true
			}
		}
	}

	return out.Bytes(), false
}

func (e *Engine) processCommand(ctx context.Context, ev framer.Event, out *bytes.Buffer) bool {
	if ev.Overflow {
		out.WriteString("500 Line too long\r\n")
		return false
	}

	line := strings.TrimRight(string(ev.Line), " ")
	if line == "" {
		out.WriteString("500 Command unrecognized\r\n")
		return false
	}

	verb, arg := splitCommand(line)
	upperVerb := strings.ToUpper(verb)
	e.metrics.SMTPCommandProcessed(upperVerb)
	e.log.Debug("smtp command", "verb", upperVerb, "state", e.state)

	switch upperVerb {
	case "HELO", "EHLO":
		return e.handleHELO(arg, out)
	case "MAIL":
		return e.handleMAIL(ctx, arg, out)
	case "RCPT":
		return e.handleRCPT(ctx, arg, out)
	case "DATA":
		return e.handleDATA(arg, out)
	case "RSET":
		return e.handleRSET(arg, out)
	case "NOOP":
		return e.handleNOOP(arg, out)
	case "VRFY":
		return e.handleVRFY(arg, out)
	case "QUIT":
		return e.handleQUIT(arg, out)
	default:
		out.WriteString("500 Command unrecognized\r\n")
		return false
	}
}

func (e *Engine) handleHELO(arg string, out *bytes.Buffer) bool {
	if e.state != StateInit {
		out.WriteString("503 Bad sequence of commands\r\n")
		return false
	}
	if arg == "" {
		out.WriteString("501 Syntax error in parameters\r\n")
		return false
	}
	e.state = StateHELO
	out.WriteString("250 OK\r\n")
	return false
}

func (e *Engine) handleMAIL(ctx context.Context, arg string, out *bytes.Buffer) bool {
	if e.state != StateHELO {
		out.WriteString("503 Bad sequence of commands\r\n")
		return false
	}
	addr, ok := parseAddress(arg, "FROM:")
	if !ok {
		out.WriteString("501 Syntax error in parameters\r\n")
		return false
	}
	exists, err := e.store.MailboxExists(ctx, addr)
	if err != nil {
		e.log.Error("mailbox lookup failed", "error", err.Error())
		out.WriteString("451 Requested action aborted\r\n")
		return false
	}
	if !exists {
		out.WriteString("550 Mailbox unavailable\r\n")
		return false
	}
	e.state = StateMAIL
	out.WriteString("250 OK\r\n")
	return false
}

func (e *Engine) handleRCPT(ctx context.Context, arg string, out *bytes.Buffer) bool {
	if e.state != StateMAIL && e.state != StateRCPT {
		out.WriteString("503 Bad sequence of commands\r\n")
		return false
	}
	addr, ok := parseAddress(arg, "TO:")
	if !ok {
		out.WriteString("501 Syntax error in parameters\r\n")
		return false
	}
	exists, err := e.store.MailboxExists(ctx, addr)
	if err != nil {
		e.log.Error("mailbox lookup failed", "error", err.Error())
		out.WriteString("451 Requested action aborted\r\n")
		return false
	}
	if !exists {
		out.WriteString("550 Mailbox unavailable\r\n")
		return false
	}
	e.recipients = append(e.recipients, addr)
	e.state = StateRCPT
	out.WriteString("250 OK\r\n")
	return false
}

func (e *Engine) handleDATA(arg string, out *bytes.Buffer) bool {
	if e.state != StateRCPT {
		out.WriteString("503 Bad sequence of commands\r\n")
		return false
	}
	if arg != "" {
		out.WriteString("501 Syntax error in parameters\r\n")
		return false
	}
	e.state = StateDATA
	e.active = framer.New(framer.NoLimit)
	e.body.Reset()
	out.WriteString("354 Start mail input; end with <CRLF>.<CRLF>\r\n")
	return false
}

func (e *Engine) handleRSET(arg string, out *bytes.Buffer) bool {
	if arg != "" {
		out.WriteString("501 Syntax error in parameters\r\n")
		return false
	}
	if e.state != StateInit {
		e.state = StateHELO
	}
	e.recipients = nil
	e.body.Reset()
	out.WriteString("250 OK\r\n")
	return false
}

func (e *Engine) handleNOOP(arg string, out *bytes.Buffer) bool {
	if arg != "" {
		out.WriteString("501 Syntax error in parameters\r\n")
		return false
	}
	out.WriteString("250 OK\r\n")
	return false
}

func (e *Engine) handleVRFY(arg string, out *bytes.Buffer) bool {
	if arg == "" {
		out.WriteString("501 Syntax error in parameters\r\n")
		return false
	}
	out.WriteString("252 Cannot VRFY user, but will accept message\r\n")
	return false
}

func (e *Engine) handleQUIT(arg string, out *bytes.Buffer) bool {
	if arg != "" {
		out.WriteString("501 Syntax error in parameters\r\n")
		return false
	}
	out.WriteString(fmt.Sprintf("221 %s closing connection\r\n", e.hostname))
	return true
}

// processDataLine handles one framed line during the DATA phase: body
// accumulation with dot-unstuffing, or delivery on the "." terminator.
func (e *Engine) processDataLine(ctx context.Context, ev framer.Event, out *bytes.Buffer) bool {
	if ev.Overflow {
		// DATA has no per-line cap; overflow cannot occur here.
		return false
	}

	line := ev.Line
	if len(line) == 1 && line[0] == '.' {
		e.deliver(ctx, out)
		e.active = framer.New(commandLineMax)
		return false
	}
	if len(line) > 0 && line[0] == '.' {
		line = line[1:]
	}
	e.body.Write(line)
	e.body.WriteString("\r\n")
	return false
}

func (e *Engine) deliver(ctx context.Context, out *bytes.Buffer) {
	body := append([]byte(nil), e.body.Bytes()...)
	recipients := e.recipients

	if err := e.store.InsertMessage(ctx, body, recipients); err != nil {
		e.log.Error("delivery failed", "error", err.Error())
		e.metrics.DeliveryFailed(err.Error())
		out.WriteString("451 Requested action aborted\r\n")
	} else {
		e.metrics.MessageDelivered(len(recipients), int64(len(body)))
		out.WriteString("250 OK\r\n")
	}

	e.state = StateHELO
	e.recipients = nil
	e.body.Reset()
}

func splitCommand(line string) (verb, arg string) {
	idx := strings.IndexByte(line, ' ')
	if idx < 0 {
		return line, ""
	}
	return line[:idx], strings.TrimLeft(line[idx+1:], " ")
}

// parseAddress extracts the local-part of an address from a MAIL/RCPT
// argument of the form "FROM:<local@domain>" or "TO:<local@domain>".
// The keyword match is case-insensitive; the domain, if present, is
// discarded. Both "<local@domain>" and bare "<local>" forms are
// accepted; the angle brackets are required.
func parseAddress(arg, keyword string) (string, bool) {
	if len(arg) < len(keyword) || !strings.EqualFold(arg[:len(keyword)], keyword) {
		return "", false
	}
	rest := arg[len(keyword):]

	open := strings.IndexByte(rest, '<')
	if open < 0 {
		return "", false
	}
	rest = rest[open+1:]

	if !strings.HasSuffix(rest, ">") {
		return "", false
	}
	rest = rest[:len(rest)-1]

	if at := strings.IndexByte(rest, '@'); at >= 0 {
		rest = rest[:at]
	}
	if rest == "" {
		return "", false
	}

	return rest, true
}
