package server_test

import (
	"bufio"
	"context"
	"database/sql"
	"net"
	"path/filepath"
	"testing"
	"time"

	"bridgemail/internal/metrics"
	"bridgemail/internal/pop3"
	"bridgemail/internal/server"
	"bridgemail/internal/smtp"
	"bridgemail/internal/store"

	_ "github.com/mattn/go-sqlite3"
)

const testSchema = `
CREATE TABLE mailbox (
	id TEXT PRIMARY KEY,
	auth TEXT NOT NULL
);
CREATE TABLE message (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	data BLOB NOT NULL
);
CREATE TABLE mailbox_message (
	mailbox_id TEXT REFERENCES mailbox(id),
	message_id INTEGER REFERENCES message(id) ON DELETE CASCADE,
	PRIMARY KEY (mailbox_id, message_id)
);
`

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "bridgemail.db")
	setup, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("opening setup connection: %v", err)
	}
	if _, err := setup.Exec(testSchema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}
	if _, err := setup.Exec(`INSERT INTO mailbox(id, auth) VALUES ('alice', 'pw'), ('bob', 'pw')`); err != nil {
		t.Fatalf("seeding mailboxes: %v", err)
	}
	setup.Close()

	st, err := store.Open(path)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func startListener(t *testing.T, protocol string, newEngine server.EngineFactory) (addr string, stop func()) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	boundAddr := ln.Addr().String()
	ln.Close()

	l := server.NewListener(server.ListenerConfig{
		Address:   boundAddr,
		Protocol:  protocol,
		NewEngine: newEngine,
	})

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		close(started)
		errCh <- l.Start(ctx)
	}()
	<-started
	time.Sleep(50 * time.Millisecond)

	return boundAddr, func() {
		cancel()
		<-errCh
	}
}

// TestSMTPDeliveryThenPOP3Retrieval runs scenario S1 and S2 from the
// specification end to end over real TCP sockets: a message delivered
// via SMTP DATA is retrieved byte-identical via POP3 RETR, then DELEd
// and expunged on QUIT.
func TestSMTPDeliveryThenPOP3Retrieval(t *testing.T) {
	st := newTestStore(t)
	collector := metrics.Noop()

	smtpAddr, stopSMTP := startListener(t, "smtp", func() server.Capability {
		return smtp.New(st, "bridgemail.test", nil, collector)
	})
	defer stopSMTP()

	pop3Addr, stopPOP3 := startListener(t, "pop3", func() server.Capability {
		return pop3.New(st, "bridgemail.test", nil, collector)
	})
	defer stopPOP3()

	// --- S1: SMTP delivery ---
	smtpConn, err := net.Dial("tcp", smtpAddr)
	if err != nil {
		t.Fatalf("dial smtp: %v", err)
	}
	defer smtpConn.Close()

	smtpR := bufio.NewReader(smtpConn)
	expectLine(t, smtpR, "220")

	sendCmd(t, smtpConn, smtpR, "HELO host\r\n", "250")
	sendCmd(t, smtpConn, smtpR, "MAIL FROM:<alice@x>\r\n", "250")
	sendCmd(t, smtpConn, smtpR, "RCPT TO:<bob@x>\r\n", "250")
	sendCmd(t, smtpConn, smtpR, "DATA\r\n", "354")
	sendCmd(t, smtpConn, smtpR, "hi\r\n.\r\n", "250")
	sendCmd(t, smtpConn, smtpR, "QUIT\r\n", "221")

	// --- S2: POP3 retrieval and delete ---
	popConn, err := net.Dial("tcp", pop3Addr)
	if err != nil {
		t.Fatalf("dial pop3: %v", err)
	}
	defer popConn.Close()

	popR := bufio.NewReader(popConn)
	expectLine(t, popR, "+OK")

	sendCmd(t, popConn, popR, "USER bob\r\n", "+OK")
	sendCmd(t, popConn, popR, "PASS pw\r\n", "+OK")

	stat := sendCmd(t, popConn, popR, "STAT\r\n", "+OK")
	if stat != "+OK 1 4" {
		t.Errorf("STAT = %q, want %q", stat, "+OK 1 4")
	}

	sendCmd(t, popConn, popR, "RETR 1\r\n", "+OK")
	body := readDotTerminated(t, popR)
	if body != "hi\r\n" {
		t.Errorf("RETR body = %q, want %q", body, "hi\r\n")
	}

	sendCmd(t, popConn, popR, "DELE 1\r\n", "+OK")

	stat = sendCmd(t, popConn, popR, "STAT\r\n", "+OK")
	if stat != "+OK 0 0" {
		t.Errorf("STAT after DELE = %q, want %q", stat, "+OK 0 0")
	}

	sendCmd(t, popConn, popR, "QUIT\r\n", "+OK")

	exists, err := st.MailboxExists(context.Background(), "bob")
	if err != nil || !exists {
		t.Fatalf("bob mailbox should still exist: %v", err)
	}
	msgs, err := st.ListMessages(context.Background(), "bob")
	if err != nil {
		t.Fatalf("listing messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no remaining messages for bob after DELE+QUIT, got %d", len(msgs))
	}
}

func sendCmd(t *testing.T, conn net.Conn, r *bufio.Reader, cmd, wantPrefix string) string {
	t.Helper()
	if _, err := conn.Write([]byte(cmd)); err != nil {
		t.Fatalf("write %q: %v", cmd, err)
	}
	return expectLine(t, r, wantPrefix)
}

func expectLine(t *testing.T, r *bufio.Reader, wantPrefix string) string {
	t.Helper()
	line, err := readLine(r)
	if err != nil {
		t.Fatalf("reading line: %v", err)
	}
	if len(line) < len(wantPrefix) || line[:len(wantPrefix)] != wantPrefix {
		t.Fatalf("line = %q, want prefix %q", line, wantPrefix)
	}
	return line
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	if len(line) >= 2 && line[len(line)-2] == '\r' {
		return line[:len(line)-2], nil
	}
	return line[:len(line)-1], nil
}

// readDotTerminated reads lines until a lone "." is seen, returning the
// concatenated body with dot-unstuffing undone (RETR stuffs "." lines
// to ".." on the wire).
func readDotTerminated(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var body string
	for {
		line, err := readLine(r)
		if err != nil {
			t.Fatalf("reading body line: %v", err)
		}
		if line == "." {
			return body
		}
		if len(line) > 0 && line[0] == '.' {
			line = line[1:]
		}
		body += line + "\r\n"
	}
}
