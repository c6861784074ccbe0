package smtp

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"bridgemail/internal/metrics"
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

func newTestStore(t *testing.T, mailboxes ...string) *store.Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	setup, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("opening setup connection: %v", err)
	}
	if _, err := setup.Exec(testSchema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}
	for _, m := range mailboxes {
		if _, err := setup.Exec("INSERT INTO mailbox(id, auth) VALUES (?, ?)", m, "pw"); err != nil {
			t.Fatalf("seeding mailbox %q: %v", m, err)
		}
	}
	setup.Close()

	s, err := store.Open(path)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

func newTestEngine(t *testing.T, mailboxes ...string) (*Engine, *store.Store) {
	t.Helper()
	st := newTestStore(t, mailboxes...)
	return New(st, "bridgemail.test", nil, metrics.Noop()), st
}

func send(t *testing.T, e *Engine, line string) string {
	t.Helper()
	out, _ := e.Process(context.Background(), []byte(line))
	return string(out)
}

func TestGreeting(t *testing.T) {
	e, _ := newTestEngine(t)
	greeting := string(e.Greeting())
	if !strings.HasPrefix(greeting, "220 bridgemail.test") {
		t.Errorf("greeting = %q", greeting)
	}
}

func TestBadSequenceBeforeHELO(t *testing.T) {
	e, _ := newTestEngine(t, "alice")
	out := send(t, e, "MAIL FROM:<alice@x>\r\n")
	if !strings.HasPrefix(out, "503") {
		t.Errorf("out = %q, want 503", out)
	}
}

func TestBasicDelivery(t *testing.T) {
	e, st := newTestEngine(t, "alice", "bob")
	ctx := context.Background()

	steps := []struct {
		in, wantPrefix string
	}{
		{"HELO host\r\n", "250"},
		{"MAIL FROM:<alice@x>\r\n", "250"},
		{"RCPT TO:<bob@x>\r\n", "250"},
		{"DATA\r\n", "354"},
		{"hi\r\n.\r\n", "250"},
	}

	for _, step := range steps {
		out := send(t, e, step.in)
		if !strings.HasPrefix(out, step.wantPrefix) {
			t.Fatalf("input %q: out = %q, want prefix %q", step.in, out, step.wantPrefix)
		}
	}

	messages, err := st.ListMessages(ctx, "bob")
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 message for bob, got %d", len(messages))
	}

	data, err := st.FetchMessage(ctx, "bob", messages[0].ID)
	if err != nil {
		t.Fatalf("FetchMessage() error = %v", err)
	}
	if string(data) != "hi\r\n" {
		t.Errorf("data = %q, want %q", data, "hi\r\n")
	}
}

func TestUnknownMailbox(t *testing.T) {
	e, _ := newTestEngine(t, "alice")
	send(t, e, "HELO host\r\n")
	out := send(t, e, "MAIL FROM:<ghost@x>\r\n")
	if !strings.HasPrefix(out, "550") {
		t.Errorf("out = %q, want 550", out)
	}
}

func TestRcptBeforeMail(t *testing.T) {
	e, _ := newTestEngine(t, "alice")
	send(t, e, "HELO host\r\n")
	out := send(t, e, "RCPT TO:<alice@x>\r\n")
	if !strings.HasPrefix(out, "503") {
		t.Errorf("out = %q, want 503", out)
	}
}

func TestDotStuffingOnInput(t *testing.T) {
	e, st := newTestEngine(t, "alice", "bob")
	ctx := context.Background()

	send(t, e, "HELO host\r\n")
	send(t, e, "MAIL FROM:<alice@x>\r\n")
	send(t, e, "RCPT TO:<bob@x>\r\n")
	send(t, e, "DATA\r\n")
	send(t, e, "..leading dot\r\n.\r\n")

	messages, _ := st.ListMessages(ctx, "bob")
	data, _ := st.FetchMessage(ctx, "bob", messages[0].ID)
	if string(data) != ".leading dot\r\n" {
		t.Errorf("data = %q, want %q", data, ".leading dot\r\n")
	}
}

func TestDataAndTerminatorInSingleChunk(t *testing.T) {
	e, st := newTestEngine(t, "alice", "bob")
	ctx := context.Background()

	send(t, e, "HELO host\r\n")
	send(t, e, "MAIL FROM:<alice@x>\r\n")
	send(t, e, "RCPT TO:<bob@x>\r\n")

	out, _ := e.Process(ctx, []byte("DATA\r\nhi\r\n.\r\n"))
	if !strings.Contains(string(out), "354") || !strings.Contains(string(out), "250") {
		t.Fatalf("out = %q, want both 354 and 250", out)
	}

	messages, _ := st.ListMessages(ctx, "bob")
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	data, _ := st.FetchMessage(ctx, "bob", messages[0].ID)
	if string(data) != "hi\r\n" {
		t.Errorf("data = %q, want %q", data, "hi\r\n")
	}
}

func TestRsetClearsState(t *testing.T) {
	e, _ := newTestEngine(t, "alice", "bob")
	send(t, e, "HELO host\r\n")
	send(t, e, "MAIL FROM:<alice@x>\r\n")
	send(t, e, "RCPT TO:<bob@x>\r\n")
	out := send(t, e, "RSET\r\n")
	if !strings.HasPrefix(out, "250") {
		t.Fatalf("out = %q, want 250", out)
	}

	out = send(t, e, "RCPT TO:<bob@x>\r\n")
	if !strings.HasPrefix(out, "503") {
		t.Errorf("out = %q, want 503 after RSET", out)
	}
}

func TestQuit(t *testing.T) {
	e, _ := newTestEngine(t)
	out, terminate := e.Process(context.Background(), []byte("QUIT\r\n"))
	if !terminate {
		t.Error("expected QUIT to terminate the session")
	}
	if !strings.HasPrefix(string(out), "221") {
		t.Errorf("out = %q, want 221", out)
	}
}

func TestVrfyAlwaysReturns252(t *testing.T) {
	e, _ := newTestEngine(t)
	out := send(t, e, "VRFY someone\r\n")
	if !strings.HasPrefix(out, "252") {
		t.Errorf("out = %q, want 252", out)
	}
}

func TestUnknownVerb(t *testing.T) {
	e, _ := newTestEngine(t)
	out := send(t, e, "BOGUS\r\n")
	if !strings.HasPrefix(out, "500") {
		t.Errorf("out = %q, want 500", out)
	}
}

func TestCommandLineOverflow(t *testing.T) {
	e, _ := newTestEngine(t)
	line := strings.Repeat("a", 1001) + "\r\n"
	out := send(t, e, line)
	if !strings.HasPrefix(out, "500") {
		t.Errorf("out = %q, want 500 on overflow", out)
	}
}

func TestParseAddress(t *testing.T) {
	cases := []struct {
		arg, keyword, want string
		ok                 bool
	}{
		{"FROM:<alice@x>", "FROM:", "alice", true},
		{"from:<alice@x>", "FROM:", "alice", true},
		{"TO:<bob>", "TO:", "bob", true},
		{"TO:<>", "TO:", "", false},
		{"TO:bob@x", "TO:", "", false},
		{"FROM:<alice@x", "FROM:", "", false},
	}

	for _, c := range cases {
		got, ok := parseAddress(c.arg, c.keyword)
		if ok != c.ok || got != c.want {
			t.Errorf("parseAddress(%q, %q) = (%q, %v), want (%q, %v)", c.arg, c.keyword, got, ok, c.want, c.ok)
		}
	}
}
