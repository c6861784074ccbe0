// Package store implements the persistence layer shared by the SMTP
// and POP3 engines: mailbox lookup, message insertion with recipient
// fan-out, message listing, retrieval, and deletion, all against a
// SQLite database.
//
// Schema (created out of band, never by this package):
//
//	mailbox(id TEXT PRIMARY KEY, auth TEXT NOT NULL)
//	message(id INTEGER PRIMARY KEY AUTOINCREMENT, data BLOB NOT NULL)
//	mailbox_message(mailbox_id TEXT REFERENCES mailbox(id),
//	                 message_id INTEGER REFERENCES message(id) ON DELETE CASCADE,
//	                 PRIMARY KEY (mailbox_id, message_id))
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by FetchMessage when no membership row links
// the given mailbox to the given message.
var ErrNotFound = errors.New("store: message not found")

// Message describes one entry in a mailbox's message listing.
type Message struct {
	ID   int64
	Size int64
}

// Store wraps a SQLite connection pool with the prepared operations
// the engines need. The pool is pinned to a single connection so that
// database/sql serializes all access, giving the single-writer
// guarantee a threaded connection-per-goroutine model requires without
// a hand-rolled mutex around the statements.
type Store struct {
	db *sql.DB

	stmtMailboxExists *sql.Stmt
	stmtCheckLogin    *sql.Stmt
	stmtListMessages  *sql.Stmt
	stmtFetchMessage  *sql.Stmt
}

// Open opens the SQLite database at path and prepares the store's
// statements. The database must already contain the schema documented
// in the package comment; Open never issues DDL.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db}

	statements := []struct {
		dst  **sql.Stmt
		text string
	}{
		{&s.stmtMailboxExists, "SELECT EXISTS(SELECT 1 FROM mailbox WHERE id = ?)"},
		{&s.stmtCheckLogin, "SELECT EXISTS(SELECT 1 FROM mailbox WHERE id = ? AND auth = ?)"},
		{&s.stmtListMessages, "SELECT b.id, LENGTH(b.data) FROM mailbox_message a INNER JOIN message b ON a.message_id = b.id WHERE a.mailbox_id = ? ORDER BY b.id"},
		{&s.stmtFetchMessage, "SELECT b.data FROM mailbox_message a INNER JOIN message b ON a.message_id = b.id WHERE a.mailbox_id = ? AND a.message_id = ?"},
	}

	for _, stmt := range statements {
		prepared, err := db.Prepare(stmt.text)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("preparing statement %q: %w", stmt.text, err)
		}
		*stmt.dst = prepared
	}

	return s, nil
}

// Close releases the store's prepared statements and closes the
// underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// MailboxExists reports whether a mailbox with the given id exists.
func (s *Store) MailboxExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := s.stmtMailboxExists.QueryRowContext(ctx, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking mailbox existence: %w", err)
	}
	return exists, nil
}

// CheckLogin reports whether the mailbox id exists and its stored
// secret matches secret.
func (s *Store) CheckLogin(ctx context.Context, id, secret string) (bool, error) {
	var ok bool
	if err := s.stmtCheckLogin.QueryRowContext(ctx, id, secret).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking login: %w", err)
	}
	return ok, nil
}

// ListMessages returns the messages currently linked to mailboxID, in
// ascending message-id order.
func (s *Store) ListMessages(ctx context.Context, mailboxID string) ([]Message, error) {
	rows, err := s.stmtListMessages.QueryContext(ctx, mailboxID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Size); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// FetchMessage returns the raw body of messageID, provided a
// membership row links it to mailboxID. Returns ErrNotFound otherwise.
func (s *Store) FetchMessage(ctx context.Context, mailboxID string, messageID int64) ([]byte, error) {
	var data []byte
	err := s.stmtFetchMessage.QueryRowContext(ctx, mailboxID, messageID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching message: %w", err)
	}
	return data, nil
}

// InsertMessage atomically inserts a message body and a membership row
// for each recipient. On any failure the transaction is rolled back
// and no rows are created.
func (s *Store) InsertMessage(ctx context.Context, body []byte, recipients []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delivery transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "INSERT INTO message(data) VALUES(?)", body)
	if err != nil {
		return fmt.Errorf("inserting message body: %w", err)
	}

	messageID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading inserted message id: %w", err)
	}

	for _, recipient := range recipients {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO mailbox_message(mailbox_id, message_id) VALUES(?, ?)",
			recipient, messageID,
		); err != nil {
			return fmt.Errorf("linking recipient %q: %w", recipient, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delivery: %w", err)
	}

	return nil
}

// DeleteMemberships atomically removes the membership rows linking
// mailboxID to each of messageIDs.
func (s *Store) DeleteMemberships(ctx context.Context, mailboxID string, messageIDs []int64) error {
	if len(messageIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range messageIDs {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM mailbox_message WHERE mailbox_id = ? AND message_id = ?",
			mailboxID, id,
		); err != nil {
			return fmt.Errorf("deleting membership %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}

	return nil
}
