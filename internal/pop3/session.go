package pop3

import (
	"context"

	"bridgemail/internal/store"
)

// State represents the current state in the POP3 state machine.
type State int

const (
	// StateInit is the initial state immediately after the greeting.
	StateInit State = iota

	// StateAuth is entered after a USER command, awaiting PASS.
	StateAuth

	// StateTransaction is the state after successful authentication,
	// with the mailbox snapshot loaded.
	StateTransaction
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateAuth:
		return "AUTH"
	case StateTransaction:
		return "TRANSACTION"
	default:
		return "UNKNOWN"
	}
}

// Session holds one POP3 connection's state machine and, once
// authenticated, a frozen snapshot of its mailbox.
type Session struct {
	state State

	username  string
	mailboxID string

	store       *store.Store
	messageList []store.Message
	deletedSet  map[int]bool // 1-based message numbers marked deleted
}

// NewSession creates a new POP3 session bound to st.
func NewSession(st *store.Store) *Session {
	return &Session{
		state: StateInit,
		store: st,
	}
}

// State returns the current POP3 state.
func (s *Session) State() State {
	return s.state
}

// SetUsername stores the username from the USER command and
// transitions to StateAuth.
func (s *Session) SetUsername(username string) {
	s.username = username
	s.state = StateAuth
}

// Username returns the stored username.
func (s *Session) Username() string {
	return s.username
}

// InitializeMailbox loads the message snapshot for mailboxID and
// transitions to StateTransaction. Called once, on successful PASS.
func (s *Session) InitializeMailbox(ctx context.Context, mailboxID string) error {
	messages, err := s.store.ListMessages(ctx, mailboxID)
	if err != nil {
		return err
	}

	s.mailboxID = mailboxID
	s.messageList = messages
	s.deletedSet = make(map[int]bool)
	s.state = StateTransaction

	return nil
}

// Mailbox returns the authenticated mailbox id.
func (s *Session) Mailbox() string {
	return s.mailboxID
}

// Store returns the store this session is bound to.
func (s *Session) Store() *store.Store {
	return s.store
}

// MessageCount returns the count of non-deleted messages.
func (s *Session) MessageCount() int {
	count := 0
	for i := range s.messageList {
		if !s.deletedSet[i+1] {
			count++
		}
	}
	return count
}

// TotalSize returns the total size of non-deleted messages in bytes.
func (s *Session) TotalSize() int64 {
	var total int64
	for i, msg := range s.messageList {
		if !s.deletedSet[i+1] {
			total += msg.Size
		}
	}
	return total
}

// GetMessage returns message info by 1-based message number.
// Returns an error if the message doesn't exist or is deleted.
func (s *Session) GetMessage(msgNum int) (*store.Message, error) {
	if msgNum < 1 || msgNum > len(s.messageList) {
		return nil, ErrNoSuchMessage
	}
	if s.deletedSet[msgNum] {
		return nil, ErrMessageDeleted
	}
	return &s.messageList[msgNum-1], nil
}

// MarkDeleted marks a message for deletion by 1-based message number.
func (s *Session) MarkDeleted(msgNum int) error {
	if msgNum < 1 || msgNum > len(s.messageList) {
		return ErrNoSuchMessage
	}
	if s.deletedSet[msgNum] {
		return ErrMessageDeleted
	}
	s.deletedSet[msgNum] = true
	return nil
}

// ResetDeletions clears all deletion marks (RSET command).
func (s *Session) ResetDeletions() {
	s.deletedSet = make(map[int]bool)
}

// DeletedMessageIDs returns the persistent message ids of all
// messages marked for deletion.
func (s *Session) DeletedMessageIDs() []int64 {
	var ids []int64
	for msgNum := range s.deletedSet {
		if msgNum >= 1 && msgNum <= len(s.messageList) {
			ids = append(ids, s.messageList[msgNum-1].ID)
		}
	}
	return ids
}

// MessageEntry pairs a 1-based message number with its snapshot info,
// for LIST/UIDL iteration.
type MessageEntry struct {
	MsgNum int
	Info   store.Message
}

// AllMessages returns the non-deleted entries of the snapshot, in
// ascending message-number order.
func (s *Session) AllMessages() []MessageEntry {
	var result []MessageEntry
	for i, msg := range s.messageList {
		if !s.deletedSet[i+1] {
			result = append(result, MessageEntry{MsgNum: i + 1, Info: msg})
		}
	}
	return result
}
