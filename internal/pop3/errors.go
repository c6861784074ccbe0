package pop3

import "errors"

// Protocol errors for POP3.
var (
	// ErrNoUsername names the case of PASS used before USER. The PASS
	// command reports that case as a -ERR reply and does not return it.
	ErrNoUsername = errors.New("username not specified")

	// ErrAuthFailed names a failed authentication. The PASS command
	// reports a failed login as a -ERR reply and does not return it.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrNoSuchMessage is returned when a message number doesn't exist.
	ErrNoSuchMessage = errors.New("no such message")

	// ErrMessageDeleted is returned when accessing a message marked for deletion.
	ErrMessageDeleted = errors.New("message already deleted")
)
