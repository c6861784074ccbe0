package pop3

import (
	"context"
	"fmt"
)

// userCommand implements the USER command (RFC 1939).
type userCommand struct{}

func (u *userCommand) Name() string {
	return "USER"
}

func (u *userCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if sess.State() != StateInit {
		return Response{OK: false, Message: "Command not valid in this state"}, nil
	}

	if len(args) != 1 {
		return Response{OK: false, Message: "USER command requires username argument"}, nil
	}

	username := args[0]
	if username == "" {
		return Response{OK: false, Message: "Username cannot be empty"}, nil
	}

	sess.SetUsername(username)

	return Response{OK: true, Message: fmt.Sprintf("User %s accepted", username)}, nil
}

// passCommand implements the PASS command (RFC 1939).
type passCommand struct{}

func (p *passCommand) Name() string {
	return "PASS"
}

func (p *passCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if sess.State() != StateAuth {
		return Response{OK: false, Message: "Command not valid in this state"}, nil
	}

	username := sess.Username()
	if username == "" {
		return Response{OK: false, Message: "No username specified"}, nil
	}

	if len(args) != 1 {
		return Response{OK: false, Message: "PASS command requires password argument"}, nil
	}
	password := args[0]

	ok, err := sess.Store().CheckLogin(ctx, username, password)
	if err != nil {
		conn.Logger().Error("login check failed", "username", username, "error", err.Error())
		return Response{OK: false, Message: "Authentication failed"}, nil
	}
	if !ok {
		// Remain in StateAuth to permit re-PASS, per the spec's
		// explicit choice over resetting to the initial state.
		conn.Logger().Info("authentication failed", "username", username)
		return Response{OK: false, Message: "Authentication failed"}, nil
	}

	if err := sess.InitializeMailbox(ctx, username); err != nil {
		conn.Logger().Error("failed to initialize mailbox", "username", username, "error", err.Error())
		return Response{OK: false, Message: "Failed to access mailbox"}, nil
	}

	conn.Logger().Info("authentication successful", "username", username)

	return Response{OK: true, Message: fmt.Sprintf("Logged in as %s", username)}, nil
}

// quitCommand implements the QUIT command (RFC 1939).
type quitCommand struct{}

func (q *quitCommand) Name() string {
	return "QUIT"
}

func (q *quitCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if len(args) > 0 {
		return Response{OK: false, Message: "QUIT command takes no arguments"}, nil
	}

	message := "Goodbye"

	if sess.State() == StateTransaction {
		ids := sess.DeletedMessageIDs()
		if len(ids) > 0 {
			if err := sess.Store().DeleteMemberships(ctx, sess.Mailbox(), ids); err != nil {
				conn.Logger().Error("failed to commit deletions", "error", err.Error())
				return Response{OK: false, Message: "Failed to expunge mailbox"}, nil
			}
		}
	}

	return Response{OK: true, Message: message}, nil
}

func init() {
	RegisterCommand(&userCommand{})
	RegisterCommand(&passCommand{})
	RegisterCommand(&quitCommand{})
}
