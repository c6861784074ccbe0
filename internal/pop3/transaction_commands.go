package pop3

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// statCommand implements the STAT command (RFC 1939).
type statCommand struct{}

func (s *statCommand) Name() string {
	return "STAT"
}

func (s *statCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if sess.State() != StateTransaction {
		return Response{OK: false, Message: "Command not valid in this state"}, nil
	}
	if len(args) > 0 {
		return Response{OK: false, Message: "STAT command takes no arguments"}, nil
	}

	return Response{OK: true, Message: fmt.Sprintf("%d %d", sess.MessageCount(), sess.TotalSize())}, nil
}

// listCommand implements the LIST command (RFC 1939).
type listCommand struct{}

func (l *listCommand) Name() string {
	return "LIST"
}

func (l *listCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if sess.State() != StateTransaction {
		return Response{OK: false, Message: "Command not valid in this state"}, nil
	}

	if len(args) == 0 {
		messages := sess.AllMessages()
		lines := make([]string, len(messages))
		for i, m := range messages {
			lines[i] = fmt.Sprintf("%d %d", m.MsgNum, m.Info.Size)
		}
		return Response{
			OK:      true,
			Message: fmt.Sprintf("%d messages (%d octets)", sess.MessageCount(), sess.TotalSize()),
			Lines:   lines,
		}, nil
	}

	if len(args) != 1 {
		return Response{OK: false, Message: "LIST command takes at most one argument"}, nil
	}

	msgNum, err := strconv.Atoi(args[0])
	if err != nil {
		return Response{OK: false, Message: "Invalid message number"}, nil
	}

	msg, err := sess.GetMessage(msgNum)
	if err != nil {
		if errors.Is(err, ErrNoSuchMessage) || errors.Is(err, ErrMessageDeleted) {
			return Response{OK: false, Message: "No such message"}, nil
		}
		return Response{OK: false, Message: "Failed to retrieve message"}, nil
	}

	return Response{OK: true, Message: fmt.Sprintf("%d %d", msgNum, msg.Size)}, nil
}

// retrCommand implements the RETR command (RFC 1939).
type retrCommand struct{}

func (r *retrCommand) Name() string {
	return "RETR"
}

func (r *retrCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if sess.State() != StateTransaction {
		return Response{OK: false, Message: "Command not valid in this state"}, nil
	}

	if len(args) != 1 {
		return Response{OK: false, Message: "RETR command requires message number"}, nil
	}

	msgNum, err := strconv.Atoi(args[0])
	if err != nil {
		return Response{OK: false, Message: "Invalid message number"}, nil
	}

	msg, err := sess.GetMessage(msgNum)
	if err != nil {
		if errors.Is(err, ErrNoSuchMessage) || errors.Is(err, ErrMessageDeleted) {
			return Response{OK: false, Message: "No such message"}, nil
		}
		return Response{OK: false, Message: "Failed to retrieve message"}, nil
	}

	content, err := sess.Store().FetchMessage(ctx, sess.Mailbox(), msg.ID)
	if err != nil {
		conn.Logger().Error("failed to retrieve message content", "msgNum", msgNum, "error", err.Error())
		return Response{OK: false, Message: "Failed to retrieve message"}, nil
	}

	lines := splitMessageLines(string(content))

	return Response{
		OK:      true,
		Message: fmt.Sprintf("%d octets", msg.Size),
		Lines:   lines,
	}, nil
}

// deleCommand implements the DELE command (RFC 1939).
type deleCommand struct{}

func (d *deleCommand) Name() string {
	return "DELE"
}

func (d *deleCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if sess.State() != StateTransaction {
		return Response{OK: false, Message: "Command not valid in this state"}, nil
	}

	if len(args) != 1 {
		return Response{OK: false, Message: "DELE command requires message number"}, nil
	}

	msgNum, err := strconv.Atoi(args[0])
	if err != nil {
		return Response{OK: false, Message: "Invalid message number"}, nil
	}

	if err := sess.MarkDeleted(msgNum); err != nil {
		if errors.Is(err, ErrNoSuchMessage) {
			return Response{OK: false, Message: "No such message"}, nil
		}
		if errors.Is(err, ErrMessageDeleted) {
			return Response{OK: false, Message: "Message already deleted"}, nil
		}
		return Response{OK: false, Message: "Failed to delete message"}, nil
	}

	return Response{OK: true, Message: fmt.Sprintf("message %d deleted", msgNum)}, nil
}

// rsetCommand implements the RSET command (RFC 1939).
type rsetCommand struct{}

func (r *rsetCommand) Name() string {
	return "RSET"
}

func (r *rsetCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if sess.State() != StateTransaction {
		return Response{OK: false, Message: "Command not valid in this state"}, nil
	}
	if len(args) > 0 {
		return Response{OK: false, Message: "RSET command takes no arguments"}, nil
	}

	sess.ResetDeletions()

	return Response{OK: true, Message: fmt.Sprintf("maildrop has %d messages", sess.MessageCount())}, nil
}

// noopCommand implements the NOOP command (RFC 1939).
type noopCommand struct{}

func (n *noopCommand) Name() string {
	return "NOOP"
}

func (n *noopCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if sess.State() != StateTransaction {
		return Response{OK: false, Message: "Command not valid in this state"}, nil
	}
	if len(args) > 0 {
		return Response{OK: false, Message: "NOOP command takes no arguments"}, nil
	}

	return Response{OK: true, Message: ""}, nil
}

// uidlCommand implements the UIDL command. Full semantics are
// explicitly deferred by the spec; a message number argument is
// validated but the reply carries no UID payload.
type uidlCommand struct{}

func (u *uidlCommand) Name() string {
	return "UIDL"
}

func (u *uidlCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if sess.State() != StateTransaction {
		return Response{OK: false, Message: "Command not valid in this state"}, nil
	}

	if len(args) == 1 {
		msgNum, err := strconv.Atoi(args[0])
		if err != nil {
			return Response{OK: false, Message: "Invalid message number"}, nil
		}
		if _, err := sess.GetMessage(msgNum); err != nil {
			if errors.Is(err, ErrNoSuchMessage) || errors.Is(err, ErrMessageDeleted) {
				return Response{OK: false, Message: "No such message"}, nil
			}
			return Response{OK: false, Message: "Failed to retrieve message"}, nil
		}
	} else if len(args) > 1 {
		return Response{OK: false, Message: "UIDL command takes at most one argument"}, nil
	}

	return Response{OK: true, Message: ""}, nil
}

// topCommand implements the TOP command. Full semantics are
// explicitly deferred by the spec; arguments are validated but the
// reply carries no header/body payload.
type topCommand struct{}

func (t *topCommand) Name() string {
	return "TOP"
}

func (t *topCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if sess.State() != StateTransaction {
		return Response{OK: false, Message: "Command not valid in this state"}, nil
	}

	if len(args) != 2 {
		return Response{OK: false, Message: "TOP command requires message number and line count"}, nil
	}

	msgNum, err := strconv.Atoi(args[0])
	if err != nil {
		return Response{OK: false, Message: "Invalid message number"}, nil
	}
	if _, err := strconv.Atoi(args[1]); err != nil {
		return Response{OK: false, Message: "Invalid line count"}, nil
	}

	if _, err := sess.GetMessage(msgNum); err != nil {
		if errors.Is(err, ErrNoSuchMessage) || errors.Is(err, ErrMessageDeleted) {
			return Response{OK: false, Message: "No such message"}, nil
		}
		return Response{OK: false, Message: "Failed to retrieve message"}, nil
	}

	return Response{OK: true, Message: ""}, nil
}

// splitMessageLines splits message content into lines for a POP3
// multi-line response. Handles both LF and CRLF line endings.
func splitMessageLines(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")

	rawLines := strings.Split(content, "\n")

	if len(rawLines) > 0 && rawLines[len(rawLines)-1] == "" {
		rawLines = rawLines[:len(rawLines)-1]
	}

	return rawLines
}

func init() {
	RegisterCommand(&statCommand{})
	RegisterCommand(&listCommand{})
	RegisterCommand(&retrCommand{})
	RegisterCommand(&deleCommand{})
	RegisterCommand(&rsetCommand{})
	RegisterCommand(&noopCommand{})
	RegisterCommand(&uidlCommand{})
	RegisterCommand(&topCommand{})
}
