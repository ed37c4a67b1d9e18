package relay

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	relayerrors "github.com/hrygo/chatbridge/internal/errors"
	"github.com/hrygo/chatbridge/store"
)

const defaultHistoryLimit = 20

const operatorUsage = `Commands:
/handoff on <conversation>  route a conversation to you
/handoff off <conversation> hand it back to the assistant
/say <conversation> <text>  reply to a conversation
/list                       show active sessions
/history <conversation> [n] show recent messages`

// handleOperator parses and executes one operator-chat message, then posts
// the outcome back to the operator chat. Unknown input gets the usage text.
func (s *Service) handleOperator(ctx context.Context, text string) (string, error) {
	response, err := s.execOperatorCommand(ctx, text)
	if err != nil {
		response = fmt.Sprintf("Error: %v", err)
	}
	if sendErr := s.sender.SendText(ctx, s.Profile.OperatorChatID, response); sendErr != nil {
		return "", sendErr
	}
	return response, err
}

func (s *Service) execOperatorCommand(ctx context.Context, text string) (string, error) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return operatorUsage, nil
	}

	switch fields[0] {
	case "/handoff":
		if len(fields) != 3 || (fields[1] != "on" && fields[1] != "off") {
			return "", relayerrors.InvalidArgument("usage: /handoff on|off <conversation>")
		}
		return s.cmdHandoff(ctx, fields[2], fields[1] == "on")
	case "/say":
		if len(fields) < 3 {
			return "", relayerrors.InvalidArgument("usage: /say <conversation> <text>")
		}
		return s.cmdSay(ctx, fields[1], strings.Join(fields[2:], " "))
	case "/list":
		return s.cmdList(ctx)
	case "/history":
		if len(fields) < 2 || len(fields) > 3 {
			return "", relayerrors.InvalidArgument("usage: /history <conversation> [n]")
		}
		limit := defaultHistoryLimit
		if len(fields) == 3 {
			n, err := strconv.Atoi(fields[2])
			if err != nil || n <= 0 {
				return "", relayerrors.InvalidArgument("history limit must be a positive number")
			}
			limit = n
		}
		return s.cmdHistory(ctx, fields[1], limit)
	default:
		return operatorUsage, nil
	}
}

func (s *Service) cmdHandoff(ctx context.Context, conversationID string, enable bool) (string, error) {
	session, firstTransfer, err := s.Store.SetHandoff(ctx, conversationID, enable)
	if err != nil {
		return "", err
	}
	if session == nil {
		return "", relayerrors.SessionNotFound(conversationID)
	}
	if firstTransfer {
		s.recordFirstTransfer(ctx, conversationID)
	}
	if enable {
		return fmt.Sprintf("Conversation %s is now routed to you.", conversationID), nil
	}
	return fmt.Sprintf("Conversation %s is back with the assistant.", conversationID), nil
}

func (s *Service) cmdSay(ctx context.Context, conversationID, text string) (string, error) {
	exists, err := s.Store.HasSession(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", relayerrors.SessionNotFound(conversationID)
	}
	if err := s.sender.SendText(ctx, conversationID, text); err != nil {
		return "", err
	}
	s.logMessage(ctx, conversationID, store.RoleOperator, text)
	return fmt.Sprintf("Sent to %s.", conversationID), nil
}

func (s *Service) cmdList(ctx context.Context) (string, error) {
	sessions, err := s.Store.ListSessions(ctx, &store.FindSession{})
	if err != nil {
		return "", err
	}
	if len(sessions) == 0 {
		return "No active sessions.", nil
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%d session(s):\n", len(sessions)))
	for _, session := range sessions {
		state := "assistant"
		if session.Handoff {
			state = "operator"
		}
		b.WriteString(fmt.Sprintf("%s  %s  started %s\n",
			session.ConversationID, state,
			time.Unix(session.CreatedTs, 0).UTC().Format("2006-01-02 15:04")))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (s *Service) cmdHistory(ctx context.Context, conversationID string, limit int) (string, error) {
	exists, err := s.Store.HasSession(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", relayerrors.SessionNotFound(conversationID)
	}

	messages, err := s.Store.ListMessages(ctx, &store.FindMessage{ConversationID: &conversationID, Limit: &limit})
	if err != nil {
		return "", err
	}
	if len(messages) == 0 {
		return fmt.Sprintf("No messages recorded for %s.", conversationID), nil
	}

	var b strings.Builder
	for _, m := range messages {
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n",
			time.Unix(m.CreatedTs, 0).UTC().Format("15:04:05"), m.Role, m.Content))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
