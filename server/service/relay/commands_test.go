package relay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/chatbridge/store"
)

// operator sends a message from the operator chat and returns the response
// posted back to it.
func operator(t *testing.T, svc *Service, sender *fakeSender, text string) string {
	t.Helper()
	<-svc.HandleInbound(context.Background(), testOperatorChat, "op", text)
	responses := sender.sentTo(testOperatorChat)
	require.NotEmpty(t, responses)
	return responses[len(responses)-1]
}

func TestOperatorUsageOnUnknownInput(t *testing.T) {
	svc, _, sender, _ := newTestService(t)

	response := operator(t, svc, sender, "hello?")
	require.Contains(t, response, "/handoff on")

	response = operator(t, svc, sender, "/frobnicate")
	require.Contains(t, response, "/handoff on")
}

func TestHandoffCommand(t *testing.T) {
	svc, _, sender, _ := newTestService(t)
	ctx := context.Background()

	<-svc.HandleInbound(ctx, "100", "alice", "/start")

	response := operator(t, svc, sender, "/handoff on 100")
	require.Contains(t, response, "routed to you")

	session, err := svc.Store.GetSession(ctx, "100")
	require.NoError(t, err)
	require.True(t, session.Handoff)

	response = operator(t, svc, sender, "/handoff off 100")
	require.Contains(t, response, "back with the assistant")

	session, err = svc.Store.GetSession(ctx, "100")
	require.NoError(t, err)
	require.False(t, session.Handoff)
	// The first-transfer audit survives the disable.
	require.True(t, session.Transferred)
}

func TestHandoffCommandUnknownConversation(t *testing.T) {
	svc, _, sender, _ := newTestService(t)

	response := operator(t, svc, sender, "/handoff on 404")
	require.Contains(t, response, "Error:")
	require.Contains(t, response, "404")
}

func TestHandoffCommandBadArguments(t *testing.T) {
	svc, _, sender, _ := newTestService(t)

	response := operator(t, svc, sender, "/handoff maybe 100")
	require.Contains(t, response, "Error:")
	require.Contains(t, response, "usage")

	response = operator(t, svc, sender, "/handoff on")
	require.Contains(t, response, "Error:")
}

func TestSayCommand(t *testing.T) {
	svc, _, sender, _ := newTestService(t)
	ctx := context.Background()

	<-svc.HandleInbound(ctx, "100", "alice", "/start")

	response := operator(t, svc, sender, "/say 100 we are looking into it")
	require.Contains(t, response, "Sent to 100")

	texts := sender.sentTo("100")
	require.Contains(t, texts, "we are looking into it")

	conversationID := "100"
	messages, err := svc.Store.ListMessages(ctx, &store.FindMessage{ConversationID: &conversationID})
	require.NoError(t, err)
	last := messages[len(messages)-1]
	require.Equal(t, store.RoleOperator, last.Role)
	require.Equal(t, "we are looking into it", last.Content)
}

func TestSayCommandUnknownConversation(t *testing.T) {
	svc, _, sender, _ := newTestService(t)

	response := operator(t, svc, sender, "/say 404 hello")
	require.Contains(t, response, "Error:")
}

func TestListCommand(t *testing.T) {
	svc, _, sender, _ := newTestService(t)
	ctx := context.Background()

	response := operator(t, svc, sender, "/list")
	require.Contains(t, response, "No active sessions")

	<-svc.HandleInbound(ctx, "100", "alice", "/start")
	<-svc.HandleInbound(ctx, "200", "bob", "/start")
	_, _, err := svc.Store.SetHandoff(ctx, "200", true)
	require.NoError(t, err)

	response = operator(t, svc, sender, "/list")
	require.Contains(t, response, "2 session(s)")
	require.Contains(t, response, "100  assistant")
	require.Contains(t, response, "200  operator")
}

func TestHistoryCommand(t *testing.T) {
	svc, _, sender, _ := newTestService(t)
	ctx := context.Background()

	<-svc.HandleInbound(ctx, "100", "alice", "/start")
	<-svc.HandleInbound(ctx, "100", "alice", "question one")
	<-svc.HandleInbound(ctx, "100", "alice", "question two")

	response := operator(t, svc, sender, "/history 100")
	require.Contains(t, response, "user: question one")
	require.Contains(t, response, "user: question two")
	require.Contains(t, response, "assistant: hello from assistant")

	// A limit of 1 keeps only the newest entry.
	response = operator(t, svc, sender, "/history 100 1")
	require.NotContains(t, response, "question one")
}

func TestHistoryCommandValidation(t *testing.T) {
	svc, _, sender, _ := newTestService(t)

	response := operator(t, svc, sender, "/history")
	require.Contains(t, response, "Error:")

	response = operator(t, svc, sender, "/history 404")
	require.Contains(t, response, "Error:")

	<-svc.HandleInbound(context.Background(), "100", "alice", "/start")
	response = operator(t, svc, sender, "/history 100 zero")
	require.Contains(t, response, "Error:")
}
