// Package relay routes inbound chat messages either to the AI backend or to
// the human operator, according to the per-conversation handoff flag.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/chatbridge/internal/dispatch"
	relayerrors "github.com/hrygo/chatbridge/internal/errors"
	"github.com/hrygo/chatbridge/internal/observability"
	"github.com/hrygo/chatbridge/internal/profile"
	"github.com/hrygo/chatbridge/internal/resilience"
	"github.com/hrygo/chatbridge/plugin/ai"
	"github.com/hrygo/chatbridge/store"
)

const (
	typingInterval = 4 * time.Second

	fallbackReply    = "I don't have an answer for that right now. Could you rephrase?"
	unavailableReply = "The assistant is temporarily unavailable. Please try again in a moment."
	startPrompt      = "Send /start to begin a conversation."
	greetingReply    = "Hi! How can I help you today?"
	transferNotice   = "A human operator will take over from here."
)

// Sender delivers outbound messages on the chat transport. The transport
// itself is a black box; the relay only needs these two calls.
type Sender interface {
	SendText(ctx context.Context, conversationID, text string) error
	SendTyping(ctx context.Context, conversationID string) error
}

// Service is the relay core. One instance serves all conversations.
type Service struct {
	Profile *profile.Profile
	Store   *store.Store

	assistant ai.Assistant
	sender    Sender
	queue     *dispatch.Queue
	breaker   *resilience.Breaker
	retry     resilience.RetryPolicy
	logger    *slog.Logger
}

// NewService wires the relay. The breaker guards every AI backend call and
// the queue bounds how many runs execute at once.
func NewService(p *profile.Profile, st *store.Store, assistant ai.Assistant, sender Sender) *Service {
	return &Service{
		Profile:   p,
		Store:     st,
		assistant: assistant,
		sender:    sender,
		queue:     dispatch.NewQueue(p.DispatchConcurrency),
		breaker:   resilience.NewBreaker("assistant", resilience.DefaultBreakerConfig()),
		retry:     resilience.DefaultRetryPolicy(),
		logger:    slog.Default(),
	}
}

// Queue exposes the dispatch queue for health reporting.
func (s *Service) Queue() *dispatch.Queue {
	return s.queue
}

// Breaker exposes the AI backend breaker for health reporting.
func (s *Service) Breaker() *resilience.Breaker {
	return s.breaker
}

// Shutdown drains in-flight dispatch work.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.queue.Shutdown(ctx)
}

// HandleInbound processes one inbound message. Operator-chat messages are
// treated as commands; everything else is a user message. The returned channel
// resolves when the message has been fully handled, so callers may either wait
// on it or drop it.
func (s *Service) HandleInbound(ctx context.Context, conversationID, senderName, text string) <-chan dispatch.Result {
	if conversationID == s.Profile.OperatorChatID {
		return immediate(s.handleOperator(ctx, text))
	}
	return s.handleUser(ctx, conversationID, senderName, text)
}

func (s *Service) handleUser(ctx context.Context, conversationID, senderName, text string) <-chan dispatch.Result {
	reqCtx := observability.NewRequestContext(s.logger, conversationID, store.RoleUser)
	ctx = observability.WithRequestContext(ctx, reqCtx)

	if isStartCommand(text) {
		if err := s.startSession(ctx, conversationID); err != nil {
			reqCtx.Error("failed to start session", err)
			s.sendBestEffort(ctx, conversationID, unavailableReply)
			return immediate("", err)
		}
		reqCtx.Info("session started")
		return immediate(greetingReply, s.sender.SendText(ctx, conversationID, greetingReply))
	}

	session, err := s.Store.GetSession(ctx, conversationID)
	if err != nil {
		reqCtx.Error("failed to read session", err)
		s.sendBestEffort(ctx, conversationID, unavailableReply)
		return immediate("", err)
	}
	if session == nil {
		// Not an error: the conversation simply has not started yet.
		return immediate(startPrompt, s.sender.SendText(ctx, conversationID, startPrompt))
	}

	s.logMessage(ctx, conversationID, store.RoleUser, text)

	if session.Handoff {
		return immediate(s.forwardToOperator(ctx, conversationID, senderName, text))
	}

	return s.queue.Enqueue(ctx, conversationID, func(taskCtx context.Context) (string, error) {
		return s.runAssistant(taskCtx, session, conversationID, senderName, text)
	})
}

// startSession mints a fresh session for the conversation. A repeated start
// replaces the previous thread binding (last start wins). Thread creation
// goes through the breaker so a dead AI backend fails fast.
func (s *Service) startSession(ctx context.Context, conversationID string) error {
	var threadID string
	err := s.breaker.Do(func() error {
		return resilience.Retry(ctx, s.retry, func() error {
			var createErr error
			threadID, createErr = s.assistant.CreateThread(ctx)
			return createErr
		})
	})
	if err != nil {
		return relayerrors.AssistantUnavailable("failed to create thread", err)
	}

	_, err = s.Store.CreateSession(ctx, conversationID, threadID)
	return err
}

func isStartCommand(text string) bool {
	trimmed := strings.TrimSpace(text)
	return trimmed == "/start" || strings.HasPrefix(trimmed, "/start ")
}

// runAssistant forwards the pending user messages to the AI backend and
// relays the reply. It runs inside the dispatch queue so concurrency and
// per-conversation ordering are already enforced here.
func (s *Service) runAssistant(ctx context.Context, session *store.Session, conversationID, senderName, text string) (string, error) {
	reqCtx, ok := observability.FromContext(ctx)
	if !ok {
		reqCtx = observability.NewRequestContext(s.logger, conversationID, store.RoleAssistant)
	}

	// The handoff flag may have flipped while this task sat in the queue.
	if current, err := s.Store.GetSession(ctx, conversationID); err == nil && current != nil {
		session = current
	}
	if session.Handoff {
		return s.forwardToOperator(ctx, conversationID, senderName, text)
	}

	runCtx, cancel := context.WithTimeout(ctx, s.Profile.RunTimeout)
	defer cancel()

	stopTyping := s.startTyping(runCtx, conversationID)
	defer stopTyping()

	var reply string
	err := s.breaker.Do(func() error {
		return resilience.Retry(runCtx, s.retry, func() error {
			if addErr := s.assistant.AddMessage(runCtx, session.ThreadID, text); addErr != nil {
				return addErr
			}
			var runErr error
			reply, runErr = s.assistant.RunAndAwaitReply(runCtx, session.ThreadID)
			return runErr
		})
	})
	stopTyping()

	if err != nil {
		reqCtx.Error("assistant run failed", err)
		s.sendBestEffort(ctx, conversationID, unavailableReply)
		return "", relayerrors.AssistantUnavailable("run failed", err)
	}

	reply = s.applyHandoffMarker(ctx, conversationID, reply)
	if strings.TrimSpace(reply) == "" {
		reply = fallbackReply
	}

	if err := s.sender.SendText(ctx, conversationID, reply); err != nil {
		reqCtx.Error("failed to deliver reply", err)
		return "", err
	}
	s.logMessage(ctx, conversationID, store.RoleAssistant, reply)
	reqCtx.Info("reply delivered", slog.Int64("duration_ms", reqCtx.DurationMs()))
	return reply, nil
}

// applyHandoffMarker strips the marker from the reply and, when present,
// flips the conversation to operator handling.
func (s *Service) applyHandoffMarker(ctx context.Context, conversationID, reply string) string {
	if s.Profile.HandoffMarker == "" || !strings.Contains(reply, s.Profile.HandoffMarker) {
		return reply
	}
	reply = strings.TrimSpace(strings.ReplaceAll(reply, s.Profile.HandoffMarker, ""))

	session, firstTransfer, err := s.Store.SetHandoff(ctx, conversationID, true)
	if err != nil || session == nil {
		slog.Error("failed to enable handoff",
			slog.String("conversation_id", conversationID),
			slog.String("error", fmt.Sprintf("%v", err)))
		return reply
	}

	notice := fmt.Sprintf("Conversation %s requested a human operator. Reply with /say %s <text>.", conversationID, conversationID)
	if !firstTransfer {
		notice = fmt.Sprintf("Conversation %s was routed back to operator handling.", conversationID)
	}
	s.sendBestEffort(ctx, s.Profile.OperatorChatID, notice)

	if firstTransfer {
		s.recordFirstTransfer(ctx, conversationID)
	}
	return reply
}

// recordFirstTransfer writes the audit entry and tells the end user a human
// is taking over. Runs only on the first AI to human transition.
func (s *Service) recordFirstTransfer(ctx context.Context, conversationID string) {
	s.logMessage(ctx, conversationID, store.RoleSystem, "conversation transferred to human operator")
	s.sendBestEffort(ctx, conversationID, transferNotice)
}

// forwardToOperator relays a user message to the operator chat while the
// conversation is in handoff.
func (s *Service) forwardToOperator(ctx context.Context, conversationID, senderName, text string) (string, error) {
	label := conversationID
	if senderName != "" {
		label = fmt.Sprintf("%s (%s)", senderName, conversationID)
	}
	forwarded := fmt.Sprintf("[%s] %s", label, text)
	if err := s.sender.SendText(ctx, s.Profile.OperatorChatID, forwarded); err != nil {
		return "", errors.Wrap(err, "failed to forward message to operator")
	}
	return forwarded, nil
}

// startTyping keeps the typing indicator alive until the returned stop
// function is called. Safe to call stop more than once.
func (s *Service) startTyping(ctx context.Context, conversationID string) func() {
	done := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(done) }) }

	go func() {
		_ = s.sender.SendTyping(ctx, conversationID)
		ticker := time.NewTicker(typingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.sender.SendTyping(ctx, conversationID)
			}
		}
	}()
	return stop
}

// logMessage appends to the durable transcript. Failures are logged and
// swallowed so the conversation keeps flowing.
func (s *Service) logMessage(ctx context.Context, conversationID, role, content string) {
	if _, err := s.Store.AppendMessage(ctx, conversationID, role, content); err != nil {
		slog.Warn("failed to record message",
			slog.String("conversation_id", conversationID),
			slog.String("role", role),
			slog.String("error", err.Error()))
	}
}

func (s *Service) sendBestEffort(ctx context.Context, conversationID, text string) {
	if err := s.sender.SendText(ctx, conversationID, text); err != nil {
		slog.Warn("failed to send message",
			slog.String("conversation_id", conversationID),
			slog.String("error", err.Error()))
	}
}

func immediate(value string, err error) <-chan dispatch.Result {
	ch := make(chan dispatch.Result, 1)
	ch <- dispatch.Result{Value: value, Err: err}
	close(ch)
	return ch
}
