package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Message roles in the conversation log.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleOperator  = "operator"
	RoleSystem    = "system"
)

// Message is one append-only entry of a conversation's log.
type Message struct {
	ID             int64  `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	CreatedTs      int64  `json:"created_ts"`
}

// FindMessage filters ListMessages. Results are ordered by created_ts.
type FindMessage struct {
	ConversationID *string
	// Limit caps the result to the most recent N entries.
	Limit *int
}

// AppendMessage writes one log entry to the durable store.
func (s *Store) AppendMessage(ctx context.Context, conversationID, role, content string) (*Message, error) {
	message := &Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedTs:      time.Now().Unix(),
	}
	created, err := s.driver.CreateMessage(ctx, message)
	if err != nil {
		return nil, errors.Wrap(err, "failed to append message")
	}
	return created, nil
}

// ListMessages reads back log entries, oldest first.
func (s *Store) ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error) {
	messages, err := s.driver.ListMessages(ctx, find)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	return messages, nil
}
