package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
)

const sessionKeyPrefix = "session:"

// Session is the per-conversation relay state. ConversationID is the stable
// external identifier; ThreadID is the AI backend's context handle and never
// changes after creation. Handoff is the single authority for routing:
// true routes messages to the human operator instead of the AI backend.
type Session struct {
	UID            string `json:"uid"`
	ConversationID string `json:"conversation_id"`
	ThreadID       string `json:"thread_id"`
	Handoff        bool   `json:"handoff"`
	// Transferred and TransferredTs record the first handoff event for audit.
	Transferred   bool   `json:"transferred"`
	TransferredTs *int64 `json:"transferred_ts,omitempty"`
	CreatedTs     int64  `json:"created_ts"`
	UpdatedTs     int64  `json:"updated_ts"`
}

// FindSession filters ListSessions.
type FindSession struct {
	ConversationID *string
	Handoff        *bool
}

// UpdateSession is a partial update of a session keyed by conversation id.
type UpdateSession struct {
	ConversationID string
	Handoff        *bool
	Transferred    *bool
	TransferredTs  *int64
	UpdatedTs      int64
}

func sessionKey(conversationID string) string {
	return sessionKeyPrefix + conversationID
}

// CreateSession persists a new session across all tiers. The durable write is
// synchronous and authoritative; cache writes are best effort. A repeated
// create for the same conversation overwrites the previous session
// (last start wins).
func (s *Store) CreateSession(ctx context.Context, conversationID, threadID string) (*Session, error) {
	unlock := s.lockConversation(conversationID)
	defer unlock()

	now := time.Now().Unix()
	session := &Session{
		UID:            shortuuid.New(),
		ConversationID: conversationID,
		ThreadID:       threadID,
		Handoff:        false,
		CreatedTs:      now,
		UpdatedTs:      now,
	}

	created, err := s.driver.UpsertSession(ctx, session)
	if err != nil {
		return nil, errors.Wrap(err, "failed to persist session")
	}

	s.warmSession(ctx, created)
	return created, nil
}

// GetSession resolves a conversation's session by consulting the tiers in
// speed order: memory, shared cache, durable store. A hit in a slower tier is
// promoted into the faster tiers before returning. Returns nil when the
// session is absent everywhere.
func (s *Store) GetSession(ctx context.Context, conversationID string) (*Session, error) {
	unlock := s.lockConversation(conversationID)
	defer unlock()
	return s.getSessionLocked(ctx, conversationID)
}

func (s *Store) getSessionLocked(ctx context.Context, conversationID string) (*Session, error) {
	key := sessionKey(conversationID)

	if data, found, err := s.memory.Get(ctx, key); err != nil {
		slog.Warn("memory tier read failed", "key", key, "error", err)
	} else if found {
		return unmarshalSession(data)
	}

	if s.shared != nil {
		if data, found, err := s.shared.Get(ctx, key); err != nil {
			// Connectivity failure, not a miss: fall through to the durable tier.
			slog.Warn("shared cache tier read failed", "key", key, "error", err)
		} else if found {
			session, err := unmarshalSession(data)
			if err == nil {
				s.promoteToMemory(ctx, key, data)
				return session, nil
			}
			slog.Warn("shared cache tier held corrupt session", "key", key, "error", err)
		}
	}

	session, err := s.driver.GetSession(ctx, conversationID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read session from durable store")
	}
	if session == nil {
		return nil, nil
	}

	s.warmSession(ctx, session)
	return session, nil
}

// HasSession reports whether a session exists, probing the fastest tier first.
func (s *Store) HasSession(ctx context.Context, conversationID string) (bool, error) {
	key := sessionKey(conversationID)

	if found, err := s.memory.Exists(ctx, key); err == nil && found {
		return true, nil
	}
	if s.shared != nil {
		if found, err := s.shared.Exists(ctx, key); err == nil && found {
			return true, nil
		}
	}

	session, err := s.driver.GetSession(ctx, conversationID)
	if err != nil {
		return false, errors.Wrap(err, "failed to read session from durable store")
	}
	return session != nil, nil
}

// SetHandoff flips the handoff flag. It returns the updated session and
// whether this call was the first transfer to a human operator; the session
// is nil when no session exists for the conversation (not an error).
// Repeated enables are idempotent and never reset the first-transfer audit.
func (s *Store) SetHandoff(ctx context.Context, conversationID string, enabled bool) (*Session, bool, error) {
	unlock := s.lockConversation(conversationID)
	defer unlock()

	current, err := s.getSessionLocked(ctx, conversationID)
	if err != nil {
		return nil, false, err
	}
	if current == nil {
		return nil, false, nil
	}

	now := time.Now().Unix()
	update := &UpdateSession{
		ConversationID: conversationID,
		Handoff:        &enabled,
		UpdatedTs:      now,
	}

	firstTransfer := enabled && !current.Transferred
	if firstTransfer {
		transferred := true
		update.Transferred = &transferred
		update.TransferredTs = &now
	}

	updated, err := s.driver.UpdateSession(ctx, update)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to update session handoff")
	}
	if updated == nil {
		// Deleted out from under us between the read and the update.
		return nil, false, nil
	}

	s.warmSession(ctx, updated)
	return updated, firstTransfer, nil
}

// ListSessions returns all known sessions, sourced from the durable tier.
// When the durable tier is unreachable it falls back to the in-memory tier,
// which only sees sessions this process has touched.
func (s *Store) ListSessions(ctx context.Context, find *FindSession) ([]*Session, error) {
	sessions, err := s.driver.ListSessions(ctx, find)
	if err == nil {
		return sessions, nil
	}
	slog.Warn("durable store unavailable for session listing, serving memory tier", "error", err)

	keys, listErr := s.memory.ListKeys(ctx, sessionKeyPrefix)
	if listErr != nil {
		return nil, errors.Wrap(err, "failed to list sessions")
	}
	sessions = make([]*Session, 0, len(keys))
	for _, key := range keys {
		data, found, getErr := s.memory.Get(ctx, key)
		if getErr != nil || !found {
			continue
		}
		session, decodeErr := unmarshalSession(data)
		if decodeErr != nil {
			continue
		}
		if find != nil && find.Handoff != nil && session.Handoff != *find.Handoff {
			continue
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// DeleteSession removes a session from all tiers. Administrative use only;
// normal operation never deletes sessions.
func (s *Store) DeleteSession(ctx context.Context, conversationID string) error {
	unlock := s.lockConversation(conversationID)
	defer unlock()

	if err := s.driver.DeleteSession(ctx, conversationID); err != nil {
		return errors.Wrap(err, "failed to delete session")
	}

	key := sessionKey(conversationID)
	if err := s.memory.Delete(ctx, key); err != nil {
		slog.Warn("memory tier delete failed", "key", key, "error", err)
	}
	if s.shared != nil {
		if err := s.shared.Delete(ctx, key); err != nil {
			slog.Warn("shared cache tier delete failed", "key", key, "error", err)
		}
	}
	return nil
}

// warmSession writes a session into the cache tiers. Failures are logged and
// ignored: faster tiers are optimizations, not sources of truth.
func (s *Store) warmSession(ctx context.Context, session *Session) {
	data, err := json.Marshal(session)
	if err != nil {
		slog.Warn("failed to marshal session for caching", "conversation_id", session.ConversationID, "error", err)
		return
	}
	key := sessionKey(session.ConversationID)

	if err := s.memory.SetWithTTL(ctx, key, data, s.sessionTTL); err != nil {
		slog.Warn("memory tier write failed", "key", key, "error", err)
	}
	if s.shared != nil {
		if err := s.shared.SetWithTTL(ctx, key, data, s.sessionTTL); err != nil {
			slog.Warn("shared cache tier write failed", "key", key, "error", err)
		}
	}
}

func (s *Store) promoteToMemory(ctx context.Context, key string, data []byte) {
	if err := s.memory.SetWithTTL(ctx, key, data, s.sessionTTL); err != nil {
		slog.Warn("memory tier promotion failed", "key", key, "error", err)
	}
}

func unmarshalSession(data []byte) (*Session, error) {
	session := &Session{}
	if err := json.Unmarshal(data, session); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal cached session")
	}
	return session, nil
}
