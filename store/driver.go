package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for the durable store driver.
// It contains all methods a database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error

	// Session model related methods.
	UpsertSession(ctx context.Context, upsert *Session) (*Session, error)
	GetSession(ctx context.Context, conversationID string) (*Session, error)
	UpdateSession(ctx context.Context, update *UpdateSession) (*Session, error)
	ListSessions(ctx context.Context, find *FindSession) ([]*Session, error)
	DeleteSession(ctx context.Context, conversationID string) error

	// Message log related methods. The log is append-only, ordered by created_ts.
	CreateMessage(ctx context.Context, create *Message) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)

	// Worker instance related methods, used for multi-instance liveness.
	UpsertInstance(ctx context.Context, upsert *Instance) (*Instance, error)
	ListInstances(ctx context.Context) ([]*Instance, error)
	DeleteInstance(ctx context.Context, id string) error
	PurgeInstances(ctx context.Context, heartbeatBefore int64) (int64, error)
}
