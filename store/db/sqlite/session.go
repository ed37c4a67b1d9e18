package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hrygo/chatbridge/store"
)

func (d *DB) UpsertSession(ctx context.Context, upsert *store.Session) (*store.Session, error) {
	fields := []string{"uid", "conversation_id", "thread_id", "handoff", "transferred", "transferred_ts", "created_ts", "updated_ts"}
	args := []any{upsert.UID, upsert.ConversationID, upsert.ThreadID, upsert.Handoff, upsert.Transferred, upsert.TransferredTs, upsert.CreatedTs, upsert.UpdatedTs}

	stmt := `INSERT INTO session (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		ON CONFLICT(conversation_id) DO UPDATE SET
			uid = excluded.uid,
			thread_id = excluded.thread_id,
			handoff = excluded.handoff,
			transferred = excluded.transferred,
			transferred_ts = excluded.transferred_ts,
			created_ts = excluded.created_ts,
			updated_ts = excluded.updated_ts`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, fmt.Errorf("failed to upsert session: %w", err)
	}

	return upsert, nil
}

func (d *DB) GetSession(ctx context.Context, conversationID string) (*store.Session, error) {
	query := `SELECT uid, conversation_id, thread_id, handoff, transferred, transferred_ts, created_ts, updated_ts
		FROM session WHERE conversation_id = ` + placeholder(1)

	session, err := scanSession(d.db.QueryRowContext(ctx, query, conversationID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

func (d *DB) UpdateSession(ctx context.Context, update *store.UpdateSession) (*store.Session, error) {
	set, args := []string{}, []any{}

	if update.Handoff != nil {
		set, args = append(set, "handoff = "+placeholder(len(args)+1)), append(args, *update.Handoff)
	}
	if update.Transferred != nil {
		set, args = append(set, "transferred = "+placeholder(len(args)+1)), append(args, *update.Transferred)
	}
	if update.TransferredTs != nil {
		set, args = append(set, "transferred_ts = "+placeholder(len(args)+1)), append(args, *update.TransferredTs)
	}
	set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, update.UpdatedTs)
	args = append(args, update.ConversationID)

	stmt := `UPDATE session SET ` + strings.Join(set, ", ") + ` WHERE conversation_id = ` + placeholder(len(args))
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	return d.GetSession(ctx, update.ConversationID)
}

func (d *DB) ListSessions(ctx context.Context, find *store.FindSession) ([]*store.Session, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find != nil && find.ConversationID != nil {
		where, args = append(where, "conversation_id = "+placeholder(len(args)+1)), append(args, *find.ConversationID)
	}
	if find != nil && find.Handoff != nil {
		where, args = append(where, "handoff = "+placeholder(len(args)+1)), append(args, *find.Handoff)
	}

	query := `SELECT uid, conversation_id, thread_id, handoff, transferred, transferred_ts, created_ts, updated_ts
		FROM session WHERE ` + strings.Join(where, " AND ") + ` ORDER BY updated_ts DESC`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		list = append(list, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return list, nil
}

func (d *DB) DeleteSession(ctx context.Context, conversationID string) error {
	stmt := `DELETE FROM session WHERE conversation_id = ` + placeholder(1)
	if _, err := d.db.ExecContext(ctx, stmt, conversationID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*store.Session, error) {
	session := &store.Session{}
	var transferredTs sql.NullInt64
	if err := row.Scan(
		&session.UID,
		&session.ConversationID,
		&session.ThreadID,
		&session.Handoff,
		&session.Transferred,
		&transferredTs,
		&session.CreatedTs,
		&session.UpdatedTs,
	); err != nil {
		return nil, err
	}
	if transferredTs.Valid {
		session.TransferredTs = &transferredTs.Int64
	}
	return session, nil
}
