package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/hrygo/chatbridge/store"
)

func (d *DB) UpsertInstance(ctx context.Context, upsert *store.Instance) (*store.Instance, error) {
	fields := []string{"id", "hostname", "started_ts", "heartbeat_ts"}
	args := []any{upsert.ID, upsert.Hostname, upsert.StartedTs, upsert.HeartbeatTs}

	stmt := `INSERT INTO worker_instance (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		ON CONFLICT(id) DO UPDATE SET
			hostname = excluded.hostname,
			heartbeat_ts = excluded.heartbeat_ts`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, fmt.Errorf("failed to upsert instance: %w", err)
	}
	return upsert, nil
}

func (d *DB) ListInstances(ctx context.Context) ([]*store.Instance, error) {
	query := `SELECT id, hostname, started_ts, heartbeat_ts FROM worker_instance ORDER BY started_ts`
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Instance, 0)
	for rows.Next() {
		instance := &store.Instance{}
		if err := rows.Scan(&instance.ID, &instance.Hostname, &instance.StartedTs, &instance.HeartbeatTs); err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		list = append(list, instance)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate instances: %w", err)
	}
	return list, nil
}

func (d *DB) DeleteInstance(ctx context.Context, id string) error {
	stmt := `DELETE FROM worker_instance WHERE id = ` + placeholder(1)
	if _, err := d.db.ExecContext(ctx, stmt, id); err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}
	return nil
}

func (d *DB) PurgeInstances(ctx context.Context, heartbeatBefore int64) (int64, error) {
	stmt := `DELETE FROM worker_instance WHERE heartbeat_ts < ` + placeholder(1)
	result, err := d.db.ExecContext(ctx, stmt, heartbeatBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to purge instances: %w", err)
	}
	purged, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged instances: %w", err)
	}
	return purged, nil
}
