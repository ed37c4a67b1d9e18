package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Instance is one live worker process registered in the durable store.
// Each instance refreshes its heartbeat periodically; registrations whose
// heartbeat falls outside the staleness window are purged.
type Instance struct {
	ID          string `json:"id"`
	Hostname    string `json:"hostname"`
	StartedTs   int64  `json:"started_ts"`
	HeartbeatTs int64  `json:"heartbeat_ts"`
}

// RegisterInstance inserts or refreshes this process's registration.
func (s *Store) RegisterInstance(ctx context.Context, id, hostname string) (*Instance, error) {
	now := time.Now().Unix()
	instance, err := s.driver.UpsertInstance(ctx, &Instance{
		ID:          id,
		Hostname:    hostname,
		StartedTs:   now,
		HeartbeatTs: now,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to register instance")
	}
	return instance, nil
}

// HeartbeatInstance refreshes the liveness timestamp of an instance.
func (s *Store) HeartbeatInstance(ctx context.Context, instance *Instance) error {
	instance.HeartbeatTs = time.Now().Unix()
	if _, err := s.driver.UpsertInstance(ctx, instance); err != nil {
		return errors.Wrap(err, "failed to refresh instance heartbeat")
	}
	return nil
}

// ListInstances returns all registered instances.
func (s *Store) ListInstances(ctx context.Context) ([]*Instance, error) {
	return s.driver.ListInstances(ctx)
}

// DeregisterInstance removes an instance registration on shutdown.
func (s *Store) DeregisterInstance(ctx context.Context, id string) error {
	return s.driver.DeleteInstance(ctx, id)
}

// PurgeStaleInstances removes registrations whose heartbeat is older than the
// staleness window and returns how many were purged.
func (s *Store) PurgeStaleInstances(ctx context.Context, staleAfter time.Duration) (int64, error) {
	cutoff := time.Now().Add(-staleAfter).Unix()
	purged, err := s.driver.PurgeInstances(ctx, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to purge stale instances")
	}
	return purged, nil
}
