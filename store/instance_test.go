package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegisterAndHeartbeatInstance(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	instance, err := s.RegisterInstance(ctx, "instance-1", "host-a")
	require.NoError(t, err)
	require.Equal(t, "instance-1", instance.ID)
	require.NotZero(t, instance.HeartbeatTs)

	previous := instance.HeartbeatTs
	instance.HeartbeatTs = previous - 100
	require.NoError(t, s.HeartbeatInstance(ctx, instance))
	require.GreaterOrEqual(t, instance.HeartbeatTs, previous)
}

func TestPurgeStaleInstances(t *testing.T) {
	s, driver := newTestStore(t)
	ctx := context.Background()

	now := time.Now().Unix()
	_, err := driver.UpsertInstance(ctx, &Instance{ID: "stale", Hostname: "host-a", StartedTs: now - 3600, HeartbeatTs: now - 3600})
	require.NoError(t, err)
	_, err = driver.UpsertInstance(ctx, &Instance{ID: "live", Hostname: "host-b", StartedTs: now, HeartbeatTs: now})
	require.NoError(t, err)

	purged, err := s.PurgeStaleInstances(ctx, 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), purged)

	instances, err := s.ListInstances(ctx)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	require.Equal(t, "live", instances[0].ID)
}

func TestDeregisterInstance(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.RegisterInstance(ctx, "instance-1", "host-a")
	require.NoError(t, err)
	require.NoError(t, s.DeregisterInstance(ctx, "instance-1"))

	instances, err := s.ListInstances(ctx)
	require.NoError(t, err)
	require.Empty(t, instances)
}
