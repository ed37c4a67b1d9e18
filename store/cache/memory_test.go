package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory(MemoryConfig{
		DefaultTTL:      time.Minute,
		CleanupInterval: 10 * time.Millisecond,
		MaxItems:        100,
	})
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestMemoryGetMissingKey(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	value, found, err := m.Get(ctx, "absent")
	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, value)
}

func TestMemorySetGetDelete(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.SetWithTTL(ctx, "session:1", []byte(`{"thread":"t1"}`), time.Minute))

	value, found, err := m.Get(ctx, "session:1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte(`{"thread":"t1"}`), value)

	exists, err := m.Exists(ctx, "session:1")
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, m.Delete(ctx, "session:1"))
	_, found, err = m.Get(ctx, "session:1")
	require.NoError(t, err)
	require.False(t, found)
}

func TestMemoryTTLExpiry(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.SetWithTTL(ctx, "ephemeral", []byte("v"), 20*time.Millisecond))

	_, found, err := m.Get(ctx, "ephemeral")
	require.NoError(t, err)
	require.True(t, found)

	time.Sleep(50 * time.Millisecond)
	_, found, err = m.Get(ctx, "ephemeral")
	require.NoError(t, err)
	require.False(t, found)
}

func TestMemoryJanitorReapsExpired(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.SetWithTTL(ctx, "a", []byte("1"), 10*time.Millisecond))
	require.NoError(t, m.SetWithTTL(ctx, "b", []byte("2"), time.Minute))

	require.Eventually(t, func() bool { return m.Size() == 1 }, time.Second, 10*time.Millisecond)
}

func TestMemoryListKeysPrefix(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.SetWithTTL(ctx, "session:1", []byte("a"), time.Minute))
	require.NoError(t, m.SetWithTTL(ctx, "session:2", []byte("b"), time.Minute))
	require.NoError(t, m.SetWithTTL(ctx, "instance:x", []byte("c"), time.Minute))

	keys, err := m.ListKeys(ctx, "session:")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"session:1", "session:2"}, keys)
}

func TestMemoryMaxItemsEvicts(t *testing.T) {
	m := NewMemory(MemoryConfig{
		DefaultTTL:      time.Minute,
		CleanupInterval: time.Minute,
		MaxItems:        2,
	})
	defer func() { _ = m.Close() }()
	ctx := context.Background()

	require.NoError(t, m.SetWithTTL(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, m.SetWithTTL(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, m.SetWithTTL(ctx, "c", []byte("3"), time.Minute))

	require.Equal(t, 2, m.Size())
	_, found, err := m.Get(ctx, "c")
	require.NoError(t, err)
	require.True(t, found)
}

func TestMemoryEvictionSparesUndatedItems(t *testing.T) {
	m := NewMemory(MemoryConfig{
		DefaultTTL:      0, // items stored with ttl <= 0 never expire
		CleanupInterval: time.Minute,
		MaxItems:        2,
	})
	defer func() { _ = m.Close() }()
	ctx := context.Background()

	require.NoError(t, m.SetWithTTL(ctx, "pinned", []byte("p"), 0))
	require.NoError(t, m.SetWithTTL(ctx, "dated", []byte("d"), time.Minute))
	require.NoError(t, m.SetWithTTL(ctx, "incoming", []byte("i"), time.Minute))

	_, found, err := m.Get(ctx, "pinned")
	require.NoError(t, err)
	require.True(t, found, "the dated item must be evicted first")
	_, found, err = m.Get(ctx, "dated")
	require.NoError(t, err)
	require.False(t, found)
}
