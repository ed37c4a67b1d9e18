package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestQueueBoundsConcurrency(t *testing.T) {
	const (
		limit = 2
		total = 6
	)
	q := NewQueue(limit)

	var current, peak atomic.Int64
	release := make(chan struct{})
	results := make([]<-chan Result, 0, total)

	for i := 0; i < total; i++ {
		conversationID := fmt.Sprintf("conv-%d", i)
		results = append(results, q.Enqueue(context.Background(), conversationID, func(ctx context.Context) (string, error) {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			current.Add(-1)
			return "ok", nil
		}))
	}

	// Give the queue time to admit as many tasks as it will.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int64(limit), q.InFlight())

	close(release)
	for _, ch := range results {
		res := <-ch
		require.NoError(t, res.Err)
		require.Equal(t, "ok", res.Value)
	}
	require.LessOrEqual(t, peak.Load(), int64(limit))
}

func TestQueuePreservesConversationOrder(t *testing.T) {
	q := NewQueue(4)

	var mu sync.Mutex
	var order []int
	results := make([]<-chan Result, 0, 10)

	for i := 0; i < 10; i++ {
		i := i
		results = append(results, q.Enqueue(context.Background(), "conv-42", func(ctx context.Context) (string, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return "", nil
		}))
	}

	for _, ch := range results {
		<-ch
	}

	require.Len(t, order, 10)
	for i, got := range order {
		require.Equal(t, i, got, "conversation tasks ran out of order")
	}
}

func TestQueueFailureIsIsolated(t *testing.T) {
	q := NewQueue(1)
	boom := errors.New("boom")

	failed := q.Enqueue(context.Background(), "a", func(ctx context.Context) (string, error) {
		return "", boom
	})
	ok := q.Enqueue(context.Background(), "b", func(ctx context.Context) (string, error) {
		return "fine", nil
	})

	res := <-failed
	require.ErrorIs(t, res.Err, boom)

	res = <-ok
	require.NoError(t, res.Err)
	require.Equal(t, "fine", res.Value)
}

func TestQueueRejectsAfterShutdown(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.Shutdown(context.Background()))

	res := <-q.Enqueue(context.Background(), "a", func(ctx context.Context) (string, error) {
		return "", nil
	})
	require.ErrorIs(t, res.Err, ErrQueueClosed)
}

func TestQueueShutdownDrains(t *testing.T) {
	q := NewQueue(1)
	var done atomic.Int64

	for i := 0; i < 3; i++ {
		q.Enqueue(context.Background(), "conv", func(ctx context.Context) (string, error) {
			time.Sleep(10 * time.Millisecond)
			done.Add(1)
			return "", nil
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Shutdown(ctx))
	require.Equal(t, int64(3), done.Load())
}

func TestQueueCanceledTaskFailsOwnResult(t *testing.T) {
	q := NewQueue(1)

	block := make(chan struct{})
	first := q.Enqueue(context.Background(), "a", func(ctx context.Context) (string, error) {
		<-block
		return "first", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	second := q.Enqueue(ctx, "b", func(ctx context.Context) (string, error) {
		return "second", nil
	})
	cancel()

	res := <-second
	require.ErrorIs(t, res.Err, context.Canceled)

	close(block)
	res = <-first
	require.NoError(t, res.Err)
	require.Equal(t, "first", res.Value)
}
