package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-event-crawler/internal/crawler"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan crawler.Task, 1)
	go func() {
		task, err := q.Dequeue(context.Background())
		if err == nil {
			result <- task
		}
	}()

	require.NoError(t, q.Enqueue(context.Background(), crawler.Task{ID: "task-1", SiteID: 7}))
	select {
	case got := <-result:
		require.Equal(t, "task-1", got.ID)
		require.Equal(t, int64(7), got.SiteID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return task")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewQueue(1).Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)

	full := NewQueue(1)
	require.NoError(t, full.Enqueue(context.Background(), crawler.Task{ID: "primed"}))
	require.ErrorIs(t, full.Enqueue(ctx, crawler.Task{}), context.Canceled)
}

func TestQueueCloseDrainsBufferedTasks(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	require.NoError(t, q.Enqueue(context.Background(), crawler.Task{ID: "a"}))
	require.NoError(t, q.Enqueue(context.Background(), crawler.Task{ID: "b"}))
	require.Equal(t, 2, q.Len())
	q.Close()
	q.Close()

	require.ErrorIs(t, q.Enqueue(context.Background(), crawler.Task{ID: "c"}), crawler.ErrQueueClosed)

	for _, want := range []string{"a", "b"} {
		task, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		require.Equal(t, want, task.ID)
	}
	_, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, crawler.ErrQueueClosed)
}

func TestQueueCloseWakesBlockedDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, crawler.ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked dequeue did not observe close")
	}
}
