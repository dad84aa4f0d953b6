package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestHubBatchBySize verifies the hub flushes immediately once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StatusReadingSite))
	hub.Emit(sampleEvent(StatusProcessingEvents))
	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies the timer-based flush kicks in when the batch is small.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StatusReadingSite))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubEmitNonBlockingWithoutConsumers asserts Emit never blocks callers, even without sinks.
func TestHubEmitNonBlockingWithoutConsumers(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:    Config{},
		events: make(chan Event),
		logger: zap.NewNop(),
	}
	start := time.Now()
	hub.Emit(sampleEvent(StatusReadingSite))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, int64(1), hub.Dropped())
}

// TestHubFlushOnClose ensures Close drains any buffered events before returning.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	hub.Emit(sampleEvent(StatusCompleted))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
	require.True(t, sink.closed)

	// Emit after close is ignored.
	hub.Emit(sampleEvent(StatusCompleted))
	require.Len(t, sink.Batches(), 1)
}

// TestHubFlushesTerminalImmediately checks a completed run is delivered
// without waiting for the batch timer or a full batch.
func TestHubFlushesTerminalImmediately(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Hour,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StatusReadingSite))
	hub.Emit(sampleEvent(StatusProcessingEvents))
	hub.Emit(sampleEvent(StatusCompleted))
	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 3
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, StatusCompleted, sink.Batches()[0][2].Status)
}

func TestHubSinkFailureDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	failing := SinkFunc(func(context.Context, []Event) error {
		return errors.New("bus unavailable")
	})
	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 1}, nil, failing, sink)

	hub.Emit(sampleEvent(StatusReadingSite))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Equal(t, "progress.SinkFunc", sinkName(failing))
}

func TestHubDropsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 1}, sink)

	hub.Emit(Event{Status: StatusReadingSite})
	hub.Emit(Event{SiteID: 1, Status: "exploded"})
	hub.Emit(Event{SiteID: 1, Status: StatusFailed})
	noTS := Event{SiteID: 1, Status: StatusReadingSite}
	hub.Emit(noTS)

	require.NoError(t, hub.Close(context.Background()))
	batches := sink.Batches()
	require.Len(t, batches, 1)
	require.False(t, batches[0][0].TS.IsZero(), "missing timestamps are stamped on emit")
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	ok := Event{SiteID: 1, Status: StatusFailed, Error: "boom", TS: time.Now()}
	require.NoError(t, ok.Validate())
	require.True(t, ok.Status.Terminal())
	require.False(t, StatusProcessingEvents.Terminal())

	noTS := ok
	noTS.TS = time.Time{}
	require.Error(t, noTS.Validate())
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func sampleEvent(status Status) Event {
	return Event{
		RunID:   "run-1",
		SiteID:  42,
		URL:     "https://venue.example/whats-on",
		Status:  status,
		Message: "Starting to scrape website",
		TS:      time.Now(),
	}
}
