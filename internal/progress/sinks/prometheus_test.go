package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-event-crawler/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	start := time.Now()
	batch := []progress.Event{
		{RunID: "run-1", SiteID: 1, TS: start, Status: progress.StatusReadingSite},
		{RunID: "run-1", SiteID: 1, TS: start.Add(2 * time.Second), Status: progress.StatusProcessingEvents},
		{RunID: "run-2", SiteID: 2, TS: start, Status: progress.StatusReadingSite},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 2.0, testutil.ToFloat64(sink.events.WithLabelValues(string(progress.StatusReadingSite))))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.events.WithLabelValues(string(progress.StatusProcessingEvents))))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.inFlight))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: "run-1", SiteID: 1, TS: start.Add(10 * time.Second), Status: progress.StatusCompleted},
		{RunID: "run-2", SiteID: 2, TS: start.Add(3 * time.Second), Status: progress.StatusFailed, Error: "boom"},
	}))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.inFlight))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.events.WithLabelValues(string(progress.StatusFailed))))
	require.Equal(t, 1, testutil.CollectAndCount(sink.runTime))
}

func TestPrometheusSinkIgnoresUnmatchedTerminal(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{SiteID: 9, TS: time.Now(), Status: progress.StatusCompleted},
	}))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.inFlight))
}

func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
