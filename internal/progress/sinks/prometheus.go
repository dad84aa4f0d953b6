package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/realtime-event-crawler/internal/progress"
)

// PrometheusSink exports progress counts and the number of site runs in flight.
type PrometheusSink struct {
	events   *prometheus.CounterVec
	inFlight prometheus.Gauge
	runTime  prometheus.Histogram

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventcrawler_progress_events_total",
			Help: "Progress events observed, partitioned by status.",
		}, []string{"status"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventcrawler_runs_in_flight",
			Help: "Site runs that have started but not reached a terminal event.",
		}),
		runTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventcrawler_run_progress_seconds",
			Help:    "Time between the first and terminal progress event of a run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{s.events, s.inFlight, s.runTime} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors. It is safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.events.WithLabelValues(string(evt.Status)).Inc()
		key := runKey(evt)
		switch {
		case evt.Status == progress.StatusReadingSite:
			if s.tracker.start(key, evt) {
				s.inFlight.Inc()
			}
		case evt.Status.Terminal():
			if started, ok := s.tracker.complete(key); ok {
				s.inFlight.Dec()
				if d := evt.TS.Sub(started); d > 0 {
					s.runTime.Observe(d.Seconds())
				}
			}
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func runKey(evt progress.Event) string {
	if evt.RunID != "" {
		return evt.RunID
	}
	return fmt.Sprintf("site-%d", evt.SiteID)
}

type runTracker struct {
	mu      sync.Mutex
	running map[string]progress.Event
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[string]progress.Event)}
}

func (t *runTracker) start(key string, evt progress.Event) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[key]; ok {
		return false
	}
	t.running[key] = evt
	return true
}

func (t *runTracker) complete(key string) (started time.Time, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	evt, ok := t.running[key]
	if !ok {
		return time.Time{}, false
	}
	delete(t.running, key)
	return evt.TS, true
}

// Name labels the sink in hub warnings.
func (*PrometheusSink) Name() string { return "prometheus" }
