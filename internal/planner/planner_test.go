package planner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-event-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-event-crawler/internal/storage/memory"
)

type recordingQueue struct {
	mu    sync.Mutex
	tasks []crawler.Task
	// failSite rejects tasks for one site.
	failSite int64
}

func (q *recordingQueue) Enqueue(_ context.Context, task crawler.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if task.SiteID == q.failSite {
		return errors.New("queue full")
	}
	q.tasks = append(q.tasks, task)
	return nil
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("task-%d", s.n), nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newPlanner(t *testing.T, urls ...string) (*Planner, *recordingQueue, []crawler.Site) {
	t.Helper()
	catalog := memory.NewCatalog()
	sites := make([]crawler.Site, 0, len(urls))
	for _, u := range urls {
		site, err := catalog.CreateSite(context.Background(), u)
		require.NoError(t, err)
		sites = append(sites, site)
	}
	q := &recordingQueue{}
	clock := fixedClock{now: time.Date(2025, 5, 1, 6, 0, 0, 0, time.UTC)}
	return New(catalog, q, &seqIDs{}, clock, zap.NewNop()), q, sites
}

func TestPlanNoSites(t *testing.T) {
	t.Parallel()

	p, q, _ := newPlanner(t)
	out, err := p.Plan(context.Background(), crawler.TriggerPlan)
	require.NoError(t, err)
	require.Equal(t, Outcome{Count: 0, Message: MessageNoSites}, out)
	require.Empty(t, q.tasks)
}

func TestPlanEnqueuesEverySite(t *testing.T) {
	t.Parallel()

	p, q, sites := newPlanner(t, "https://a.example", "https://b.example", "https://c.example")
	out, err := p.Plan(context.Background(), crawler.TriggerSchedule)
	require.NoError(t, err)
	require.Equal(t, 3, out.Count)
	require.Equal(t, "Scraping initiated for 3 URLs.", out.Message)

	require.Len(t, q.tasks, 3)
	for i, task := range q.tasks {
		require.Equal(t, sites[i].ID, task.SiteID)
		require.Equal(t, sites[i].URL, task.URL)
		require.Equal(t, crawler.TriggerSchedule, task.Trigger)
		require.Equal(t, fmt.Sprintf("task-%d", i+1), task.ID)
		require.False(t, task.EnqueuedAt.IsZero())
	}
}

func TestPlanSkipsFailedEnqueue(t *testing.T) {
	t.Parallel()

	p, q, sites := newPlanner(t, "https://a.example", "https://b.example")
	q.failSite = sites[0].ID

	out, err := p.Plan(context.Background(), crawler.TriggerPlan)
	require.NoError(t, err)
	require.Equal(t, 1, out.Count)
	require.Equal(t, 1, out.Skipped)
	require.Len(t, q.tasks, 1)
	require.Equal(t, sites[1].ID, q.tasks[0].SiteID)
}

type brokenSites struct{}

func (brokenSites) ListSites(context.Context) ([]crawler.Site, error) {
	return nil, errors.New("connection refused")
}

func (brokenSites) GetSite(context.Context, int64) (crawler.Site, error) {
	return crawler.Site{}, errors.New("connection refused")
}

func TestPlanListFailure(t *testing.T) {
	t.Parallel()

	p := New(brokenSites{}, &recordingQueue{}, &seqIDs{}, nil, nil)
	_, err := p.Plan(context.Background(), crawler.TriggerPlan)
	require.ErrorContains(t, err, "list sites")

	_, err = p.Single(context.Background(), 1)
	require.ErrorContains(t, err, "get site")
}

func TestSingle(t *testing.T) {
	t.Parallel()

	p, q, sites := newPlanner(t, "https://a.example")
	task, err := p.Single(context.Background(), sites[0].ID)
	require.NoError(t, err)
	require.Equal(t, crawler.TriggerSingle, task.Trigger)
	require.Equal(t, "https://a.example", task.URL)
	require.Len(t, q.tasks, 1)

	_, err = p.Single(context.Background(), 404)
	require.ErrorIs(t, err, crawler.ErrNotFound)
}
