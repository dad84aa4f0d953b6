// Package planner turns trigger inputs into crawl tasks: one per configured
// site for "scrape all", or a single task for a direct trigger.
package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-event-crawler/internal/crawler"
)

// MessageNoSites is returned when a plan finds nothing to crawl.
const MessageNoSites = "No webpages configured"

// Sites is the read side of the site store the planner needs.
type Sites interface {
	ListSites(ctx context.Context) ([]crawler.Site, error)
	GetSite(ctx context.Context, id int64) (crawler.Site, error)
}

// Enqueuer accepts tasks for the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, task crawler.Task) error
}

// Outcome summarizes a plan run.
type Outcome struct {
	Count   int    `json:"count"`
	Message string `json:"message"`
	// Skipped counts sites whose task could not be enqueued.
	Skipped int `json:"skipped,omitempty"`
}

// Planner fans triggers out into tasks.
type Planner struct {
	sites  Sites
	queue  Enqueuer
	ids    crawler.IDGenerator
	clock  crawler.Clock
	logger *zap.Logger
}

// New constructs a Planner.
func New(sites Sites, queue Enqueuer, ids crawler.IDGenerator, clock crawler.Clock, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{sites: sites, queue: queue, ids: ids, clock: clock, logger: logger}
}

// Plan enqueues one task per configured site. A failed enqueue skips that
// site without aborting the rest.
func (p *Planner) Plan(ctx context.Context, trigger crawler.Trigger) (Outcome, error) {
	sites, err := p.sites.ListSites(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("list sites: %w", err)
	}
	if len(sites) == 0 {
		p.logger.Info("no webpages configured for scraping", zap.String("trigger", string(trigger)))
		return Outcome{Message: MessageNoSites}, nil
	}

	var out Outcome
	for _, site := range sites {
		task, err := p.enqueue(ctx, site, trigger)
		if err != nil {
			if ctx.Err() != nil {
				return out, fmt.Errorf("plan canceled: %w", ctx.Err())
			}
			out.Skipped++
			p.logger.Warn("enqueue site failed", zap.Int64("site_id", site.ID), zap.String("url", site.URL), zap.Error(err))
			continue
		}
		out.Count++
		p.logger.Debug("site task enqueued", zap.Int64("site_id", site.ID), zap.String("task_id", task.ID))
	}
	out.Message = fmt.Sprintf("Scraping initiated for %d URLs.", out.Count)
	p.logger.Info("plan dispatched",
		zap.String("trigger", string(trigger)),
		zap.Int("count", out.Count),
		zap.Int("skipped", out.Skipped),
	)
	return out, nil
}

// Single enqueues one task for siteID. It returns crawler.ErrNotFound for
// unknown sites.
func (p *Planner) Single(ctx context.Context, siteID int64) (crawler.Task, error) {
	site, err := p.sites.GetSite(ctx, siteID)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			return crawler.Task{}, err
		}
		return crawler.Task{}, fmt.Errorf("get site: %w", err)
	}
	task, err := p.enqueue(ctx, site, crawler.TriggerSingle)
	if err != nil {
		return crawler.Task{}, err
	}
	p.logger.Info("site task enqueued", zap.Int64("site_id", site.ID), zap.String("task_id", task.ID))
	return task, nil
}

func (p *Planner) enqueue(ctx context.Context, site crawler.Site, trigger crawler.Trigger) (crawler.Task, error) {
	id, err := p.ids.NewID()
	if err != nil {
		return crawler.Task{}, fmt.Errorf("task id: %w", err)
	}
	task := crawler.Task{
		ID:         id,
		SiteID:     site.ID,
		URL:        site.URL,
		Trigger:    trigger,
		EnqueuedAt: p.now(),
	}
	if err := p.queue.Enqueue(ctx, task); err != nil {
		return crawler.Task{}, fmt.Errorf("enqueue task: %w", err)
	}
	return task, nil
}

func (p *Planner) now() time.Time {
	if p.clock == nil {
		return time.Now().UTC()
	}
	return p.clock.Now()
}
