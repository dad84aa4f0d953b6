// Package persistence stores extracted events with natural-key dedup and
// maps the outcome of a run onto a terminal site status.
package persistence

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-event-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-event-crawler/internal/metrics"
)

// Messages recorded on the site row for each terminal outcome.
const (
	MessageNoEvents = "Scraped successfully, but no distinct events were identified"
)

// Outcome tallies a Store call.
type Outcome struct {
	Inserted int
	Existing int
	Failed   int
}

// Persister writes events through an EventStore and site metadata through a SiteStore.
type Persister struct {
	events crawler.EventStore
	sites  crawler.SiteStore
	logger *zap.Logger
}

// New constructs a Persister.
func New(events crawler.EventStore, sites crawler.SiteStore, logger *zap.Logger) *Persister {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persister{events: events, sites: sites, logger: logger}
}

// Store inserts each event whose natural key has no active row. Row failures
// are counted, not returned; the error is reserved for context cancellation.
func (p *Persister) Store(ctx context.Context, events []crawler.Event, siteID int64) (Outcome, error) {
	var out Outcome
	for _, evt := range events {
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("store events: %w", err)
		}
		evt.SiteID = siteID
		_, err := p.events.FindActive(ctx, evt.NaturalKey())
		switch {
		case err == nil:
			out.Existing++
			continue
		case !errors.Is(err, crawler.ErrNotFound):
			out.Failed++
			p.logger.Warn("event lookup failed",
				zap.Int64("site_id", siteID),
				zap.String("title", evt.Title),
				zap.Error(err),
			)
			continue
		}
		if _, err := p.events.Insert(ctx, evt); err != nil {
			out.Failed++
			p.logger.Warn("event insert failed",
				zap.Int64("site_id", siteID),
				zap.String("title", evt.Title),
				zap.Error(err),
			)
			continue
		}
		out.Inserted++
	}
	metrics.ObserveStored("inserted", out.Inserted)
	metrics.ObserveStored("existing", out.Existing)
	metrics.ObserveStored("failed", out.Failed)
	return out, nil
}

// UpdateOrganisation records the organisation name learned during extraction.
func (p *Persister) UpdateOrganisation(ctx context.Context, siteID int64, title string) error {
	if err := p.sites.UpdateOrganisation(ctx, siteID, title); err != nil {
		return fmt.Errorf("update organisation: %w", err)
	}
	return nil
}

// Classify maps a Store outcome to the site's terminal status and message.
func Classify(out Outcome, extracted int) (crawler.SiteStatus, string) {
	switch {
	case extracted == 0:
		return crawler.StatusSuccessNoEvents, MessageNoEvents
	case out.Inserted == 0 && out.Failed > 0:
		return crawler.StatusFailedDBEventInsert, fmt.Sprintf("Failed to insert any events (%d failures)", out.Failed)
	default:
		return crawler.StatusSuccess, fmt.Sprintf("Successfully processed %d events (%d new, %d existing)",
			extracted, out.Inserted, extracted-out.Inserted)
	}
}
