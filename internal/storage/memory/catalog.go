package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-event-crawler/internal/crawler"
)

// Catalog keeps sites and events in memory. It implements the same
// semantics as the postgres stores and backs storage.backend=memory.
type Catalog struct {
	mu         sync.RWMutex
	sites      map[int64]crawler.Site
	events     map[int64]crawler.Event
	nextSiteID int64
	nextEvtID  int64
	now        func() time.Time
}

// NewCatalog constructs an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		sites:  make(map[int64]crawler.Site),
		events: make(map[int64]crawler.Event),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ListSites returns sites ordered by creation with their active event counts.
func (c *Catalog) ListSites(_ context.Context) ([]crawler.Site, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	counts := make(map[int64]int, len(c.sites))
	for _, evt := range c.events {
		if evt.DeletedAt == nil {
			counts[evt.SiteID]++
		}
	}
	out := make([]crawler.Site, 0, len(c.sites))
	for _, site := range c.sites {
		site.EventCount = counts[site.ID]
		out = append(out, site)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetSite fetches a site by ID.
func (c *Catalog) GetSite(_ context.Context, id int64) (crawler.Site, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	site, ok := c.sites[id]
	if !ok {
		return crawler.Site{}, fmt.Errorf("site %d: %w", id, crawler.ErrNotFound)
	}
	return site, nil
}

// CreateSite registers a URL in pending status.
func (c *Catalog) CreateSite(_ context.Context, url string) (crawler.Site, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, site := range c.sites {
		if site.URL == url {
			return crawler.Site{}, fmt.Errorf("site %q: %w", url, crawler.ErrDuplicateSite)
		}
	}
	c.nextSiteID++
	site := crawler.Site{
		ID:        c.nextSiteID,
		URL:       url,
		Status:    crawler.StatusPending,
		CreatedAt: c.now(),
	}
	c.sites[site.ID] = site
	return site, nil
}

// DeleteSite removes a site and all of its events.
func (c *Catalog) DeleteSite(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sites[id]; !ok {
		return fmt.Errorf("site %d: %w", id, crawler.ErrNotFound)
	}
	for evtID, evt := range c.events {
		if evt.SiteID == id {
			delete(c.events, evtID)
		}
	}
	delete(c.sites, id)
	return nil
}

// MarkScraping moves the site into scraping unless it is already there.
func (c *Catalog) MarkScraping(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	site, ok := c.sites[id]
	if !ok {
		return fmt.Errorf("site %d: %w", id, crawler.ErrNotFound)
	}
	if site.Status == crawler.StatusScraping {
		return fmt.Errorf("site %d: %w", id, crawler.ErrSiteBusy)
	}
	site.Status = crawler.StatusScraping
	site.ErrorMessage = nil
	c.sites[id] = site
	return nil
}

// FinishScrape applies the terminal update for a run.
func (c *Catalog) FinishScrape(_ context.Context, id int64, completion crawler.Completion) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	site, ok := c.sites[id]
	if !ok {
		return fmt.Errorf("site %d: %w", id, crawler.ErrNotFound)
	}
	site.Status = completion.Status
	site.ErrorMessage = completion.ErrorMessage
	if completion.TouchLastScraped {
		now := c.now()
		site.LastScrapedAt = &now
	}
	c.sites[id] = site
	return nil
}

// UpdateOrganisation sets the organisation title for a site.
func (c *Catalog) UpdateOrganisation(_ context.Context, id int64, title string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	site, ok := c.sites[id]
	if !ok {
		return fmt.Errorf("site %d: %w", id, crawler.ErrNotFound)
	}
	site.OrganisationTitle = &title
	c.sites[id] = site
	return nil
}

// FindActive returns the ID of a non-deleted event matching key.
func (c *Catalog) FindActive(_ context.Context, key crawler.NaturalKey) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for id, evt := range c.events {
		if evt.DeletedAt == nil && evt.NaturalKey() == key {
			return id, nil
		}
	}
	return 0, crawler.ErrNotFound
}

// Insert stores a new event row.
func (c *Catalog) Insert(_ context.Context, evt crawler.Event) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sites[evt.SiteID]; !ok {
		return 0, fmt.Errorf("insert event for site %d: %w", evt.SiteID, crawler.ErrNotFound)
	}
	c.nextEvtID++
	evt.ID = c.nextEvtID
	evt.DeletedAt = nil
	if evt.ScrapedAt.IsZero() {
		evt.ScrapedAt = c.now()
	}
	c.events[evt.ID] = evt
	return evt.ID, nil
}

// ListEvents returns non-deleted events ordered by date then time.
func (c *Catalog) ListEvents(_ context.Context, filter crawler.EventFilter) ([]crawler.Event, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]crawler.Event, 0, len(c.events))
	for _, evt := range c.events {
		if evt.DeletedAt != nil {
			continue
		}
		if filter.City != "" && (evt.LocationCity == nil || *evt.LocationCity != filter.City) {
			continue
		}
		out = append(out, evt)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EventDate != out[j].EventDate {
			return out[i].EventDate < out[j].EventDate
		}
		ti, tj := deref(out[i].EventTime), deref(out[j].EventTime)
		if ti != tj {
			return ti < tj
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SoftDeleteEvent hides an event from listings and dedup lookups.
func (c *Catalog) SoftDeleteEvent(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	evt, ok := c.events[id]
	if !ok || evt.DeletedAt != nil {
		return fmt.Errorf("event %d: %w", id, crawler.ErrNotFound)
	}
	now := c.now()
	evt.DeletedAt = &now
	c.events[id] = evt
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
