package crawler

import (
	"time"
)

// Site is an operator-configured page that the pipeline crawls for events.
type Site struct {
	ID                int64      `json:"id"`
	URL               string     `json:"url"`
	OrganisationTitle *string    `json:"organisation_title,omitempty"`
	Status            SiteStatus `json:"status"`
	ErrorMessage      *string    `json:"error_message,omitempty"`
	LastScrapedAt     *time.Time `json:"last_scraped_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	// EventCount is populated by list queries only.
	EventCount int `json:"event_count"`
}

// NaturalKey identifies an event across repeated crawls.
type NaturalKey struct {
	Title     string
	EventDate string
	SourceURL string
}

// Event is a persisted event row.
type Event struct {
	ID           int64      `json:"id"`
	Title        string     `json:"title"`
	EventDate    string     `json:"event_date"`
	EventTime    *string    `json:"event_time,omitempty"`
	Location     *string    `json:"location,omitempty"`
	LocationCity *string    `json:"location_city,omitempty"`
	Description  *string    `json:"description,omitempty"`
	EventURL     *string    `json:"event_url,omitempty"`
	SourceURL    string     `json:"source_url"`
	SiteID       int64      `json:"webpage_config_id"`
	ScrapedAt    time.Time  `json:"scraped_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// NaturalKey returns the dedup key for the event.
func (e Event) NaturalKey() NaturalKey {
	return NaturalKey{Title: e.Title, EventDate: e.EventDate, SourceURL: e.SourceURL}
}

// EventFilter narrows event listings.
type EventFilter struct {
	City string
}

// ExtractedEvent is the shape returned by the extraction capability before it
// is bound to a site and persisted.
type ExtractedEvent struct {
	Title        string  `json:"title"`
	EventDate    string  `json:"event_date"`
	EventTime    *string `json:"event_time,omitempty"`
	Location     *string `json:"location,omitempty"`
	LocationCity *string `json:"location_city,omitempty"`
	Description  *string `json:"description,omitempty"`
	EventURL     *string `json:"event_url,omitempty"`
}

// ToEvent binds an extracted event to its site and source page.
func (e ExtractedEvent) ToEvent(siteID int64, sourceURL string, scrapedAt time.Time) Event {
	return Event{
		Title:        e.Title,
		EventDate:    e.EventDate,
		EventTime:    e.EventTime,
		Location:     e.Location,
		LocationCity: e.LocationCity,
		Description:  e.Description,
		EventURL:     e.EventURL,
		SourceURL:    sourceURL,
		SiteID:       siteID,
		ScrapedAt:    scrapedAt,
	}
}

// Extraction is the result of one extraction call.
type Extraction struct {
	Events            []ExtractedEvent
	OrganisationTitle *string
}

// Source tags which acquisition path produced a CrawlResult.
type Source string

// Acquisition sources.
const (
	SourcePrimary  Source = "primary"
	SourceFallback Source = "fallback"
)

// CrawlResult carries rendered HTML from the acquirer to the normalizer.
type CrawlResult struct {
	URL      string
	HTML     string
	Source   Source
	Attempts int
	Duration time.Duration
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Timeout time.Duration
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	Duration    time.Duration
}

// Trigger names the signal that produced a Task.
type Trigger string

// Supported triggers.
const (
	TriggerPlan     Trigger = "plan"
	TriggerSingle   Trigger = "single"
	TriggerSchedule Trigger = "schedule"
)

// Task asks a worker to scrape one site.
type Task struct {
	ID         string    `json:"id"`
	SiteID     int64     `json:"site_id"`
	URL        string    `json:"url"`
	Trigger    Trigger   `json:"trigger"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
