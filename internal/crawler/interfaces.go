package crawler

import (
	"context"
	"io"
	"time"
)

// SiteStore persists crawl state for configured sites.
type SiteStore interface {
	ListSites(ctx context.Context) ([]Site, error)
	GetSite(ctx context.Context, id int64) (Site, error)
	// MarkScraping moves a site into StatusScraping and clears its error
	// message. It returns ErrSiteBusy when the site is already scraping.
	MarkScraping(ctx context.Context, id int64) error
	FinishScrape(ctx context.Context, id int64, completion Completion) error
	UpdateOrganisation(ctx context.Context, id int64, title string) error
}

// SiteRegistry manages the configured site list.
type SiteRegistry interface {
	CreateSite(ctx context.Context, url string) (Site, error)
	DeleteSite(ctx context.Context, id int64) error
}

// EventStore reads and writes events for the dedup check.
type EventStore interface {
	// FindActive returns the ID of a non-deleted event with the key, or ErrNotFound.
	FindActive(ctx context.Context, key NaturalKey) (int64, error)
	Insert(ctx context.Context, evt Event) (int64, error)
}

// EventReader serves event listings and soft deletes.
type EventReader interface {
	ListEvents(ctx context.Context, filter EventFilter) ([]Event, error)
	SoftDeleteEvent(ctx context.Context, id int64) error
}

// Completion describes the terminal update applied to a site after a run.
type Completion struct {
	Status       SiteStatus
	ErrorMessage *string
	// TouchLastScraped sets last_scraped_at to the current time.
	TouchLastScraped bool
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes progress payloads to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Schema is a minimal JSON-schema description used for structured output.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Format      string             `json:"format,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Nullable    bool               `json:"nullable,omitempty"`
}

// StructuredGenerator is the schema-constrained generative capability used
// for extraction. Implementations return raw JSON matching the schema.
type StructuredGenerator interface {
	Generate(ctx context.Context, prompt string, schema *Schema) ([]byte, error)
}

// Queue provides enqueue/dequeue semantics for crawl tasks.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Dequeue(ctx context.Context) (Task, error)
}

// RetryPolicy decides the delay between acquisition attempts.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Hasher computes digests for snapshot naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task and run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
