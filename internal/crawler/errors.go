package crawler

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateSite is returned when registering a URL that already exists.
	ErrDuplicateSite = errors.New("site url already registered")
	// ErrSiteBusy is returned when a site is already being scraped.
	ErrSiteBusy = errors.New("site is already scraping")
	// ErrEmptyContent marks a fetch that succeeded but returned no HTML.
	ErrEmptyContent = errors.New("empty content")
	// ErrQueueClosed is returned by Dequeue once the queue shuts down.
	ErrQueueClosed = errors.New("queue closed")
)
