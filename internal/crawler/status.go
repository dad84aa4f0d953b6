package crawler

import "fmt"

// SiteStatus is the crawl state of a Site.
type SiteStatus string

// Site status values persisted in the sites table.
const (
	StatusPending             SiteStatus = "pending"
	StatusScraping            SiteStatus = "scraping"
	StatusSuccess             SiteStatus = "success"
	StatusSuccessNoEvents     SiteStatus = "success_no_events_found"
	StatusFailedNoHTML        SiteStatus = "failed_no_html"
	StatusFailedDBEventInsert SiteStatus = "failed_db_event_insert"
	StatusFailedException     SiteStatus = "failed_exception"
)

var statusLabels = map[SiteStatus]string{
	StatusPending:             "Pending",
	StatusScraping:            "Scraping",
	StatusSuccess:             "Success",
	StatusSuccessNoEvents:     "No events found",
	StatusFailedNoHTML:        "Failed: no content",
	StatusFailedDBEventInsert: "Failed: database insert",
	StatusFailedException:     "Failed: error",
}

// ParseSiteStatus converts a stored string into a SiteStatus.
func ParseSiteStatus(s string) (SiteStatus, error) {
	status := SiteStatus(s)
	if _, ok := statusLabels[status]; !ok {
		return "", fmt.Errorf("unknown site status %q", s)
	}
	return status, nil
}

// IsTerminal reports whether the status ends a crawl run.
func (s SiteStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusSuccessNoEvents, StatusFailedNoHTML, StatusFailedDBEventInsert, StatusFailedException:
		return true
	default:
		return false
	}
}

// IsFailure reports whether the status is a terminal failure.
func (s SiteStatus) IsFailure() bool {
	switch s {
	case StatusFailedNoHTML, StatusFailedDBEventInsert, StatusFailedException:
		return true
	default:
		return false
	}
}

// Label returns the short human-readable form shown next to a site.
func (s SiteStatus) Label() string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return string(s)
}

// CanTransition reports whether the state machine allows from -> to.
// A site that is already scraping cannot re-enter scraping.
func CanTransition(from, to SiteStatus) bool {
	switch {
	case to == StatusScraping:
		return from == StatusPending || from.IsTerminal()
	case to.IsTerminal():
		return from == StatusScraping
	default:
		return false
	}
}
