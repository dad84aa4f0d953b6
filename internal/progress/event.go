package progress

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Status is the coarse stage a site run has reached.
type Status string

// Progress statuses, in the order a run emits them.
const (
	StatusReadingSite      Status = "reading-site"
	StatusProcessingEvents Status = "processing-events"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
)

// Terminal reports whether no further events follow for the run.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Event is a best-effort, non-persisted status update for one site run.
type Event struct {
	// RunID correlates every event emitted by a single worker run.
	RunID  string `json:"run_id,omitempty"`
	SiteID int64  `json:"site_id"`
	URL    string `json:"url,omitempty"`
	Status Status `json:"status"`
	// Message is the human-readable status line shown to operators.
	Message string `json:"message,omitempty"`
	// Error carries failure detail for StatusFailed.
	Error string    `json:"error,omitempty"`
	TS    time.Time `json:"timestamp"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.SiteID <= 0 {
		return errors.New("site id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Status {
	case StatusReadingSite, StatusProcessingEvents, StatusCompleted:
	case StatusFailed:
		if e.Error == "" && e.Message == "" {
			return errors.New("failed event requires error or message")
		}
	default:
		return fmt.Errorf("unknown status %q", e.Status)
	}
	return nil
}

// Attributes are attached to bus messages so subscribers can filter without
// decoding the payload.
func (e Event) Attributes() map[string]string {
	attrs := map[string]string{
		"site_id": strconv.FormatInt(e.SiteID, 10),
		"status":  string(e.Status),
	}
	if e.RunID != "" {
		attrs["run_id"] = e.RunID
	}
	return attrs
}

// OrderingKey keeps events for one site in publish order.
func (e Event) OrderingKey() string {
	return "site-" + strconv.FormatInt(e.SiteID, 10)
}
