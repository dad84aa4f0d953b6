package progress_test

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/realtime-event-crawler/internal/progress"
)

// ExampleHub walks one site through a full run and prints what a live
// subscriber would see.
func ExampleHub() {
	printer := progress.SinkFunc(func(_ context.Context, batch []progress.Event) error {
		for _, evt := range batch {
			fmt.Printf("site %d [%s] %s\n", evt.SiteID, evt.Status, evt.Message)
		}
		return nil
	})
	hub := progress.NewHub(progress.Config{BufferSize: 8, MaxBatchWait: time.Hour}, printer)

	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	for i, step := range []struct {
		status progress.Status
		msg    string
	}{
		{progress.StatusReadingSite, "Starting to scrape website"},
		{progress.StatusProcessingEvents, "Extracting events from page content"},
		{progress.StatusCompleted, "Successfully processed 3 events (2 new, 1 existing)"},
	} {
		hub.Emit(progress.Event{
			RunID:   "run-demo",
			SiteID:  12,
			Status:  step.status,
			Message: step.msg,
			TS:      start.Add(time.Duration(i) * time.Second),
		})
	}
	if err := hub.Close(context.Background()); err != nil {
		fmt.Println("close:", err)
	}

	// Output:
	// site 12 [reading-site] Starting to scrape website
	// site 12 [processing-events] Extracting events from page content
	// site 12 [completed] Successfully processed 3 events (2 new, 1 existing)
}

// ExampleStatus_Terminal shows which statuses end a run.
func ExampleStatus_Terminal() {
	for _, s := range []progress.Status{
		progress.StatusReadingSite,
		progress.StatusProcessingEvents,
		progress.StatusCompleted,
		progress.StatusFailed,
	} {
		fmt.Printf("%s terminal=%t\n", s, s.Terminal())
	}
	// Output:
	// reading-site terminal=false
	// processing-events terminal=false
	// completed terminal=true
	// failed terminal=true
}
