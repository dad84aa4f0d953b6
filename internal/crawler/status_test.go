package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from SiteStatus
		to   SiteStatus
		want bool
	}{
		{name: "pending to scraping", from: StatusPending, to: StatusScraping, want: true},
		{name: "terminal to scraping", from: StatusFailedNoHTML, to: StatusScraping, want: true},
		{name: "scraping to scraping", from: StatusScraping, to: StatusScraping, want: false},
		{name: "scraping to success", from: StatusScraping, to: StatusSuccess, want: true},
		{name: "pending to success", from: StatusPending, to: StatusSuccess, want: false},
		{name: "success to failed", from: StatusSuccess, to: StatusFailedException, want: false},
		{name: "scraping to pending", from: StatusScraping, to: StatusPending, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestParseSiteStatus(t *testing.T) {
	t.Parallel()

	status, err := ParseSiteStatus("success_no_events_found")
	require.NoError(t, err)
	require.Equal(t, StatusSuccessNoEvents, status)
	require.True(t, status.IsTerminal())
	require.False(t, status.IsFailure())

	_, err = ParseSiteStatus("success-ish")
	require.Error(t, err)
}

func TestStatusLabels(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Failed: database insert", StatusFailedDBEventInsert.Label())
	require.True(t, StatusFailedDBEventInsert.IsFailure())
	require.False(t, StatusScraping.IsTerminal())
	require.Equal(t, "mystery", SiteStatus("mystery").Label())
}
