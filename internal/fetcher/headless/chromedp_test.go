package headless

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-event-crawler/internal/crawler"
)

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	_, err = NewChromedp(Config{DelayMin: 2 * time.Second, DelayMax: time.Second})
	require.Error(t, err)

	fetcher, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	t.Cleanup(fetcher.Close)
	require.Equal(t, 2, cap(fetcher.limiter))
	require.Equal(t, DefaultUserAgent, fetcher.cfg.UserAgent)
	require.Equal(t, 1920, fetcher.cfg.ViewportWidth)
	require.Equal(t, 1080, fetcher.cfg.ViewportHeight)
	require.Equal(t, WaitNetworkIdle, fetcher.cfg.WaitCondition)
	require.Equal(t, "en-US,en;q=0.9", fetcher.cfg.Headers.Get("Accept-Language"))
}

func TestFetcherNavTimeoutDefault(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{}
	require.Equal(t, 45*time.Second, fetcher.navTimeout())
	fetcher.cfg.NavigationTimeout = time.Second
	require.Equal(t, time.Second, fetcher.navTimeout())
}

func TestHumanDelayWithinBounds(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{cfg: Config{DelayMin: time.Second, DelayMax: 3 * time.Second}}
	for i := 0; i < 50; i++ {
		d := fetcher.humanDelay()
		require.GreaterOrEqual(t, d, time.Second)
		require.Less(t, d, 3*time.Second)
	}
	fetcher.cfg = Config{}
	require.Zero(t, fetcher.humanDelay())
}

func TestAcquireReleaseHonorsContext(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{limiter: make(chan struct{}, 1)}
	require.NoError(t, fetcher.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := fetcher.acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)

	fetcher.release()
	require.NoError(t, fetcher.acquire(context.Background()))
}

func TestIdleWatcherRequiresNavigation(t *testing.T) {
	t.Parallel()

	w := newIdleWatcher()
	w.captureEvent(&page.EventLifecycleEvent{Name: "networkIdle"})
	select {
	case <-w.done:
		t.Fatal("idle before navigation must be ignored")
	default:
	}

	w.captureEvent(&page.EventLifecycleEvent{Name: "init"})
	w.captureEvent(&page.EventLifecycleEvent{Name: "networkIdle"})
	w.captureEvent(&page.EventLifecycleEvent{Name: "networkIdle"})
	select {
	case <-w.done:
	default:
		t.Fatal("expected idle after navigation")
	}
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 203, URL: "https://example.com/events"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404, URL: "https://ads.example.com/frame"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 500, URL: "https://example.com/x.png"},
	})
	status, url := meta.snapshotWithFallbacks("https://req", "")
	require.Equal(t, 203, status)
	require.Equal(t, "https://example.com/events", url)

	status, url = newResponseMeta().snapshotWithFallbacks("https://req", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://req", url)
}

func TestToNetworkHeaders(t *testing.T) {
	t.Parallel()

	headers := toNetworkHeaders(http.Header{"X-One": {"a"}, "X-Many": {"a", "b"}, "X-None": {}})
	require.Equal(t, "a", headers["X-One"])
	require.Equal(t, []string{"a", "b"}, headers["X-Many"])
	_, ok := headers["X-None"]
	require.False(t, ok)
}

// TestFetchRendersJavaScript drives a real browser and is opt-in.
func TestFetchRendersJavaScript(t *testing.T) {
	if os.Getenv("CHROME_E2E") != "1" {
		t.Skip("set CHROME_E2E=1 to run browser tests")
	}
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><div id="root"></div>
<script>document.getElementById("root").innerText = "Rendered Gig 2030-01-01";</script></body></html>`)
	}))
	t.Cleanup(srv.Close)

	fetcher, err := NewChromedp(Config{MaxParallel: 1, NavigationTimeout: 20 * time.Second})
	require.NoError(t, err)
	t.Cleanup(fetcher.Close)

	resp, err := fetcher.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.True(t, strings.Contains(string(resp.Body), "Rendered Gig 2030-01-01"))
}
