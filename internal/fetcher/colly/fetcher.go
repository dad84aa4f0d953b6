// Package collyfetcher implements the fallback acquisition path using gocolly.
// When a render endpoint is configured the target URL is handed to that
// remote fetch-and-render service; otherwise the page is fetched directly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/realtime-event-crawler/internal/crawler"
)

// URLPlaceholder is replaced with the escaped target URL in RenderEndpoint.
const URLPlaceholder = "{url}"

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxBodySize = 10 << 20
)

// ErrUnsupportedContent is returned for responses that cannot hold an event
// listing, such as PDFs or images.
var ErrUnsupportedContent = errors.New("unsupported content type")

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// RenderEndpoint is a remote render service URL template such as
	// https://render.internal/render?url={url}.
	RenderEndpoint string
	APIKey         string
	Headers        http.Header
	// MaxBodySize caps the bytes read per page. Zero means 10 MiB.
	MaxBodySize int
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg  Config
	base *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	// Clones share the backend client, so its timeout is fixed here and
	// per-request deadlines ride on the clone's context instead.
	c.SetRequestTimeout(cfg.Timeout)
	c.MaxBodySize = cfg.MaxBodySize
	// Venue pages are fetched on demand, never crawled.
	c.IgnoreRobotsTxt = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &Fetcher{cfg: cfg, base: c}
}

// visit carries the outcome of one collector run back to Fetch.
type visit struct {
	page    string
	started time.Time
	resp    crawler.FetchResponse
	err     error
}

// Fetch executes a single GET and reports the body against the original URL.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	target, err := f.targetURL(request.URL)
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	timeout := f.cfg.Timeout
	if request.Timeout > 0 {
		timeout = request.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v := &visit{page: request.URL, started: time.Now()}
	c := f.base.Clone()
	c.Context = ctx
	// Clones share the visited store; the same page is fetched on every run.
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	f.attach(c, v)

	done := make(chan error, 1)
	go func() { done <- c.Visit(target) }()

	select {
	case <-ctx.Done():
		return crawler.FetchResponse{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		switch {
		case ctx.Err() != nil:
			return crawler.FetchResponse{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
		case v.err != nil:
			return crawler.FetchResponse{}, fmt.Errorf("colly response failed: %w", v.err)
		case err != nil:
			return crawler.FetchResponse{}, fmt.Errorf("colly visit failed: %w", err)
		}
		return v.resp, nil
	}
}

// targetURL resolves which URL the collector actually visits.
func (f *Fetcher) targetURL(pageURL string) (string, error) {
	if strings.TrimSpace(pageURL) == "" {
		return "", errors.New("url is required")
	}
	if f.cfg.RenderEndpoint == "" {
		return pageURL, nil
	}
	if !strings.Contains(f.cfg.RenderEndpoint, URLPlaceholder) {
		return "", fmt.Errorf("render endpoint must contain %s", URLPlaceholder)
	}
	return strings.ReplaceAll(f.cfg.RenderEndpoint, URLPlaceholder, url.QueryEscape(pageURL)), nil
}

func (f *Fetcher) attach(hooks collectorHooks, v *visit) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range f.cfg.Headers {
			for _, val := range values {
				r.Headers.Add(key, val)
			}
		}
		if f.cfg.APIKey != "" {
			r.Headers.Set("Authorization", "Bearer "+f.cfg.APIKey)
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		ct := ""
		if r.Headers != nil {
			ct = r.Headers.Get("Content-Type")
		}
		if !textual(ct) {
			v.err = fmt.Errorf("%w: %s", ErrUnsupportedContent, ct)
			return
		}
		v.resp = crawler.FetchResponse{
			URL:         v.page,
			StatusCode:  r.StatusCode,
			ContentType: ct,
			Body:        append([]byte(nil), r.Body...),
			Duration:    time.Since(v.started),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			v.err = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		v.err = err
	})
}

// textual accepts anything a page normalizer can read. A missing header is
// given the benefit of the doubt.
func textual(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt, "text/") || mt == "application/xhtml+xml" || mt == "application/xml"
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
