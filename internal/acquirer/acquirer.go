// Package acquirer turns a site URL into rendered HTML. It drives the primary
// browser renderer with bounded retries and backoff, then falls back to a
// single remote fetch when every primary attempt fails.
package acquirer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-event-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-event-crawler/internal/metrics"
	"github.com/JakeFAU/realtime-event-crawler/internal/telemetry"
)

// Options bounds a single Acquire call.
type Options struct {
	// Timeout applies to each attempt independently.
	Timeout time.Duration
	// MaxRetries is the number of primary attempts.
	MaxRetries int
}

// AcquisitionError is returned when the primary attempts and the fallback
// both fail. It unwraps to the last primary error.
type AcquisitionError struct {
	URL         string
	Attempts    int
	Err         error
	FallbackErr error
}

func (e *AcquisitionError) Error() string {
	msg := fmt.Sprintf("acquire %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
	if e.FallbackErr != nil {
		msg += fmt.Sprintf(" (fallback: %v)", e.FallbackErr)
	}
	return msg
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// Acquirer composes the primary renderer, retry policy, and fallback.
type Acquirer struct {
	primary  crawler.Fetcher
	fallback crawler.Fetcher
	policy   crawler.RetryPolicy
	defaults Options
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *zap.Logger
}

// New builds an Acquirer. fallback may be nil to disable the remote path.
func New(primary, fallback crawler.Fetcher, policy crawler.RetryPolicy, defaults Options, logger *zap.Logger) *Acquirer {
	if defaults.Timeout <= 0 {
		defaults.Timeout = 45 * time.Second
	}
	if defaults.MaxRetries <= 0 {
		defaults.MaxRetries = 3
	}
	if policy == nil {
		policy = crawler.NewLinearRetryPolicy(defaults.MaxRetries, 2*time.Second, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Acquirer{
		primary:  primary,
		fallback: fallback,
		policy:   policy,
		defaults: defaults,
		sleep:    sleepContext,
		logger:   logger,
	}
}

// Acquire fetches rendered HTML for url. It returns crawler.ErrEmptyContent
// when a fetch succeeds without markup, and *AcquisitionError when every
// path fails. Zero-valued opts fields fall back to the configured defaults.
func (a *Acquirer) Acquire(ctx context.Context, url string, opts Options) (crawler.CrawlResult, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = a.defaults.Timeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = a.defaults.MaxRetries
	}
	start := time.Now()

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		attempts = attempt
		html, err := a.attempt(ctx, a.primary, url, opts.Timeout, attempt, crawler.SourcePrimary)
		if err == nil {
			return crawler.CrawlResult{
				URL:      url,
				HTML:     html,
				Source:   crawler.SourcePrimary,
				Attempts: attempt,
				Duration: time.Since(start),
			}, nil
		}
		if errors.Is(err, crawler.ErrEmptyContent) {
			return crawler.CrawlResult{}, err
		}
		lastErr = err
		a.logger.Warn("primary acquisition attempt failed",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", opts.MaxRetries),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			return crawler.CrawlResult{}, &AcquisitionError{URL: url, Attempts: attempt, Err: ctx.Err()}
		}
		if attempt == opts.MaxRetries || !a.policy.ShouldRetry(err, attempt) {
			break
		}
		if err := a.sleep(ctx, a.policy.Backoff(attempt)); err != nil {
			return crawler.CrawlResult{}, &AcquisitionError{URL: url, Attempts: attempt, Err: err}
		}
	}

	if a.fallback == nil {
		return crawler.CrawlResult{}, &AcquisitionError{URL: url, Attempts: attempts, Err: lastErr}
	}
	html, err := a.attempt(ctx, a.fallback, url, opts.Timeout, attempts+1, crawler.SourceFallback)
	if err != nil {
		if errors.Is(err, crawler.ErrEmptyContent) {
			return crawler.CrawlResult{}, err
		}
		a.logger.Warn("fallback acquisition failed", zap.String("url", url), zap.Error(err))
		return crawler.CrawlResult{}, &AcquisitionError{URL: url, Attempts: attempts, Err: lastErr, FallbackErr: err}
	}
	a.logger.Info("acquired page via fallback", zap.String("url", url), zap.Int("primary_attempts", attempts))
	return crawler.CrawlResult{
		URL:      url,
		HTML:     html,
		Source:   crawler.SourceFallback,
		Attempts: attempts + 1,
		Duration: time.Since(start),
	}, nil
}

func (a *Acquirer) attempt(
	ctx context.Context,
	fetcher crawler.Fetcher,
	url string,
	timeout time.Duration,
	attempt int,
	source crawler.Source,
) (string, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "acquire.attempt")
	span.SetAttributes(
		attribute.String("url", url),
		attribute.Int("attempt", attempt),
		attribute.String("source", string(source)),
	)
	defer span.End()

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := fetcher.Fetch(attemptCtx, crawler.FetchRequest{URL: url, Timeout: timeout})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		metrics.ObserveAcquireAttempt(url, string(source), "error")
		return "", fmt.Errorf("%s attempt %d: %w", source, attempt, err)
	}
	html := string(resp.Body)
	if strings.TrimSpace(html) == "" {
		metrics.ObserveAcquireAttempt(url, string(source), "empty")
		return "", fmt.Errorf("%s attempt %d: %w", source, attempt, crawler.ErrEmptyContent)
	}
	metrics.ObserveAcquireAttempt(url, string(source), "ok")
	return html, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff sleep: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
