// Package worker runs the per-site scrape pipeline: acquire, normalize,
// extract, persist, and drive the site through its status state machine.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-event-crawler/internal/acquirer"
	"github.com/JakeFAU/realtime-event-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-event-crawler/internal/metrics"
	"github.com/JakeFAU/realtime-event-crawler/internal/normalizer"
	"github.com/JakeFAU/realtime-event-crawler/internal/persistence"
	"github.com/JakeFAU/realtime-event-crawler/internal/progress"
	"github.com/JakeFAU/realtime-event-crawler/internal/telemetry"
)

// Status lines shown to operators.
const (
	MessageStarting   = "Starting to scrape website"
	MessageExtracting = "Extracting events from page content"
	MessageNoHTML     = "Successfully fetched URL but no HTML content was returned"
	fetchFailedPrefix = "Failed to fetch page: "
	completedPrefix   = "Completed: "
)

// finalizeTimeout bounds the terminal status write once the run context is gone.
const finalizeTimeout = 10 * time.Second

// Acquirer returns rendered HTML for a URL.
type Acquirer interface {
	Acquire(ctx context.Context, url string, opts acquirer.Options) (crawler.CrawlResult, error)
}

// Extractor turns normalized page text into events.
type Extractor interface {
	Extract(ctx context.Context, text, sourceURL string, asOf time.Time) crawler.Extraction
}

// EventWriter persists events and organisation metadata.
type EventWriter interface {
	Store(ctx context.Context, events []crawler.Event, siteID int64) (persistence.Outcome, error)
	UpdateOrganisation(ctx context.Context, siteID int64, title string) error
}

// Emitter receives progress events. It must not block.
type Emitter interface {
	Emit(evt progress.Event)
}

// Config controls Worker behavior.
type Config struct {
	ContentType string
	// SnapshotPrefix is prepended to snapshot object paths.
	SnapshotPrefix string
	Acquire        acquirer.Options
}

// Dependencies are the collaborators a Worker drives.
type Dependencies struct {
	Queue     crawler.Queue
	Sites     crawler.SiteStore
	Acquirer  Acquirer
	Extractor Extractor
	Events    EventWriter
	// Snapshots is optional; nil disables HTML snapshots.
	Snapshots crawler.BlobStore
	Hasher    crawler.Hasher
	Clock     crawler.Clock
	IDs       crawler.IDGenerator
	// Progress is optional.
	Progress Emitter
	// Normalize defaults to normalizer.Normalize.
	Normalize func(raw string) (text string, ok bool)
}

// Worker consumes tasks and processes one site at a time.
type Worker struct {
	deps   Dependencies
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Dependencies, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if deps.Normalize == nil {
		deps.Normalize = normalizer.Normalize
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger}
}

// Run blocks, consuming tasks until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		task, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued task",
			zap.String("task_id", task.ID),
			zap.Int64("site_id", task.SiteID),
			zap.String("trigger", string(task.Trigger)),
		)
		w.ProcessSite(ctx, task)
	}
}

// run carries per-task state through the pipeline.
type run struct {
	id     string
	task   crawler.Task
	logger *zap.Logger
	span   trace.Span
}

// ProcessSite scrapes one site and returns the status it was left in.
// StatusScraping is returned when another run already holds the site.
func (w *Worker) ProcessSite(ctx context.Context, task crawler.Task) (status crawler.SiteStatus) {
	start := w.now()
	r := &run{id: w.newRunID(), task: task}
	ctx, r.span = telemetry.Tracer().Start(ctx, "worker.ProcessSite", trace.WithAttributes(
		attribute.Int64("site.id", task.SiteID),
		attribute.String("site.url", task.URL),
		attribute.String("task.id", task.ID),
		attribute.String("run.id", r.id),
	))
	defer r.span.End()
	r.logger = w.logger.With(
		zap.Int64("site_id", task.SiteID),
		zap.String("url", task.URL),
		zap.String("task_id", task.ID),
		zap.String("run_id", r.id),
	)

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("site run panicked", zap.Any("panic", rec), zap.Stack("stack"))
			status = w.finish(ctx, r, crawler.StatusFailedException, fmt.Sprintf("panic: %v", rec))
		}
		if status.IsTerminal() {
			metrics.ObserveScrape(string(status), w.now().Sub(start))
		}
	}()

	if err := w.deps.Sites.MarkScraping(ctx, task.SiteID); err != nil {
		if errors.Is(err, crawler.ErrSiteBusy) {
			// The run holding the site owns its progress stream.
			r.logger.Info("site already scraping, skipping task")
			r.span.SetAttributes(attribute.Bool("site.busy", true))
			return crawler.StatusScraping
		}
		return w.finish(ctx, r, crawler.StatusFailedException, err.Error())
	}
	w.emit(r, progress.StatusReadingSite, MessageStarting, "")

	status, err := w.process(ctx, r)
	if err != nil {
		r.logger.Error("site run failed", zap.Error(err))
		return w.finish(ctx, r, crawler.StatusFailedException, err.Error())
	}
	return status
}

func (w *Worker) process(ctx context.Context, r *run) (crawler.SiteStatus, error) {
	result, err := w.deps.Acquirer.Acquire(ctx, r.task.URL, w.cfg.Acquire)
	if err != nil {
		r.logger.Warn("page acquisition failed", zap.Error(err))
		return w.finish(ctx, r, crawler.StatusFailedNoHTML, noHTMLMessage(err)), nil
	}
	r.logger.Info("page acquired",
		zap.String("source", string(result.Source)),
		zap.Int("attempts", result.Attempts),
		zap.Int("bytes", len(result.HTML)),
	)
	w.snapshot(ctx, r, result)

	w.emit(r, progress.StatusProcessingEvents, MessageExtracting, "")
	text, ok := w.deps.Normalize(result.HTML)
	if !ok {
		r.logger.Warn("html normalization failed, using raw html")
		text = result.HTML
	}
	extraction := w.deps.Extractor.Extract(ctx, text, r.task.URL, w.now().UTC())
	r.logger.Info("extraction finished", zap.Int("events", len(extraction.Events)))

	if title := extraction.OrganisationTitle; title != nil && *title != "" {
		if err := w.deps.Events.UpdateOrganisation(ctx, r.task.SiteID, *title); err != nil {
			return "", err
		}
	}

	if len(extraction.Events) == 0 {
		return w.finish(ctx, r, crawler.StatusSuccessNoEvents, persistence.MessageNoEvents), nil
	}

	scrapedAt := w.now().UTC()
	events := make([]crawler.Event, 0, len(extraction.Events))
	for _, extracted := range extraction.Events {
		events = append(events, extracted.ToEvent(r.task.SiteID, r.task.URL, scrapedAt))
	}
	out, err := w.deps.Events.Store(ctx, events, r.task.SiteID)
	if err != nil {
		return "", err
	}
	r.logger.Info("events stored",
		zap.Int("inserted", out.Inserted),
		zap.Int("existing", out.Existing),
		zap.Int("failed", out.Failed),
	)
	status, message := persistence.Classify(out, len(events))
	return w.finish(ctx, r, status, message), nil
}

// finish records the terminal status and emits the matching progress event.
func (w *Worker) finish(ctx context.Context, r *run, status crawler.SiteStatus, message string) crawler.SiteStatus {
	completion := crawler.Completion{
		Status: status,
		// failed_db_event_insert leaves last_scraped_at untouched.
		TouchLastScraped: status != crawler.StatusFailedDBEventInsert,
	}
	if status != crawler.StatusSuccess {
		msg := message
		completion.ErrorMessage = &msg
	}

	finCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if err := w.deps.Sites.FinishScrape(finCtx, r.task.SiteID, completion); err != nil {
		r.logger.Error("final site status update failed", zap.String("status", string(status)), zap.Error(err))
	}

	r.span.SetAttributes(attribute.String("site.status", string(status)))
	if status.IsFailure() {
		r.span.SetStatus(codes.Error, message)
		w.emit(r, progress.StatusFailed, "", message)
		r.logger.Warn("site run finished", zap.String("status", string(status)), zap.String("message", message))
		return status
	}
	if status == crawler.StatusSuccessNoEvents {
		message = completedPrefix + message
	}
	w.emit(r, progress.StatusCompleted, message, "")
	r.logger.Info("site run finished", zap.String("status", string(status)), zap.String("message", message))
	return status
}

func (w *Worker) snapshot(ctx context.Context, r *run, result crawler.CrawlResult) {
	if w.deps.Snapshots == nil || w.deps.Hasher == nil {
		return
	}
	body := []byte(result.HTML)
	hash, err := w.deps.Hasher.Hash(body)
	if err != nil {
		r.logger.Warn("snapshot hash failed", zap.Error(err))
		return
	}
	uri, err := w.deps.Snapshots.PutObject(ctx, w.snapshotPath(r.task.SiteID, hash), w.cfg.ContentType, bytes.NewReader(body))
	if err != nil {
		r.logger.Warn("snapshot write failed", zap.Error(err))
		return
	}
	r.logger.Debug("snapshot stored", zap.String("uri", uri))
}

func (w *Worker) snapshotPath(siteID int64, hash string) string {
	prefix := strings.Trim(w.cfg.SnapshotPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%d/%s.html", siteID, hash)
	}
	return fmt.Sprintf("%s/%d/%s.html", prefix, siteID, hash)
}

func (w *Worker) emit(r *run, status progress.Status, message, errText string) {
	if w.deps.Progress == nil {
		return
	}
	w.deps.Progress.Emit(progress.Event{
		RunID:   r.id,
		SiteID:  r.task.SiteID,
		URL:     r.task.URL,
		Status:  status,
		Message: message,
		Error:   errText,
		TS:      w.now().UTC(),
	})
}

func (w *Worker) newRunID() string {
	if w.deps.IDs == nil {
		return ""
	}
	id, err := w.deps.IDs.NewID()
	if err != nil {
		w.logger.Warn("run id generation failed", zap.Error(err))
		return ""
	}
	return id
}

func (w *Worker) now() time.Time {
	if w.deps.Clock == nil {
		return time.Now()
	}
	return w.deps.Clock.Now()
}

func noHTMLMessage(err error) string {
	if errors.Is(err, crawler.ErrEmptyContent) {
		return MessageNoHTML
	}
	return fetchFailedPrefix + err.Error()
}
