// Package extractor turns normalized page text into validated, future-dated
// event records using a schema-constrained generative model.
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-event-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-event-crawler/internal/metrics"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
	// DefaultMaxInputChars caps the text sent to the model.
	DefaultMaxInputChars = 200_000
)

// Extractor issues one structured-extraction request per page.
type Extractor struct {
	gen           crawler.StructuredGenerator
	schema        *crawler.Schema
	maxInputChars int
	logger        *zap.Logger
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithMaxInputChars overrides DefaultMaxInputChars.
func WithMaxInputChars(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxInputChars = n
		}
	}
}

// New builds an Extractor around gen.
func New(gen crawler.StructuredGenerator, logger *zap.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Extractor{
		gen:           gen,
		schema:        EventsSchema(),
		maxInputChars: DefaultMaxInputChars,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type response struct {
	OrganisationTitle *string                  `json:"organisation_title"`
	Events            []crawler.ExtractedEvent `json:"events"`
}

// Extract returns events dated on or after asOf with event links resolved
// against sourceURL. Model, decode and schema failures yield an empty
// Extraction; they are logged and never returned.
func (e *Extractor) Extract(ctx context.Context, text, sourceURL string, asOf time.Time) crawler.Extraction {
	if strings.TrimSpace(text) == "" {
		metrics.ObserveExtraction("empty_input")
		return crawler.Extraction{}
	}
	if len(text) > e.maxInputChars {
		e.logger.Debug("truncating extraction input",
			zap.String("url", sourceURL),
			zap.Int("chars", len(text)),
			zap.Int("limit", e.maxInputChars),
		)
		text = truncate(text, e.maxInputChars)
	}
	asOfDate := asOf.Format(dateLayout)

	raw, err := e.gen.Generate(ctx, buildPrompt(text, sourceURL, asOfDate), e.schema)
	if err != nil {
		metrics.ObserveExtraction("error")
		e.logger.Warn("extraction call failed", zap.String("url", sourceURL), zap.Error(err))
		return crawler.Extraction{}
	}
	resp, err := decode(raw)
	if err != nil {
		metrics.ObserveExtraction("invalid")
		e.logger.Warn("extraction response rejected", zap.String("url", sourceURL), zap.Error(err))
		return crawler.Extraction{}
	}

	out := crawler.Extraction{OrganisationTitle: cleanOptional(resp.OrganisationTitle)}
	for _, evt := range resp.Events {
		evt, ok := sanitize(evt)
		if !ok {
			e.logger.Debug("dropping malformed event", zap.String("url", sourceURL), zap.String("title", evt.Title))
			continue
		}
		if evt.EventDate < asOfDate {
			continue
		}
		if evt.EventURL != nil {
			resolved := ResolveURL(*evt.EventURL, sourceURL)
			evt.EventURL = &resolved
		}
		out.Events = append(out.Events, evt)
	}
	metrics.ObserveExtraction("ok")
	return out
}

// truncate cuts text to at most limit bytes without splitting a rune.
func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func decode(raw []byte) (response, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return response{}, fmt.Errorf("decode response: %w", err)
	}
	if _, ok := probe["events"]; !ok {
		return response{}, errors.New("response is missing events")
	}
	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return response{}, fmt.Errorf("decode events: %w", err)
	}
	return resp, nil
}

// sanitize trims fields and enforces the date and time formats.
func sanitize(evt crawler.ExtractedEvent) (crawler.ExtractedEvent, bool) {
	evt.Title = strings.TrimSpace(evt.Title)
	evt.EventDate = strings.TrimSpace(evt.EventDate)
	if evt.Title == "" {
		return evt, false
	}
	if _, err := time.Parse(dateLayout, evt.EventDate); err != nil {
		return evt, false
	}
	evt.EventTime = cleanOptional(evt.EventTime)
	if evt.EventTime != nil {
		if _, err := time.Parse(timeLayout, *evt.EventTime); err != nil {
			evt.EventTime = nil
		}
	}
	evt.Location = cleanOptional(evt.Location)
	evt.LocationCity = cleanOptional(evt.LocationCity)
	evt.Description = cleanOptional(evt.Description)
	evt.EventURL = cleanOptional(evt.EventURL)
	return evt, true
}

func cleanOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// ResolveURL rebases root-relative links onto the scheme and host of
// sourceURL. Absolute and other relative forms are returned unchanged.
func ResolveURL(eventURL, sourceURL string) string {
	lowered := strings.ToLower(eventURL)
	if strings.HasPrefix(lowered, "http://") || strings.HasPrefix(lowered, "https://") {
		return eventURL
	}
	if !strings.HasPrefix(eventURL, "/") {
		return eventURL
	}
	base, err := url.Parse(sourceURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return eventURL
	}
	return base.Scheme + "://" + base.Host + eventURL
}
