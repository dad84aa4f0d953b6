// Command eventcrawler scrapes venue and organisation web pages for upcoming
// events and keeps a deduplicated event catalog.
//
// Architecture overview:
//   - HTTP API: internal/api.Server manages registered sites, lists and soft-deletes events, triggers scrapes, and
//     streams progress as server-sent events.
//   - Planner & pool: a plan lists every site and enqueues one task per site onto a bounded in-memory queue. A fixed
//     worker pool (crawler.concurrency, default 5) drains it. An optional cron schedule plans the daily pass.
//   - Site pipeline: each worker renders the page with chromedp (retrying with backoff, falling back to a Colly fetch or
//     a remote render service), normalizes the DOM to text with goquery, asks Gemini for schema-constrained events,
//     and persists new events keyed by (title, date, site).
//   - Status: every run drives the site through pending -> scraping -> a terminal status in Postgres (or memory), and
//     emits best-effort progress events to log, Prometheus, Pub/Sub, and SSE sinks.
//
// Quick checklist:
//   - Configure via a YAML file (--config) or CRAWLER_* env vars, e.g. CRAWLER_DB_DSN, CRAWLER_EXTRACTOR_API_KEY.
//   - Apply the schema: eventcrawler migrate up.
//   - Serve: eventcrawler serve. One-off pass: eventcrawler scrape [--site ID].
package main

import (
	"github.com/JakeFAU/realtime-event-crawler/cmd"
)

func main() {
	cmd.Execute()
}
