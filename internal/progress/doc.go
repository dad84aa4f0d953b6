// Package progress provides the event type, non-blocking hub, and emitter
// interface that workers use to report per-site run progress. Events are
// batched on a background goroutine and fanned out to pluggable sinks such as
// Prometheus, Pub/Sub, or live subscribers. Delivery is best-effort.
package progress
