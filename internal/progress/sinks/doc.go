// Package sinks implements progress consumers: structured logs, Prometheus
// counters, the Pub/Sub progress bus, and the in-process broadcaster that
// feeds live API subscribers.
package sinks
