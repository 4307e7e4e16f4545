// Package sinks implements progress consumers: structured logs, Prometheus
// collectors and a publisher that forwards crawl lifecycle events.
package sinks
