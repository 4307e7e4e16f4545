// Package progress carries crawl lifecycle and per-URL events from workers to
// pluggable sinks. Emitting never blocks a worker: the hub buffers events,
// batches them on a background goroutine and drops on overflow.
package progress
