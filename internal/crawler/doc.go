// Package crawler defines the shared vocabulary of the frontier crawler: the
// immutable Page model, the error kinds reported per URL, URL helpers, the
// retry policy used by fetchers, and the small interfaces that the fetcher,
// frontier, visited set, workers and dispatcher are wired through.
package crawler
