package crawler

import (
	"context"
	"errors"
)

// ErrRedirectVisited is returned when a fetch is redirected to a URL that
// another fetch already owns.
var ErrRedirectVisited = errors.New("redirect target already visited")

// RedirectGuard is consulted before a fetcher follows a redirect. It reports
// whether the caller may fetch target.
type RedirectGuard func(target string) bool

type redirectGuardKey struct{}

// WithRedirectGuard returns a context carrying guard for the fetch made with it.
func WithRedirectGuard(ctx context.Context, guard RedirectGuard) context.Context {
	return context.WithValue(ctx, redirectGuardKey{}, guard)
}

// RedirectGuardFrom returns the guard stored in ctx, or nil.
func RedirectGuardFrom(ctx context.Context) RedirectGuard {
	guard, _ := ctx.Value(redirectGuardKey{}).(RedirectGuard)
	return guard
}
