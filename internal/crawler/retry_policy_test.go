package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExponentialRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(2, 10*time.Millisecond, 100*time.Millisecond)

	require.False(t, p.ShouldRetry(nil, 1))
	require.True(t, p.ShouldRetry(&FetchError{URL: "u", StatusCode: 503, Err: ErrUnexpectedStatus}, 1))
	require.True(t, p.ShouldRetry(&FetchError{URL: "u", StatusCode: 429, Err: ErrUnexpectedStatus}, 1))
	require.False(t, p.ShouldRetry(&FetchError{URL: "u", StatusCode: 404, Err: ErrUnexpectedStatus}, 1))
	require.True(t, p.ShouldRetry(&FetchError{URL: "u", Err: timeoutErr{timeout: true}}, 2))
	require.False(t, p.ShouldRetry(&FetchError{URL: "u", Err: timeoutErr{}}, 1))
	require.False(t, p.ShouldRetry(&FetchError{URL: "u", Err: context.Canceled}, 1))
	require.False(t, p.ShouldRetry(&ParseError{URL: "u", Err: errors.New("bad")}, 1))
	require.False(t, p.ShouldRetry(&FetchError{URL: "u", StatusCode: 500, Err: ErrUnexpectedStatus}, 3))
	require.True(t, p.ShouldRetry(&FetchError{URL: "u", Err: fmt.Errorf("read: %w", syscall.ECONNRESET)}, 1))
	require.True(t, p.ShouldRetry(&FetchError{URL: "u", Err: io.ErrUnexpectedEOF}, 1))
}

func TestExponentialRetryPolicyPermanentErrors(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, time.Millisecond, time.Millisecond)

	require.False(t, p.ShouldRetry(errors.New("stopped after 10 redirects"), 1))
	require.False(t, p.ShouldRetry(&FetchError{URL: "u", Err: errors.New("unsupported protocol scheme \"ftp\"")}, 1))
	require.False(t, p.ShouldRetry(&FetchError{URL: "u", Err: fmt.Errorf("redirect: %w", ErrRedirectVisited)}, 1))
	require.False(t, p.ShouldRetry(&url.Error{Op: "Get", URL: "u", Err: errors.New("stopped after 10 redirects")}, 1))
	require.True(t, p.ShouldRetry(&url.Error{Op: "Get", URL: "u", Err: timeoutErr{timeout: true}}, 1))
}

func TestExponentialRetryPolicyZeroRetries(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(-1, 0, 0)
	require.False(t, p.ShouldRetry(errors.New("transient"), 1))
}

func TestExponentialRetryPolicyBackoffBounds(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(5, 10*time.Millisecond, 40*time.Millisecond)
	for attempt := 0; attempt < 6; attempt++ {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, 40*time.Millisecond)
	}
}
