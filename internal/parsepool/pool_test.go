package parsepool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/extract"
)

func TestPoolExtractsWithRealParser(t *testing.T) {
	t.Parallel()

	pool := New(Config{Workers: 2}, extract.Extract, zap.NewNop())
	defer pool.Close()

	page, err := pool.Extract(context.Background(), "https://example.com/a/b", `<title>x</title><a href="../c">c</a>`)
	require.NoError(t, err)
	require.Equal(t, "x", page.Title())
	require.Equal(t, []string{"https://example.com/c"}, page.Links())
}

func TestPoolBoundsConcurrency(t *testing.T) {
	t.Parallel()

	var running, peak atomic.Int64
	parse := func(baseURL, _ string) (crawler.Page, error) {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return crawler.NewPage(baseURL, "", "", nil), nil
	}
	pool := New(Config{Workers: 3, QueueSize: 1}, parse, nil)
	defer pool.Close()

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pool.Extract(context.Background(), "https://example.com/", "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, peak.Load(), int64(3))
	require.GreaterOrEqual(t, peak.Load(), int64(1))
}

func TestPoolRecoversPanicsAsParseError(t *testing.T) {
	t.Parallel()

	pool := New(Config{Workers: 1}, func(string, string) (crawler.Page, error) {
		panic("bad tree")
	}, nil)
	defer pool.Close()

	_, err := pool.Extract(context.Background(), "https://example.com/", "")
	var parseErr *crawler.ParseError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, "https://example.com/", parseErr.URL)

	// the goroutine survives the panic
	page, err := pool.Extract(context.Background(), "https://example.com/", "")
	require.Error(t, err)
	require.Empty(t, page.URL())
}

func TestPoolPropagatesParseErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	pool := New(Config{Workers: 1}, func(string, string) (crawler.Page, error) {
		return crawler.Page{}, boom
	}, nil)
	defer pool.Close()

	_, err := pool.Extract(context.Background(), "https://example.com/", "")
	require.ErrorIs(t, err, boom)
}

func TestPoolRejectsAfterClose(t *testing.T) {
	t.Parallel()

	pool := New(Config{Workers: 1}, extract.Extract, nil)
	pool.Close()
	pool.Close()

	_, err := pool.Extract(context.Background(), "https://example.com/", "")
	require.ErrorIs(t, err, crawler.ErrPoolClosed)
}

func TestPoolHonorsContextWhileWaiting(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	pool := New(Config{Workers: 1, QueueSize: 1}, func(baseURL, _ string) (crawler.Page, error) {
		<-release
		return crawler.NewPage(baseURL, "", "", nil), nil
	}, nil)
	defer pool.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := pool.Extract(ctx, "https://example.com/", "")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
