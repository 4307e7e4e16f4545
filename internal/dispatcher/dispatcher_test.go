package dispatcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	collyfetcher "github.com/JakeFAU/frontier-crawler/internal/fetcher/colly"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/extract"
	"github.com/JakeFAU/frontier-crawler/internal/parsepool"
	"github.com/JakeFAU/frontier-crawler/internal/progress"
)

var testCrawlID = [16]byte{0xca, 0xfe}

type site struct {
	mu   sync.Mutex
	hits map[string]int
	srv  *httptest.Server
}

// newSite serves pages whose bodies come from pages[path]. Links may use
// the {base} placeholder for the server URL.
func newSite(t *testing.T, pages map[string]string) *site {
	t.Helper()
	s := &site{hits: make(map[string]int)}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()
		body, ok := pages[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `<a href="/unreachable">x</a>`)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, strings.ReplaceAll(body, "{base}", s.srv.URL))
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *site) Hits() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.hits))
	for k, v := range s.hits {
		out[k] = v
	}
	return out
}

func newHTTPDispatcher(t *testing.T, cfg Config, emitter progress.Emitter, handler crawler.PageHandler) *Dispatcher {
	t.Helper()
	pool := parsepool.New(parsepool.Config{Workers: 2}, extract.Extract, nil)
	t.Cleanup(pool.Close)
	fetcher := collyfetcher.New(collyfetcher.Config{Timeout: 2 * time.Second}, pool, nil, nil)
	if cfg.CrawlID == [16]byte{} {
		cfg.CrawlID = testCrawlID
	}
	return New(cfg, fetcher, handler, emitter, nil, nil)
}

func TestRunSeedWithThreeLinks(t *testing.T) {
	t.Parallel()

	s := newSite(t, map[string]string{
		"/": `<title>seed</title>
			<a href="{base}/a">a</a>
			<a href="{base}/b">b</a>
			<a href="{base}/c">c</a>
			<a href="mailto:someone@example.com">mail</a>`,
		"/a": `<p>a</p>`,
		"/b": `<p>b</p>`,
		"/c": `<p>c</p>`,
	})
	events := &recordingEmitter{}
	var (
		mu    sync.Mutex
		pages []string
	)
	d := newHTTPDispatcher(t, Config{Workers: 4}, events, func(_ context.Context, p crawler.Page) {
		mu.Lock()
		defer mu.Unlock()
		pages = append(pages, p.URL())
	})

	stats, err := d.Run(context.Background(), s.srv.URL+"/")
	require.NoError(t, err)
	require.EqualValues(t, 3, stats.Discovered)
	require.EqualValues(t, 4, stats.Enqueued)
	require.EqualValues(t, 4, stats.Fetched)
	require.Zero(t, stats.Pending)
	require.False(t, stats.Running)
	require.Len(t, pages, 4)

	stages := events.Stages()
	require.Equal(t, progress.StageCrawlStart, stages[0])
	require.Equal(t, progress.StageCrawlDone, stages[len(stages)-1])
}

func TestRunClosedGraphVisitsEachOnce(t *testing.T) {
	t.Parallel()

	s := newSite(t, map[string]string{
		"/":  `<a href="/p1">1</a><a href="/p2">2</a><a href="/">self</a>`,
		"/p1": `<a href="/p2">2</a><a href="/p3">3</a><a href="/#top">top</a>`,
		"/p2": `<a href="/p1">1</a><a href="/p4">4</a>`,
		"/p3": `<a href="/">home</a><a href="p4">4</a>`,
		"/p4": `<a href="/p1">1</a><a href="/p2">2</a><a href="/p3">3</a>`,
	})
	d := newHTTPDispatcher(t, Config{Workers: 8, NormalizeURLs: true}, nil, nil)

	stats, err := d.Run(context.Background(), s.srv.URL+"/")
	require.NoError(t, err)
	require.EqualValues(t, 5, stats.Fetched)
	require.EqualValues(t, 5, stats.Visited)
	for path, n := range s.Hits() {
		require.Equal(t, 1, n, path)
	}
	require.Len(t, s.Hits(), 5)
}

func TestRunNon2xxAddsNoLinks(t *testing.T) {
	t.Parallel()

	s := newSite(t, map[string]string{
		"/": `<a href="/missing">gone</a>`,
	})
	events := &recordingEmitter{}
	d := newHTTPDispatcher(t, Config{Workers: 2}, events, nil)

	stats, err := d.Run(context.Background(), s.srv.URL+"/")
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Fetched)
	require.EqualValues(t, 1, stats.Failed)
	require.EqualValues(t, 2, stats.Enqueued)
	require.NotContains(t, s.Hits(), "/unreachable")
	require.Contains(t, events.Stages(), progress.StageFetchError)
}

func TestRunRejectsInvalidSeeds(t *testing.T) {
	t.Parallel()

	d := New(Config{}, chainFetcher{}, nil, nil, nil, nil)
	_, err := d.Run(context.Background(), "/relative", "mailto:x@y.test", "")
	require.ErrorIs(t, err, crawler.ErrInvalidURL)
}

func TestRunOnlyOnce(t *testing.T) {
	t.Parallel()

	d := New(Config{Workers: 1, MaxPages: 1, CrawlID: testCrawlID}, chainFetcher{}, nil, nil, nil, nil)
	_, err := d.Run(context.Background(), "https://chain.test/0")
	require.NoError(t, err)
	_, err = d.Run(context.Background(), "https://chain.test/0")
	require.EqualError(t, err, "dispatcher already started")
}

func TestRunHonorsPageBudget(t *testing.T) {
	t.Parallel()

	events := &recordingEmitter{}
	d := New(Config{Workers: 4, MaxPages: 5, CrawlID: testCrawlID}, chainFetcher{}, nil, events, nil, nil)

	stats, err := d.Run(context.Background(), "https://chain.test/0")
	require.NoError(t, err)
	require.EqualValues(t, 5, stats.Fetched)
	require.EqualValues(t, 1, stats.Skipped)
	require.Contains(t, events.Stages(), progress.StageSkipLimit)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	events := &recordingEmitter{}
	fetcher := chainFetcher{delay: 5 * time.Millisecond}
	d := New(Config{Workers: 2, CrawlID: testCrawlID}, fetcher, nil, events, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := d.Run(ctx, "https://chain.test/0")
		done <- err
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("crawl did not stop after cancellation")
	}
	snap := d.Snapshot()
	require.False(t, snap.Running)
	require.Positive(t, snap.Fetched)
	require.Equal(t, len(d.workers), snap.Workers["stopped"])
	stages := events.Stages()
	require.Equal(t, progress.StageCrawlError, stages[len(stages)-1])
}

func TestTrackerIdleOnce(t *testing.T) {
	t.Parallel()

	tr := newTracker()
	tr.Add(2)
	tr.Add(0)
	tr.Done()
	select {
	case <-tr.Idle():
		t.Fatal("idle before all work done")
	default:
	}
	tr.Add(1)
	tr.Done()
	tr.Done()
	<-tr.Idle()
	require.Zero(t, tr.Pending())
	require.Panics(t, tr.Done)
}

func TestPageBudget(t *testing.T) {
	t.Parallel()

	unlimited := &pageBudget{}
	for i := 0; i < 100; i++ {
		require.True(t, unlimited.Take())
	}
	limited := &pageBudget{limit: 2}
	require.True(t, limited.Take())
	require.True(t, limited.Take())
	require.False(t, limited.Take())
}

// chainFetcher serves an endless chain: page n links to page n+1.
type chainFetcher struct {
	delay time.Duration
}

func (c chainFetcher) Fetch(_ context.Context, rawURL string) (crawler.Page, error) {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	n, err := strconv.Atoi(strings.TrimPrefix(rawURL, "https://chain.test/"))
	if err != nil {
		return crawler.Page{}, &crawler.FetchError{URL: rawURL, Err: err}
	}
	next := fmt.Sprintf("https://chain.test/%d", n+1)
	return crawler.NewPage(rawURL, "", "", []string{next}), nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	stages []progress.Stage
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, evt.Stage)
}

func (r *recordingEmitter) Stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Stage(nil), r.stages...)
}

func TestRunRedirectTargetFetchedOnce(t *testing.T) {
	t.Parallel()

	var (
		hitsMu sync.Mutex
		hits   = map[string]int{}
	)
	mux := http.NewServeMux()
	count := func(path string) {
		hitsMu.Lock()
		hits[path]++
		hitsMu.Unlock()
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		count(r.URL.Path)
		fmt.Fprint(w, `<a href="/old">old</a><a href="/new">new</a>`)
	})
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		count(r.URL.Path)
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		count(r.URL.Path)
		fmt.Fprint(w, `<title>new</title>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	var (
		mu    sync.Mutex
		pages = map[string]int{}
	)
	d := newHTTPDispatcher(t, Config{Workers: 4, NormalizeURLs: true}, nil, func(_ context.Context, p crawler.Page) {
		mu.Lock()
		defer mu.Unlock()
		pages[p.URL()]++
	})

	stats, err := d.Run(context.Background(), srv.URL+"/")
	require.NoError(t, err)

	hitsMu.Lock()
	require.Equal(t, 1, hits["/new"])
	hitsMu.Unlock()
	mu.Lock()
	require.Equal(t, map[string]int{srv.URL + "/": 1, srv.URL + "/new": 1}, pages)
	mu.Unlock()
	require.EqualValues(t, 2, stats.Fetched)
	require.EqualValues(t, 1, stats.Duplicates)
	require.Zero(t, stats.Failed)
	require.Zero(t, stats.Pending)
}
