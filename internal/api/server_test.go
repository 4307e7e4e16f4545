package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/dispatcher"
	"github.com/JakeFAU/frontier-crawler/internal/progress"
)

type fakeStats struct {
	stats dispatcher.Stats
}

func (f fakeStats) Snapshot() dispatcher.Stats { return f.stats }

type fakeEvents struct {
	events    []progress.Event
	lastLimit int
	lastStage progress.Stage
}

func (f *fakeEvents) Recent(limit int, stage progress.Stage) []progress.Event {
	f.lastLimit = limit
	f.lastStage = stage
	return f.events
}

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	notReady := NewServer(nil, zap.NewNop())
	require.Equal(t, http.StatusOK, serve(t, notReady, "/healthz").Code)
	require.Equal(t, http.StatusServiceUnavailable, serve(t, notReady, "/readyz").Code)
	require.Equal(t, http.StatusServiceUnavailable, serve(t, notReady, "/v1/crawl/stats").Code)

	ready := NewServer(fakeStats{}, nil)
	rec := serve(t, ready, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCrawlStats(t *testing.T) {
	t.Parallel()

	s := NewServer(fakeStats{stats: dispatcher.Stats{
		CrawlID: "abc",
		Running: true,
		Fetched: 7,
		Workers: map[string]int{"fetching": 2},
	}}, nil)

	rec := serve(t, s, "/v1/crawl/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var got dispatcher.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "abc", got.CrawlID)
	require.EqualValues(t, 7, got.Fetched)
	require.Equal(t, 2, got.Workers["fetching"])
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	custom := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("crawler_test_metric 1\n"))
	})
	s := NewServer(nil, nil, WithMetricsHandler(custom))
	rec := serve(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "crawler_test_metric 1")
}

func TestEventsEndpoint(t *testing.T) {
	t.Parallel()

	src := &fakeEvents{events: []progress.Event{{
		CrawlID: [16]byte{1},
		TS:      time.Unix(0, 0).UTC(),
		Stage:   progress.StageFetchError,
		URL:     "https://a.test/",
		Dur:     1500 * time.Millisecond,
	}}}
	s := NewServer(nil, nil, WithEvents(src))

	rec := serve(t, s, "/v1/crawl/events?limit=5000&stage=fetch_error")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, maxEventLimit, src.lastLimit)
	require.Equal(t, progress.StageFetchError, src.lastStage)

	var body struct {
		Events []eventDTO `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Events, 1)
	require.EqualValues(t, 1500, body.Events[0].DurationMs)

	require.Equal(t, http.StatusBadRequest, serve(t, s, "/v1/crawl/events?limit=-1").Code)
	require.Equal(t, http.StatusBadRequest, serve(t, s, "/v1/crawl/events?stage=bogus").Code)
}

func TestEventsWithoutSource(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	NewEventsHandler(nil, nil).ListEvents(rec, httptest.NewRequest(http.MethodGet, "/v1/crawl/events", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(nil, nil).Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}
