// Package worker implements the per-goroutine crawl loop: pop a URL, claim
// it, fetch it and push the discovered links back onto the frontier.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/clock/system"
	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/metrics"
	"github.com/JakeFAU/frontier-crawler/internal/progress"
)

// State is the phase a worker is in.
type State int32

// Worker states.
const (
	StateWaiting State = iota
	StateClaiming
	StateFetching
	StateDistributing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateClaiming:
		return "claiming"
	case StateFetching:
		return "fetching"
	case StateDistributing:
		return "distributing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Budget limits how many URLs may be fetched. Take reports whether one more
// fetch is allowed and consumes it.
type Budget interface {
	Take() bool
}

// Counters aggregates outcomes across all workers of a crawl.
type Counters struct {
	Fetched    atomic.Int64
	Failed     atomic.Int64
	Duplicates atomic.Int64
	Skipped    atomic.Int64
	Discovered atomic.Int64
	Enqueued   atomic.Int64
}

// Config identifies a worker within a crawl.
type Config struct {
	ID            int
	CrawlID       [16]byte
	NormalizeURLs bool
}

// Deps are the shared structures a worker operates on. Budget, Handler,
// Emitter and Clock are optional.
type Deps struct {
	Frontier crawler.Frontier
	Visited  crawler.VisitedSet
	Tracker  crawler.WorkTracker
	Fetcher  crawler.Fetcher
	Budget   Budget
	Handler  crawler.PageHandler
	Emitter  progress.Emitter
	Clock    crawler.Clock
	Counters *Counters
}

// Worker runs the crawl loop until the frontier closes or ctx ends.
type Worker struct {
	cfg    Config
	deps   Deps
	state  atomic.Int32
	logger *zap.Logger
}

// New constructs a Worker.
func New(cfg Config, deps Deps, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.Discard
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Counters == nil {
		deps.Counters = &Counters{}
	}
	return &Worker{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(zap.Int("worker", cfg.ID)),
	}
}

// State returns the current phase.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Run pops and processes URLs. It returns nil once the frontier is closed
// and drained, or the context error when ctx ends first.
func (w *Worker) Run(ctx context.Context) error {
	defer w.setState(StateStopped)
	for {
		w.setState(StateWaiting)
		if err := ctx.Err(); err != nil {
			return err
		}
		rawURL, err := w.deps.Frontier.Pop(ctx)
		if err != nil {
			if errors.Is(err, crawler.ErrFrontierClosed) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		w.process(ctx, rawURL)
	}
}

// process handles one popped URL and marks it done on the tracker exactly
// once, after any children were added.
func (w *Worker) process(ctx context.Context, rawURL string) {
	defer w.deps.Tracker.Done()

	w.setState(StateClaiming)
	key := w.visitKey(rawURL)
	if !w.deps.Visited.Claim(key) {
		w.deps.Counters.Duplicates.Add(1)
		w.emit(progress.Event{Stage: progress.StageSkipDuplicate, URL: rawURL})
		return
	}
	if w.deps.Budget != nil && !w.deps.Budget.Take() {
		w.deps.Counters.Skipped.Add(1)
		w.emit(progress.Event{Stage: progress.StageSkipLimit, URL: rawURL})
		return
	}

	w.setState(StateFetching)
	metrics.IncActiveWorkers()
	start := w.deps.Clock.Now()
	fetchCtx := crawler.WithRedirectGuard(context.WithoutCancel(ctx), w.redirectGuard(key))
	page, err := w.deps.Fetcher.Fetch(fetchCtx, rawURL)
	dur := w.deps.Clock.Now().Sub(start)
	metrics.DecActiveWorkers()
	if errors.Is(err, crawler.ErrRedirectVisited) {
		w.deps.Counters.Duplicates.Add(1)
		w.emit(progress.Event{Stage: progress.StageSkipDuplicate, URL: rawURL, Dur: dur, Note: err.Error()})
		return
	}
	if err != nil {
		w.fail(rawURL, err, dur)
		return
	}

	w.setState(StateDistributing)
	w.distribute(page)
	w.deps.Counters.Fetched.Add(1)
	w.emit(progress.Event{
		Stage:       progress.StageFetchDone,
		URL:         page.URL(),
		Bytes:       int64(len(page.Body())),
		Links:       page.LinkCount(),
		StatusClass: progress.Status2xx,
		Dur:         dur,
	})
	if w.deps.Handler != nil {
		w.deps.Handler(ctx, page)
	}
}

func (w *Worker) visitKey(rawURL string) string {
	if w.cfg.NormalizeURLs {
		if normalized, err := crawler.NormalizeURL(rawURL); err == nil {
			return normalized
		}
	}
	return rawURL
}

// redirectGuard claims redirect targets for the fetch that owns key. Targets
// already claimed by the same fetch stay allowed so retries and redirect
// chains back to the start keep working.
func (w *Worker) redirectGuard(key string) crawler.RedirectGuard {
	var mu sync.Mutex
	owned := map[string]struct{}{key: {}}
	return func(target string) bool {
		targetKey := w.visitKey(target)
		mu.Lock()
		defer mu.Unlock()
		if _, ok := owned[targetKey]; ok {
			return true
		}
		if !w.deps.Visited.Claim(targetKey) {
			return false
		}
		owned[targetKey] = struct{}{}
		return true
	}
}

func (w *Worker) distribute(page crawler.Page) {
	links := page.Links()
	w.deps.Counters.Discovered.Add(int64(len(links)))
	w.deps.Tracker.Add(len(links))
	for _, link := range links {
		if err := w.deps.Frontier.Push(link); err != nil {
			w.deps.Tracker.Done()
			w.logger.Debug("link dropped", zap.String("url", link), zap.Error(err))
			continue
		}
		w.deps.Counters.Enqueued.Add(1)
	}
}

func (w *Worker) fail(rawURL string, err error, dur time.Duration) {
	w.deps.Counters.Failed.Add(1)
	kind := crawler.ErrorKind(err)
	status := crawler.StatusCodeOf(err)
	w.logger.Warn("fetch failed",
		zap.String("url", rawURL),
		zap.String("error_kind", kind),
		zap.Int("status_code", status),
		zap.Error(err))

	evt := progress.Event{
		Stage:     progress.StageFetchError,
		URL:       rawURL,
		ErrorKind: kind,
		Dur:       dur,
		Note:      err.Error(),
	}
	if status != 0 {
		evt.StatusClass = progress.ClassifyStatus(status)
	}
	w.emit(evt)
}

func (w *Worker) emit(evt progress.Event) {
	evt.CrawlID = w.cfg.CrawlID
	evt.TS = w.deps.Clock.Now().UTC()
	evt.Worker = w.cfg.ID
	if evt.Site == "" && evt.URL != "" {
		evt.Site = metrics.SanitizeSite(evt.URL)
	}
	w.deps.Emitter.Emit(evt)
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}
