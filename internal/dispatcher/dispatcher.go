// Package dispatcher owns the shared crawl structures, runs the worker pool
// and detects when the crawl has run out of work.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/frontier-crawler/internal/clock/system"
	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/id/uuid"
	"github.com/JakeFAU/frontier-crawler/internal/metrics"
	"github.com/JakeFAU/frontier-crawler/internal/progress"
	"github.com/JakeFAU/frontier-crawler/internal/queue/memory"
	"github.com/JakeFAU/frontier-crawler/internal/visited"
	"github.com/JakeFAU/frontier-crawler/internal/worker"
)

const (
	defaultWorkers        = 16
	defaultSampleInterval = time.Second
)

// Config controls the crawl.
type Config struct {
	Workers       int
	MaxPages      int
	NormalizeURLs bool
	CrawlID       [16]byte
	// SampleInterval is how often gauges are refreshed while running.
	SampleInterval time.Duration
}

// Stats summarizes a crawl. Snapshot returns it while the crawl runs.
type Stats struct {
	CrawlID    string         `json:"crawl_id"`
	Running    bool           `json:"running"`
	StartedAt  time.Time      `json:"started_at"`
	Duration   time.Duration  `json:"duration_ns"`
	Fetched    int64          `json:"fetched"`
	Failed     int64          `json:"failed"`
	Duplicates int64          `json:"duplicates"`
	Skipped    int64          `json:"skipped"`
	Discovered int64          `json:"discovered"`
	Enqueued   int64          `json:"enqueued"`
	Pending    int64          `json:"pending"`
	Visited    int64          `json:"visited"`
	Frontier   int            `json:"frontier"`
	Workers    map[string]int `json:"workers"`
}

// Dispatcher runs one crawl.
type Dispatcher struct {
	cfg      Config
	frontier *memory.Frontier
	visited  *visited.Set
	tracker  *tracker
	counters *worker.Counters
	workers  []*worker.Worker
	emitter  progress.Emitter
	clock    crawler.Clock
	logger   *zap.Logger

	started   atomic.Bool
	running   atomic.Bool
	startedAt atomic.Int64
	endedAt   atomic.Int64
}

// New builds a Dispatcher with its frontier, visited set, tracker and
// cfg.Workers workers. handler and emitter may be nil.
func New(
	cfg Config,
	fetcher crawler.Fetcher,
	handler crawler.PageHandler,
	emitter progress.Emitter,
	clock crawler.Clock,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = defaultSampleInterval
	}
	if emitter == nil {
		emitter = progress.Discard
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		cfg:      cfg,
		frontier: memory.NewFrontier(),
		visited:  visited.New(),
		tracker:  newTracker(),
		counters: &worker.Counters{},
		emitter:  emitter,
		clock:    clock,
		logger:   logger,
	}
	deps := worker.Deps{
		Frontier: d.frontier,
		Visited:  d.visited,
		Tracker:  d.tracker,
		Fetcher:  fetcher,
		Budget:   &pageBudget{limit: int64(cfg.MaxPages)},
		Handler:  handler,
		Emitter:  emitter,
		Clock:    clock,
		Counters: d.counters,
	}
	workerLogger := logger.Named("worker")
	for i := 0; i < cfg.Workers; i++ {
		wcfg := worker.Config{ID: i, CrawlID: cfg.CrawlID, NormalizeURLs: cfg.NormalizeURLs}
		d.workers = append(d.workers, worker.New(wcfg, deps, workerLogger))
	}
	return d
}

// Run seeds the frontier and blocks until no work remains or ctx ends.
// Invalid seeds are skipped; Run fails when none are usable. A Dispatcher
// runs at most once.
func (d *Dispatcher) Run(ctx context.Context, seeds ...string) (Stats, error) {
	if !d.started.CompareAndSwap(false, true) {
		return Stats{}, errors.New("dispatcher already started")
	}
	valid := d.filterSeeds(seeds)
	if len(valid) == 0 {
		return Stats{}, fmt.Errorf("no usable seeds: %w", crawler.ErrInvalidURL)
	}

	start := d.clock.Now()
	d.startedAt.Store(start.UnixNano())
	d.running.Store(true)
	d.emit(progress.Event{Stage: progress.StageCrawlStart, Note: fmt.Sprintf("%d seeds", len(valid))})
	d.logger.Info("crawl started",
		zap.String("crawl_id", uuid.String(d.cfg.CrawlID)),
		zap.Int("seeds", len(valid)),
		zap.Int("workers", len(d.workers)))

	d.tracker.Add(len(valid))
	for _, seed := range valid {
		if err := d.frontier.Push(seed); err != nil {
			d.tracker.Done()
			continue
		}
		d.counters.Enqueued.Add(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range d.workers {
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	stopSampling := d.sample()

	idle := false
	select {
	case <-d.tracker.Idle():
		idle = true
	case <-gctx.Done():
	}
	d.frontier.Close()
	waitErr := g.Wait()
	stopSampling()

	d.endedAt.Store(d.clock.Now().UnixNano())
	d.running.Store(false)
	stats := d.Snapshot()

	var runErr error
	switch {
	case idle:
	case ctx.Err() != nil:
		runErr = fmt.Errorf("crawl canceled: %w", ctx.Err())
	case waitErr != nil:
		runErr = fmt.Errorf("crawl worker: %w", waitErr)
	}

	fields := []zap.Field{
		zap.String("crawl_id", stats.CrawlID),
		zap.Int64("fetched", stats.Fetched),
		zap.Int64("failed", stats.Failed),
		zap.Int64("duplicates", stats.Duplicates),
		zap.Int64("skipped", stats.Skipped),
		zap.Int64("discovered", stats.Discovered),
		zap.Duration("duration", stats.Duration),
	}
	if runErr != nil {
		d.emit(progress.Event{Stage: progress.StageCrawlError, Dur: stats.Duration, Note: runErr.Error()})
		d.logger.Warn("crawl stopped", append(fields, zap.Error(runErr))...)
		return stats, runErr
	}
	d.emit(progress.Event{Stage: progress.StageCrawlDone, Dur: stats.Duration})
	d.logger.Info("crawl finished", fields...)
	return stats, nil
}

// Snapshot returns live counters.
func (d *Dispatcher) Snapshot() Stats {
	stats := Stats{
		CrawlID:    uuid.String(d.cfg.CrawlID),
		Running:    d.running.Load(),
		Fetched:    d.counters.Fetched.Load(),
		Failed:     d.counters.Failed.Load(),
		Duplicates: d.counters.Duplicates.Load(),
		Skipped:    d.counters.Skipped.Load(),
		Discovered: d.counters.Discovered.Load(),
		Enqueued:   d.counters.Enqueued.Load(),
		Pending:    d.tracker.Pending(),
		Visited:    d.visited.Len(),
		Frontier:   d.frontier.Len(),
		Workers:    make(map[string]int),
	}
	if started := d.startedAt.Load(); started != 0 {
		stats.StartedAt = time.Unix(0, started).UTC()
		end := d.endedAt.Load()
		if end == 0 {
			end = d.clock.Now().UnixNano()
		}
		stats.Duration = time.Duration(end - started)
	}
	for _, w := range d.workers {
		stats.Workers[w.State().String()]++
	}
	return stats
}

func (d *Dispatcher) filterSeeds(seeds []string) []string {
	valid := make([]string, 0, len(seeds))
	for _, seed := range seeds {
		if !crawler.IsCrawlableURL(seed) {
			d.logger.Warn("skipping invalid seed", zap.String("url", seed))
			continue
		}
		valid = append(valid, seed)
	}
	return valid
}

// sample refreshes the crawl gauges until the returned stop func is called.
func (d *Dispatcher) sample() func() {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(d.cfg.SampleInterval)
		defer ticker.Stop()
		for {
			d.publishGauges()
			select {
			case <-done:
				d.publishGauges()
				return
			case <-ticker.C:
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

func (d *Dispatcher) publishGauges() {
	metrics.SetFrontierDepth(d.frontier.Len())
	metrics.SetInflight(d.tracker.Pending())
	metrics.SetVisited(d.visited.Len())
}

func (d *Dispatcher) emit(evt progress.Event) {
	evt.CrawlID = d.cfg.CrawlID
	evt.TS = d.clock.Now().UTC()
	evt.Worker = -1
	d.emitter.Emit(evt)
}
