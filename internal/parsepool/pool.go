// Package parsepool runs CPU-bound HTML extraction on a fixed set of
// goroutines, separate from the network workers. Callers submit a job and
// await its result; both steps honor the caller's context.
package parsepool

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/metrics"
)

// ParseFunc is the pure extraction step executed by pool goroutines.
type ParseFunc func(baseURL, html string) (crawler.Page, error)

// Config sizes the pool.
//   - Workers: parse goroutines (default runtime.NumCPU()).
//   - QueueSize: jobs buffered before Extract blocks (default 2 x Workers).
type Config struct {
	Workers   int
	QueueSize int
}

type job struct {
	ctx     context.Context
	baseURL string
	html    string
	reply   chan result
}

type result struct {
	page crawler.Page
	err  error
}

// Pool is a bounded parse offload pool. It implements crawler.Extractor.
type Pool struct {
	parse  ParseFunc
	jobs   chan job
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New starts the pool goroutines.
func New(cfg Config, parse ParseFunc, logger *zap.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 2 * cfg.Workers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		parse:  parse,
		jobs:   make(chan job, cfg.QueueSize),
		logger: logger,
	}
	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.loop()
	}
	logger.Debug("parse pool started", zap.Int("workers", cfg.Workers), zap.Int("queue", cfg.QueueSize))
	return p
}

// Extract submits a parse job and waits for its result.
func (p *Pool) Extract(ctx context.Context, baseURL, html string) (crawler.Page, error) {
	reply := make(chan result, 1)
	if err := p.submit(ctx, job{ctx: ctx, baseURL: baseURL, html: html, reply: reply}); err != nil {
		return crawler.Page{}, err
	}
	select {
	case res := <-reply:
		return res.page, res.err
	case <-ctx.Done():
		return crawler.Page{}, fmt.Errorf("await parse result: %w", ctx.Err())
	}
}

func (p *Pool) submit(ctx context.Context, j job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return crawler.ErrPoolClosed
	}
	select {
	case p.jobs <- j:
		metrics.SetParseBacklog(len(p.jobs))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("submit parse job: %w", ctx.Err())
	}
}

// Close stops accepting jobs, lets queued jobs finish and waits for the
// pool goroutines to exit. It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for j := range p.jobs {
		metrics.SetParseBacklog(len(p.jobs))
		if err := j.ctx.Err(); err != nil {
			j.reply <- result{err: fmt.Errorf("parse job abandoned: %w", err)}
			continue
		}
		page, err := p.run(j)
		j.reply <- result{page: page, err: err}
	}
}

func (p *Pool) run(j job) (page crawler.Page, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("parse panic recovered", zap.String("url", j.baseURL), zap.Any("panic", rec))
			err = &crawler.ParseError{URL: j.baseURL, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()
	return p.parse(j.baseURL, j.html)
}
