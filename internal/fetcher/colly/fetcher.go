// Package collyfetcher implements crawler.Fetcher on top of gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxBodyBytes = 10 << 20
	defaultMaxConns     = 8
	defaultMaxIdleConns = 100
	maxRedirects        = 10
)

// Config controls collector and transport behavior.
type Config struct {
	UserAgent       string
	Timeout         time.Duration
	MaxBodyBytes    int
	MaxConnsPerHost int
	MaxIdleConns    int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
	if c.MaxConnsPerHost <= 0 {
		c.MaxConnsPerHost = defaultMaxConns
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = defaultMaxIdleConns
	}
	return c
}

// Fetcher performs one GET per call and hands the body to an Extractor.
// All collectors share one transport, so connection limits are global.
type Fetcher struct {
	cfg       Config
	transport *http.Transport
	extractor crawler.Extractor
	retry     crawler.RetryPolicy
	logger    *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// response is the raw outcome of one attempt.
type response struct {
	finalURL string
	status   int
	body     []byte
}

// New builds a Fetcher. A nil retry policy means a single attempt.
func New(cfg Config, extractor crawler.Extractor, retry crawler.RetryPolicy, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Fetcher{
		cfg:       cfg,
		transport: newHTTPTransport(cfg),
		extractor: extractor,
		retry:     retry,
		logger:    logger,
	}
}

// Fetch retrieves rawURL, retrying transient failures, and returns the
// extracted page. Responses outside 2xx are returned as *crawler.FetchError
// without being parsed.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (crawler.Page, error) {
	for attempt := 1; ; attempt++ {
		page, err := f.fetchOnce(ctx, rawURL)
		if err == nil {
			return page, nil
		}
		if f.retry == nil || !f.retry.ShouldRetry(err, attempt) {
			return crawler.Page{}, err
		}
		wait := f.retry.Backoff(attempt - 1)
		f.logger.Debug("retrying fetch",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return crawler.Page{}, &crawler.FetchError{URL: rawURL, Err: ctx.Err()}
		case <-timer.C:
		}
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (crawler.Page, error) {
	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return crawler.Page{}, &crawler.FetchError{URL: rawURL, Err: err}
	}
	if resp.status < 200 || resp.status > 299 {
		return crawler.Page{}, &crawler.FetchError{
			URL:        resp.finalURL,
			StatusCode: resp.status,
			Err:        crawler.ErrUnexpectedStatus,
		}
	}
	html := strings.ToValidUTF8(string(resp.body), "\uFFFD")
	page, err := f.extractor.Extract(ctx, resp.finalURL, html)
	if err != nil {
		var parseErr *crawler.ParseError
		if errors.As(err, &parseErr) {
			return crawler.Page{}, err
		}
		return crawler.Page{}, fmt.Errorf("extract %s: %w", resp.finalURL, err)
	}
	return page, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (response, error) {
	if err := ctx.Err(); err != nil {
		return response{}, err
	}
	var (
		result   response
		fetchErr error
	)
	collector := f.buildCollector(&result, crawler.RedirectGuardFrom(ctx))
	f.configureCollectorHooks(collector, &result, &fetchErr)
	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return response{}, err
	}
	return result, nil
}

// buildCollector returns a single-use collector. guard, when set, must approve
// every redirect target before it is followed.
func (f *Fetcher) buildCollector(result *response, guard crawler.RedirectGuard) *colly.Collector {
	opts := []colly.CollectorOption{
		colly.MaxBodySize(f.cfg.MaxBodyBytes),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
		colly.DetectCharset(),
	}
	if f.cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(f.cfg.UserAgent))
	}
	collector := colly.NewCollector(opts...)
	collector.WithTransport(f.transport)
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.SetRedirectHandler(func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		if guard != nil && !guard(req.URL.String()) {
			return fmt.Errorf("redirect to %s: %w", req.URL, crawler.ErrRedirectVisited)
		}
		result.finalURL = req.URL.String()
		return nil
	})
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *response, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")
	})

	hooks.OnResponse(func(r *colly.Response) {
		if result.finalURL == "" && r.Request != nil && r.Request.URL != nil {
			result.finalURL = r.Request.URL.String()
		}
		result.status = r.StatusCode
		result.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport(cfg Config) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
	}
}
