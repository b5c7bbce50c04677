// Package crawl implements the outbound marketplace fetcher using gocolly.
package crawl

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/hbkim/storecrawl/internal/metrics"
	"github.com/hbkim/storecrawl/internal/task"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	Accept    string

	// RPS caps requests per second per target host. Zero means unlimited.
	RPS   float64
	Burst int
}

// Crawler fetches marketplace API pages with a Colly collector. Each Execute
// clones the base collector so concurrent tasks never share hook state.
type Crawler struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       *hostLimiter
}

// New builds a Crawler.
func New(cfg Config) *Crawler {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Accept == "" {
		cfg.Accept = "application/json"
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &Crawler{
		cfg:           cfg,
		baseCollector: c,
		limiter:       newHostLimiter(cfg.RPS, cfg.Burst),
	}
}

// Execute performs a single GET against the task's target URL. HTTP error
// statuses come back as an unsuccessful result rather than an error so the
// caller can distinguish rate limiting from transport failures.
func (c *Crawler) Execute(ctx context.Context, t task.Task) (task.CrawlResult, error) {
	if err := c.limiter.Wait(ctx, t.Target.URL); err != nil {
		return task.CrawlResult{}, err
	}

	var (
		result   task.CrawlResult
		fetchErr error
	)
	collector := c.buildCollector(&result, &fetchErr)

	if err := c.runCollector(ctx, collector, t.Target.URL, &result, &fetchErr); err != nil {
		return task.CrawlResult{}, err
	}
	metrics.ObserveCrawlRequest(result.StatusCode)
	return result, nil
}

func (c *Crawler) buildCollector(result *task.CrawlResult, fetchErr *error) *colly.Collector {
	collector := c.baseCollector.Clone()
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(c.cfg.Timeout)

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", c.cfg.Accept)
	})

	collector.OnResponse(func(r *colly.Response) {
		*result = task.CrawlResult{
			Success:    true,
			StatusCode: r.StatusCode,
			Data:       append([]byte(nil), r.Body...),
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*result = task.CrawlResult{
				Success:    false,
				StatusCode: r.StatusCode,
				Data:       append([]byte(nil), r.Body...),
				Error:      err.Error(),
			}
			return
		}
		*fetchErr = err
	})

	return collector
}

func (c *Crawler) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	url string,
	result *task.CrawlResult,
	fetchErr *error,
) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("crawl canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("crawl %s: %w", url, *fetchErr)
		}
		if err != nil && result.StatusCode == 0 {
			return fmt.Errorf("crawl %s: %w", url, err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
