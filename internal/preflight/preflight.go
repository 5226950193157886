// Package preflight checks that every console answers over plain HTTP before a batch
// spends minutes per site in the browser.
package preflight

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
)

const maxBodyBytes = 2 << 20

// Options configures a Checker.
type Options struct {
	Timeout         time.Duration
	IgnoreTLSErrors bool
	Concurrency     int
	Headers         map[string]string
	UserAgent       string
	// Marker is a CSS selector expected on a healthy console page. Empty disables the check.
	Marker string
}

// Result is the preflight verdict for one site.
type Result struct {
	SiteID     string
	URL        string
	StatusCode int
	FinalURL   string
	Title      string
	// MarkerFound is only meaningful when a marker was configured.
	MarkerFound bool
	Latency     time.Duration
	Err         error
}

// OK reports whether the site answered below 400 and, when a marker is set, showed it.
func (r Result) OK(markerConfigured bool) bool {
	if r.Err != nil || r.StatusCode == 0 || r.StatusCode >= 400 {
		return false
	}
	return !markerConfigured || r.MarkerFound
}

// Checker fetches console pages concurrently.
type Checker struct {
	opts   Options
	client *http.Client
	logger *zap.Logger
}

// New creates a Checker. Each site gets a fresh cookie jar.
func New(opts Options, logger *zap.Logger) *Checker {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.IgnoreTLSErrors {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &Checker{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout, Transport: transport},
		logger: logger.Named("preflight"),
	}
}

// MarkerConfigured reports whether results carry a marker verdict.
func (c *Checker) MarkerConfigured() bool { return c.opts.Marker != "" }

// Check probes every site and returns results in site order. Per-site failures are
// reported in Result.Err; the error return is only set when ctx ends.
func (c *Checker) Check(ctx context.Context, sites []schemas.SiteEndpoint) ([]Result, error) {
	results := make([]Result, len(sites))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)

	for i, site := range sites {
		g.Go(func() error {
			results[i] = c.checkOne(gctx, site)
			return nil
		})
	}
	_ = g.Wait()
	return results, ctx.Err()
}

func (c *Checker) checkOne(ctx context.Context, site schemas.SiteEndpoint) (res Result) {
	res = Result{SiteID: site.ID, URL: site.URL}
	start := time.Now()
	defer func() { res.Latency = time.Since(start) }()

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		res.Err = fmt.Errorf("cookie jar: %w", err)
		return res
	}
	client := *c.client
	client.Jar = jar

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, site.URL, nil)
	if err != nil {
		res.Err = fmt.Errorf("failed to build request: %w", err)
		return res
	}
	for k, v := range c.opts.Headers {
		req.Header.Set(k, v)
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		res.Err = fmt.Errorf("request failed: %w", err)
		c.logger.Debug("Preflight request failed.", zap.String("site_id", site.ID), zap.Error(err))
		return res
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	res.FinalURL = resp.Request.URL.String()

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		res.Err = fmt.Errorf("failed to parse HTML: %w", err)
		return res
	}
	res.Title = strings.TrimSpace(doc.Find("title").First().Text())
	if c.opts.Marker != "" {
		res.MarkerFound = doc.Find(c.opts.Marker).Length() > 0
	}

	c.logger.Debug("Preflight done.",
		zap.String("site_id", site.ID),
		zap.Int("status", res.StatusCode),
		zap.Bool("marker", res.MarkerFound),
	)
	return res
}
