// Package catalog reads book metadata from a paginated JSON catalog feed
// (Gutendex-style: count, next, results). Records are yielded lazily; each
// call to Records starts again from the feed root.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/bookindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/resilience"
	"golang.org/x/time/rate"
)

// Person is a catalog author.
type Person struct {
	Name      string `json:"name"`
	BirthYear *int   `json:"birth_year"`
	DeathYear *int   `json:"death_year"`
}

// Record is one book as published by the feed. Copyright is nil when the
// feed does not know.
type Record struct {
	ID            int64             `json:"id"`
	Title         string            `json:"title"`
	Languages     []string          `json:"languages"`
	Authors       []Person          `json:"authors"`
	Formats       map[string]string `json:"formats"`
	Subjects      []string          `json:"subjects"`
	Bookshelves   []string          `json:"bookshelves"`
	Summaries     []string          `json:"summaries"`
	DownloadCount int               `json:"download_count"`
	Copyright     *bool             `json:"copyright"`
	MediaType     string            `json:"media_type"`
}

// Page is one response of the feed.
type Page struct {
	Count    int      `json:"count"`
	Next     *string  `json:"next"`
	Previous *string  `json:"previous"`
	Results  []Record `json:"results"`
}

// Options configures a Client. Zero values take defaults.
type Options struct {
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	// PageDelay is the minimum spacing between page requests.
	PageDelay      time.Duration
	MaxPageRetries int
	RetryDelay     time.Duration
	Metrics        *metrics.Metrics
	// Sleep replaces the backoff wait between page retries.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client walks the catalog feed.
type Client struct {
	feedURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a client for the feed rooted at feedURL.
func New(feedURL string, opts Options) *Client {
	if opts.HTTPClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		opts.HTTPClient = &http.Client{Timeout: timeout}
	}
	if opts.MaxPageRetries <= 0 {
		opts.MaxPageRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}
	limit := rate.Inf
	if opts.PageDelay > 0 {
		limit = rate.Every(opts.PageDelay)
	}
	return &Client{
		feedURL: feedURL,
		http:    opts.HTTPClient,
		limiter: rate.NewLimiter(limit, 1),
		retry: resilience.RetryConfig{
			MaxAttempts:  opts.MaxPageRetries,
			InitialDelay: opts.RetryDelay,
			Multiplier:   2,
			MaxDelay:     30 * time.Second,
			Retryable:    resilience.RetryableHTTP,
			Sleep:        opts.Sleep,
		},
		metrics: opts.Metrics,
		logger:  slog.Default().With("component", "catalog"),
	}
}

// Count returns the total number of books the feed advertises on its first
// page.
func (c *Client) Count(ctx context.Context) (int, error) {
	page, err := c.fetchPage(ctx, c.feedURL)
	if err != nil {
		return 0, err
	}
	return page.Count, nil
}

// Records yields catalog records in feed order until the feed ends or limit
// records have been produced (limit <= 0 means no limit). A page that cannot
// be fetched ends the sequence with an error wrapping ErrFeedUnavailable.
// Stopping the range loop stops fetching.
func (c *Client) Records(ctx context.Context, limit int) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		next := c.feedURL
		yielded := 0
		for next != "" {
			page, err := c.fetchPage(ctx, next)
			if err != nil {
				yield(Record{}, err)
				return
			}
			for _, rec := range page.Results {
				c.metrics.CatalogRecordsTotal.Inc()
				if !yield(rec, nil) {
					return
				}
				yielded++
				if limit > 0 && yielded >= limit {
					return
				}
			}
			next = ""
			if page.Next != nil && *page.Next != "" {
				next, err = resolve(page.URL(), *page.Next)
				if err != nil {
					yield(Record{}, apperrors.Newf(apperrors.ErrFeedUnavailable, 0, "bad next link %q: %v", *page.Next, err))
					return
				}
			}
		}
	}
}

type fetchedPage struct {
	Page
	url string
}

func (p *fetchedPage) URL() string { return p.url }

func (c *Client) fetchPage(ctx context.Context, pageURL string) (*fetchedPage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for page slot: %w", err)
	}

	var page Page
	err := resilience.Retry(ctx, "catalog page", c.retry, func() error {
		p, err := c.getPage(ctx, pageURL)
		if err != nil {
			c.metrics.CatalogPagesTotal.WithLabelValues("error").Inc()
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("fetching catalog page %s: %w: %w", pageURL, apperrors.ErrFeedUnavailable, err)
	}
	c.metrics.CatalogPagesTotal.WithLabelValues("ok").Inc()
	c.logger.Debug("catalog page fetched", "url", pageURL, "results", len(page.Results), "count", page.Count)
	return &fetchedPage{Page: page, url: pageURL}, nil
}

func (c *Client) getPage(ctx context.Context, pageURL string) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Page{}, resilience.Permanent(fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("requesting page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return Page{}, &resilience.StatusError{URL: pageURL, Code: resp.StatusCode}
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return Page{}, fmt.Errorf("decoding page: %w", err)
	}
	return page, nil
}

func resolve(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}
