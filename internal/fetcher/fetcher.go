// Package fetcher downloads the full plain-text body of a catalog book.
//
// A download is retried on transport failures and retryable HTTP statuses
// with exponential backoff. Every terminal failure is reported as
// errors.ErrNoText: the book simply has no usable text.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/catalog"
	apperrors "github.com/Adithya-Monish-Kumar-K/bookindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/resilience"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// textFormats is the MIME preference order; the first one present wins.
var textFormats = []string{
	"text/plain",
	"text/plain; charset=utf-8",
	"text/plain; charset=iso-8859-1",
	"text/plain; charset=us-ascii",
}

// Result is a downloaded body. WordCount is measured on the whole body,
// Text is the body cut to the stored-size limit.
type Result struct {
	Text      string
	WordCount int
	Truncated bool
	SourceURL string
	Attempts  int
}

// Options configures a Fetcher. Zero values take defaults.
type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	// MaxRetries is the total number of download attempts.
	MaxRetries int
	// BackoffBase is the wait after the first failed attempt; each further
	// wait doubles it.
	BackoffBase    time.Duration
	MaxStoredChars int
	Metrics        *metrics.Metrics
	Sleep          func(ctx context.Context, d time.Duration) error
}

type Fetcher struct {
	http           *http.Client
	retry          resilience.RetryConfig
	maxStoredChars int
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

func New(opts Options) *Fetcher {
	if opts.HTTPClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		opts.HTTPClient = &http.Client{Timeout: timeout}
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 2 * time.Second
	}
	if opts.MaxStoredChars <= 0 {
		opts.MaxStoredChars = 100_000
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}
	return &Fetcher{
		http: opts.HTTPClient,
		retry: resilience.RetryConfig{
			MaxAttempts:  opts.MaxRetries,
			InitialDelay: opts.BackoffBase,
			Multiplier:   2,
			Retryable:    resilience.RetryableHTTP,
			Sleep:        opts.Sleep,
		},
		maxStoredChars: opts.MaxStoredChars,
		metrics:        opts.Metrics,
		logger:         slog.Default().With("component", "fetcher"),
	}
}

// SelectTextURL returns the download URL of the preferred plain-text
// format. MIME keys match case-insensitively, ignoring spacing around ";".
func SelectTextURL(formats map[string]string) (string, bool) {
	normalized := make(map[string]string, len(formats))
	for mime, u := range formats {
		normalized[normalizeMIME(mime)] = u
	}
	for _, want := range textFormats {
		if u, ok := normalized[want]; ok && u != "" {
			return u, true
		}
	}
	return "", false
}

func normalizeMIME(mime string) string {
	parts := strings.Split(strings.ToLower(mime), ";")
	for i, p := range parts {
		parts[i] = strings.Join(strings.Fields(p), "")
	}
	return strings.Join(parts, "; ")
}

// Fetch downloads the text of rec. It returns an error wrapping ErrNoText
// when the record has no text format, when the body is empty, or when every
// attempt failed.
func (f *Fetcher) Fetch(ctx context.Context, rec catalog.Record) (Result, error) {
	textURL, ok := SelectTextURL(rec.Formats)
	if !ok {
		f.logger.Warn("no plain-text format", "book_id", rec.ID)
		return Result{}, apperrors.New(apperrors.ErrNoText, rec.ID, "no plain-text format")
	}

	start := time.Now()
	defer func() { f.metrics.FetchDuration.Observe(time.Since(start).Seconds()) }()

	var body string
	attempts := 0
	err := resilience.Retry(ctx, "text download", f.retry, func() error {
		attempts++
		b, err := f.download(ctx, textURL)
		if err != nil {
			if resilience.RetryableHTTP(err) {
				f.metrics.FetchAttemptsTotal.WithLabelValues("transient").Inc()
			} else {
				f.metrics.FetchAttemptsTotal.WithLabelValues("fatal").Inc()
			}
			return err
		}
		f.metrics.FetchAttemptsTotal.WithLabelValues("ok").Inc()
		body = b
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		var exhausted *resilience.ExhaustedError
		if errors.As(err, &exhausted) {
			f.logger.Error("text download failed", "book_id", rec.ID, "url", textURL, "attempts", attempts, "error", exhausted.Err)
		} else {
			f.logger.Error("text download aborted", "book_id", rec.ID, "url", textURL, "error", err)
		}
		return Result{}, apperrors.Newf(apperrors.ErrNoText, rec.ID, "download failed after %d attempt(s): %v", attempts, err)
	}

	body = strings.TrimSpace(body)
	if body == "" {
		f.logger.Warn("empty text body", "book_id", rec.ID, "url", textURL)
		return Result{}, apperrors.New(apperrors.ErrNoText, rec.ID, "empty body")
	}

	text, truncated := truncateRunes(body, f.maxStoredChars)
	return Result{
		Text:      text,
		WordCount: len(strings.Fields(body)),
		Truncated: truncated,
		SourceURL: textURL,
		Attempts:  attempts,
	}, nil
}

func (f *Fetcher) download(ctx context.Context, textURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, textURL, nil)
	if err != nil {
		return "", resilience.Permanent(fmt.Errorf("building request: %w", err))
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting text: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", &resilience.StatusError{URL: textURL, Code: resp.StatusCode}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}
	text, err := decode(raw, resp.Header.Get("Content-Type"))
	if err != nil {
		return "", resilience.Permanent(err)
	}
	return text, nil
}

// decode converts raw to UTF-8 according to the charset parameter of
// contentType. Unknown or absent charsets are read as UTF-8 with invalid
// sequences replaced.
func decode(raw []byte, contentType string) (string, error) {
	var enc encoding.Encoding
	switch charset(contentType) {
	case "iso-8859-1", "latin1", "latin-1":
		enc = charmap.ISO8859_1
	case "windows-1252", "cp1252":
		enc = charmap.Windows1252
	}
	if enc != nil {
		out, err := enc.NewDecoder().Bytes(raw)
		if err != nil {
			return "", fmt.Errorf("decoding %s body: %w", charset(contentType), err)
		}
		return string(out), nil
	}
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	return strings.ToValidUTF8(string(raw), "�"), nil
}

func charset(contentType string) string {
	for _, param := range strings.Split(contentType, ";")[1:] {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if ok && strings.EqualFold(strings.TrimSpace(k), "charset") {
			return strings.ToLower(strings.Trim(strings.TrimSpace(v), `"`))
		}
	}
	return ""
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) (string, bool) {
	if len(s) <= n {
		return s, false
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i], true
		}
		count++
	}
	return s, false
}
