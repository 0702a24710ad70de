// Package pager walks paginated REST collections that link pages through the
// Link response header.
//
// A page sequence is lazy: nothing is requested until the caller ranges over
// it, exactly one request is in flight at a time and breaking out of the loop
// stops fetching. Rate-limited responses are retried in place after the
// server-specified delay. A 403 ends the sequence with ErrFeatureUnavailable so
// callers can tell "this sub-resource is not enabled for the account" apart
// from both exhaustion and hard failures.
package pager

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrFeatureUnavailable ends a sequence answered with 403.
var ErrFeatureUnavailable = errors.New("feature unavailable")

// MaxRetryAfter caps any server-provided 429 delay.
const MaxRetryAfter = time.Hour

// StatusError is a non-success response other than 403 and 429.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api error: %d", e.Code)
}

type Config struct {
	PageDelay         time.Duration
	DefaultRetryAfter time.Duration
	Timeout           time.Duration
}

// Request describes one paginated collection.
type Request struct {
	Resource string // метка для логов и метрик
	URL      string
	Token    string
}

type Page struct {
	URL    string
	Status int
	Header http.Header
	Body   []byte
}

// Observer receives fetch events; metrics.Sync implements it.
type Observer interface {
	PageFetched(resource string)
	RateLimited(resource string)
}

type Option func(*Fetcher)

// WithSleep replaces the context-aware sleep used for backoff and page delay.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(f *Fetcher) {
		f.sleep = sleep
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(f *Fetcher) {
		f.client = resty.NewWithClient(hc)
	}
}

func WithObserver(o Observer) Option {
	return func(f *Fetcher) {
		f.observer = o
	}
}

type Fetcher struct {
	cfg      Config
	client   *resty.Client
	zaplog   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	observer Observer
}

func New(cfg Config, zaplog *zap.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		cfg:      cfg,
		client:   resty.New(),
		zaplog:   zaplog.Named("pager"),
		sleep:    sleepContext,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(f)
	}
	if cfg.Timeout > 0 {
		f.client.SetTimeout(cfg.Timeout)
	}
	return f
}

// Pages returns the lazy page sequence starting at req.URL. The sequence
// yields at most one error, always as its last element.
func (f *Fetcher) Pages(ctx context.Context, req Request) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		url := req.URL
		for url != "" {
			page, err := f.fetch(ctx, req, url)
			if err != nil {
				yield(Page{}, err)
				return
			}
			f.observer.PageFetched(req.Resource)

			if !yield(page, nil) {
				return
			}

			url = NextLink(page.Header.Get("Link"))
			if url == "" {
				return
			}
			if err := f.sleep(ctx, f.cfg.PageDelay); err != nil {
				yield(Page{}, err)
				return
			}
		}
	}
}

// fetch запрашивает одну страницу, повторяя ее же при 429
func (f *Fetcher) fetch(ctx context.Context, req Request, url string) (Page, error) {
	for {
		resp, err := f.client.R().
			SetContext(ctx).
			SetHeader("X-Shopify-Access-Token", req.Token).
			SetHeader("Accept", "application/json").
			Get(url)
		if err != nil {
			return Page{}, fmt.Errorf("%s: %w", req.Resource, err)
		}

		code := resp.StatusCode()
		switch {
		case code == http.StatusTooManyRequests:
			wait := RetryAfter(resp.Header().Get("Retry-After"), f.cfg.DefaultRetryAfter, time.Now())
			f.zaplog.Warn("rate limited, retrying",
				zap.String("resource", req.Resource),
				zap.Duration("retry_after", wait),
			)
			f.observer.RateLimited(req.Resource)
			if err := f.sleep(ctx, wait); err != nil {
				return Page{}, err
			}
			continue
		case code == http.StatusForbidden:
			f.zaplog.Warn("resource not available for this account",
				zap.String("resource", req.Resource),
			)
			return Page{}, fmt.Errorf("%s: %w", req.Resource, ErrFeatureUnavailable)
		case code < 200 || code >= 300:
			return Page{}, fmt.Errorf("%s: %w", req.Resource, &StatusError{Code: code, URL: url})
		}

		return Page{
			URL:    url,
			Status: code,
			Header: resp.Header(),
			Body:   resp.Body(),
		}, nil
	}
}

var nextLinkRe = regexp.MustCompile(`<([^>]+)>;\s*rel="?next"?`)

// NextLink extracts the rel="next" target of a Link header, or "".
func NextLink(header string) string {
	m := nextLinkRe.FindStringSubmatch(header)
	if m == nil {
		return ""
	}
	return m[1]
}

// RetryAfter parses a Retry-After value given either as (possibly
// fractional) seconds or as an HTTP date. The result never exceeds
// MaxRetryAfter.
func RetryAfter(value string, fallback time.Duration, now time.Time) time.Duration {
	if value == "" {
		return fallback
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if !(secs >= 0) {
			return fallback
		}
		if math.IsInf(secs, 1) || secs > MaxRetryAfter.Seconds() {
			return MaxRetryAfter
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		switch {
		case d <= 0:
			return 0
		case d > MaxRetryAfter:
			return MaxRetryAfter
		}
		return d
	}
	return fallback
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type nopObserver struct{}

func (nopObserver) PageFetched(string) {}
func (nopObserver) RateLimited(string) {}
