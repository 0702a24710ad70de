package pager

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func newTestFetcher(rec *sleepRecorder) *Fetcher {
	return New(Config{
		PageDelay:         500 * time.Millisecond,
		DefaultRetryAfter: 5 * time.Second,
	}, zap.NewNop(), WithSleep(rec.sleep))
}

func collect(t *testing.T, f *Fetcher, url string) ([]string, error) {
	t.Helper()
	var bodies []string
	for page, err := range f.Pages(context.Background(), Request{Resource: "orders", URL: url, Token: "tok"}) {
		if err != nil {
			return bodies, err
		}
		bodies = append(bodies, string(page.Body))
	}
	return bodies, nil
}

func TestPagesFollowsNextLinkUntilLastPage(t *testing.T) {
	const pages = 3
	var srv *httptest.Server
	var hits atomic.Int32
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("X-Shopify-Access-Token") != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var n int
		fmt.Sscanf(r.URL.Query().Get("page"), "%d", &n)
		if n < pages {
			w.Header().Set("Link", fmt.Sprintf(`<%s/items?page=%d>; rel="next"`, srv.URL, n+1))
		}
		fmt.Fprintf(w, "page-%d", n)
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	bodies, err := collect(t, newTestFetcher(rec), srv.URL+"/items?page=1")
	require.NoError(t, err)
	require.Equal(t, []string{"page-1", "page-2", "page-3"}, bodies)
	require.EqualValues(t, pages, hits.Load())

	// задержка только между страницами
	require.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, rec.delays)
}

func TestPagesRetriesSamePageAfterRateLimit(t *testing.T) {
	var srv *httptest.Server
	var calls atomic.Int32
	var seen []string
	var mu sync.Mutex
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.URL.RawQuery)
		mu.Unlock()

		if r.URL.Query().Get("page") == "1" {
			w.Header().Set("Link", fmt.Sprintf(`<%s/items?page=2>; rel="next"`, srv.URL))
			fmt.Fprint(w, "page-1")
			return
		}
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, "page-2")
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	bodies, err := collect(t, newTestFetcher(rec), srv.URL+"/items?page=1")
	require.NoError(t, err)
	require.Equal(t, []string{"page-1", "page-2"}, bodies)
	require.Equal(t, []string{"page=1", "page=2", "page=2"}, seen)
	require.Equal(t, []time.Duration{500 * time.Millisecond, 2 * time.Second}, rec.delays)
}

func TestPagesRateLimitWithoutHintUsesDefault(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	bodies, err := collect(t, newTestFetcher(rec), srv.URL)
	require.NoError(t, err)
	require.Equal(t, []string{"ok"}, bodies)
	require.Equal(t, []time.Duration{5 * time.Second}, rec.delays)
}

func TestPagesForbiddenSignalsFeatureUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	bodies, err := collect(t, newTestFetcher(&sleepRecorder{}), srv.URL)
	require.Empty(t, bodies)
	require.ErrorIs(t, err, ErrFeatureUnavailable)

	var statusErr *StatusError
	require.False(t, errors.As(err, &statusErr))
}

func TestPagesOtherStatusIsHardError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := collect(t, newTestFetcher(&sleepRecorder{}), srv.URL)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrFeatureUnavailable)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusInternalServerError, statusErr.Code)
}

func TestPagesIsLazyAndStopsOnBreak(t *testing.T) {
	var srv *httptest.Server
	var hits atomic.Int32
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Link", fmt.Sprintf(`<%s/more>; rel="next"`, srv.URL))
		fmt.Fprint(w, "page")
	}))
	defer srv.Close()

	f := newTestFetcher(&sleepRecorder{})
	seq := f.Pages(context.Background(), Request{Resource: "orders", URL: srv.URL})
	require.EqualValues(t, 0, hits.Load())

	for _, err := range seq {
		require.NoError(t, err)
		break
	}
	require.EqualValues(t, 1, hits.Load())
}

func TestNextLink(t *testing.T) {
	require.Equal(t, "", NextLink(""))
	require.Equal(t, "", NextLink(`<https://x/a?page_info=p>; rel="previous"`))
	require.Equal(t, "https://x/a?page_info=n",
		NextLink(`<https://x/a?page_info=p>; rel="previous", <https://x/a?page_info=n>; rel="next"`))
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	require.Equal(t, 5*time.Second, RetryAfter("", 5*time.Second, now))
	require.Equal(t, 2*time.Second, RetryAfter("2", 5*time.Second, now))
	require.Equal(t, 2*time.Second, RetryAfter("2.0", 5*time.Second, now))
	require.Equal(t, 5*time.Second, RetryAfter("soon", 5*time.Second, now))
	require.Equal(t, 5*time.Second, RetryAfter("-1", 5*time.Second, now))
	require.Equal(t, 30*time.Second, RetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), 5*time.Second, now))

	// огромные значения не переполняют Duration
	require.Equal(t, MaxRetryAfter, RetryAfter("99999999999", 5*time.Second, now))
	require.Equal(t, MaxRetryAfter, RetryAfter("1e30", 5*time.Second, now))
	require.Equal(t, MaxRetryAfter, RetryAfter("+Inf", 5*time.Second, now))
	require.Equal(t, 5*time.Second, RetryAfter("NaN", 5*time.Second, now))
	require.Equal(t, MaxRetryAfter, RetryAfter(now.AddDate(1, 0, 0).Format(http.TimeFormat), 5*time.Second, now))
}
