package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/tmdb-sync/internal/httpclient"
)

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) (*Client, *fakeClock) {
	t.Helper()
	server := httptest.NewServer(handler)
	server.Config.SetKeepAlivesEnabled(false)
	t.Cleanup(server.Close)

	clock := newFakeClock()
	budget := NewBudget(0, 1, WithBudgetClock(clock.Now, clock.Sleep))
	base := []Option{
		WithBaseURL(server.URL),
		WithClock(clock.Now, clock.Sleep),
		WithRand(func() float64 { return 0 }),
	}
	return NewClient(httpclient.NewDefaultClient(5*time.Second), budget, "secret", append(base, opts...)...), clock
}

func listBody(page, totalPages int, ids ...int) string {
	items := make([]string, 0, len(ids))
	for _, id := range ids {
		items = append(items, fmt.Sprintf(`{"id":%d,"title":"Movie %d"}`, id, id))
	}
	return fmt.Sprintf(`{"page":%d,"total_pages":%d,"results":[%s]}`, page, totalPages, strings.Join(items, ","))
}

func recordIDs(records []Record) []string {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestClient_FetchPage_Paginates(t *testing.T) {
	t.Parallel()

	var gotAuth, gotLanguage, gotSort string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/discover/movie", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotLanguage = r.URL.Query().Get("language")
		gotSort = r.URL.Query().Get("sort_by")
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		base := (page - 1) * 3
		_, _ = fmt.Fprint(w, listBody(page, 2, base+1, base+2, base+3))
	})
	client, clock := newTestClient(t, handler, WithLanguage("en-US"))
	ctx := context.Background()

	first, err := client.FetchPage(ctx, PageRequest{Entity: MovieDiscover})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Number)
	assert.Equal(t, 2, first.TotalPages)
	assert.Equal(t, []string{"1", "2", "3"}, recordIDs(first.Records))
	assert.Empty(t, first.Failed)
	require.Equal(t, Token("2"), first.Next)

	second, err := client.FetchPage(ctx, PageRequest{Entity: MovieDiscover, Token: first.Next.(Token)})
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "5", "6"}, recordIDs(second.Records))
	assert.Equal(t, NoMore{}, second.Next)

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "en-US", gotLanguage)
	assert.Equal(t, "popularity.desc", gotSort)
	assert.Empty(t, clock.Sleeps())
}

func TestClient_FetchPage_PageCap(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "500", r.URL.Query().Get("page"))
		_, _ = fmt.Fprint(w, listBody(500, 40000, 1))
	})
	client, _ := newTestClient(t, handler)

	page, err := client.FetchPage(context.Background(), PageRequest{Entity: MoviePopular, Token: "500"})
	require.NoError(t, err)
	assert.Equal(t, NoMore{}, page.Next)
}

func TestClient_FetchPage_InvalidRequest(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	ctx := context.Background()

	_, err := client.FetchPage(ctx, PageRequest{Entity: "movie_favourites"})
	require.ErrorContains(t, err, "unknown entity type")

	_, err = client.FetchPage(ctx, PageRequest{Entity: MoviePopular, Token: "nope"})
	require.ErrorContains(t, err, "invalid page token")

	_, err = client.FetchPage(ctx, PageRequest{Entity: MovieChanges})
	require.ErrorContains(t, err, "updated-since window")

	assert.Zero(t, hits.Load())
}

func TestClient_FetchPage_RetryAfter(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = fmt.Fprint(w, listBody(1, 1, 7))
	})
	client, clock := newTestClient(t, handler)

	page, err := client.FetchPage(context.Background(), PageRequest{Entity: MoviePopular})
	require.NoError(t, err)

	assert.Equal(t, int32(2), hits.Load(), "same page retried once")
	assert.Equal(t, []string{"7"}, recordIDs(page.Records))
	require.NotEmpty(t, clock.Sleeps())
	assert.GreaterOrEqual(t, clock.Sleeps()[0], 2*time.Second)
	assert.GreaterOrEqual(t, page.RateLimit.Waited, 2*time.Second)
}

func TestClient_FetchPage_AuthErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(strconv.Itoa(code), func(t *testing.T) {
			t.Parallel()

			var hits atomic.Int32
			client, clock := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				hits.Add(1)
				w.WriteHeader(code)
			}))

			_, err := client.FetchPage(context.Background(), PageRequest{Entity: TVPopular})
			require.Error(t, err)
			assert.True(t, IsAuth(err))
			assert.Equal(t, int32(1), hits.Load())
			assert.Empty(t, clock.Sleeps())
		})
	}
}

func TestClient_FetchPage_TransientExhausted(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	client, clock := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}), WithRetryPolicy(RetryPolicy{
		InitialInterval: time.Second,
		MaxInterval:     time.Minute,
		Multiplier:      2,
		MaxRetries:      3,
	}))

	_, err := client.FetchPage(context.Background(), PageRequest{Entity: MoviePopular})
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	var te *TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusBadGateway, te.StatusCode)

	assert.Equal(t, int32(4), hits.Load(), "initial attempt plus three retries")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, clock.Sleeps())
}

func TestClient_FetchPage_RecoversFromServerError(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = fmt.Fprint(w, listBody(1, 1, 1, 2))
	}))

	page, err := client.FetchPage(context.Background(), PageRequest{Entity: MoviePopular})
	require.NoError(t, err)
	assert.Len(t, page.Records, 2)
	assert.Equal(t, int32(3), hits.Load())
}

func TestClient_FetchPage_RateLimitExhausted(t *testing.T) {
	t.Parallel()

	t.Run("throttled on every attempt", func(t *testing.T) {
		t.Parallel()

		var hits atomic.Int32
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		}), WithRetryPolicy(RetryPolicy{
			InitialInterval: time.Second,
			MaxInterval:     10 * time.Second,
			Multiplier:      2,
			MaxRetries:      2,
		}))

		_, err := client.FetchPage(context.Background(), PageRequest{Entity: MoviePopular})
		require.Error(t, err)
		assert.True(t, IsRateLimitExhausted(err))
		assert.Equal(t, int32(3), hits.Load())
	})

	t.Run("reset beyond the deadline", func(t *testing.T) {
		t.Parallel()

		var hits atomic.Int32
		client, clock := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hits.Add(1)
			w.Header().Set("Retry-After", "3600")
			w.WriteHeader(http.StatusTooManyRequests)
		}))

		ctx, cancel := context.WithDeadline(context.Background(), clock.Now().Add(time.Minute))
		defer cancel()

		_, err := client.FetchPage(ctx, PageRequest{Entity: MoviePopular})
		require.Error(t, err)
		assert.True(t, IsRateLimitExhausted(err))
		assert.Equal(t, int32(1), hits.Load())
		assert.Empty(t, clock.Sleeps(), "fails fast instead of sleeping into the deadline")
	})
}

func TestClient_FetchPage_PermanentClientError(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))

	_, err := client.FetchPage(context.Background(), PageRequest{Entity: MoviePopular})
	require.Error(t, err)
	assert.False(t, IsTransient(err))
	assert.False(t, IsAuth(err))
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_FetchPage_MalformedRecordIsSkipped(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"page":1,"total_pages":1,"results":[{"id":1},{"id":"x"},{"id":3}]}`)
	}))

	page, err := client.FetchPage(context.Background(), PageRequest{Entity: MoviePopular})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, recordIDs(page.Records))
	require.Len(t, page.Failed, 1)
	assert.Equal(t, 1, page.Failed[0].Index)
	assert.True(t, IsMalformed(page.Failed[0]))
}

func TestClient_FetchPage_MalformedEnvelopeFails(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = fmt.Fprint(w, `{"status_message":"maintenance"}`)
	}))

	_, err := client.FetchPage(context.Background(), PageRequest{Entity: MoviePopular})
	require.Error(t, err)
	assert.True(t, IsMalformed(err))
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_FetchPage_KeepsEveryRecordOfAPage(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, listBody(1, 2, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22))
	}))

	page, err := client.FetchPage(context.Background(), PageRequest{Entity: MoviePopular})
	require.NoError(t, err)
	assert.Len(t, page.Records, 22)
	assert.Empty(t, page.Failed)
	assert.Equal(t, Token("2"), page.Next)
}

func TestClient_FetchPage_ChangesFeedHydratesFullPage(t *testing.T) {
	t.Parallel()

	const changed = 100
	var details atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/movie/changes", func(w http.ResponseWriter, _ *http.Request) {
		items := make([]string, 0, changed)
		for id := 1; id <= changed; id++ {
			items = append(items, fmt.Sprintf(`{"id":%d,"adult":false}`, id))
		}
		_, _ = fmt.Fprintf(w, `{"page":1,"total_pages":1,"results":[%s]}`, strings.Join(items, ","))
	})
	mux.HandleFunc("/movie/{id}", func(w http.ResponseWriter, r *http.Request) {
		details.Add(1)
		_, _ = fmt.Fprintf(w, `{"id":%s,"title":"Movie %s"}`, r.PathValue("id"), r.PathValue("id"))
	})
	client, _ := newTestClient(t, mux)

	page, err := client.FetchPage(context.Background(), PageRequest{
		Entity:       MovieChanges,
		UpdatedSince: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		UpdatedUntil: time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.Len(t, page.Records, changed, "every changed id is hydrated")
	assert.Empty(t, page.Failed)
	assert.Equal(t, "1", page.Records[0].ID)
	assert.Equal(t, "100", page.Records[changed-1].ID)
	assert.Equal(t, int32(changed), details.Load())
	assert.Equal(t, NoMore{}, page.Next)
}

func TestClient_FetchPage_ObservesRateLimitHeaders(t *testing.T) {
	t.Parallel()

	var reset time.Time
	var clock *fakeClock
	var client *Client
	client, clock = newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "40")
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		_, _ = fmt.Fprint(w, listBody(1, 2, 1))
	}))
	reset = clock.Now().Add(5 * time.Second).Truncate(time.Second).Add(time.Second)

	page, err := client.FetchPage(context.Background(), PageRequest{Entity: MoviePopular})
	require.NoError(t, err)
	assert.Equal(t, 0, page.RateLimit.Remaining)
	assert.Equal(t, 40, page.RateLimit.Limit)
	assert.Empty(t, clock.Sleeps())

	_, err = client.FetchPage(context.Background(), PageRequest{Entity: MoviePopular, Token: "2"})
	require.NoError(t, err)
	require.Len(t, clock.Sleeps(), 1, "second page waits for the window to reset")
	assert.False(t, clock.Now().Before(reset))
}

func TestClient_FetchPage_ChangesFeedHydratesDetails(t *testing.T) {
	t.Parallel()

	since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2024, 5, 3, 12, 0, 0, 0, time.UTC)

	var startDate, endDate string
	mux := http.NewServeMux()
	mux.HandleFunc("/movie/changes", func(w http.ResponseWriter, r *http.Request) {
		startDate = r.URL.Query().Get("start_date")
		endDate = r.URL.Query().Get("end_date")
		_, _ = fmt.Fprint(w, `{"page":1,"total_pages":1,"results":[{"id":1,"adult":false},{"id":2},{"id":3}]}`)
	})
	mux.HandleFunc("/movie/1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"id":1,"title":"One","release_date":"1999-03-31"}`)
	})
	mux.HandleFunc("/movie/2", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/movie/3", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"id":3,"title":"Three"}`)
	})
	client, _ := newTestClient(t, mux)

	page, err := client.FetchPage(context.Background(), PageRequest{
		Entity:       MovieChanges,
		UpdatedSince: since,
		UpdatedUntil: until,
	})
	require.NoError(t, err)

	assert.Equal(t, "2024-05-01", startDate)
	assert.Equal(t, "2024-05-03", endDate)
	assert.Equal(t, []string{"1", "3"}, recordIDs(page.Records))
	assert.JSONEq(t, `{"id":1,"title":"One","release_date":"1999-03-31"}`, string(page.Records[0].Payload))
	require.Len(t, page.Failed, 1)
	assert.Equal(t, "2", page.Failed[0].ID)
	assert.Equal(t, NoMore{}, page.Next)
}

func TestClient_FetchPage_ChangesFeedAuthFailureIsFatal(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/tv/changes", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"page":1,"total_pages":1,"results":[{"id":9}]}`)
	})
	mux.HandleFunc("/tv/9", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	client, _ := newTestClient(t, mux)

	_, err := client.FetchPage(context.Background(), PageRequest{
		Entity:       TVChanges,
		UpdatedSince: time.Now().Add(-time.Hour),
	})
	require.Error(t, err)
	assert.True(t, IsAuth(err))
}
