package inat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylenessen/monarch-phenology-inaturalist/internal/domain"
)

func testClient(baseURL string) *Client {
	return New(Config{
		BaseURL:             baseURL,
		SleepSeconds:        0,
		MaxRetries:          3,
		RetryBackoffSeconds: 0.01,
	})
}

func testQuery(page int) domain.FeedQuery {
	return domain.FeedQuery{
		TaxonID:      48662,
		PlaceID:      62068,
		QualityGrade: "research",
		PerPage:      2,
		Page:         page,
		UpdatedSince: "2025-01-01T00:00:00Z",
		OrderBy:      "updated_at",
		Order:        "asc",
	}
}

func TestListObservations(t *testing.T) {
	t.Parallel()

	var gotQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.Query())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"total_results":2,"page":1,"per_page":2,"results":[{"id":1},{"id":2}]}`))
	}))
	defer srv.Close()

	page, err := testClient(srv.URL).ListObservations(context.Background(), testQuery(1))
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalResults)
	assert.Len(t, page.Results, 2)

	q := gotQuery.Load().(url.Values)
	assert.Equal(t, []string{"48662"}, q["taxon_id"])
	assert.Equal(t, []string{"updated_at"}, q["order_by"])
	assert.Equal(t, []string{"asc"}, q["order"])
	assert.Equal(t, []string{"2025-01-01T00:00:00Z"}, q["updated_since"])
}

func TestListObservationsRateLimitAbsorbed(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"total_results":1,"results":[{"id":1}]}`))
	}))
	defer srv.Close()

	page, err := testClient(srv.URL).ListObservations(context.Background(), testQuery(1))
	require.NoError(t, err)
	assert.Len(t, page.Results, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestListObservationsServerErrorRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"total_results":0,"results":[]}`))
	}))
	defer srv.Close()

	page, err := testClient(srv.URL).ListObservations(context.Background(), testQuery(1))
	require.NoError(t, err)
	assert.Empty(t, page.Results)
	assert.Equal(t, int32(2), calls.Load())
}

func TestListObservationsClientErrorFailsFast(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).ListObservations(context.Background(), testQuery(1))
	require.Error(t, err)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnprocessableEntity, se.Code)
	assert.Equal(t, int32(1), calls.Load(), "non-429 4xx must not be retried")
}

func TestListObservationsRetriesExhausted(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).ListObservations(context.Background(), testQuery(1))
	require.Error(t, err)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
	// Initial attempt plus MaxRetries retries.
	assert.Equal(t, int32(4), calls.Load())
}

func TestLinearBackOff(t *testing.T) {
	t.Parallel()

	bo := &linearBackOff{base: time.Second, maxRetries: 3}
	assert.Equal(t, time.Second, bo.NextBackOff())
	assert.Equal(t, 2*time.Second, bo.NextBackOff())
	assert.Equal(t, 3*time.Second, bo.NextBackOff())
	assert.Equal(t, backoff.Stop, bo.NextBackOff())

	bo.Reset()
	bo.setOverride(7 * time.Second)
	assert.Equal(t, 7*time.Second, bo.NextBackOff(), "Retry-After overrides the next interval")
	assert.Equal(t, 2*time.Second, bo.NextBackOff(), "override applies once")

	// A zero Retry-After means retry immediately, not fall back to linear.
	bo.Reset()
	bo.setOverride(0)
	assert.Equal(t, time.Duration(0), bo.NextBackOff())
	assert.Equal(t, 2*time.Second, bo.NextBackOff())
}

func TestStatusErrorMessage(t *testing.T) {
	t.Parallel()
	err := &StatusError{Code: 429, RetryAfter: "3"}
	assert.True(t, errors.As(error(err), new(*StatusError)))
	assert.Contains(t, err.Error(), "429")
}
