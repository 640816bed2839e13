// Package inat implements the iNaturalist feed client and the pure mapping
// of remote observation payloads into domain entities.
package inat

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/kylenessen/monarch-phenology-inaturalist/internal/domain"
)

const userAgent = "monarch-phenology/0.1.0"

// Config tunes the client's retry and politeness behavior.
type Config struct {
	BaseURL             string
	SleepSeconds        float64
	MaxRetries          int
	RetryBackoffSeconds float64
	Timeout             time.Duration
}

// Client lists observations from the iNaturalist API with linear backoff
// against 429/5xx/network failures and a politeness delay after every
// successful request.
type Client struct {
	cfg Config
	hc  *http.Client
}

// New constructs a feed client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{cfg: cfg, hc: &http.Client{Timeout: cfg.Timeout}}
}

// StatusError is a non-2xx feed response.
type StatusError struct {
	Code       int
	RetryAfter string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("feed status %d", e.Code)
}

// linearBackOff yields retry_backoff × attempt, bounded by maxRetries.
// A numeric Retry-After observed on the previous 429 overrides the next
// interval once.
type linearBackOff struct {
	base        time.Duration
	maxRetries  int
	attempt     int
	override    time.Duration
	hasOverride bool
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
	b.override = 0
	b.hasOverride = false
}

func (b *linearBackOff) setOverride(d time.Duration) {
	b.override = d
	b.hasOverride = true
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	if b.attempt > b.maxRetries {
		return backoff.Stop
	}
	if b.hasOverride {
		b.hasOverride = false
		return b.override
	}
	return time.Duration(float64(b.attempt) * float64(b.base))
}

// ListObservations fetches one page of observations. Retries are local:
// 429 honors a numeric Retry-After, 5xx and network errors back off
// linearly, any other 4xx fails immediately.
func (c *Client) ListObservations(ctx domain.Context, q domain.FeedQuery) (*domain.FeedPage, error) {
	params := url.Values{}
	params.Set("taxon_id", strconv.FormatInt(q.TaxonID, 10))
	params.Set("place_id", strconv.FormatInt(q.PlaceID, 10))
	params.Set("quality_grade", q.QualityGrade)
	params.Set("per_page", strconv.Itoa(q.PerPage))
	params.Set("page", strconv.Itoa(q.Page))
	params.Set("order_by", q.OrderBy)
	params.Set("order", q.Order)
	if q.UpdatedSince != "" {
		params.Set("updated_since", q.UpdatedSince)
	}
	endpoint := c.cfg.BaseURL + "/observations?" + params.Encode()

	bo := &linearBackOff{
		base:       time.Duration(c.cfg.RetryBackoffSeconds * float64(time.Second)),
		maxRetries: c.cfg.MaxRetries,
	}

	var page *domain.FeedPage
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("op=inat.ListObservations: %w", err))
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.hc.Do(req)
		if err != nil {
			slog.Warn("feed request error", slog.Any("error", err))
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			se := &StatusError{Code: resp.StatusCode, RetryAfter: resp.Header.Get("Retry-After")}
			if secs, convErr := strconv.Atoi(se.RetryAfter); convErr == nil && secs >= 0 {
				bo.setOverride(time.Duration(secs) * time.Second)
			}
			slog.Warn("feed rate limited", slog.String("retry_after", se.RetryAfter))
			return se
		case resp.StatusCode >= 500:
			slog.Warn("feed server error", slog.Int("status", resp.StatusCode))
			return &StatusError{Code: resp.StatusCode}
		case resp.StatusCode >= 400:
			return backoff.Permanent(&StatusError{Code: resp.StatusCode})
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		var decoded struct {
			TotalResults int               `json:"total_results"`
			Results      []json.RawMessage `json:"results"`
		}
		if err := json.Unmarshal(body, &decoded); err != nil {
			return backoff.Permanent(fmt.Errorf("op=inat.ListObservations: decode: %w", err))
		}
		page = &domain.FeedPage{TotalResults: decoded.TotalResults, Results: decoded.Results}
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("op=inat.ListObservations: %w", err)
	}

	c.politenessSleep(ctx)
	return page, nil
}

func (c *Client) politenessSleep(ctx domain.Context) {
	d := time.Duration(c.cfg.SleepSeconds * float64(time.Second))
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
