package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kylenessen/monarch-phenology-inaturalist/internal/adapter/ai"
	"github.com/kylenessen/monarch-phenology-inaturalist/internal/adapter/ai/openrouter"
	"github.com/kylenessen/monarch-phenology-inaturalist/internal/adapter/observability"
	"github.com/kylenessen/monarch-phenology-inaturalist/internal/domain"
)

// ClassifyConfig tunes one classification run.
type ClassifyConfig struct {
	Key           domain.ModelKey
	Prompt        string
	NotesMaxChars int
	MaxWorkers    int
	MaxAttempts   int
	// SleepBetweenResults paces result commits; zero disables.
	SleepBetweenResults time.Duration
}

// Classifier drains the photo classification queue: select, reserve,
// fan out to a bounded worker pool, and serialize all result writes
// through the controller goroutine.
type Classifier struct {
	Store domain.ClassifyStore
	// NewGateway builds a fresh gateway client; workers create one per task
	// and never share it.
	NewGateway func() domain.GatewayClient
	Cfg        ClassifyConfig

	now func() time.Time
}

// NewClassifier wires the classification engine.
func NewClassifier(store domain.ClassifyStore, newGateway func() domain.GatewayClient, cfg ClassifyConfig) *Classifier {
	return &Classifier{Store: store, NewGateway: newGateway, Cfg: cfg, now: time.Now}
}

type taskResult struct {
	res domain.Reservation
	raw json.RawMessage
	err error
}

// Run classifies up to maxItems photos. In-flight gateway calls and result
// commits are allowed to complete after cancellation; only new selection is
// cut short.
func (c *Classifier) Run(ctx domain.Context, maxItems int) (domain.ClassifyStats, error) {
	log := slog.With(slog.String("run_id", uuid.NewString()), slog.String("phase", "classify"))
	dbCtx := context.WithoutCancel(ctx)

	if err := c.Store.EnsureSchema(dbCtx); err != nil {
		return domain.ClassifyStats{}, err
	}

	items, err := c.Store.SelectWork(ctx, c.Cfg.Key, maxItems)
	if err != nil {
		return domain.ClassifyStats{}, fmt.Errorf("op=classify.Run: %w", err)
	}
	if len(items) == 0 {
		return domain.ClassifyStats{}, nil
	}

	promptHash := openrouter.PromptHash(c.Cfg.Prompt)
	reservations := make([]domain.Reservation, 0, len(items))
	for _, item := range items {
		notes, truncated := truncateNotes(item.Notes, c.Cfg.NotesMaxChars)
		reservations = append(reservations, domain.Reservation{
			Item:           item,
			PromptHash:     promptHash,
			Notes:          notes,
			NotesTruncated: truncated,
		})
	}
	if err := c.Store.ReservePending(ctx, c.Cfg.Key, reservations); err != nil {
		return domain.ClassifyStats{}, fmt.Errorf("op=classify.Run: %w", err)
	}
	log.Info("reserved work", slog.Int("items", len(reservations)))

	// Workers receive a non-cancelable context so in-flight calls finish
	// during shutdown. They never touch the store.
	workCtx := context.WithoutCancel(ctx)
	jobs := make(chan domain.Reservation, len(reservations))
	results := make(chan taskResult, len(reservations))
	workers := c.Cfg.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > len(reservations) {
		workers = len(reservations)
	}
	for w := 0; w < workers; w++ {
		go func() {
			for r := range jobs {
				gw := c.NewGateway()
				raw, err := gw.ClassifyImage(workCtx, r.Item.ImageURL, r.Notes, c.Cfg.Prompt)
				results <- taskResult{res: r, raw: raw, err: err}
			}
		}()
	}
	for _, r := range reservations {
		jobs <- r
	}
	close(jobs)

	var stats domain.ClassifyStats
	for range reservations {
		tr := <-results
		if c.processResult(dbCtx, log, tr) {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
		if c.Cfg.SleepBetweenResults > 0 {
			time.Sleep(c.Cfg.SleepBetweenResults)
		}
	}
	log.Info("classify finished",
		slog.Int("succeeded", stats.Succeeded),
		slog.Int("failed", stats.Failed))
	return stats, nil
}

// processResult applies one state transition and commits it; reports
// whether the item succeeded.
func (c *Classifier) processResult(ctx domain.Context, log *slog.Logger, tr taskResult) bool {
	key := domain.ClassificationKey{PhotoID: tr.res.Item.PhotoID, ModelKey: c.Cfg.Key}

	resultErr := tr.err
	if resultErr == nil {
		var output json.RawMessage
		content, err := openrouter.ExtractContent(tr.raw)
		if err == nil {
			output, err = ai.RecoverObject(content)
		}
		if err == nil {
			if markErr := c.Store.MarkSucceeded(ctx, key, output, tr.raw); markErr != nil {
				log.Error("mark succeeded failed", slog.Int64("photo_id", key.PhotoID), slog.Any("error", markErr))
				return false
			}
			observability.Classifications.WithLabelValues(string(domain.ClassificationSucceeded)).Inc()
			return true
		}
		resultErr = err
	}

	attempt := tr.res.Item.AttemptCount + 1
	permanent, retryDelay := classifyFailure(resultErr, attempt)
	update := domain.FailureUpdate{
		Key:         key,
		Error:       resultErr.Error(),
		Permanent:   permanent || attempt >= c.Cfg.MaxAttempts,
		RawResponse: tr.raw,
	}
	if !update.Permanent {
		retryAt := c.now().UTC().Add(retryDelay)
		update.RetryAfter = &retryAt
	}
	if markErr := c.Store.MarkFailed(ctx, update); markErr != nil {
		log.Error("mark failed failed", slog.Int64("photo_id", key.PhotoID), slog.Any("error", markErr))
		return false
	}
	status := domain.ClassificationFailed
	if update.Permanent {
		status = domain.ClassificationPermanentFailed
	}
	observability.Classifications.WithLabelValues(string(status)).Inc()
	log.Warn("classification attempt failed",
		slog.Int64("photo_id", key.PhotoID),
		slog.Int("attempt", attempt),
		slog.Bool("permanent", update.Permanent),
		slog.Any("error", resultErr))
	return false
}

// classifyFailure maps an error to (permanent, retry delay) for the given
// attempt number k (1-based):
//
//	429 with numeric Retry-After  -> header value
//	429 without header            -> min(300s,  10·2^(k-1))
//	5xx                           -> min(1800s, 30·2^(k-1))
//	other 4xx                     -> permanent
//	timeout / network             -> min(600s,  10·2^(k-1))
//	unparseable model output      -> min(1800s, 60·2^(k-1))
//	anything else                 -> min(3600s, 60·2^(k-1))
func classifyFailure(err error, attempt int) (permanent bool, retry time.Duration) {
	var se *openrouter.StatusError
	switch {
	case errors.As(err, &se):
		switch {
		case se.Code == 429:
			if secs, convErr := strconv.Atoi(se.RetryAfter); convErr == nil && secs >= 0 {
				return false, time.Duration(secs) * time.Second
			}
			return false, expBackoff(10, 300, attempt)
		case se.Code >= 500:
			return false, expBackoff(30, 1800, attempt)
		default:
			return true, 0
		}
	case errors.Is(err, domain.ErrModelOutputInvalid):
		return false, expBackoff(60, 1800, attempt)
	case isNetworkError(err):
		return false, expBackoff(10, 600, attempt)
	default:
		return false, expBackoff(60, 3600, attempt)
	}
}

// expBackoff computes min(capSecs, baseSecs·2^(attempt-1)).
func expBackoff(baseSecs, capSecs, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	secs := capSecs
	if shift := attempt - 1; shift < 31 {
		if v := baseSecs << shift; v < capSecs {
			secs = v
		}
	}
	return time.Duration(secs) * time.Second
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

// truncateNotes cuts notes at max characters when max > 0 and reports
// whether truncation occurred. Counting runes, not bytes, keeps multi-byte
// text valid UTF-8.
func truncateNotes(notes string, max int) (string, bool) {
	if max <= 0 || len(notes) <= max {
		return notes, false
	}
	runes := []rune(notes)
	if len(runes) <= max {
		return notes, false
	}
	return string(runes[:max]), true
}
