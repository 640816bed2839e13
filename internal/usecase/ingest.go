package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kylenessen/monarch-phenology-inaturalist/internal/adapter/feed/inat"
	"github.com/kylenessen/monarch-phenology-inaturalist/internal/adapter/observability"
	"github.com/kylenessen/monarch-phenology-inaturalist/internal/domain"
)

// StateKeyLastUpdatedSince is the sync cursor: the highest remote
// updated_at successfully processed, ISO-8601 UTC.
const StateKeyLastUpdatedSince = "inat.last_updated_since"

// IngestConfig tunes one ingestion run.
type IngestConfig struct {
	TaxonID        int64
	PlaceID        int64
	QualityGrade   string
	PerPage        int
	BackfillDays   int
	OverlapHours   int
	MaxPagesPerRun int
}

// Ingester is the incremental ingestion engine: a checkpointed, idempotent
// paginator reconciling the remote feed into the store.
type Ingester struct {
	Store domain.IngestStore
	Feed  domain.FeedClient
	Cfg   IngestConfig

	now func() time.Time
}

// NewIngester wires the ingestion engine.
func NewIngester(store domain.IngestStore, feed domain.FeedClient, cfg IngestConfig) *Ingester {
	return &Ingester{Store: store, Feed: feed, Cfg: cfg, now: time.Now}
}

// Run pages through the feed in ascending updated_at order starting from
// the stored cursor minus the overlap window, upserting one transaction per
// page, and advances the cursor to the maximum updated_at seen. Duplicates
// re-fetched inside the overlap are absorbed by the conflict-upsert.
// Cancellation is cooperative between pages; committed pages and the cursor
// survive it.
func (ing *Ingester) Run(ctx domain.Context) (domain.IngestStats, error) {
	log := slog.With(slog.String("run_id", uuid.NewString()), slog.String("phase", "ingest"))
	dbCtx := context.WithoutCancel(ctx)

	if err := ing.Store.EnsureSchema(dbCtx); err != nil {
		return domain.IngestStats{}, err
	}

	floor := ing.cursorFloor(dbCtx)
	updatedSince := isoUTC(floor.Add(-time.Duration(ing.Cfg.OverlapHours) * time.Hour))
	log.Info("starting ingest", slog.String("updated_since", updatedSince))

	var (
		stats        domain.IngestStats
		maxUpdatedAt *time.Time
	)
	for page := 1; ; page++ {
		if ing.Cfg.MaxPagesPerRun > 0 && page > ing.Cfg.MaxPagesPerRun {
			break
		}
		if ctx.Err() != nil {
			log.Info("ingest cancelled between pages", slog.Int("page", page))
			break
		}

		feedPage, err := ing.Feed.ListObservations(ctx, domain.FeedQuery{
			TaxonID:      ing.Cfg.TaxonID,
			PlaceID:      ing.Cfg.PlaceID,
			QualityGrade: ing.Cfg.QualityGrade,
			PerPage:      ing.Cfg.PerPage,
			Page:         page,
			UpdatedSince: updatedSince,
			OrderBy:      "updated_at",
			Order:        "asc",
		})
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			ing.persistCursor(dbCtx, log, maxUpdatedAt)
			return stats, fmt.Errorf("op=ingest.Run: page %d: %w", page, err)
		}
		if len(feedPage.Results) == 0 {
			break
		}

		recs := make([]domain.ObservationRecord, 0, len(feedPage.Results))
		pageMax := maxUpdatedAt
		for _, raw := range feedPage.Results {
			rec, err := inat.MapRecord(raw)
			if err != nil {
				ing.persistCursor(dbCtx, log, maxUpdatedAt)
				return stats, fmt.Errorf("op=ingest.Run: page %d: %w", page, err)
			}
			recs = append(recs, rec)
			if u := rec.Observation.UpdatedAt; u != nil && (pageMax == nil || u.After(*pageMax)) {
				pageMax = u
			}
		}

		if err := ing.Store.UpsertPage(dbCtx, recs); err != nil {
			ing.persistCursor(dbCtx, log, maxUpdatedAt)
			return stats, fmt.Errorf("op=ingest.Run: page %d: %w", page, err)
		}
		maxUpdatedAt = pageMax
		for _, rec := range recs {
			stats.Observations++
			stats.Photos += len(rec.Photos)
			observability.PhotosIngested.Add(float64(len(rec.Photos)))
		}
		observability.ObservationsIngested.Add(float64(len(recs)))
		observability.IngestPages.Inc()
		log.Debug("page committed", slog.Int("page", page), slog.Int("records", len(recs)))
	}

	ing.persistCursor(dbCtx, log, maxUpdatedAt)
	log.Info("ingest finished",
		slog.Int("observations", stats.Observations),
		slog.Int("photos", stats.Photos))
	return stats, nil
}

// cursorFloor returns the stored cursor, or now minus the backfill window
// on first run (or when the stored value does not parse).
func (ing *Ingester) cursorFloor(ctx domain.Context) time.Time {
	backfill := ing.now().UTC().Add(-time.Duration(ing.Cfg.BackfillDays) * 24 * time.Hour)
	stored, err := ing.Store.GetState(ctx, StateKeyLastUpdatedSince)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Warn("cursor read failed; using backfill floor", slog.Any("error", err))
		}
		return backfill
	}
	t, err := time.Parse(time.RFC3339, stored)
	if err != nil {
		slog.Warn("cursor value unparseable; using backfill floor", slog.String("value", stored))
		return backfill
	}
	return t
}

// persistCursor advances the cursor only when at least one observation was
// processed, so an empty or failed first page never moves past the floor.
func (ing *Ingester) persistCursor(ctx domain.Context, log *slog.Logger, maxUpdatedAt *time.Time) {
	if maxUpdatedAt == nil {
		return
	}
	value := isoUTC(*maxUpdatedAt)
	if err := ing.Store.SetState(ctx, StateKeyLastUpdatedSince, value); err != nil {
		log.Error("cursor persist failed", slog.Any("error", err))
		return
	}
	log.Info("cursor advanced", slog.String("cursor", value))
}

func isoUTC(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
