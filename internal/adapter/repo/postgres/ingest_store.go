package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kylenessen/monarch-phenology-inaturalist/internal/domain"
)

const upsertObservationSQL = `
INSERT INTO observations (
  observation_id, inat_url, taxon_id, taxon_name, taxon_preferred_common_name,
  quality_grade, captive, license_code,
  observed_at, observed_on, created_at, updated_at,
  latitude, longitude, positional_accuracy, place_guess,
  user_id, user_login, description,
  first_seen_at, last_seen_at, raw
)
VALUES (
  $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
  $13, $14, $15, $16, $17, $18, $19, now(), now(), $20
)
ON CONFLICT (observation_id) DO UPDATE SET
  inat_url = EXCLUDED.inat_url,
  taxon_id = EXCLUDED.taxon_id,
  taxon_name = EXCLUDED.taxon_name,
  taxon_preferred_common_name = EXCLUDED.taxon_preferred_common_name,
  quality_grade = EXCLUDED.quality_grade,
  captive = EXCLUDED.captive,
  license_code = EXCLUDED.license_code,
  observed_at = EXCLUDED.observed_at,
  observed_on = EXCLUDED.observed_on,
  created_at = EXCLUDED.created_at,
  updated_at = EXCLUDED.updated_at,
  latitude = EXCLUDED.latitude,
  longitude = EXCLUDED.longitude,
  positional_accuracy = EXCLUDED.positional_accuracy,
  place_guess = EXCLUDED.place_guess,
  user_id = EXCLUDED.user_id,
  user_login = EXCLUDED.user_login,
  description = EXCLUDED.description,
  last_seen_at = now(),
  raw = EXCLUDED.raw`

const upsertPhotoSQL = `
INSERT INTO photos (
  photo_id, observation_id, position,
  url_square, url_large, url_original,
  license_code, attribution,
  first_seen_at, last_seen_at, raw
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now(), $9)
ON CONFLICT (photo_id) DO UPDATE SET
  observation_id = EXCLUDED.observation_id,
  position = EXCLUDED.position,
  url_square = EXCLUDED.url_square,
  url_large = EXCLUDED.url_large,
  url_original = EXCLUDED.url_original,
  license_code = EXCLUDED.license_code,
  attribution = EXCLUDED.attribution,
  last_seen_at = now(),
  raw = EXCLUDED.raw`

// UpsertPage writes one page of observation records in a single
// transaction: observations in feed order, each followed by its photos in
// ordinal position. first_seen_at survives conflicts, last_seen_at and raw
// are refreshed.
func (s *Store) UpsertPage(ctx domain.Context, recs []domain.ObservationRecord) error {
	tracer := otel.Tracer("repo.monarch")
	ctx, span := tracer.Start(ctx, "store.UpsertPage")
	defer span.End()
	span.SetAttributes(attribute.Int("page.records", len(recs)))

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=store.upsert_page: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, rec := range recs {
		o := rec.Observation
		if _, err := tx.Exec(ctx, upsertObservationSQL,
			o.ObservationID, o.InatURL, o.TaxonID, o.TaxonName, o.TaxonCommonName,
			o.QualityGrade, o.Captive, o.LicenseCode,
			o.ObservedAt, o.ObservedOn, o.CreatedAt, o.UpdatedAt,
			o.Latitude, o.Longitude, o.PositionalAccuracy, o.PlaceGuess,
			o.UserID, o.UserLogin, o.Description, []byte(o.Raw),
		); err != nil {
			return fmt.Errorf("op=store.upsert_page: observation %d: %w", o.ObservationID, err)
		}
		for _, p := range rec.Photos {
			if _, err := tx.Exec(ctx, upsertPhotoSQL,
				p.PhotoID, p.ObservationID, p.Position,
				p.URLSquare, p.URLLarge, p.URLOriginal,
				p.LicenseCode, p.Attribution, []byte(p.Raw),
			); err != nil {
				return fmt.Errorf("op=store.upsert_page: photo %d: %w", p.PhotoID, err)
			}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=store.upsert_page: commit: %w", err)
	}
	return nil
}
