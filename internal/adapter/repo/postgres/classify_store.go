package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kylenessen/monarch-phenology-inaturalist/internal/domain"
)

// workSelectionSQL is the queue predicate: classifiable photos with no row
// for the model key, or a failed row whose retry_after is null or elapsed.
// pending, succeeded, and permanent_failed rows are excluded. Ordering by
// photo_id biases toward completeness over freshness.
const workSelectionSQL = `
SELECT
  p.photo_id,
  p.observation_id,
  COALESCE(p.url_large, p.url_square, p.url_original) AS image_url,
  COALESCE(o.description, '') AS notes,
  COALESCE(c.attempt_count, 0) AS attempt_count
FROM photos p
JOIN observations o ON o.observation_id = p.observation_id
LEFT JOIN classifications c
  ON c.photo_id = p.photo_id
 AND c.model_provider = $1
 AND c.model = $2
 AND c.prompt_version = $3
WHERE COALESCE(p.url_large, p.url_square, p.url_original) IS NOT NULL
  AND (
    c.classification_id IS NULL
    OR (c.status = 'failed' AND (c.retry_after IS NULL OR c.retry_after <= now()))
  )
ORDER BY p.photo_id ASC
LIMIT $4`

// SelectWork returns up to limit work items in ascending photo_id order.
func (s *Store) SelectWork(ctx domain.Context, key domain.ModelKey, limit int) ([]domain.WorkItem, error) {
	tracer := otel.Tracer("repo.monarch")
	ctx, span := tracer.Start(ctx, "store.SelectWork")
	defer span.End()

	rows, err := s.Pool.Query(ctx, workSelectionSQL, key.Provider, key.Model, key.PromptVersion, limit)
	if err != nil {
		return nil, fmt.Errorf("op=store.select_work: %w", err)
	}
	defer rows.Close()

	var items []domain.WorkItem
	for rows.Next() {
		var it domain.WorkItem
		if err := rows.Scan(&it.PhotoID, &it.ObservationID, &it.ImageURL, &it.Notes, &it.AttemptCount); err != nil {
			return nil, fmt.Errorf("op=store.select_work: scan: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=store.select_work: %w", err)
	}
	span.SetAttributes(attribute.Int("work.items", len(items)))
	return items, nil
}

const reservePendingSQL = `
INSERT INTO classifications (
  photo_id, observation_id, model_provider, model, prompt_version, prompt_hash,
  status, input_image_url, input_notes, input_notes_truncated
)
VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, $8, $9)
ON CONFLICT (photo_id, model_provider, model, prompt_version) DO UPDATE SET
  updated_at = now(),
  status = 'pending',
  prompt_hash = EXCLUDED.prompt_hash,
  input_image_url = EXCLUDED.input_image_url,
  input_notes = EXCLUDED.input_notes,
  input_notes_truncated = EXCLUDED.input_notes_truncated,
  error = NULL`

// ReservePending claims all items in one transaction by upserting pending
// rows with the prompt hash and final inputs.
func (s *Store) ReservePending(ctx domain.Context, key domain.ModelKey, rs []domain.Reservation) error {
	tracer := otel.Tracer("repo.monarch")
	ctx, span := tracer.Start(ctx, "store.ReservePending")
	defer span.End()

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=store.reserve_pending: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, r := range rs {
		if _, err := tx.Exec(ctx, reservePendingSQL,
			r.Item.PhotoID, r.Item.ObservationID,
			key.Provider, key.Model, key.PromptVersion, r.PromptHash,
			r.Item.ImageURL, r.Notes, r.NotesTruncated,
		); err != nil {
			return fmt.Errorf("op=store.reserve_pending: photo %d: %w", r.Item.PhotoID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=store.reserve_pending: commit: %w", err)
	}
	return nil
}

// MarkSucceeded records a successful attempt: terminal succeeded state,
// parsed output, verbatim raw response, retry_after cleared.
func (s *Store) MarkSucceeded(ctx domain.Context, key domain.ClassificationKey, output, rawResponse json.RawMessage) error {
	tracer := otel.Tracer("repo.monarch")
	ctx, span := tracer.Start(ctx, "store.MarkSucceeded")
	defer span.End()

	_, err := s.Pool.Exec(ctx, `
		UPDATE classifications
		SET status = 'succeeded',
		    updated_at = now(),
		    last_attempt_at = now(),
		    attempt_count = attempt_count + 1,
		    retry_after = NULL,
		    output = $5,
		    raw_response = $6,
		    error = NULL
		WHERE photo_id = $1 AND model_provider = $2 AND model = $3 AND prompt_version = $4`,
		key.PhotoID, key.Provider, key.Model, key.PromptVersion,
		[]byte(output), []byte(rawResponse))
	if err != nil {
		return fmt.Errorf("op=store.mark_succeeded: %w", err)
	}
	return nil
}

// MarkFailed records a failed attempt. Permanent updates move the row to
// the terminal permanent_failed state with retry_after null; transient ones
// schedule the next retry.
func (s *Store) MarkFailed(ctx domain.Context, u domain.FailureUpdate) error {
	tracer := otel.Tracer("repo.monarch")
	ctx, span := tracer.Start(ctx, "store.MarkFailed")
	defer span.End()

	status := domain.ClassificationFailed
	if u.Permanent {
		status = domain.ClassificationPermanentFailed
		u.RetryAfter = nil
	}
	var raw []byte
	if len(u.RawResponse) > 0 {
		raw = []byte(u.RawResponse)
	}
	_, err := s.Pool.Exec(ctx, `
		UPDATE classifications
		SET status = $5,
		    updated_at = now(),
		    last_attempt_at = now(),
		    attempt_count = attempt_count + 1,
		    retry_after = $6,
		    raw_response = COALESCE($7, raw_response),
		    error = $8
		WHERE photo_id = $1 AND model_provider = $2 AND model = $3 AND prompt_version = $4`,
		u.Key.PhotoID, u.Key.Provider, u.Key.Model, u.Key.PromptVersion,
		string(status), u.RetryAfter, raw, u.Error)
	if err != nil {
		return fmt.Errorf("op=store.mark_failed: %w", err)
	}
	return nil
}
