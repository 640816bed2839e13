package postgres

import (
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/kylenessen/monarch-phenology-inaturalist/internal/domain"
)

// backlogSQL mirrors the work-selection predicate so the stats subcommand
// reports exactly what the classifier would pick up.
const backlogSQL = `
SELECT count(*)
FROM photos p
LEFT JOIN classifications c
  ON c.photo_id = p.photo_id
 AND c.model_provider = $1
 AND c.model = $2
 AND c.prompt_version = $3
WHERE COALESCE(p.url_large, p.url_square, p.url_original) IS NOT NULL
  AND (
    c.classification_id IS NULL
    OR (c.status = 'failed' AND (c.retry_after IS NULL OR c.retry_after <= now()))
  )`

// Stats reports table counts, the classification backlog, and 24-hour
// throughput counters.
func (s *Store) Stats(ctx domain.Context, key domain.ModelKey) (domain.PipelineStats, error) {
	tracer := otel.Tracer("repo.monarch")
	ctx, span := tracer.Start(ctx, "store.Stats")
	defer span.End()

	var st domain.PipelineStats
	counts := []struct {
		dst  *int64
		sql  string
		args []any
	}{
		{&st.Observations, `SELECT count(*) FROM observations`, nil},
		{&st.Photos, `SELECT count(*) FROM photos`, nil},
		{&st.Classified, `SELECT count(*) FROM classifications WHERE status = 'succeeded'`, nil},
		{&st.Failed, `SELECT count(*) FROM classifications WHERE status = 'failed'`, nil},
		{&st.PermanentFailed, `SELECT count(*) FROM classifications WHERE status = 'permanent_failed'`, nil},
		{&st.Backlog, backlogSQL, []any{key.Provider, key.Model, key.PromptVersion}},
		{&st.Ingested24h, `SELECT count(*) FROM observations WHERE last_seen_at >= now() - interval '24 hours'`, nil},
		{&st.Classified24h, `SELECT count(*) FROM classifications WHERE updated_at >= now() - interval '24 hours' AND status = 'succeeded'`, nil},
	}
	for _, c := range counts {
		if err := s.Pool.QueryRow(ctx, c.sql, c.args...).Scan(c.dst); err != nil {
			return domain.PipelineStats{}, fmt.Errorf("op=store.stats: %w", err)
		}
	}
	return st, nil
}
