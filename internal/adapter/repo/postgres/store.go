package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/kylenessen/monarch-phenology-inaturalist/internal/domain"
)

// Store implements the domain's ingest, classify, and stats store ports on
// one shared pool.
type Store struct{ Pool PgxPool }

// NewStore constructs a Store with the given pool.
func NewStore(p PgxPool) *Store { return &Store{Pool: p} }

// EnsureSchema applies the idempotent DDL. Safe to call on every entry
// point.
func (s *Store) EnsureSchema(ctx domain.Context) error {
	tracer := otel.Tracer("repo.monarch")
	ctx, span := tracer.Start(ctx, "store.EnsureSchema")
	defer span.End()
	for _, stmt := range schemaStatements {
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("op=store.ensure_schema: %w", err)
		}
	}
	return nil
}

// GetState reads one sync cursor value; domain.ErrNotFound when absent.
func (s *Store) GetState(ctx domain.Context, key string) (string, error) {
	tracer := otel.Tracer("repo.monarch")
	ctx, span := tracer.Start(ctx, "store.GetState")
	defer span.End()
	var value *string
	err := s.Pool.QueryRow(ctx, `SELECT value FROM sync_state WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("op=store.get_state: %w", domain.ErrNotFound)
		}
		return "", fmt.Errorf("op=store.get_state: %w", err)
	}
	if value == nil {
		return "", fmt.Errorf("op=store.get_state: %w", domain.ErrNotFound)
	}
	return *value, nil
}

// SetState upserts one sync cursor value.
func (s *Store) SetState(ctx domain.Context, key, value string) error {
	tracer := otel.Tracer("repo.monarch")
	ctx, span := tracer.Start(ctx, "store.SetState")
	defer span.End()
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO sync_state (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value)
	if err != nil {
		return fmt.Errorf("op=store.set_state: %w", err)
	}
	return nil
}
