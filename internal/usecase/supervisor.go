package usecase

import (
	"log/slog"
	"time"

	"github.com/kylenessen/monarch-phenology-inaturalist/internal/domain"
)

// runMaxItemsPerTick bounds classification work per supervisor tick so each
// tick stays a small, observable unit.
const runMaxItemsPerTick = 5

// Supervisor multiplexes periodic ingestion and continuous classification
// in a single controller loop. Phase errors are logged, never fatal; the
// loop exits after the current iteration once ctx is done.
type Supervisor struct {
	Ingester   *Ingester
	Classifier *Classifier // nil when gateway credentials are missing

	IngestInterval   time.Duration
	ClassifyInterval time.Duration
}

// Run drives the two-timer loop until ctx is done.
func (s *Supervisor) Run(ctx domain.Context) error {
	slog.Info("supervisor started",
		slog.Duration("ingest_every", s.IngestInterval),
		slog.Duration("classify_every", s.ClassifyInterval))
	if s.Classifier == nil {
		slog.Warn("classification disabled; OPENROUTER_API_KEY/OPENROUTER_MODEL not set")
	}

	var nextIngest time.Time
	for {
		if ctx.Err() != nil {
			slog.Info("shutdown requested; exiting")
			return nil
		}

		if now := time.Now(); !now.Before(nextIngest) {
			if _, err := s.Ingester.Run(ctx); err != nil {
				slog.Error("ingest error", slog.Any("error", err))
			}
			nextIngest = now.Add(s.IngestInterval)
		}

		if s.Classifier != nil {
			if _, err := s.Classifier.Run(ctx, runMaxItemsPerTick); err != nil {
				slog.Error("classify error", slog.Any("error", err))
			}
		}

		t := time.NewTimer(s.ClassifyInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			slog.Info("shutdown requested; exiting")
			return nil
		case <-t.C:
		}
	}
}
