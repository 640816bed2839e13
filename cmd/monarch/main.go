// Package main provides the monarch pipeline command line: schema bootstrap,
// one-shot ingestion and classification, the long-running supervisor, and
// pipeline stats.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kylenessen/monarch-phenology-inaturalist/internal/adapter/ai/openrouter"
	"github.com/kylenessen/monarch-phenology-inaturalist/internal/adapter/feed/inat"
	"github.com/kylenessen/monarch-phenology-inaturalist/internal/adapter/observability"
	"github.com/kylenessen/monarch-phenology-inaturalist/internal/adapter/repo/postgres"
	"github.com/kylenessen/monarch-phenology-inaturalist/internal/config"
	"github.com/kylenessen/monarch-phenology-inaturalist/internal/domain"
	"github.com/kylenessen/monarch-phenology-inaturalist/internal/usecase"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "monarch",
		Short:         "Monarch phenology pipeline: iNaturalist ingestion and photo classification",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newInitDBCmd(),
		newIngestCmd(),
		newClassifyCmd(),
		newRunCmd(),
		newStatsCmd(),
	)
	return root
}

// setup loads and validates configuration and installs the logger.
func setup() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	observability.SetupLogger(cfg)
	return cfg, nil
}

func openStore(ctx context.Context, cfg config.Config) (*postgres.Store, func(), error) {
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("op=main.openStore: %w", err)
	}
	return postgres.NewStore(pool), pool.Close, nil
}

func newIngester(cfg config.Config, store *postgres.Store) *usecase.Ingester {
	feed := inat.New(inat.Config{
		BaseURL:             cfg.InatBaseURL,
		SleepSeconds:        cfg.InatSleepSeconds,
		MaxRetries:          cfg.InatMaxRetries,
		RetryBackoffSeconds: cfg.InatRetryBackoffSeconds,
	})
	return usecase.NewIngester(store, feed, usecase.IngestConfig{
		TaxonID:        cfg.InatTaxonID,
		PlaceID:        cfg.InatPlaceID,
		QualityGrade:   cfg.InatQualityGrade,
		PerPage:        cfg.InatPerPage,
		BackfillDays:   cfg.InatBackfillDays,
		OverlapHours:   cfg.InatOverlapHours,
		MaxPagesPerRun: cfg.InatMaxPagesPerRun,
	})
}

func newClassifier(cfg config.Config, store *postgres.Store) (*usecase.Classifier, error) {
	prompt, err := usecase.LoadPrompt(cfg.PromptPath)
	if err != nil {
		return nil, err
	}
	newGateway := func() domain.GatewayClient {
		return openrouter.New(openrouter.Config{
			APIKey:  cfg.OpenRouterAPIKey,
			Model:   cfg.OpenRouterModel,
			BaseURL: cfg.OpenRouterBaseURL,
		})
	}
	return usecase.NewClassifier(store, newGateway, usecase.ClassifyConfig{
		Key: domain.ModelKey{
			Provider:      "openrouter",
			Model:         cfg.OpenRouterModel,
			PromptVersion: cfg.PromptVersion,
		},
		Prompt:              prompt,
		NotesMaxChars:       cfg.ClassifyNotesMaxChars,
		MaxWorkers:          cfg.ClassifyMaxWorkers,
		MaxAttempts:         cfg.ClassifyMaxAttempts,
		SleepBetweenResults: time.Duration(cfg.InatSleepSeconds * float64(time.Second)),
	}), nil
}

func newInitDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create tables (safe to run multiple times)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			store, closePool, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closePool()
			if err := store.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			cmd.Println("ok")
			return nil
		},
	}
}

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Fetch iNaturalist observations into Postgres",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			store, closePool, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closePool()
			stats, err := newIngester(cfg, store).Run(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("observations=%d photos=%d\n", stats.Observations, stats.Photos)
			return nil
		},
	}
}

func newClassifyCmd() *cobra.Command {
	var maxItems int
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify photos via OpenRouter (writes results to Postgres)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			if !cfg.ClassifyEnabled() {
				return fmt.Errorf("set OPENROUTER_API_KEY and OPENROUTER_MODEL: %w", domain.ErrInvalidArgument)
			}
			store, closePool, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closePool()
			classifier, err := newClassifier(cfg, store)
			if err != nil {
				return err
			}
			stats, err := classifier.Run(cmd.Context(), maxItems)
			if err != nil {
				return err
			}
			cmd.Printf("succeeded=%d failed=%d\n", stats.Succeeded, stats.Failed)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxItems, "max-items", 25, "Max photos to classify this run")
	return cmd
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run ingestion periodically and classification continuously",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdownTracer, err := observability.SetupTracing(cfg)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdownTracer(shutdownCtx)
			}()

			store, closePool, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closePool()

			sup := &usecase.Supervisor{
				Ingester:         newIngester(cfg, store),
				IngestInterval:   cfg.IngestInterval(),
				ClassifyInterval: cfg.ClassifyInterval(),
			}
			if cfg.ClassifyEnabled() {
				classifier, err := newClassifier(cfg, store)
				if err != nil {
					return err
				}
				sup.Classifier = classifier
			}

			srv := &http.Server{Addr: cfg.MetricsAddr, Handler: observability.MetricsHandler()}
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				slog.Info("metrics listening", slog.String("addr", cfg.MetricsAddr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				return sup.Run(gctx)
			})
			return g.Wait()
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show basic counts (backlog, failures, recent throughput)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			store, closePool, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closePool()
			if err := store.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			st, err := store.Stats(cmd.Context(), domain.ModelKey{
				Provider:      "openrouter",
				Model:         cfg.OpenRouterModel,
				PromptVersion: cfg.PromptVersion,
			})
			if err != nil {
				return err
			}
			cmd.Printf("observations=%d photos=%d classified=%d failed=%d permanent_failed=%d backlog=%d ingested_24h=%d classified_24h=%d\n",
				st.Observations, st.Photos, st.Classified, st.Failed,
				st.PermanentFailed, st.Backlog, st.Ingested24h, st.Classified24h)
			return nil
		},
	}
}
