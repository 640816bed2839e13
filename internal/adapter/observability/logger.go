// Package observability wires logging, metrics, and tracing.
package observability

import (
	"log/slog"
	"os"

	"github.com/kylenessen/monarch-phenology-inaturalist/internal/config"
)

// SetupLogger configures a JSON slog logger with service fields and installs
// it as the process default.
func SetupLogger(cfg config.Config) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	logger := slog.New(h).With(slog.String("service", cfg.OTELServiceName))
	slog.SetDefault(logger)
	return logger
}
