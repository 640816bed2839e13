package observability

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline metrics. Registered once via promauto on the default registry.
var (
	ObservationsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monarch_observations_ingested_total",
		Help: "Observations upserted by the ingestion engine.",
	})
	PhotosIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monarch_photos_ingested_total",
		Help: "Photos upserted by the ingestion engine.",
	})
	Classifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monarch_classifications_total",
		Help: "Classification attempts by resulting status.",
	}, []string{"status"})
	IngestPages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monarch_ingest_pages_total",
		Help: "Feed pages processed by the ingestion engine.",
	})
)

// MetricsHandler serves /metrics and /healthz for the long-running
// supervisor process.
func MetricsHandler() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}
