// Package domain holds the core entities, error taxonomy, and ports of the
// monarch phenology pipeline. Adapters (Postgres, iNaturalist, OpenRouter)
// implement the ports; usecases depend only on this package.
package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	// ErrModelOutputInvalid marks gateway responses whose content could not be
	// recovered into a JSON object. Retried a bounded number of times.
	ErrModelOutputInvalid = errors.New("model output is not a JSON object")
)

// Context is an alias so ports do not spell out std context everywhere.
type Context = context.Context

// Observation is a single citizen-science record keyed by the remote id.
// Raw always carries the verbatim source JSON.
type Observation struct {
	ObservationID      int64
	InatURL            string
	TaxonID            *int64
	TaxonName          *string
	TaxonCommonName    *string
	QualityGrade       *string
	Captive            *bool
	LicenseCode        *string
	ObservedAt         *time.Time
	ObservedOn         *time.Time
	CreatedAt          *time.Time
	UpdatedAt          *time.Time
	Latitude           *float64
	Longitude          *float64
	PositionalAccuracy *int64
	PlaceGuess         *string
	UserID             *int64
	UserLogin          *string
	Description        *string
	Raw                json.RawMessage
}

// Photo is a media attachment owned by exactly one observation. Any of the
// three URL variants may be nil; a photo is classifiable when at least one
// is present.
type Photo struct {
	PhotoID       int64
	ObservationID int64
	Position      int
	URLSquare     *string
	URLLarge      *string
	URLOriginal   *string
	LicenseCode   *string
	Attribution   *string
	Raw           json.RawMessage
}

// ObservationRecord is one observation plus its photos in feed order. The
// ingest store writes a whole page of records in a single transaction.
type ObservationRecord struct {
	Observation Observation
	Photos      []Photo
}

// ClassificationStatus enumerates the per-tuple state machine.
type ClassificationStatus string

const (
	ClassificationPending         ClassificationStatus = "pending"
	ClassificationSucceeded       ClassificationStatus = "succeeded"
	ClassificationFailed          ClassificationStatus = "failed"
	ClassificationPermanentFailed ClassificationStatus = "permanent_failed"
)

// ModelKey identifies one classification configuration. Together with a
// photo id it forms the uniqueness constraint on classifications.
type ModelKey struct {
	Provider      string
	Model         string
	PromptVersion string
}

// ClassificationKey identifies one attempt lineage.
type ClassificationKey struct {
	PhotoID int64
	ModelKey
}

// WorkItem is one selectable unit of classification work. AttemptCount is
// the number of attempts already recorded for the tuple (zero when no row
// exists yet).
type WorkItem struct {
	PhotoID       int64
	ObservationID int64
	ImageURL      string
	Notes         string
	AttemptCount  int
}

// Reservation claims a work item by writing a pending row.
type Reservation struct {
	Item           WorkItem
	PromptHash     string
	Notes          string
	NotesTruncated bool
}

// FailureUpdate records one failed attempt. Permanent moves the row to the
// terminal permanent_failed state and forces retry_after to null.
type FailureUpdate struct {
	Key         ClassificationKey
	Error       string
	RetryAfter  *time.Time
	Permanent   bool
	RawResponse json.RawMessage
}

// IngestStats summarizes one ingest run.
type IngestStats struct {
	Observations int
	Photos       int
}

// ClassifyStats summarizes one classify run.
type ClassifyStats struct {
	Succeeded int
	Failed    int
}

// PipelineStats backs the stats subcommand.
type PipelineStats struct {
	Observations    int64
	Photos          int64
	Classified      int64
	Failed          int64
	PermanentFailed int64
	Backlog         int64
	Ingested24h     int64
	Classified24h   int64
}

// Feed (port)

// FeedQuery parameterizes one observations page fetch.
type FeedQuery struct {
	TaxonID      int64
	PlaceID      int64
	QualityGrade string
	PerPage      int
	Page         int
	UpdatedSince string
	OrderBy      string
	Order        string
}

// FeedPage is one page of verbatim observation payloads.
type FeedPage struct {
	TotalResults int
	Results      []json.RawMessage
}

// FeedClient lists observations from the remote biodiversity API. Retry
// against rate limits and server errors happens inside the implementation.
type FeedClient interface {
	ListObservations(ctx Context, q FeedQuery) (*FeedPage, error)
}

// GatewayClient performs a single multimodal chat completion and returns
// the decoded response verbatim. No retries; callers classify errors.
type GatewayClient interface {
	ClassifyImage(ctx Context, imageURL, observerNotes, prompt string) (json.RawMessage, error)
}

// Stores (ports)

// IngestStore is the persistence surface of the ingestion engine.
type IngestStore interface {
	EnsureSchema(ctx Context) error
	// GetState returns ErrNotFound when the key has never been written.
	GetState(ctx Context, key string) (string, error)
	SetState(ctx Context, key, value string) error
	// UpsertPage writes a page of records in one transaction, preserving
	// first_seen_at and refreshing last_seen_at on conflict.
	UpsertPage(ctx Context, recs []ObservationRecord) error
}

// ClassifyStore is the persistence surface of the classification engine.
// Only the controller goroutine calls it; workers never touch the store.
type ClassifyStore interface {
	EnsureSchema(ctx Context) error
	// SelectWork returns up to limit classifiable photos in ascending
	// photo_id order: photos with at least one URL variant and either no
	// row for the model key, or a failed row whose retry_after elapsed.
	SelectWork(ctx Context, key ModelKey, limit int) ([]WorkItem, error)
	// ReservePending upserts pending rows for all reservations in one
	// transaction, clearing any previous error.
	ReservePending(ctx Context, key ModelKey, rs []Reservation) error
	MarkSucceeded(ctx Context, key ClassificationKey, output, rawResponse json.RawMessage) error
	MarkFailed(ctx Context, u FailureUpdate) error
}

// StatsStore backs the stats subcommand.
type StatsStore interface {
	Stats(ctx Context, key ModelKey) (PipelineStats, error)
}
