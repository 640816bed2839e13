package usecase

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylenessen/monarch-phenology-inaturalist/internal/domain"
)

func TestSupervisorRunsBothPhases(t *testing.T) {
	t.Parallel()

	feed := &fakeFeed{}
	ingStore := newFakeIngestStore()
	clsStore := newFakeClassifyStore(workItem(1))
	gw := gatewayFunc(func(_ domain.Context, _, _, _ string) (json.RawMessage, error) {
		return chatResponse(`{"life_stage":"adult","adult_behaviors":[],"larva_stage":"unknown"}`), nil
	})

	sup := &Supervisor{
		Ingester:         testIngester(ingStore, feed),
		Classifier:       testClassifier(clsStore, gw),
		IngestInterval:   time.Minute,
		ClassifyInterval: 5 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, sup.Run(ctx))

	feed.mu.Lock()
	fetches := len(feed.queries)
	feed.mu.Unlock()
	assert.GreaterOrEqual(t, fetches, 1, "ingest phase must have run")
	clsStore.mu.Lock()
	defer clsStore.mu.Unlock()
	assert.NotEmpty(t, clsStore.succeeded, "classify phase must have run")
}

func TestSupervisorIngestOnlyWhenClassifierNil(t *testing.T) {
	t.Parallel()

	feed := &fakeFeed{}
	sup := &Supervisor{
		Ingester:         testIngester(newFakeIngestStore(), feed),
		Classifier:       nil,
		IngestInterval:   time.Minute,
		ClassifyInterval: 5 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, sup.Run(ctx))

	feed.mu.Lock()
	defer feed.mu.Unlock()
	assert.Len(t, feed.queries, 1, "ingest interval not yet elapsed; one run only")
}

func TestSupervisorExitsPromptlyOnCancel(t *testing.T) {
	t.Parallel()

	sup := &Supervisor{
		Ingester:         testIngester(newFakeIngestStore(), &fakeFeed{}),
		IngestInterval:   time.Minute,
		ClassifyInterval: time.Hour,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not exit after cancellation")
	}
}
