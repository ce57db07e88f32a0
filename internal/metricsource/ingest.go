package metricsource

import (
	"context"

	"github.com/festion/homelab-gitops-auditor/internal/domain"
)

// writeStore is the narrow write surface used to ingest PipelineRuns.
type writeStore interface {
	RecordPipelineRun(ctx context.Context, run domain.PipelineRun) error
}

// Ingester accepts PipelineRun records from an external CI provider (e.g. a
// version-control Actions/pipeline webhook) and persists them idempotently.
// This is the producer side of the read contract below: readers only ever
// go through Source, but something has to populate the Store they read from.
type Ingester struct {
	store writeStore
}

// NewIngester wraps store for pipeline-run ingestion.
func NewIngester(store writeStore) *Ingester {
	return &Ingester{store: store}
}

// Ingest records run, idempotent on (repository, run_id) per the Store's
// RecordPipelineRun contract.
func (i *Ingester) Ingest(ctx context.Context, run domain.PipelineRun) error {
	return i.store.RecordPipelineRun(ctx, run)
}
