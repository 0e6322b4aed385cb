package ingestion_engine

import "context"

// Ingestor is the entry point handlers use to schedule ingestion work.
type Ingestor interface {
	Start(ctx context.Context, numWorkers int)
	Enqueue(docID string) error
	ProcessOne(ctx context.Context, docID string) error
}
