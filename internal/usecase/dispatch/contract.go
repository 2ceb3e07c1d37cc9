package dispatch

import (
	"context"
	"time"

	"github.com/atenea-labs/atenea/internal/domain"
	"github.com/atenea-labs/atenea/internal/worker"
)

// TaskStore persists ingestion tasks and their status indexes.
type TaskStore interface {
	Create(ctx context.Context, t domain.Task) error
	Get(ctx context.Context, id string) (domain.Task, error)
	GetByDocument(ctx context.Context, documentID string) (domain.Task, error)
	Transition(ctx context.Context, id string, from, to domain.TaskStatus, errMsg string) error
	ClaimOldestPending(ctx context.Context) (domain.Task, bool, error)
	ResetStuck(ctx context.Context, olderThan time.Duration) (int, error)
	Stats(ctx context.Context) (domain.TaskStats, error)
	DeleteByDocument(ctx context.Context, documentID string) error
}

// DocumentStore persists document records.
type DocumentStore interface {
	Create(ctx context.Context, d domain.Document) error
	Get(ctx context.Context, id string) (domain.Document, error)
	SetIngestionResult(ctx context.Context, id, archiveURL string, fragmentCount int) error
	Delete(ctx context.Context, id string) error
}

// ChunkStore writes and removes a document's chunks.
type ChunkStore interface {
	Ingest(ctx context.Context, documentID, subjectID string, fragments []domain.Fragment) (int, error)
	DeleteByDocument(ctx context.Context, documentID, subjectID string) (int, error)
}

// Worker runs the embedding subprocess for one document.
type Worker interface {
	Run(ctx context.Context, d worker.Descriptor) (worker.Result, error)
}
