package chi

import (
	"context"
	"io"

	"github.com/atenea-labs/atenea/internal/domain"
	"github.com/atenea-labs/atenea/internal/usecase/dispatch"
)

// Dispatcher drives the ingestion lifecycle.
type Dispatcher interface {
	Dispatch(ctx context.Context) (dispatch.Result, error)
	Stats(ctx context.Context) (dispatch.QueueStats, error)
	RegisterDocument(ctx context.Context, filename, sourceURL, subjectID string) (domain.Document, domain.Task, error)
	DeleteDocument(ctx context.Context, documentID string) error
	TaskStatus(ctx context.Context, taskID string) (dispatch.TaskView, error)
	Reprocess(ctx context.Context, taskID string) (domain.Task, error)
}

// Answerer streams generated answers for subject queries.
type Answerer interface {
	Answer(ctx context.Context, subjectID string, messages []domain.ChatMessage, w io.Writer) error
}

// Pinger checks storage connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}
