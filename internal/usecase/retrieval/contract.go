package retrieval

import (
	"context"

	"github.com/atenea-labs/atenea/internal/domain"
)

// ChunkReader reads the subject-scoped chunk pool.
type ChunkReader interface {
	ListBySubject(ctx context.Context, subjectID string) ([]domain.Chunk, error)
}
