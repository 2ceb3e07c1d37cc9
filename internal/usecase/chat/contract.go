package chat

import (
	"context"
	"io"

	"github.com/atenea-labs/atenea/internal/domain"
	"github.com/atenea-labs/atenea/internal/usecase/assemble"
	"github.com/atenea-labs/atenea/internal/usecase/classify"
)

// Classifier picks the retrieval strategy for a query.
type Classifier interface {
	Classify(query string) classify.Decision
}

// Embedder vectorizes the query text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// Retriever runs a retrieval strategy over one subject's chunks.
type Retriever interface {
	Retrieve(
		ctx context.Context, subjectID, query string, queryEmbedding []float32,
		opts domain.RetrievalOptions,
	) ([]domain.RetrievedChunk, error)
}

// ContextAssembler builds the citation-numbered context block.
type ContextAssembler interface {
	Assemble(chunks []domain.RetrievedChunk) assemble.Context
}

// Generator streams a chat completion to a writer.
type Generator interface {
	Stream(ctx context.Context, messages []domain.ChatMessage, w io.Writer) error
}
