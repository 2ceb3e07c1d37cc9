package chat

import (
	"context"
	"io"
	"testing"

	"go.uber.org/zap"

	"github.com/atenea-labs/atenea/internal/config"
	"github.com/atenea-labs/atenea/internal/domain"
	"github.com/atenea-labs/atenea/internal/usecase/assemble"
	"github.com/atenea-labs/atenea/internal/usecase/classify"
)

type mockEmbedder struct {
	calls int
	err   error
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	m.calls++
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: []float32{1, 0}}, nil
}

type mockRetriever struct {
	chunks   []domain.RetrievedChunk
	err      error
	gotQuery string
	gotOpts  domain.RetrievalOptions
}

func (m *mockRetriever) Retrieve(
	_ context.Context, _, query string, _ []float32, opts domain.RetrievalOptions,
) ([]domain.RetrievedChunk, error) {
	m.gotQuery = query
	m.gotOpts = opts
	return m.chunks, m.err
}

type mockGenerator struct {
	gotMessages []domain.ChatMessage
	reply       string
	err         error
}

func (m *mockGenerator) Stream(_ context.Context, messages []domain.ChatMessage, w io.Writer) error {
	m.gotMessages = messages
	if m.err != nil {
		return m.err
	}
	_, _ = io.WriteString(w, m.reply)
	return nil
}

type deps struct {
	embedder  *mockEmbedder
	retriever *mockRetriever
	generator *mockGenerator
}

func newTestService(t *testing.T) (*Service, *deps) {
	t.Helper()
	var cfg config.Config
	cfg.ApplyDefaults()

	d := &deps{
		embedder:  &mockEmbedder{},
		retriever: &mockRetriever{},
		generator: &mockGenerator{reply: "respuesta"},
	}
	svc := New(
		classify.New(cfg.Retrieval.Classifier),
		d.embedder,
		d.retriever,
		assemble.New(cfg.Context),
		d.generator,
		zap.NewNop(),
	)
	return svc, d
}
