// Package chat orchestrates the query path: classify, embed, retrieve,
// assemble, generate.
package chat

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/atenea-labs/atenea/internal/domain"
)

// Service answers student questions over one subject's documents.
type Service struct {
	classifier Classifier
	embedder   Embedder
	retriever  Retriever
	assembler  ContextAssembler
	generator  Generator
	logger     *zap.Logger
}

// New creates a chat service.
func New(
	classifier Classifier,
	embedder Embedder,
	retriever Retriever,
	assembler ContextAssembler,
	generator Generator,
	logger *zap.Logger,
) *Service {
	return &Service{
		classifier: classifier,
		embedder:   embedder,
		retriever:  retriever,
		assembler:  assembler,
		generator:  generator,
		logger:     logger,
	}
}

// Answer streams a generated answer for the latest user message to w.
func (s *Service) Answer(
	ctx context.Context, subjectID string, messages []domain.ChatMessage, w io.Writer,
) error {
	if subjectID == "" {
		return fmt.Errorf("%w: subject id is required", domain.ErrValidation)
	}
	query := latestUserMessage(messages)
	if query == "" {
		return fmt.Errorf("%w: no user message to answer", domain.ErrValidation)
	}

	decision := s.classifier.Classify(query)

	emb, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return fmt.Errorf("embed query: %w", err)
	}

	opts := domain.RetrievalOptions{
		Strategy:   decision.Strategy,
		MatchCount: decision.CandidateCount,
		// Specific questions benefit from local context around the hit;
		// broad ones from section diversity.
		IncludeOverlapChunks: decision.Strategy == domain.StrategySimilarity,
		DiversifyResults:     decision.Strategy == domain.StrategyEnhanced,
	}

	chunks, err := s.retriever.Retrieve(ctx, subjectID, query, emb.Embedding, opts)
	if err != nil {
		return fmt.Errorf("retrieve context: %w", err)
	}

	assembled := s.assembler.Assemble(chunks)

	s.logger.Info("Answering query",
		zap.String("subject_id", subjectID),
		zap.String("strategy", string(decision.Strategy)),
		zap.Int("sources", assembled.SourceCount),
		zap.Bool("high_relevance", assembled.HighRelevance))

	prompt := make([]domain.ChatMessage, 0, len(messages)+1)
	prompt = append(prompt, domain.ChatMessage{
		Role:    domain.ChatRoleSystem,
		Content: systemPrompt(assembled.Text, assembled.HighRelevance),
	})
	prompt = append(prompt, messages...)

	if err := s.generator.Stream(ctx, prompt, w); err != nil {
		return fmt.Errorf("generate answer: %w", err)
	}
	return nil
}

func latestUserMessage(messages []domain.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == domain.ChatRoleUser {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}

// systemPrompt frames the model as a course assistant bound to the
// retrieved material. When relevance is weak the prompt asks for
// hedged language instead of confident claims.
func systemPrompt(contextText string, highRelevance bool) string {
	var b strings.Builder
	b.WriteString("Eres un asistente educativo que ayuda a estudiantes con los materiales de su asignatura. ")
	b.WriteString("Responde únicamente con la información del contexto proporcionado. ")
	b.WriteString("Cita las fuentes usando su número entre corchetes, por ejemplo [1]. ")
	b.WriteString("Si el contexto no contiene la respuesta, dilo claramente y no inventes contenido.\n")
	if !highRelevance {
		b.WriteString("La relevancia del material encontrado es limitada: usa un tono prudente y ")
		b.WriteString("advierte al estudiante de que la respuesta puede ser incompleta.\n")
	}
	b.WriteString("\nContexto:\n")
	b.WriteString(contextText)
	return b.String()
}
