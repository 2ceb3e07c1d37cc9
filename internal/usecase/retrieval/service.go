// Package retrieval ranks subject chunks against a query embedding
// using one of three strategies chosen by the classifier.
package retrieval

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/atenea-labs/atenea/internal/config"
	"github.com/atenea-labs/atenea/internal/domain"
	"github.com/atenea-labs/atenea/internal/metrics"
)

// Service is the retrieval engine. Scoring happens in process over the
// subject's chunk pool; only the pool read touches the store, so a
// store failure can be retried once on the degraded path.
type Service struct {
	chunks ChunkReader
	cfg    config.RetrievalConfig
	logger *zap.Logger
}

// New creates a retrieval service.
func New(chunks ChunkReader, cfg config.RetrievalConfig, logger *zap.Logger) *Service {
	return &Service{chunks: chunks, cfg: cfg, logger: logger}
}

// Retrieve runs the requested strategy for one subject. On a store
// failure it degrades to a plain similarity pass with a smaller count
// instead of surfacing the error; only a second failure reaches the
// caller, as ErrRetrievalFailed.
func (s *Service) Retrieve(
	ctx context.Context, subjectID, query string, queryEmbedding []float32,
	opts domain.RetrievalOptions,
) ([]domain.RetrievedChunk, error) {
	opts = s.withDefaults(opts)

	pool, err := s.chunks.ListBySubject(ctx, subjectID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("retrieve aborted: %w", ctx.Err())
		}
		s.logger.Warn("Chunk pool read failed, using degraded retrieval",
			zap.String("subject_id", subjectID), zap.Error(err))
		return s.fallback(ctx, subjectID, queryEmbedding, opts)
	}

	var results []domain.RetrievedChunk
	switch opts.Strategy {
	case domain.StrategyHybrid:
		results = s.hybrid(pool, query, queryEmbedding, opts)
	case domain.StrategyEnhanced:
		results = s.enhanced(pool, queryEmbedding, opts)
	case domain.StrategySimilarity:
		results = s.similarity(pool, queryEmbedding, opts)
	default:
		results = s.similarity(pool, queryEmbedding, opts)
	}

	outcome := "hit"
	if len(results) == 0 {
		outcome = "empty"
	}
	metrics.RetrievalRequestsTotal.WithLabelValues(string(opts.Strategy), outcome).Inc()
	return results, nil
}

func (s *Service) withDefaults(opts domain.RetrievalOptions) domain.RetrievalOptions {
	if opts.Strategy == "" {
		opts.Strategy = domain.StrategySimilarity
	}
	if opts.MatchCount <= 0 {
		opts.MatchCount = s.cfg.FallbackCount
	}
	if opts.SimilarityThreshold <= 0 {
		switch opts.Strategy {
		case domain.StrategyHybrid:
			opts.SimilarityThreshold = s.cfg.HybridThreshold
		case domain.StrategyEnhanced:
			opts.SimilarityThreshold = s.cfg.EnhancedThreshold
		default:
			opts.SimilarityThreshold = s.cfg.SimilarityThreshold
		}
	}
	if opts.KeywordWeight <= 0 {
		opts.KeywordWeight = s.cfg.KeywordWeight
	}
	if opts.SectionCap <= 0 {
		opts.SectionCap = s.cfg.SectionCap
	}
	return opts
}

// similarity filters by cosine score, sorts descending, takes the top
// matches and optionally pulls in positional neighbors.
func (s *Service) similarity(
	pool []domain.Chunk, queryEmbedding []float32, opts domain.RetrievalOptions,
) []domain.RetrievedChunk {
	scored := scorePool(pool, queryEmbedding, opts.SimilarityThreshold)
	sortByScore(scored)
	top := truncate(scored, opts.MatchCount)

	if opts.IncludeOverlapChunks {
		top = expandWithNeighbors(top, pool, queryEmbedding)
	}
	return top
}

// hybrid blends cosine similarity with keyword overlap. The lower
// threshold is deliberate: keyword signal compensates for weak vector
// similarity on long queries.
func (s *Service) hybrid(
	pool []domain.Chunk, query string, queryEmbedding []float32, opts domain.RetrievalOptions,
) []domain.RetrievedChunk {
	queryTerms := significantTerms(query)

	var scored []domain.RetrievedChunk
	for _, c := range pool {
		cos := cosineSimilarity(queryEmbedding, c.Embedding)
		kw := keywordOverlap(queryTerms, c.Text)
		combined := (1-opts.KeywordWeight)*cos + opts.KeywordWeight*kw
		if combined >= opts.SimilarityThreshold {
			scored = append(scored, domain.RetrievedChunk{Chunk: c, Score: combined})
		}
	}
	sortByScore(scored)
	return truncate(scored, opts.MatchCount)
}

// enhanced is similarity with per-section diversification: walking the
// ranked list, no more than SectionCap chunks of one section_title are
// taken.
func (s *Service) enhanced(
	pool []domain.Chunk, queryEmbedding []float32, opts domain.RetrievalOptions,
) []domain.RetrievedChunk {
	scored := scorePool(pool, queryEmbedding, opts.SimilarityThreshold)
	sortByScore(scored)

	perSection := make(map[string]int)
	out := make([]domain.RetrievedChunk, 0, opts.MatchCount)
	for _, rc := range scored {
		if len(out) == opts.MatchCount {
			break
		}
		if perSection[rc.SectionTitle] == opts.SectionCap {
			continue
		}
		perSection[rc.SectionTitle]++
		out = append(out, rc)
	}
	return out
}

// fallback is the degraded path: one more pool read, plain similarity,
// fixed smaller count.
func (s *Service) fallback(
	ctx context.Context, subjectID string, queryEmbedding []float32,
	opts domain.RetrievalOptions,
) ([]domain.RetrievedChunk, error) {
	pool, err := s.chunks.ListBySubject(ctx, subjectID)
	if err != nil {
		metrics.RetrievalRequestsTotal.WithLabelValues(string(opts.Strategy), "error").Inc()
		return nil, fmt.Errorf("%w: %v", domain.ErrRetrievalFailed, err)
	}

	scored := scorePool(pool, queryEmbedding, s.cfg.SimilarityThreshold)
	sortByScore(scored)
	metrics.RetrievalRequestsTotal.WithLabelValues(string(opts.Strategy), "fallback").Inc()
	return truncate(scored, s.cfg.FallbackCount), nil
}

func scorePool(pool []domain.Chunk, queryEmbedding []float32, threshold float64) []domain.RetrievedChunk {
	var scored []domain.RetrievedChunk
	for _, c := range pool {
		score := cosineSimilarity(queryEmbedding, c.Embedding)
		if score >= threshold {
			scored = append(scored, domain.RetrievedChunk{Chunk: c, Score: score})
		}
	}
	return scored
}

func sortByScore(chunks []domain.RetrievedChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Score > chunks[j].Score
	})
}

func truncate(chunks []domain.RetrievedChunk, n int) []domain.RetrievedChunk {
	if len(chunks) > n {
		return chunks[:n]
	}
	return chunks
}

// expandWithNeighbors appends the positional neighbors (chunk_index ±1
// in the same document) of each selected chunk, preserving the ranked
// prefix and deduplicating. Neighbors keep their own cosine score.
func expandWithNeighbors(
	selected []domain.RetrievedChunk, pool []domain.Chunk, queryEmbedding []float32,
) []domain.RetrievedChunk {
	seen := make(map[string]bool, len(selected))
	for _, rc := range selected {
		seen[rc.ID] = true
	}

	byPosition := make(map[string]domain.Chunk, len(pool))
	for _, c := range pool {
		byPosition[positionKey(c.DocumentID, c.ChunkIndex)] = c
	}

	out := selected
	for _, rc := range selected {
		for _, idx := range []int{rc.ChunkIndex - 1, rc.ChunkIndex + 1} {
			neighbor, ok := byPosition[positionKey(rc.DocumentID, idx)]
			if !ok || seen[neighbor.ID] {
				continue
			}
			seen[neighbor.ID] = true
			out = append(out, domain.RetrievedChunk{
				Chunk: neighbor,
				Score: cosineSimilarity(queryEmbedding, neighbor.Embedding),
			})
		}
	}
	return out
}

func positionKey(documentID string, index int) string {
	return fmt.Sprintf("%s#%d", documentID, index)
}
