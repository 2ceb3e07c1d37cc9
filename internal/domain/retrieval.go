package domain

// RetrievalStrategy selects the retrieval algorithm for a query.
type RetrievalStrategy string

const (
	StrategySimilarity RetrievalStrategy = "similarity"
	StrategyHybrid     RetrievalStrategy = "hybrid"
	StrategyEnhanced   RetrievalStrategy = "enhanced"
)

// RetrievalOptions parameterizes one retrieval run.
type RetrievalOptions struct {
	Strategy             RetrievalStrategy
	MatchCount           int
	SimilarityThreshold  float64
	KeywordWeight        float64
	DiversifyResults     bool
	IncludeOverlapChunks bool
	SectionCap           int
}
