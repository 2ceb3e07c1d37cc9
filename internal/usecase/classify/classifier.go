// Package classify picks a retrieval strategy from the surface shape of
// a query before any embedding work happens.
package classify

import (
	"strings"
	"unicode/utf8"

	"github.com/atenea-labs/atenea/internal/config"
	"github.com/atenea-labs/atenea/internal/domain"
)

// Decision is the classifier verdict for one query.
type Decision struct {
	Strategy       domain.RetrievalStrategy
	CandidateCount int
}

// Classifier maps queries to retrieval strategies using a fixed
// decision order: length first, then specific-intent phrases, then
// broad-context phrases, then the default. Length dominates on purpose:
// long queries are assumed to need broad recall regardless of phrasing.
type Classifier struct {
	maxChars  int
	maxTokens int

	hybridCount   int
	specificCount int
	broadCount    int
	defaultCount  int

	specificPhrases []string
	broadPhrases    []string
}

// New creates a classifier from configuration. Phrase matching is
// case-insensitive; the phrase sets are lowered once here.
func New(cfg config.ClassifierConfig) *Classifier {
	return &Classifier{
		maxChars:        cfg.MaxChars,
		maxTokens:       cfg.MaxTokens,
		hybridCount:     cfg.HybridCount,
		specificCount:   cfg.SpecificCount,
		broadCount:      cfg.BroadCount,
		defaultCount:    cfg.DefaultCount,
		specificPhrases: lowerAll(cfg.SpecificPhrases),
		broadPhrases:    lowerAll(cfg.BroadPhrases),
	}
}

// Classify returns the strategy and candidate count for a query.
func (c *Classifier) Classify(query string) Decision {
	if utf8.RuneCountInString(query) > c.maxChars || len(strings.Fields(query)) > c.maxTokens {
		return Decision{Strategy: domain.StrategyHybrid, CandidateCount: c.hybridCount}
	}

	lower := strings.ToLower(query)
	if containsAny(lower, c.specificPhrases) {
		return Decision{Strategy: domain.StrategySimilarity, CandidateCount: c.specificCount}
	}
	if containsAny(lower, c.broadPhrases) {
		return Decision{Strategy: domain.StrategyEnhanced, CandidateCount: c.broadCount}
	}
	return Decision{Strategy: domain.StrategyEnhanced, CandidateCount: c.defaultCount}
}

func containsAny(lower string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
