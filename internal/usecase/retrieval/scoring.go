package retrieval

import (
	"math"
	"strings"
)

// cosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched or zero-length vectors score 0 rather than erroring; a
// chunk stored with a different embedding model simply never matches.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Minimal stopword list covering the deployment's two query languages.
// Terms this short or common carry no keyword signal.
var stopwords = map[string]bool{
	// Spanish
	"el": true, "la": true, "los": true, "las": true, "un": true,
	"una": true, "unos": true, "unas": true, "de": true, "del": true,
	"en": true, "que": true, "qué": true, "es": true, "son": true,
	"por": true, "para": true, "con": true, "sobre": true, "entre": true,
	"como": true, "cómo": true, "se": true, "su": true, "sus": true,
	"al": true, "lo": true, "esta": true, "este": true, "esto": true,
	// English
	"the": true, "a": true, "an": true, "of": true, "in": true,
	"on": true, "is": true, "are": true, "to": true, "for": true,
	"and": true, "or": true, "it": true, "its": true, "this": true,
	"that": true, "what": true, "does": true, "about": true, "with": true,
}

// significantTerms extracts the lowercase content-bearing terms of a text.
func significantTerms(text string) map[string]bool {
	terms := make(map[string]bool)
	for _, field := range strings.Fields(strings.ToLower(text)) {
		term := strings.Trim(field, ".,;:!?¿¡()\"'«»")
		if len([]rune(term)) < 3 || stopwords[term] {
			continue
		}
		terms[term] = true
	}
	return terms
}

// keywordOverlap is the fraction of the query's significant terms that
// appear in the chunk text. 0 when the query has no significant terms.
func keywordOverlap(queryTerms map[string]bool, text string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	chunkTerms := significantTerms(text)
	shared := 0
	for term := range queryTerms {
		if chunkTerms[term] {
			shared++
		}
	}
	return float64(shared) / float64(len(queryTerms))
}
