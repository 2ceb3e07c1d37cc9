// Package assemble turns ranked chunks into the citation-numbered
// context block fed to the answer prompt.
package assemble

import (
	"fmt"
	"strings"

	"github.com/atenea-labs/atenea/internal/config"
	"github.com/atenea-labs/atenea/internal/domain"
)

// DefaultSection buckets chunks that carry no section title.
const DefaultSection = "Contenido general"

// EmptyContextText is returned when retrieval found nothing, so the
// prompt step never has to special-case an empty string.
const EmptyContextText = "No se encontró información relevante en los documentos de la asignatura."

// RelevanceTier bands a chunk's score for display in the context block.
type RelevanceTier string

const (
	TierHigh   RelevanceTier = "alta"
	TierMedium RelevanceTier = "media"
	TierLow    RelevanceTier = "baja"
)

// Context is the assembled input for answer generation.
type Context struct {
	Text             string
	SourceCount      int
	AverageRelevance float64
	// HighRelevance hints the prompt step to use confident language.
	HighRelevance bool
	Sources       []Source
}

// Source describes one cited chunk.
type Source struct {
	Citation     int
	SectionTitle string
	ChunkIndex   int
	Score        float64
	Tier         RelevanceTier
}

// Assembler groups chunks by section and numbers them for citation.
type Assembler struct {
	highRelevanceBar float64
	highTier         float64
	mediumTier       float64
}

// New creates an assembler from configuration.
func New(cfg config.ContextConfig) *Assembler {
	return &Assembler{
		highRelevanceBar: cfg.HighRelevanceBar,
		highTier:         cfg.HighTier,
		mediumTier:       cfg.MediumTier,
	}
}

// Assemble builds the context block. Chunks are grouped by section in
// first-seen order (the input is ranked, so the best section leads) and
// numbered sequentially across groups.
func (a *Assembler) Assemble(chunks []domain.RetrievedChunk) Context {
	if len(chunks) == 0 {
		return Context{Text: EmptyContextText}
	}

	sectionOrder := make([]string, 0, len(chunks))
	grouped := make(map[string][]domain.RetrievedChunk, len(chunks))
	for _, rc := range chunks {
		section := rc.SectionTitle
		if section == "" {
			section = DefaultSection
		}
		if _, ok := grouped[section]; !ok {
			sectionOrder = append(sectionOrder, section)
		}
		grouped[section] = append(grouped[section], rc)
	}

	var b strings.Builder
	sources := make([]Source, 0, len(chunks))
	citation := 0
	total := 0.0

	for _, section := range sectionOrder {
		fmt.Fprintf(&b, "## %s\n\n", section)
		for _, rc := range grouped[section] {
			citation++
			total += rc.Score
			tier := a.tierOf(rc.Score)

			fmt.Fprintf(&b, "[%d] (relevancia %s) %s\n\n", citation, tier, rc.Text)
			sources = append(sources, Source{
				Citation:     citation,
				SectionTitle: section,
				ChunkIndex:   rc.ChunkIndex,
				Score:        rc.Score,
				Tier:         tier,
			})
		}
	}

	avg := total / float64(len(chunks))
	return Context{
		Text:             strings.TrimRight(b.String(), "\n"),
		SourceCount:      len(chunks),
		AverageRelevance: avg,
		HighRelevance:    avg > a.highRelevanceBar,
		Sources:          sources,
	}
}

func (a *Assembler) tierOf(score float64) RelevanceTier {
	switch {
	case score >= a.highTier:
		return TierHigh
	case score >= a.mediumTier:
		return TierMedium
	default:
		return TierLow
	}
}
