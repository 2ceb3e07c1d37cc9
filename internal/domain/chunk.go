package domain

// Fragment is the unit returned by the embedding worker: a text segment
// paired with its vector. Positional metadata is optional; the ingestion
// path fills sensible values when the worker omits it.
type Fragment struct {
	Text               string
	Embedding          []float32
	SectionTitle       string
	TokenCount         int
	CreatedWithOverlap bool
}

// Chunk is a persisted text fragment scoped to a document and subject.
// Chunks are immutable once written and are deleted only with their
// owning document. Similarity scores are never stored on a chunk.
type Chunk struct {
	ID                 string
	DocumentID         string
	SubjectID          string
	Text               string
	Embedding          []float32
	ChunkIndex         int
	SectionTitle       string
	TokenCount         int
	CreatedWithOverlap bool
}

// RetrievedChunk is a chunk with its per-query similarity score attached
// transiently by the retrieval engine.
type RetrievedChunk struct {
	Chunk
	Score float64
}
