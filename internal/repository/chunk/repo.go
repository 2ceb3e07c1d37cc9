// Package chunk persists text fragments with their vector representations.
//
// Ingest is the single write path into the chunk store; chunks are
// immutable afterwards and disappear only with their owning document.
package chunk

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atenea-labs/atenea/internal/db"
	"github.com/atenea-labs/atenea/internal/domain"
)

// store is the consumer interface for chunks (ISP).
type store interface {
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	DelMulti(ctx context.Context, keys []string) error
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
}

// Repo implements the chunk store.
type Repo struct {
	store  store
	logger *zap.Logger
	newID  func() string
}

// New creates a chunk repository.
func New(s store, logger *zap.Logger) *Repo {
	return &Repo{store: s, logger: logger, newID: uuid.NewString}
}

func chunkKey(id string) string { return domain.KeyPrefix + "chunk:" + id }

func subjectChunksKey(subjectID string) string {
	return domain.KeyPrefix + "subject:" + subjectID + ":chunks"
}

func docChunksKey(documentID string) string {
	return domain.KeyPrefix + "doc:" + documentID + ":chunks"
}

// Ingest writes all fragments of one document as chunks, atomically per
// document: on any failure the already-written chunks are rolled back
// before the error surfaces. Returns the number of chunks written.
func (r *Repo) Ingest(ctx context.Context, documentID, subjectID string, fragments []domain.Fragment) (int, error) {
	if len(fragments) == 0 {
		return 0, fmt.Errorf("%w: no fragments to ingest", domain.ErrValidation)
	}

	items := make([]db.HashSetItem, 0, len(fragments))
	ids := make([]string, 0, len(fragments))

	for i, f := range fragments {
		if f.Text == "" {
			return 0, fmt.Errorf("%w: fragment %d has empty text", domain.ErrValidation, i)
		}
		if len(f.Embedding) == 0 {
			return 0, fmt.Errorf("%w: fragment %d has no embedding", domain.ErrValidation, i)
		}

		tokenCount := f.TokenCount
		if tokenCount <= 0 {
			tokenCount = estimateTokens(f.Text)
		}

		id := r.newID()
		ids = append(ids, id)
		items = append(items, db.HashSetItem{
			Key: chunkKey(id),
			Fields: map[string]string{
				"id":                   id,
				"document_id":          documentID,
				"subject_id":           subjectID,
				"text":                 f.Text,
				"embedding":            string(vectorToBytes(f.Embedding)),
				"chunk_index":          strconv.Itoa(i),
				"section_title":        f.SectionTitle,
				"token_count":          strconv.Itoa(tokenCount),
				"created_with_overlap": strconv.FormatBool(f.CreatedWithOverlap),
			},
		})
	}

	if err := r.store.HSetMulti(ctx, items); err != nil {
		r.rollback(ctx, documentID, subjectID, ids)
		return 0, fmt.Errorf("write chunks for document %s: %w", documentID, err)
	}
	if err := r.store.SAdd(ctx, subjectChunksKey(subjectID), ids...); err != nil {
		r.rollback(ctx, documentID, subjectID, ids)
		return 0, fmt.Errorf("index chunks for subject %s: %w", subjectID, err)
	}
	if err := r.store.SAdd(ctx, docChunksKey(documentID), ids...); err != nil {
		r.rollback(ctx, documentID, subjectID, ids)
		return 0, fmt.Errorf("index chunks for document %s: %w", documentID, err)
	}

	return len(ids), nil
}

// rollback removes whatever a failed ingest may have written. Best
// effort: rollback failures are logged, the original error still wins.
func (r *Repo) rollback(ctx context.Context, documentID, subjectID string, ids []string) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = chunkKey(id)
	}
	if err := r.store.DelMulti(ctx, keys); err != nil {
		r.logger.Warn("chunk rollback: delete failed", zap.String("document_id", documentID), zap.Error(err))
	}
	if err := r.store.SRem(ctx, subjectChunksKey(subjectID), ids...); err != nil {
		r.logger.Warn("chunk rollback: subject unindex failed", zap.String("document_id", documentID), zap.Error(err))
	}
	if err := r.store.SRem(ctx, docChunksKey(documentID), ids...); err != nil {
		r.logger.Warn("chunk rollback: document unindex failed", zap.String("document_id", documentID), zap.Error(err))
	}
}

// ListBySubject returns all completed chunks for a subject.
func (r *Repo) ListBySubject(ctx context.Context, subjectID string) ([]domain.Chunk, error) {
	ids, err := r.store.SMembers(ctx, subjectChunksKey(subjectID))
	if err != nil {
		return nil, fmt.Errorf("list chunks for subject %s: %w", subjectID, err)
	}
	return r.fetch(ctx, ids)
}

// DeleteByDocument removes all chunks of a document. Returns the number
// of chunks removed.
func (r *Repo) DeleteByDocument(ctx context.Context, documentID, subjectID string) (int, error) {
	ids, err := r.store.SMembers(ctx, docChunksKey(documentID))
	if err != nil {
		return 0, fmt.Errorf("list chunks for document %s: %w", documentID, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = chunkKey(id)
	}
	if err := r.store.DelMulti(ctx, keys); err != nil {
		return 0, fmt.Errorf("delete chunks for document %s: %w", documentID, err)
	}
	if err := r.store.SRem(ctx, subjectChunksKey(subjectID), ids...); err != nil {
		return 0, fmt.Errorf("unindex chunks for subject %s: %w", subjectID, err)
	}
	if err := r.store.DelMulti(ctx, []string{docChunksKey(documentID)}); err != nil {
		return 0, fmt.Errorf("drop chunk index for document %s: %w", documentID, err)
	}
	return len(ids), nil
}

func (r *Repo) fetch(ctx context.Context, ids []string) ([]domain.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = chunkKey(id)
	}
	hashes, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("fetch chunks: %w", err)
	}

	chunks := make([]domain.Chunk, 0, len(hashes))
	for i, fields := range hashes {
		if len(fields) == 0 {
			// Index can briefly reference a chunk deleted by a concurrent
			// document cascade; skip it.
			continue
		}
		c, err := unmarshalChunk(fields)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", ids[i], err)
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

func unmarshalChunk(fields map[string]string) (domain.Chunk, error) {
	embedding, err := bytesToVector([]byte(fields["embedding"]))
	if err != nil {
		return domain.Chunk{}, err
	}
	index, err := strconv.Atoi(fields["chunk_index"])
	if err != nil {
		return domain.Chunk{}, fmt.Errorf("parse chunk_index: %w", err)
	}
	tokenCount, err := strconv.Atoi(fields["token_count"])
	if err != nil {
		return domain.Chunk{}, fmt.Errorf("parse token_count: %w", err)
	}

	return domain.Chunk{
		ID:                 fields["id"],
		DocumentID:         fields["document_id"],
		SubjectID:          fields["subject_id"],
		Text:               fields["text"],
		Embedding:          embedding,
		ChunkIndex:         index,
		SectionTitle:       fields["section_title"],
		TokenCount:         tokenCount,
		CreatedWithOverlap: fields["created_with_overlap"] == "true",
	}, nil
}

// estimateTokens approximates the token count when the worker omits it.
func estimateTokens(text string) int {
	n := 0
	inToken := false
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' {
			inToken = false
			continue
		}
		if !inToken {
			n++
			inToken = true
		}
	}
	return n
}
