package chunk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"go.uber.org/zap"

	"github.com/atenea-labs/atenea/internal/domain"
)

func newTestRepo() (*Repo, *fakeStore) {
	fs := newFakeStore()
	repo := New(fs, zap.NewNop())
	seq := 0
	repo.newID = func() string {
		seq++
		return fmt.Sprintf("chunk-%03d", seq)
	}
	return repo, fs
}

func testFragments(n int) []domain.Fragment {
	out := make([]domain.Fragment, n)
	for i := range out {
		out[i] = domain.Fragment{
			Text:         fmt.Sprintf("fragment %d", i),
			Embedding:    []float32{float32(i), 1, 0.5},
			SectionTitle: "Tema 1",
			TokenCount:   2,
		}
	}
	return out
}

func TestIngest_WritesAndIndexes(t *testing.T) {
	repo, _ := newTestRepo()
	ctx := context.Background()

	n, err := repo.Ingest(ctx, "doc-1", "subj-1", testFragments(3))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if n != 3 {
		t.Fatalf("ingested %d chunks, want 3", n)
	}

	chunks, err := repo.ListBySubject(ctx, "subj-1")
	if err != nil {
		t.Fatalf("ListBySubject: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("listed %d chunks, want 3", len(chunks))
	}

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Errorf("chunk %d: index = %d", i, c.ChunkIndex)
		}
		if c.DocumentID != "doc-1" || c.SubjectID != "subj-1" {
			t.Errorf("chunk %d: ownership %+v", i, c)
		}
		if len(c.Embedding) != 3 || c.Embedding[0] != float32(i) {
			t.Errorf("chunk %d: embedding round-trip failed: %v", i, c.Embedding)
		}
	}
}

func TestIngest_RejectsEmptyInput(t *testing.T) {
	repo, fs := newTestRepo()

	if _, err := repo.Ingest(context.Background(), "doc-1", "subj-1", nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if fs.chunkCount() != 0 {
		t.Error("store mutated on rejected ingest")
	}
}

func TestIngest_RejectsFragmentWithoutEmbedding(t *testing.T) {
	repo, fs := newTestRepo()

	frags := testFragments(2)
	frags[1].Embedding = nil
	if _, err := repo.Ingest(context.Background(), "doc-1", "subj-1", frags); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if fs.chunkCount() != 0 {
		t.Error("store mutated on rejected ingest")
	}
}

func TestIngest_RollsBackOnIndexFailure(t *testing.T) {
	repo, fs := newTestRepo()
	fs.failSAddKey = subjectChunksKey("subj-1")

	_, err := repo.Ingest(context.Background(), "doc-1", "subj-1", testFragments(3))
	if err == nil {
		t.Fatal("expected ingest failure")
	}
	if fs.chunkCount() != 0 {
		t.Errorf("%d chunk hashes survived rollback, want 0", fs.chunkCount())
	}

	chunks, err := repo.ListBySubject(context.Background(), "subj-1")
	if err != nil {
		t.Fatalf("ListBySubject: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("subject still sees %d chunks after rollback", len(chunks))
	}
}

func TestIngest_EstimatesMissingTokenCount(t *testing.T) {
	repo, _ := newTestRepo()
	ctx := context.Background()

	frags := []domain.Fragment{{
		Text:      "el teorema de Pitágoras aplica",
		Embedding: []float32{1, 0},
	}}
	if _, err := repo.Ingest(ctx, "doc-1", "subj-1", frags); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	chunks, _ := repo.ListBySubject(ctx, "subj-1")
	if len(chunks) != 1 {
		t.Fatalf("listed %d chunks", len(chunks))
	}
	if chunks[0].TokenCount != 5 {
		t.Errorf("token_count = %d, want 5", chunks[0].TokenCount)
	}
}

func TestDeleteByDocument(t *testing.T) {
	repo, _ := newTestRepo()
	ctx := context.Background()

	if _, err := repo.Ingest(ctx, "doc-1", "subj-1", testFragments(2)); err != nil {
		t.Fatalf("Ingest doc-1: %v", err)
	}
	if _, err := repo.Ingest(ctx, "doc-2", "subj-1", testFragments(1)); err != nil {
		t.Fatalf("Ingest doc-2: %v", err)
	}

	n, err := repo.DeleteByDocument(ctx, "doc-1", "subj-1")
	if err != nil {
		t.Fatalf("DeleteByDocument: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d chunks, want 2", n)
	}

	chunks, _ := repo.ListBySubject(ctx, "subj-1")
	if len(chunks) != 1 {
		t.Fatalf("subject sees %d chunks, want only doc-2's", len(chunks))
	}
	if chunks[0].DocumentID != "doc-2" {
		t.Errorf("surviving chunk belongs to %s", chunks[0].DocumentID)
	}

	// Already gone: no-op.
	n, err = repo.DeleteByDocument(ctx, "doc-1", "subj-1")
	if err != nil || n != 0 {
		t.Errorf("second delete: n=%d err=%v", n, err)
	}
}

func TestVectorCodec_RoundTrip(t *testing.T) {
	in := []float32{0, 1, -1, 0.123456, 3.4e38}
	out, err := bytesToVector(vectorToBytes(in))
	if err != nil {
		t.Fatalf("bytesToVector: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("length %d, want %d", len(out), len(in))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("component %d: %v != %v", i, in[i], out[i])
		}
	}

	if _, err := bytesToVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error on truncated payload")
	}
}
