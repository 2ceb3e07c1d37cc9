// Package document persists uploaded course documents.
package document

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/atenea-labs/atenea/internal/domain"
)

// store is the consumer interface for documents (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Del(ctx context.Context, key string) error
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
}

// Repo implements the document store.
type Repo struct {
	store store
}

// New creates a document repository.
func New(s store) *Repo {
	return &Repo{store: s}
}

func docKey(id string) string { return domain.KeyPrefix + "doc:" + id }

func subjectDocsKey(subjectID string) string {
	return domain.KeyPrefix + "subject:" + subjectID + ":docs"
}

// Create persists a document record and indexes it under its subject.
func (r *Repo) Create(ctx context.Context, d domain.Document) error {
	fields := map[string]string{
		"id":                   d.ID,
		"filename":             d.Filename,
		"source_url":           d.SourceURL,
		"fragment_archive_url": d.FragmentArchiveURL,
		"fragment_count":       strconv.Itoa(d.FragmentCount),
		"subject_id":           d.SubjectID,
		"created_at":           d.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if err := r.store.HSet(ctx, docKey(d.ID), fields); err != nil {
		return fmt.Errorf("store document %s: %w", d.ID, err)
	}
	if err := r.store.SAdd(ctx, subjectDocsKey(d.SubjectID), d.ID); err != nil {
		return fmt.Errorf("index document %s: %w", d.ID, err)
	}
	return nil
}

// Get returns a document by ID.
func (r *Repo) Get(ctx context.Context, id string) (domain.Document, error) {
	fields, err := r.store.HGetAll(ctx, docKey(id))
	if err != nil {
		return domain.Document{}, fmt.Errorf("get document %s: %w", id, err)
	}
	if len(fields) == 0 {
		return domain.Document{}, domain.ErrDocumentNotFound
	}

	count, err := strconv.Atoi(fields["fragment_count"])
	if err != nil {
		return domain.Document{}, fmt.Errorf("document %s: parse fragment_count: %w", id, err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return domain.Document{}, fmt.Errorf("document %s: parse created_at: %w", id, err)
	}

	return domain.Document{
		ID:                 fields["id"],
		Filename:           fields["filename"],
		SourceURL:          fields["source_url"],
		FragmentArchiveURL: fields["fragment_archive_url"],
		FragmentCount:      count,
		SubjectID:          fields["subject_id"],
		CreatedAt:          createdAt,
	}, nil
}

// SetIngestionResult records the fragment archive reference and count on
// a document after a successful ingestion cycle.
func (r *Repo) SetIngestionResult(ctx context.Context, id, archiveURL string, fragmentCount int) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	fields := map[string]string{
		"fragment_archive_url": archiveURL,
		"fragment_count":       strconv.Itoa(fragmentCount),
	}
	if err := r.store.HSet(ctx, docKey(id), fields); err != nil {
		return fmt.Errorf("update document %s: %w", id, err)
	}
	return nil
}

// Delete removes a document record and its subject index entry.
func (r *Repo) Delete(ctx context.Context, id string) error {
	d, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := r.store.SRem(ctx, subjectDocsKey(d.SubjectID), id); err != nil {
		return fmt.Errorf("unindex document %s: %w", id, err)
	}
	if err := r.store.Del(ctx, docKey(id)); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}
