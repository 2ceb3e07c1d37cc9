package domain

import "time"

// Document is an uploaded course document registered for ingestion.
// FragmentArchiveURL and FragmentCount are set only after a successful
// ingestion cycle.
type Document struct {
	ID                 string
	Filename           string
	SourceURL          string
	FragmentArchiveURL string
	FragmentCount      int
	SubjectID          string
	CreatedAt          time.Time
}
