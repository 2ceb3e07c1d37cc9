package task

import (
	"fmt"
	"time"

	"github.com/atenea-labs/atenea/internal/domain"
)

func marshalTask(t domain.Task) map[string]string {
	return map[string]string{
		"id":            t.ID,
		"document_id":   t.DocumentID,
		"status":        string(t.Status),
		"error_message": t.ErrorMessage,
		"created_at":    t.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":    t.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func unmarshalTask(fields map[string]string) (domain.Task, error) {
	status := domain.TaskStatus(fields["status"])
	if !status.Valid() {
		return domain.Task{}, fmt.Errorf("task %s: unknown status %q", fields["id"], fields["status"])
	}

	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s: parse created_at: %w", fields["id"], err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, fields["updated_at"])
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s: parse updated_at: %w", fields["id"], err)
	}

	return domain.Task{
		ID:           fields["id"],
		DocumentID:   fields["document_id"],
		Status:       status,
		ErrorMessage: fields["error_message"],
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}, nil
}
