// Package dispatch owns the ingestion lifecycle: document registration,
// one-task-at-a-time processing, reprocessing, and cascade deletion.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atenea-labs/atenea/internal/domain"
	"github.com/atenea-labs/atenea/internal/metrics"
	"github.com/atenea-labs/atenea/internal/worker"
)

// Service is the ingestion dispatcher.
type Service struct {
	tasks  TaskStore
	docs   DocumentStore
	chunks ChunkStore
	worker Worker

	stuckAfter  time.Duration
	maxErrorLen int

	now   func() time.Time
	newID func() string

	logger *zap.Logger
}

// Config holds dispatcher tuning.
type Config struct {
	StuckAfter  time.Duration
	MaxErrorLen int
}

// New creates a dispatch service.
func New(tasks TaskStore, docs DocumentStore, chunks ChunkStore, w Worker, cfg Config, logger *zap.Logger) *Service {
	return &Service{
		tasks:       tasks,
		docs:        docs,
		chunks:      chunks,
		worker:      w,
		stuckAfter:  cfg.StuckAfter,
		maxErrorLen: cfg.MaxErrorLen,
		now:         time.Now,
		newID:       uuid.NewString,
		logger:      logger,
	}
}

// WithClock substitutes the time source. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Result reports one dispatcher invocation.
type Result struct {
	Processed bool              `json:"processed"`
	TaskID    string            `json:"task_id,omitempty"`
	Status    domain.TaskStatus `json:"status,omitempty"`
	Detail    string            `json:"detail"`
}

// Dispatch runs one ingestion cycle: sweep stuck tasks, claim the
// oldest pending task, run the worker, persist its output. Exactly one
// task is processed per call; callers wanting throughput invoke it on
// an interval.
func (s *Service) Dispatch(ctx context.Context) (Result, error) {
	if _, err := s.sweep(ctx); err != nil {
		return Result{}, err
	}

	task, ok, err := s.tasks.ClaimOldestPending(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("claim task: %w", err)
	}
	if !ok {
		metrics.DispatchCyclesTotal.WithLabelValues("idle").Inc()
		return Result{Processed: false, Detail: "no pending tasks"}, nil
	}

	logger := s.logger.With(
		zap.String("task_id", task.ID),
		zap.String("document_id", task.DocumentID))
	logger.Info("Task claimed")

	doc, err := s.docs.Get(ctx, task.DocumentID)
	if err != nil {
		return s.failTask(ctx, task.ID, fmt.Sprintf("document record unavailable: %v", err), logger)
	}

	res, err := s.worker.Run(ctx, worker.Descriptor{
		ID:       doc.ID,
		Filename: doc.Filename,
		URL:      doc.SourceURL,
	})
	if err != nil {
		return s.failTask(ctx, task.ID, err.Error(), logger)
	}

	count, err := s.chunks.Ingest(ctx, doc.ID, doc.SubjectID, res.Fragments)
	if err != nil {
		return s.failTask(ctx, task.ID, fmt.Sprintf("chunk ingestion failed: %v", err), logger)
	}

	archiveURL := res.ArchiveURL
	if archiveURL == "" {
		archiveURL = fmt.Sprintf("embeddings/%s-%d.json", doc.ID, s.now().Unix())
	}
	if err := s.docs.SetIngestionResult(ctx, doc.ID, archiveURL, count); err != nil {
		return s.failTask(ctx, task.ID, fmt.Sprintf("document update failed: %v", err), logger)
	}

	if err := s.tasks.Transition(ctx, task.ID, domain.TaskProcessing, domain.TaskCompleted, ""); err != nil {
		return Result{}, fmt.Errorf("complete task %s: %w", task.ID, err)
	}

	metrics.DispatchCyclesTotal.WithLabelValues("processed").Inc()
	metrics.ChunksIngestedTotal.Add(float64(count))
	logger.Info("Task completed", zap.Int("chunks", count))

	return Result{
		Processed: true,
		TaskID:    task.ID,
		Status:    domain.TaskCompleted,
		Detail:    fmt.Sprintf("ingested %d chunks", count),
	}, nil
}

// failTask records a classified diagnostic on the task and moves it to
// error. Worker failures never crash the dispatcher.
func (s *Service) failTask(ctx context.Context, taskID, msg string, logger *zap.Logger) (Result, error) {
	msg = truncate(msg, s.maxErrorLen)

	if err := s.tasks.Transition(ctx, taskID, domain.TaskProcessing, domain.TaskError, msg); err != nil {
		return Result{}, fmt.Errorf("record failure on task %s: %w", taskID, err)
	}

	metrics.DispatchCyclesTotal.WithLabelValues("failed").Inc()
	logger.Warn("Task failed", zap.String("reason", msg))

	return Result{
		Processed: true,
		TaskID:    taskID,
		Status:    domain.TaskError,
		Detail:    msg,
	}, nil
}

func (s *Service) sweep(ctx context.Context) (int, error) {
	reset, err := s.tasks.ResetStuck(ctx, s.stuckAfter)
	if err != nil {
		return 0, fmt.Errorf("reset stuck tasks: %w", err)
	}
	if reset > 0 {
		metrics.TasksResetTotal.Add(float64(reset))
		s.logger.Warn("Stuck tasks returned to pending", zap.Int("count", reset))
	}
	return reset, nil
}

// QueueStats is the dispatcher's queue health report.
type QueueStats struct {
	Stats          domain.TaskStats `json:"stats"`
	ResetCount     int              `json:"reset_count"`
	Recommendation string           `json:"recommendation"`
}

// Stats sweeps stuck tasks and reports queue counts with a coarse
// operator recommendation.
func (s *Service) Stats(ctx context.Context) (QueueStats, error) {
	reset, err := s.sweep(ctx)
	if err != nil {
		return QueueStats{}, err
	}

	stats, err := s.tasks.Stats(ctx)
	if err != nil {
		return QueueStats{}, fmt.Errorf("read task stats: %w", err)
	}

	return QueueStats{
		Stats:          stats,
		ResetCount:     reset,
		Recommendation: recommend(stats, reset),
	}, nil
}

func recommend(stats domain.TaskStats, reset int) string {
	switch {
	case reset > 0:
		return "stuck tasks were reset; check worker health before the next cycle"
	case stats.Pending > 10:
		return "queue is backing up; increase dispatch frequency"
	case stats.Error > 0:
		return "failed tasks present; review error messages and reprocess"
	default:
		return "queue healthy"
	}
}

// Reprocess returns an errored task to pending. Any other current
// status is rejected before touching the store.
func (s *Service) Reprocess(ctx context.Context, taskID string) (domain.Task, error) {
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if task.Status != domain.TaskError {
		return domain.Task{}, fmt.Errorf("%w: task %s is %s, only error tasks can be reprocessed",
			domain.ErrValidation, taskID, task.Status)
	}

	if err := s.tasks.Transition(ctx, taskID, domain.TaskError, domain.TaskPending, ""); err != nil {
		return domain.Task{}, err
	}
	s.logger.Info("Task queued for reprocessing", zap.String("task_id", taskID))
	return s.tasks.Get(ctx, taskID)
}

// TaskView is a task with its document summary, for status queries.
type TaskView struct {
	Task     domain.Task
	Document domain.Document
}

// TaskStatus returns the task and a summary of its document.
func (s *Service) TaskStatus(ctx context.Context, taskID string) (TaskView, error) {
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return TaskView{}, err
	}
	doc, err := s.docs.Get(ctx, task.DocumentID)
	if err != nil {
		return TaskView{}, err
	}
	return TaskView{Task: task, Document: doc}, nil
}

// RegisterDocument records an uploaded document and queues its
// ingestion task.
func (s *Service) RegisterDocument(
	ctx context.Context, filename, sourceURL, subjectID string,
) (domain.Document, domain.Task, error) {
	if filename == "" || sourceURL == "" || subjectID == "" {
		return domain.Document{}, domain.Task{},
			fmt.Errorf("%w: filename, source_url and subject_id are required", domain.ErrValidation)
	}

	now := s.now().UTC()
	doc := domain.Document{
		ID:        s.newID(),
		Filename:  filename,
		SourceURL: sourceURL,
		SubjectID: subjectID,
		CreatedAt: now,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		return domain.Document{}, domain.Task{}, err
	}

	task := domain.Task{
		ID:         s.newID(),
		DocumentID: doc.ID,
		Status:     domain.TaskPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return domain.Document{}, domain.Task{}, err
	}

	s.logger.Info("Document registered",
		zap.String("document_id", doc.ID),
		zap.String("task_id", task.ID),
		zap.String("subject_id", subjectID))
	return doc, task, nil
}

// DeleteDocument removes a document with its chunks and task.
func (s *Service) DeleteDocument(ctx context.Context, documentID string) error {
	doc, err := s.docs.Get(ctx, documentID)
	if err != nil {
		return err
	}

	removed, err := s.chunks.DeleteByDocument(ctx, documentID, doc.SubjectID)
	if err != nil {
		return fmt.Errorf("delete chunks of document %s: %w", documentID, err)
	}
	if err := s.tasks.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete task of document %s: %w", documentID, err)
	}
	if err := s.docs.Delete(ctx, documentID); err != nil {
		return err
	}

	s.logger.Info("Document deleted",
		zap.String("document_id", documentID),
		zap.Int("chunks_removed", removed))
	return nil
}

func truncate(msg string, limit int) string {
	if limit > 0 && len(msg) > limit {
		return msg[:limit]
	}
	return msg
}
