// Package task persists ingestion tasks and their status indexes.
//
// Each task lives in a hash; a sorted set per status indexes task IDs by
// timestamp (created_at for pending, updated_at otherwise), so claiming
// the oldest pending task and sweeping stuck processing tasks are both
// range reads. Status transitions run as a Lua compare-and-swap that
// mutates the hash and moves the index membership atomically: under
// concurrent dispatch, exactly one caller wins the pending -> processing
// edge.
package task

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/atenea-labs/atenea/internal/db"
	"github.com/atenea-labs/atenea/internal/domain"
)

// transitionScript is the compare-and-swap transition. KEYS = {task hash,
// from index, to index}; ARGV = {from, to, updated_at, task id, to score,
// error message, keep_error}. Returns 1 on success, 0 when the task was
// not in the expected from state.
const transitionScript = `
local status = redis.call('HGET', KEYS[1], 'status')
if status ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'updated_at', ARGV[3])
if ARGV[7] == '0' then
  redis.call('HSET', KEYS[1], 'error_message', ARGV[6])
end
redis.call('ZREM', KEYS[2], ARGV[4])
redis.call('ZADD', KEYS[3], ARGV[5], ARGV[4])
return 1
`

// store is the consumer interface for tasks (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Del(ctx context.Context, key string) error
	Set(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRem(ctx context.Context, key string, member string) error
	ZRangeHead(ctx context.Context, key string, count int) ([]string, error)
	ZRangeByScoreMax(ctx context.Context, key string, maxScore float64) ([]string, error)
	ZCard(ctx context.Context, key string) (int64, error)
	Eval(ctx context.Context, script string, keys, args []string) (int64, error)
}

// Repo implements the task store used by the dispatcher.
type Repo struct {
	store store
	now   func() time.Time
}

// New creates a task repository.
func New(s store) *Repo {
	return &Repo{store: s, now: time.Now}
}

// WithClock overrides the time source (tests).
func (r *Repo) WithClock(now func() time.Time) *Repo {
	r.now = now
	return r
}

func taskKey(id string) string { return domain.KeyPrefix + "task:" + id }

func statusKey(s domain.TaskStatus) string {
	return domain.KeyPrefix + "tasks:" + string(s)
}

func docTaskKey(documentID string) string {
	return domain.KeyPrefix + "doc:" + documentID + ":task"
}

// Create persists a new task in pending state and indexes it by creation
// time. The document -> task link enforces the one-live-task-per-document
// relationship.
func (r *Repo) Create(ctx context.Context, t domain.Task) error {
	if err := r.store.HSet(ctx, taskKey(t.ID), marshalTask(t)); err != nil {
		return fmt.Errorf("store task %s: %w", t.ID, err)
	}
	if err := r.store.ZAdd(ctx, statusKey(t.Status), scoreOf(t.CreatedAt), t.ID); err != nil {
		return fmt.Errorf("index task %s: %w", t.ID, err)
	}
	if err := r.store.Set(ctx, docTaskKey(t.DocumentID), []byte(t.ID)); err != nil {
		return fmt.Errorf("link task %s to document %s: %w", t.ID, t.DocumentID, err)
	}
	return nil
}

// Get returns a task by ID.
func (r *Repo) Get(ctx context.Context, id string) (domain.Task, error) {
	fields, err := r.store.HGetAll(ctx, taskKey(id))
	if err != nil {
		return domain.Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	if len(fields) == 0 {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return unmarshalTask(fields)
}

// GetByDocument returns the task linked to a document.
func (r *Repo) GetByDocument(ctx context.Context, documentID string) (domain.Task, error) {
	id, err := r.store.Get(ctx, docTaskKey(documentID))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domain.Task{}, domain.ErrTaskNotFound
		}
		return domain.Task{}, fmt.Errorf("resolve task for document %s: %w", documentID, err)
	}
	return r.Get(ctx, string(id))
}

// Transition moves a task along a legal state machine edge. The swap is
// conditional on the task still being in from; losing the race yields a
// StateConflictError. errMsg is recorded on the task for transitions into
// error and preserved as audit history on every other edge.
func (r *Repo) Transition(ctx context.Context, id string, from, to domain.TaskStatus, errMsg string) error {
	if !domain.CanTransition(from, to) {
		return domain.NewStateConflict(id, from, to)
	}

	now := r.now()
	keepError := "1"
	if to == domain.TaskError {
		keepError = "0"
	}

	ok, err := r.store.Eval(ctx, transitionScript,
		[]string{taskKey(id), statusKey(from), statusKey(to)},
		[]string{
			string(from), string(to),
			now.UTC().Format(time.RFC3339Nano),
			id,
			strconv.FormatFloat(scoreOf(now), 'f', -1, 64),
			errMsg,
			keepError,
		},
	)
	if err != nil {
		return fmt.Errorf("transition task %s: %w", id, err)
	}
	if ok == 0 {
		return domain.NewStateConflict(id, from, to)
	}
	return nil
}

// ClaimOldestPending atomically claims the single oldest pending task
// (creation order, id tiebreak) and moves it to processing. Returns
// ok=false when no task is eligible, including when a concurrent
// dispatcher won the claim.
func (r *Repo) ClaimOldestPending(ctx context.Context) (domain.Task, bool, error) {
	ids, err := r.store.ZRangeHead(ctx, statusKey(domain.TaskPending), 1)
	if err != nil {
		return domain.Task{}, false, fmt.Errorf("list pending tasks: %w", err)
	}
	if len(ids) == 0 {
		return domain.Task{}, false, nil
	}

	id := ids[0]
	err = r.Transition(ctx, id, domain.TaskPending, domain.TaskProcessing, "")
	if err != nil {
		if errors.Is(err, domain.ErrStateConflict) {
			// Lost the race: the other invocation observes no eligible task.
			return domain.Task{}, false, nil
		}
		return domain.Task{}, false, err
	}

	t, err := r.Get(ctx, id)
	if err != nil {
		return domain.Task{}, false, err
	}
	return t, true, nil
}

// ResetStuck force-transitions processing tasks older than olderThan back
// to pending, re-indexed by their original creation time so they keep
// their place in the queue. Idempotent: a second run with no time passing
// finds nothing left to reset.
func (r *Repo) ResetStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := scoreOf(r.now().Add(-olderThan))
	ids, err := r.store.ZRangeByScoreMax(ctx, statusKey(domain.TaskProcessing), cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stuck tasks: %w", err)
	}

	reset := 0
	for _, id := range ids {
		t, err := r.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrTaskNotFound) {
				continue
			}
			return reset, err
		}

		now := r.now()
		ok, err := r.store.Eval(ctx, transitionScript,
			[]string{taskKey(id), statusKey(domain.TaskProcessing), statusKey(domain.TaskPending)},
			[]string{
				string(domain.TaskProcessing), string(domain.TaskPending),
				now.UTC().Format(time.RFC3339Nano),
				id,
				strconv.FormatFloat(scoreOf(t.CreatedAt), 'f', -1, 64),
				"", "1",
			},
		)
		if err != nil {
			return reset, fmt.Errorf("reset stuck task %s: %w", id, err)
		}
		if ok == 1 {
			reset++
		}
	}
	return reset, nil
}

// Stats returns per-status task counts.
func (r *Repo) Stats(ctx context.Context) (domain.TaskStats, error) {
	var stats domain.TaskStats
	counts := []struct {
		status domain.TaskStatus
		out    *int
	}{
		{domain.TaskPending, &stats.Pending},
		{domain.TaskProcessing, &stats.Processing},
		{domain.TaskCompleted, &stats.Completed},
		{domain.TaskError, &stats.Error},
	}
	for _, c := range counts {
		n, err := r.store.ZCard(ctx, statusKey(c.status))
		if err != nil {
			return domain.TaskStats{}, fmt.Errorf("count %s tasks: %w", c.status, err)
		}
		*c.out = int(n)
	}
	return stats, nil
}

// DeleteByDocument removes the task linked to a document, including its
// status index entry. Used only by cascading document deletion.
func (r *Repo) DeleteByDocument(ctx context.Context, documentID string) error {
	t, err := r.GetByDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			return nil
		}
		return err
	}
	if err := r.store.ZRem(ctx, statusKey(t.Status), t.ID); err != nil {
		return fmt.Errorf("unindex task %s: %w", t.ID, err)
	}
	if err := r.store.Del(ctx, taskKey(t.ID)); err != nil {
		return fmt.Errorf("delete task %s: %w", t.ID, err)
	}
	if err := r.store.Del(ctx, docTaskKey(documentID)); err != nil {
		return fmt.Errorf("unlink task %s: %w", t.ID, err)
	}
	return nil
}

func scoreOf(t time.Time) float64 {
	return float64(t.UnixNano())
}
