package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atenea-labs/atenea/internal/domain"
	"github.com/atenea-labs/atenea/internal/worker"
)

// fakeTaskStore keeps tasks in memory and enforces the same transition
// rules as the real repository.
type fakeTaskStore struct {
	mu    sync.Mutex
	tasks map[string]domain.Task
	now   func() time.Time
}

func (f *fakeTaskStore) Create(_ context.Context, t domain.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[t.ID] = t
	return nil
}

func (f *fakeTaskStore) Get(_ context.Context, id string) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return t, nil
}

func (f *fakeTaskStore) GetByDocument(_ context.Context, documentID string) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tasks {
		if t.DocumentID == documentID {
			return t, nil
		}
	}
	return domain.Task{}, domain.ErrTaskNotFound
}

func (f *fakeTaskStore) Transition(
	_ context.Context, id string, from, to domain.TaskStatus, errMsg string,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return domain.ErrTaskNotFound
	}
	if t.Status != from || !domain.CanTransition(from, to) {
		return domain.NewStateConflict(id, t.Status, to)
	}
	t.Status = to
	t.UpdatedAt = f.now()
	if errMsg != "" {
		t.ErrorMessage = errMsg
	}
	f.tasks[id] = t
	return nil
}

func (f *fakeTaskStore) ClaimOldestPending(ctx context.Context) (domain.Task, bool, error) {
	f.mu.Lock()
	var pending []domain.Task
	for _, t := range f.tasks {
		if t.Status == domain.TaskPending {
			pending = append(pending, t)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].CreatedAt.Before(pending[j].CreatedAt)
		}
		return pending[i].ID < pending[j].ID
	})
	f.mu.Unlock()

	if len(pending) == 0 {
		return domain.Task{}, false, nil
	}
	if err := f.Transition(ctx, pending[0].ID, domain.TaskPending, domain.TaskProcessing, ""); err != nil {
		return domain.Task{}, false, nil
	}
	claimed, err := f.Get(ctx, pending[0].ID)
	return claimed, err == nil, err
}

func (f *fakeTaskStore) ResetStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	f.mu.Lock()
	cutoff := f.now().Add(-olderThan)
	var stuck []string
	for _, t := range f.tasks {
		if t.Status == domain.TaskProcessing && !t.UpdatedAt.After(cutoff) {
			stuck = append(stuck, t.ID)
		}
	}
	// Like the real repository, the sweep force-transitions stuck tasks
	// back to pending without consulting domain.CanTransition.
	for _, id := range stuck {
		t := f.tasks[id]
		t.Status = domain.TaskPending
		t.UpdatedAt = f.now()
		f.tasks[id] = t
	}
	f.mu.Unlock()
	return len(stuck), nil
}

func (f *fakeTaskStore) Stats(_ context.Context) (domain.TaskStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var s domain.TaskStats
	for _, t := range f.tasks {
		switch t.Status {
		case domain.TaskPending:
			s.Pending++
		case domain.TaskProcessing:
			s.Processing++
		case domain.TaskCompleted:
			s.Completed++
		case domain.TaskError:
			s.Error++
		}
	}
	return s, nil
}

func (f *fakeTaskStore) DeleteByDocument(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, t := range f.tasks {
		if t.DocumentID == documentID {
			delete(f.tasks, id)
		}
	}
	return nil
}

type fakeDocStore struct {
	mu   sync.Mutex
	docs map[string]domain.Document
}

func (f *fakeDocStore) Create(_ context.Context, d domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[d.ID] = d
	return nil
}

func (f *fakeDocStore) Get(_ context.Context, id string) (domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return domain.Document{}, domain.ErrDocumentNotFound
	}
	return d, nil
}

func (f *fakeDocStore) SetIngestionResult(_ context.Context, id, archiveURL string, fragmentCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	d.FragmentArchiveURL = archiveURL
	d.FragmentCount = fragmentCount
	f.docs[id] = d
	return nil
}

func (f *fakeDocStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[id]; !ok {
		return domain.ErrDocumentNotFound
	}
	delete(f.docs, id)
	return nil
}

type fakeChunkStore struct {
	mu        sync.Mutex
	byDoc     map[string]int
	ingestErr error
}

func (f *fakeChunkStore) Ingest(
	_ context.Context, documentID, _ string, fragments []domain.Fragment,
) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ingestErr != nil {
		return 0, f.ingestErr
	}
	f.byDoc[documentID] = len(fragments)
	return len(fragments), nil
}

func (f *fakeChunkStore) DeleteByDocument(_ context.Context, documentID, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.byDoc[documentID]
	delete(f.byDoc, documentID)
	return n, nil
}

type fakeWorker struct {
	result  worker.Result
	err     error
	gotDesc worker.Descriptor
	calls   int
}

func (f *fakeWorker) Run(_ context.Context, d worker.Descriptor) (worker.Result, error) {
	f.calls++
	f.gotDesc = d
	if f.err != nil {
		return worker.Result{}, f.err
	}
	return f.result, nil
}

type env struct {
	svc    *Service
	tasks  *fakeTaskStore
	docs   *fakeDocStore
	chunks *fakeChunkStore
	worker *fakeWorker
	clock  *time.Time
}

func newTestEnv() *env {
	start := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	current := start
	now := func() time.Time { return current }

	tasks := &fakeTaskStore{tasks: make(map[string]domain.Task), now: now}
	docs := &fakeDocStore{docs: make(map[string]domain.Document)}
	chunks := &fakeChunkStore{byDoc: make(map[string]int)}
	w := &fakeWorker{}

	svc := New(tasks, docs, chunks, w, Config{
		StuckAfter:  8 * time.Minute,
		MaxErrorLen: 500,
	}, zap.NewNop()).WithClock(now)

	return &env{svc: svc, tasks: tasks, docs: docs, chunks: chunks, worker: w, clock: &current}
}

func fragments(n int) []domain.Fragment {
	out := make([]domain.Fragment, n)
	for i := range out {
		out[i] = domain.Fragment{Text: "fragmento", Embedding: []float32{1, 0}}
	}
	return out
}
