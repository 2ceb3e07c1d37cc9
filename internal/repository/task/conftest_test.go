package task

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/atenea-labs/atenea/internal/db"
	"github.com/atenea-labs/atenea/internal/domain"
)

// fakeStore is an in-memory store with Redis-like atomicity: every
// operation, including Eval, runs under one mutex. Eval interprets the
// transition script's contract directly so claim races behave as they
// would server-side.
type fakeStore struct {
	mu     sync.Mutex
	hashes map[string]map[string]string
	kv     map[string][]byte
	zsets  map[string]map[string]float64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		hashes: make(map[string]map[string]string),
		kv:     make(map[string][]byte),
		zsets:  make(map[string]map[string]float64),
	}
}

func (f *fakeStore) HSet(_ context.Context, key string, fields map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.hashes[key]
	if h == nil {
		h = make(map[string]string)
		f.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (f *fakeStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.hashes[key]))
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) Del(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.hashes, key)
	delete(f.kv, key)
	return nil
}

func (f *fakeStore) Set(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kv[key] = value
	return nil
}

func (f *fakeStore) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.kv[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (f *fakeStore) ZAdd(_ context.Context, key string, score float64, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zaddLocked(key, score, member)
	return nil
}

func (f *fakeStore) zaddLocked(key string, score float64, member string) {
	z := f.zsets[key]
	if z == nil {
		z = make(map[string]float64)
		f.zsets[key] = z
	}
	z[member] = score
}

func (f *fakeStore) ZRem(_ context.Context, key string, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.zsets[key], member)
	return nil
}

func (f *fakeStore) sortedMembersLocked(key string) []string {
	z := f.zsets[key]
	members := make([]string, 0, len(z))
	for m := range z {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		si, sj := z[members[i]], z[members[j]]
		if si != sj {
			return si < sj
		}
		return members[i] < members[j]
	})
	return members
}

func (f *fakeStore) ZRangeHead(_ context.Context, key string, count int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members := f.sortedMembersLocked(key)
	if len(members) > count {
		members = members[:count]
	}
	return members, nil
}

func (f *fakeStore) ZRangeByScoreMax(_ context.Context, key string, maxScore float64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sortedMembersLocked(key) {
		if f.zsets[key][m] <= maxScore {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) ZCard(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.zsets[key])), nil
}

// Eval implements the transition script contract: CAS on status plus
// index move, atomically.
func (f *fakeStore) Eval(_ context.Context, _ string, keys, args []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	taskHash, fromIdx, toIdx := keys[0], keys[1], keys[2]
	from, to, updatedAt, id, scoreStr, errMsg, keepError :=
		args[0], args[1], args[2], args[3], args[4], args[5], args[6]

	h := f.hashes[taskHash]
	if h == nil || h["status"] != from {
		return 0, nil
	}
	h["status"] = to
	h["updated_at"] = updatedAt
	if keepError == "0" {
		h["error_message"] = errMsg
	}
	delete(f.zsets[fromIdx], id)

	score, err := strconv.ParseFloat(scoreStr, 64)
	if err != nil {
		return 0, err
	}
	f.zaddLocked(toIdx, score, id)
	return 1, nil
}

// newTestRepo wires a repository to a fresh fake store with a
// controllable clock.
func newTestRepo(start time.Time) (*Repo, *fakeStore, *time.Time) {
	fs := newFakeStore()
	current := start
	repo := New(fs).WithClock(func() time.Time { return current })
	return repo, fs, &current
}

func pendingTask(id, docID string, createdAt time.Time) domain.Task {
	return domain.Task{
		ID:         id,
		DocumentID: docID,
		Status:     domain.TaskPending,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
}
