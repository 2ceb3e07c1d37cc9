package chunk

import (
	"context"
	"errors"
	"sync"

	"github.com/atenea-labs/atenea/internal/db"
)

var errInjected = errors.New("injected store failure")

// fakeStore is an in-memory hash+set store with fault injection for the
// ingest rollback paths.
type fakeStore struct {
	mu     sync.Mutex
	hashes map[string]map[string]string
	sets   map[string]map[string]bool

	failHSetMulti bool
	failSAddKey   string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		hashes: make(map[string]map[string]string),
		sets:   make(map[string]map[string]bool),
	}
}

func (f *fakeStore) HSetMulti(_ context.Context, items []db.HashSetItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failHSetMulti {
		return errInjected
	}
	for _, it := range items {
		h := f.hashes[it.Key]
		if h == nil {
			h = make(map[string]string)
			f.hashes[it.Key] = h
		}
		for k, v := range it.Fields {
			h[k] = v
		}
	}
	return nil
}

func (f *fakeStore) HGetAllMulti(_ context.Context, keys []string) ([]map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]string, len(keys))
	for i, key := range keys {
		m := make(map[string]string, len(f.hashes[key]))
		for k, v := range f.hashes[key] {
			m[k] = v
		}
		out[i] = m
	}
	return out, nil
}

func (f *fakeStore) DelMulti(_ context.Context, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.hashes, key)
		delete(f.sets, key)
	}
	return nil
}

func (f *fakeStore) SAdd(_ context.Context, key string, members ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSAddKey != "" && key == f.failSAddKey {
		return errInjected
	}
	s := f.sets[key]
	if s == nil {
		s = make(map[string]bool)
		f.sets[key] = s
	}
	for _, m := range members {
		s[m] = true
	}
	return nil
}

func (f *fakeStore) SRem(_ context.Context, key string, members ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range members {
		delete(f.sets[key], m)
	}
	return nil
}

func (f *fakeStore) SMembers(_ context.Context, key string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sets[key]))
	for m := range f.sets[key] {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeStore) chunkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.hashes)
}
