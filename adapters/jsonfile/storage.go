package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"highscores/adapters/memory"
	"highscores/core"
	"highscores/engine"
)

// Store keeps state in memory and rewrites a single JSON snapshot after
// every mutation. Suitable for demos and small deployments.
type Store struct {
	path string
	mu   sync.Mutex
	mem  *memory.Store
}

func New(path string) (*Store, error) {
	s := &Store{path: path, mem: memory.New()}
	if err := s.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, core.StoreError("load snapshot", err)
		}
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var snap memory.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return err
	}
	s.mem.Restore(snap)
	return nil
}

func (s *Store) persist() error {
	tmp := s.path + ".tmp"
	b, err := json.MarshalIndent(s.mem.Snapshot(), "", "  ")
	if err != nil {
		return core.StoreError("persist", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return core.StoreError("persist", err)
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return core.StoreError("persist", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return core.StoreError("persist", err)
	}
	return nil
}

// mutate runs fn and persists the result while holding the write lock.
func (s *Store) mutate(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(); err != nil {
		return err
	}
	return s.persist()
}

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.mutate(func() (err error) {
		n, err = s.mem.Incr(ctx, key)
		return err
	})
	return n, err
}

func (s *Store) HSet(ctx context.Context, key string, fields map[string]string) error {
	return s.mutate(func() error { return s.mem.HSet(ctx, key, fields) })
}

func (s *Store) HGet(ctx context.Context, key string, fields ...string) (map[string]string, error) {
	return s.mem.HGet(ctx, key, fields...)
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) error {
	return s.mutate(func() error { return s.mem.HDel(ctx, key, fields...) })
}

func (s *Store) SetScoreIf(ctx context.Context, key, member string, score float64, cond core.Condition, record engine.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed, err := s.mem.SetScoreIf(ctx, key, member, score, cond, record)
	if err != nil || !changed {
		return changed, err
	}
	return true, s.persist()
}

func (s *Store) Rank(ctx context.Context, key, member string, order core.Order) (int64, bool, error) {
	return s.mem.Rank(ctx, key, member, order)
}

func (s *Store) Range(ctx context.Context, key string, skip, take int64, order core.Order) ([]string, error) {
	return s.mem.Range(ctx, key, skip, take, order)
}

func (s *Store) Card(ctx context.Context, key string) (int64, error) {
	return s.mem.Card(ctx, key)
}

func (s *Store) Remove(ctx context.Context, key, member string) error {
	return s.mutate(func() error { return s.mem.Remove(ctx, key, member) })
}

func (s *Store) Del(ctx context.Context, key string) error {
	return s.mutate(func() error { return s.mem.Del(ctx, key) })
}

func (s *Store) Ping(context.Context) error { return nil }

var _ engine.Store = (*Store)(nil)
