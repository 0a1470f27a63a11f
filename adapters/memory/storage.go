package memory

import (
	"context"
	"sync"

	"highscores/core"
	"highscores/engine"
	"highscores/leaderboard"
)

// Store is a concurrent in-memory ordered store. A single lock makes every
// conditional update and its record write one atomic step.
type Store struct {
	mu       sync.RWMutex
	counters map[string]int64
	hashes   map[string]map[string]string
	sets     map[string]*leaderboard.SkipList
}

func New() *Store {
	return &Store{
		counters: map[string]int64{},
		hashes:   map[string]map[string]string{},
		sets:     map[string]*leaderboard.SkipList{},
	}
}

func (s *Store) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key]++
	return s.counters[key], nil
}

func (s *Store) HSet(_ context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hsetLocked(key, fields)
	return nil
}

func (s *Store) hsetLocked(key string, fields map[string]string) {
	h := s.hashes[key]
	if h == nil {
		h = make(map[string]string, len(fields))
		s.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
}

func (s *Store) HGet(_ context.Context, key string, fields ...string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(fields))
	h := s.hashes[key]
	for _, f := range fields {
		if v, ok := h[f]; ok {
			out[f] = v
		}
	}
	return out, nil
}

func (s *Store) HDel(_ context.Context, key string, fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.hashes[key]
	for _, f := range fields {
		delete(h, f)
	}
	if h != nil && len(h) == 0 {
		delete(s.hashes, key)
	}
	return nil
}

func (s *Store) SetScoreIf(_ context.Context, key, member string, score float64, cond core.Condition, record engine.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.sets[key]
	if set == nil {
		set = leaderboard.NewSkipList()
		s.sets[key] = set
	}
	if current, ok := set.Score(member); ok {
		switch cond {
		case core.GreaterThan:
			if !(score > current) {
				return false, nil
			}
		case core.LessThan:
			if !(score < current) {
				return false, nil
			}
		}
	}
	set.Set(member, score)
	if record.Key != "" {
		s.hsetLocked(record.Key, record.Fields)
	}
	return true, nil
}

func (s *Store) Rank(_ context.Context, key, member string, order core.Order) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.sets[key]
	if set == nil {
		return 0, false, nil
	}
	r, ok := set.Rank(member, order == core.OrderDescending)
	return int64(r), ok, nil
}

func (s *Store) Range(_ context.Context, key string, skip, take int64, order core.Order) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.sets[key]
	if set == nil {
		return nil, nil
	}
	entries := set.Range(int(skip), int(take), order == core.OrderDescending)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Member
	}
	return out, nil
}

func (s *Store) Card(_ context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if set := s.sets[key]; set != nil {
		return int64(set.Len()), nil
	}
	return 0, nil
}

func (s *Store) Remove(_ context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set := s.sets[key]; set != nil {
		set.Remove(member)
		if set.Len() == 0 {
			delete(s.sets, key)
		}
	}
	return nil
}

func (s *Store) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, key)
	delete(s.hashes, key)
	delete(s.sets, key)
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

// SetMember is one sorted-set member in a Snapshot.
type SetMember struct {
	Member string  `json:"member"`
	Score  float64 `json:"score"`
}

// Snapshot is a point-in-time copy of the whole store.
type Snapshot struct {
	Counters map[string]int64             `json:"counters"`
	Hashes   map[string]map[string]string `json:"hashes"`
	Sets     map[string][]SetMember       `json:"sets"`
}

// Snapshot copies the store contents.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Counters: make(map[string]int64, len(s.counters)),
		Hashes:   make(map[string]map[string]string, len(s.hashes)),
		Sets:     make(map[string][]SetMember, len(s.sets)),
	}
	for k, v := range s.counters {
		snap.Counters[k] = v
	}
	for k, h := range s.hashes {
		cp := make(map[string]string, len(h))
		for f, v := range h {
			cp[f] = v
		}
		snap.Hashes[k] = cp
	}
	for k, set := range s.sets {
		members := make([]SetMember, 0, set.Len())
		set.Each(func(e leaderboard.Entry) bool {
			members = append(members, SetMember{Member: e.Member, Score: e.Score})
			return true
		})
		snap.Sets[k] = members
	}
	return snap
}

// Restore replaces the store contents with snap.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = map[string]int64{}
	s.hashes = map[string]map[string]string{}
	s.sets = map[string]*leaderboard.SkipList{}
	for k, v := range snap.Counters {
		s.counters[k] = v
	}
	for k, h := range snap.Hashes {
		s.hsetLocked(k, h)
	}
	for k, members := range snap.Sets {
		set := leaderboard.NewSkipList()
		for _, m := range members {
			set.Set(m.Member, m.Score)
		}
		s.sets[k] = set
	}
}

var _ engine.Store = (*Store)(nil)
