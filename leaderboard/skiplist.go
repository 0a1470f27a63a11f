package leaderboard

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

// An indexable skip list keyed by (score asc, member asc). Every forward link
// carries its span (the number of level-0 hops it covers) so rank lookups and
// positional ranges stay O(log n).

const maxLevel = 32
const pFactor = 0.25

type node struct {
	e    Entry
	prev *node
	next [maxLevel]*node
	span [maxLevel]int
}

type SkipList struct {
	mu       sync.RWMutex
	head     *node
	lvl      int
	length   int
	byMember map[string]*node
	rng      *rand.Rand
}

func NewSkipList() *SkipList {
	// Use crypto/rand to generate a secure seed for PCG
	var seed [16]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		seed = [16]byte{}
	}
	seed1 := binary.BigEndian.Uint64(seed[:8])
	seed2 := binary.BigEndian.Uint64(seed[8:])

	return &SkipList{
		head:     &node{},
		lvl:      1,
		byMember: map[string]*node{},
		rng:      rand.New(rand.NewPCG(seed1, seed2)),
	}
}

func (s *SkipList) randomLevel() int {
	lvl := 1
	for lvl < maxLevel && s.rng.Float64() < pFactor {
		lvl++
	}
	return lvl
}

func less(a, b Entry) bool {
	if a.Score == b.Score {
		return a.Member < b.Member
	}
	return a.Score < b.Score
}

// Set inserts member or moves it to score.
func (s *SkipList) Set(member string, score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byMember[member]; ok {
		if old.e.Score == score {
			return
		}
		s.removeLocked(old.e)
	}
	s.insertLocked(Entry{Member: member, Score: score})
}

func (s *SkipList) insertLocked(e Entry) {
	var update [maxLevel]*node
	var rank [maxLevel]int
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		if i < s.lvl-1 {
			rank[i] = rank[i+1]
		}
		for cur.next[i] != nil && less(cur.next[i].e, e) {
			rank[i] += cur.span[i]
			cur = cur.next[i]
		}
		update[i] = cur
	}
	lvl := s.randomLevel()
	if lvl > s.lvl {
		for i := s.lvl; i < lvl; i++ {
			rank[i] = 0
			update[i] = s.head
			update[i].span[i] = s.length
		}
		s.lvl = lvl
	}
	n := &node{e: e}
	for i := 0; i < lvl; i++ {
		n.next[i] = update[i].next[i]
		update[i].next[i] = n
		n.span[i] = update[i].span[i] - (rank[0] - rank[i])
		update[i].span[i] = rank[0] - rank[i] + 1
	}
	for i := lvl; i < s.lvl; i++ {
		update[i].span[i]++
	}
	if update[0] != s.head {
		n.prev = update[0]
	}
	if n.next[0] != nil {
		n.next[0].prev = n
	}
	s.length++
	s.byMember[e.Member] = n
}

func (s *SkipList) removeLocked(e Entry) bool {
	var update [maxLevel]*node
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && less(cur.next[i].e, e) {
			cur = cur.next[i]
		}
		update[i] = cur
	}
	target := update[0].next[0]
	if target == nil || target.e.Member != e.Member {
		return false
	}
	for i := 0; i < s.lvl; i++ {
		if update[i].next[i] == target {
			update[i].span[i] += target.span[i] - 1
			update[i].next[i] = target.next[i]
		} else {
			update[i].span[i]--
		}
	}
	if target.next[0] != nil {
		target.next[0].prev = target.prev
	}
	for s.lvl > 1 && s.head.next[s.lvl-1] == nil {
		s.lvl--
	}
	s.length--
	delete(s.byMember, e.Member)
	return true
}

// Remove deletes member and reports whether it was present.
func (s *SkipList) Remove(member string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.byMember[member]; ok {
		return s.removeLocked(n.e)
	}
	return false
}

// Score returns the current score of member.
func (s *SkipList) Score(member string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.byMember[member]; ok {
		return n.e.Score, true
	}
	return 0, false
}

// Rank returns the zero-based position of member, counted from the highest entry
// when reverse is set.
func (s *SkipList) Rank(member string, reverse bool) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.byMember[member]
	if !ok {
		return 0, false
	}
	rank := 0
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && !less(n.e, cur.next[i].e) {
			rank += cur.span[i]
			cur = cur.next[i]
		}
		if cur == n {
			break
		}
	}
	if reverse {
		return s.length - rank, true
	}
	return rank - 1, true
}

// nodeAt returns the node at 1-based position pos.
func (s *SkipList) nodeAt(pos int) *node {
	if pos < 1 || pos > s.length {
		return nil
	}
	traversed := 0
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && traversed+cur.span[i] <= pos {
			traversed += cur.span[i]
			cur = cur.next[i]
		}
		if traversed == pos {
			return cur
		}
	}
	return nil
}

// Range returns up to take entries after skipping skip of them. A negative take
// returns everything after skip. With reverse the enumeration starts from the
// highest entry.
func (s *SkipList) Range(skip, take int, reverse bool) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if skip < 0 {
		skip = 0
	}
	if skip >= s.length || take == 0 {
		return nil
	}
	remaining := s.length - skip
	if take < 0 || take > remaining {
		take = remaining
	}
	out := make([]Entry, 0, take)
	if reverse {
		for cur := s.nodeAt(s.length - skip); cur != nil && len(out) < take; cur = cur.prev {
			out = append(out, cur.e)
		}
		return out
	}
	for cur := s.nodeAt(skip + 1); cur != nil && len(out) < take; cur = cur.next[0] {
		out = append(out, cur.e)
	}
	return out
}

// Each calls fn for every entry in ascending order until fn returns false.
// fn must not modify the list.
func (s *SkipList) Each(fn func(Entry) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for cur := s.head.next[0]; cur != nil; cur = cur.next[0] {
		if !fn(cur.e) {
			return
		}
	}
}

// Len returns the number of members.
func (s *SkipList) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.length
}

var _ Board = (*SkipList)(nil)
