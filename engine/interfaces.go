package engine

import (
	"context"

	"highscores/core"
)

// Record is an auxiliary hash written together with a successful conditional
// score update.
type Record struct {
	Key    string
	Fields map[string]string
}

// Store abstracts the ordered key-value store every leaderboard lives in.
// Implementations wrap backend failures with core.ErrStoreUnavailable.
type Store interface {
	// Incr atomically increments key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// HSet writes fields into the hash at key.
	HSet(ctx context.Context, key string, fields map[string]string) error
	// HGet returns the requested fields that are present in the hash at key.
	HGet(ctx context.Context, key string, fields ...string) (map[string]string, error)
	// HDel removes fields from the hash at key.
	HDel(ctx context.Context, key string, fields ...string) error

	// SetScoreIf sets member's score in the sorted set at key when member is new
	// or score satisfies cond against the current score. When it does and
	// record.Key is set, record is written in the same atomic step.
	SetScoreIf(ctx context.Context, key, member string, score float64, cond core.Condition, record Record) (changed bool, err error)
	// Rank returns the zero-based position of member in the given order.
	Rank(ctx context.Context, key, member string, order core.Order) (rank int64, ok bool, err error)
	// Range returns members after skipping skip of them; take < 0 is unbounded.
	Range(ctx context.Context, key string, skip, take int64, order core.Order) ([]string, error)
	// Card returns the number of members of the sorted set at key.
	Card(ctx context.Context, key string) (int64, error)
	// Remove deletes member from the sorted set at key.
	Remove(ctx context.Context, key, member string) error

	// Del deletes key.
	Del(ctx context.Context, key string) error
	// Ping checks connectivity.
	Ping(ctx context.Context) error
}
