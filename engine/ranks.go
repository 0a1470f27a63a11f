package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"highscores/core"
)

// Ranks answers rank and range queries. Sets are stored in canonical ascending
// order (see canonicalScore) so rank 1 is always the first ascending member.
type Ranks struct {
	store    Store
	registry *Registry
	logger   *slog.Logger
}

func NewRanks(store Store, registry *Registry, logger *slog.Logger) *Ranks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ranks{store: store, registry: registry, logger: logger}
}

func (r *Ranks) rankOf(ctx context.Context, id core.LeaderboardID, name string) (int64, error) {
	pos, ok, err := r.store.Rank(ctx, setKey(id), scoreKey(id, name), core.OrderAscending)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%q on leaderboard %d: %w", name, id, core.ErrNotFound)
	}
	return pos + 1, nil
}

// GetRank returns the 1-based rank of name.
func (r *Ranks) GetRank(ctx context.Context, id core.LeaderboardID, name string) (int64, error) {
	if _, err := r.registry.GetConfig(ctx, id); err != nil {
		return 0, err
	}
	return r.rankOf(ctx, id, name)
}

// GetEntry returns name's best score with its rank.
func (r *Ranks) GetEntry(ctx context.Context, id core.LeaderboardID, name string) (core.Score, error) {
	rank, err := r.GetRank(ctx, id, name)
	if err != nil {
		return core.Score{}, err
	}
	score, ok, err := r.loadRecord(ctx, scoreKey(id, name))
	if err != nil {
		return core.Score{}, err
	}
	if !ok {
		return core.Score{}, fmt.Errorf("%q on leaderboard %d: %w", name, id, core.ErrNotFound)
	}
	score.Rank = rank
	return score, nil
}

// GetRange returns up to count entries after skipping skip of them, enumerated
// from the worst entry when reverse is set. A negative count is unbounded.
// Ranks are skip + position + 1. Members whose record is missing are skipped
// and the next members are fetched in their place.
func (r *Ranks) GetRange(ctx context.Context, id core.LeaderboardID, skip, count int64, reverse bool) ([]core.Score, error) {
	if _, err := r.registry.GetConfig(ctx, id); err != nil {
		return nil, err
	}
	if skip < 0 {
		skip = 0
	}
	order := core.OrderAscending
	if reverse {
		order = core.OrderDescending
	}

	out := make([]core.Score, 0)
	cursor := skip
	for count < 0 || int64(len(out)) < count {
		take := int64(-1)
		if count >= 0 {
			take = count - int64(len(out))
		}
		members, err := r.store.Range(ctx, setKey(id), cursor, take, order)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			score, ok, err := r.loadRecord(ctx, m)
			if err != nil {
				return nil, err
			}
			if !ok {
				r.logger.Warn("skipping orphaned member", "leaderboard", id, "member", m)
				continue
			}
			score.Rank = skip + int64(len(out)) + 1
			out = append(out, score)
		}
		if take < 0 || int64(len(members)) < take {
			break
		}
		cursor += int64(len(members))
	}
	return out, nil
}

// Count returns the number of entries on the leaderboard.
func (r *Ranks) Count(ctx context.Context, id core.LeaderboardID) (int64, error) {
	if _, err := r.registry.GetConfig(ctx, id); err != nil {
		return 0, err
	}
	return r.store.Card(ctx, setKey(id))
}

func (r *Ranks) loadRecord(ctx context.Context, key string) (core.Score, bool, error) {
	values, err := r.store.HGet(ctx, key, fieldName, fieldValue, fieldTime)
	if err != nil {
		return core.Score{}, false, err
	}
	name, ok := values[fieldName]
	if !ok {
		return core.Score{}, false, nil
	}
	value, err := strconv.ParseInt(values[fieldValue], 10, 64)
	if err != nil {
		r.logger.Warn("unreadable score value", "key", key, "error", err)
		return core.Score{}, false, nil
	}
	var t float64
	if raw := values[fieldTime]; raw != "" {
		if t, err = strconv.ParseFloat(raw, 64); err != nil {
			r.logger.Warn("unreadable score time", "key", key, "error", err)
			return core.Score{}, false, nil
		}
	}
	return core.Score{Name: name, Value: value, Time: t}, true, nil
}
