package engine

import (
	"context"
	"log/slog"
	"strconv"

	"highscores/core"
)

// canonicalScore maps a ranking key onto the stored score. Sets are always kept
// in ascending canonical order, so descending leaderboards store the negated
// key. Equal keys then tie-break by ascending member (and so by name) in both
// directions.
func canonicalScore(cfg core.LeaderboardConfig, value int64, time float64) float64 {
	key := cfg.RankingKey(value, time)
	if cfg.Direction == core.Descending {
		return -key
	}
	return key
}

// Scores commits best-score submissions.
type Scores struct {
	store    Store
	registry *Registry
	ranks    *Ranks
	logger   *slog.Logger
}

func NewScores(store Store, registry *Registry, ranks *Ranks, logger *slog.Logger) *Scores {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scores{store: store, registry: registry, ranks: ranks, logger: logger}
}

// Submit records a submission if it beats the player's current best and returns
// the player's rank afterwards. accepted reports whether the stored entry changed.
func (s *Scores) Submit(ctx context.Context, id core.LeaderboardID, name string, value int64, time float64) (rank int64, accepted bool, err error) {
	cfg, err := s.registry.GetConfig(ctx, id)
	if err != nil {
		return 0, false, err
	}

	score := canonicalScore(cfg, value, time)
	member := scoreKey(id, name)
	s.logger.Info("updating score",
		"leaderboard", id,
		"name", name,
		"ranking_key", cfg.RankingKey(value, time))

	accepted, err = s.store.SetScoreIf(ctx, setKey(id), member, score, core.LessThan, Record{
		Key: member,
		Fields: map[string]string{
			fieldName:  name,
			fieldValue: strconv.FormatInt(value, 10),
			fieldTime:  strconv.FormatFloat(time, 'g', -1, 64),
		},
	})
	if err != nil {
		return 0, false, err
	}
	if accepted {
		s.logger.Info("accepted new best", "leaderboard", id, "name", name, "value", value, "time", time)
	}

	rank, err = s.ranks.rankOf(ctx, id, name)
	if err != nil {
		return 0, accepted, err
	}
	return rank, accepted, nil
}

// Clear drops every entry of the leaderboard. Clearing an empty leaderboard is a no-op.
func (s *Scores) Clear(ctx context.Context, id core.LeaderboardID) error {
	s.logger.Info("clearing leaderboard", "leaderboard", id)
	return s.store.Del(ctx, setKey(id))
}

// Delete removes one player's entry. The auxiliary record is left behind; no
// query reads it once the set no longer references it.
func (s *Scores) Delete(ctx context.Context, id core.LeaderboardID, name string) error {
	s.logger.Info("deleting score", "leaderboard", id, "name", name)
	return s.store.Remove(ctx, setKey(id), scoreKey(id, name))
}
