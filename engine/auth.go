package engine

import (
	"context"
	"crypto/subtle"
	"fmt"

	"highscores/core"
)

// Gate resolves and checks the two-tier leaderboard secrets.
type Gate struct {
	store Store
}

func NewGate(store Store) *Gate { return &Gate{store: store} }

func (g *Gate) secrets(ctx context.Context, id core.LeaderboardID) (core.Secrets, error) {
	values, err := g.store.HGet(ctx, infoKey(id), fieldID, fieldSecret, fieldPrivateSecret)
	if err != nil {
		return core.Secrets{}, err
	}
	if len(values) == 0 {
		return core.Secrets{}, fmt.Errorf("leaderboard %d: %w", id, core.ErrNotFound)
	}
	return core.Secrets{Append: values[fieldSecret], Modify: values[fieldPrivateSecret]}, nil
}

// ResolveAppendSecret returns the token that authorizes submissions.
func (g *Gate) ResolveAppendSecret(ctx context.Context, id core.LeaderboardID) (string, error) {
	s, err := g.secrets(ctx, id)
	if err != nil {
		return "", err
	}
	return s.For(core.TierAppend), nil
}

// ResolveModifySecret returns the modify secret, or the append secret for
// single-secret leaderboards.
func (g *Gate) ResolveModifySecret(ctx context.Context, id core.LeaderboardID) (string, error) {
	s, err := g.secrets(ctx, id)
	if err != nil {
		return "", err
	}
	return s.For(core.TierModify), nil
}

// CheckSecret compares presented against the token of tier in constant time.
// An empty resolved token never matches.
func (g *Gate) CheckSecret(ctx context.Context, id core.LeaderboardID, presented string, tier core.Tier) (bool, error) {
	s, err := g.secrets(ctx, id)
	if err != nil {
		return false, err
	}
	token := s.For(tier)
	if token == "" {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(presented)) == 1, nil
}

// Authorize is CheckSecret returning core.ErrUnauthorized on mismatch.
func (g *Gate) Authorize(ctx context.Context, id core.LeaderboardID, presented string, tier core.Tier) error {
	ok, err := g.CheckSecret(ctx, id, presented, tier)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("leaderboard %d %s secret: %w", id, tier, core.ErrUnauthorized)
	}
	return nil
}
