package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"highscores/core"
)

// Storage layout:
//   - lb-counter             -> id allocator
//   - lb-info:{id}           -> hash: id, secret, private-secret, direction, order-by, webhook
//   - lb:{id}                -> sorted set of score:{id}:{name} members keyed by canonical score
//   - score:{id}:{name}      -> hash: name, value, time (best accepted submission)
const counterKey = "lb-counter"

const (
	fieldID            = "id"
	fieldSecret        = "secret"
	fieldPrivateSecret = "private-secret"
	fieldDirection     = "direction"
	fieldOrderBy       = "order-by"
	fieldWebhook       = "webhook"

	fieldName  = "name"
	fieldValue = "value"
	fieldTime  = "time"
)

func infoKey(id core.LeaderboardID) string { return fmt.Sprintf("lb-info:%d", id) }

func setKey(id core.LeaderboardID) string { return fmt.Sprintf("lb:%d", id) }

func scoreKey(id core.LeaderboardID, name string) string {
	return fmt.Sprintf("score:%d:%s", id, name)
}

// CreateOptions configures a new leaderboard.
type CreateOptions struct {
	Direction core.Direction
	OrderBy   core.OrderBy
	// SingleSecret skips the modify secret; the append secret then grants both tiers.
	SingleSecret bool
}

// Registry creates leaderboards and serves their configuration.
type Registry struct {
	store  Store
	logger *slog.Logger
}

func NewRegistry(store Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: store, logger: logger}
}

// NewSecret returns an unguessable token: a random UUID without dashes.
func NewSecret() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return strings.ReplaceAll(u.String(), "-", ""), nil
}

// Create allocates the next id and persists a new leaderboard.
func (r *Registry) Create(ctx context.Context, opts CreateOptions) (core.Leaderboard, error) {
	id, err := r.store.Incr(ctx, counterKey)
	if err != nil {
		return core.Leaderboard{}, err
	}
	lb := core.Leaderboard{
		ID:        core.LeaderboardID(id),
		Direction: opts.Direction,
		OrderBy:   opts.OrderBy,
	}
	if lb.AppendSecret, err = NewSecret(); err != nil {
		return core.Leaderboard{}, err
	}
	fields := map[string]string{
		fieldID:        strconv.FormatInt(id, 10),
		fieldSecret:    lb.AppendSecret,
		fieldDirection: lb.Direction.String(),
		fieldOrderBy:   lb.OrderBy.String(),
	}
	if !opts.SingleSecret {
		if lb.ModifySecret, err = NewSecret(); err != nil {
			return core.Leaderboard{}, err
		}
		fields[fieldPrivateSecret] = lb.ModifySecret
	}
	if err := r.store.HSet(ctx, infoKey(lb.ID), fields); err != nil {
		return core.Leaderboard{}, err
	}
	r.logger.Info("created leaderboard",
		"leaderboard", lb.ID,
		"direction", lb.Direction.String(),
		"order_by", lb.OrderBy.String(),
		"single_secret", opts.SingleSecret)
	return lb, nil
}

// GetConfig returns the ranking configuration. Missing direction or order-by
// fields fall back to Descending and Value.
func (r *Registry) GetConfig(ctx context.Context, id core.LeaderboardID) (core.LeaderboardConfig, error) {
	values, err := r.store.HGet(ctx, infoKey(id), fieldID, fieldSecret, fieldDirection, fieldOrderBy)
	if err != nil {
		return core.LeaderboardConfig{}, err
	}
	if len(values) == 0 {
		return core.LeaderboardConfig{}, fmt.Errorf("leaderboard %d: %w", id, core.ErrNotFound)
	}
	return core.LeaderboardConfig{
		ID:        id,
		Direction: core.ParseDirection(values[fieldDirection]),
		OrderBy:   core.ParseOrderBy(values[fieldOrderBy]),
	}, nil
}

// SetWebhook overwrites the webhook target; an empty url clears it. The url is
// stored as given.
func (r *Registry) SetWebhook(ctx context.Context, id core.LeaderboardID, url string) error {
	if _, err := r.GetConfig(ctx, id); err != nil {
		return err
	}
	if url == "" {
		r.logger.Info("clearing webhook", "leaderboard", id)
		return r.store.HDel(ctx, infoKey(id), fieldWebhook)
	}
	r.logger.Info("setting webhook", "leaderboard", id)
	return r.store.HSet(ctx, infoKey(id), map[string]string{fieldWebhook: url})
}

// GetWebhook returns the configured webhook or "" when none is set.
func (r *Registry) GetWebhook(ctx context.Context, id core.LeaderboardID) (string, error) {
	values, err := r.store.HGet(ctx, infoKey(id), fieldID, fieldSecret, fieldWebhook)
	if err != nil {
		return "", err
	}
	if len(values) == 0 {
		return "", fmt.Errorf("leaderboard %d: %w", id, core.ErrNotFound)
	}
	return values[fieldWebhook], nil
}
