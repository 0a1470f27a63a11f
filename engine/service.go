package engine

import (
	"context"
	"log/slog"

	"highscores/core"
)

// Metrics receives engine outcomes. metrics.Manager implements it.
type Metrics interface {
	LeaderboardCreated()
	ScoreSubmitted(accepted bool)
	ScoresCleared()
	ScoreDeleted()
}

type nopMetrics struct{}

func (nopMetrics) LeaderboardCreated() {}
func (nopMetrics) ScoreSubmitted(bool) {}
func (nopMetrics) ScoresCleared() {}
func (nopMetrics) ScoreDeleted() {}

// Service wires the registry, gate, score store and rank queries behind
// secret-checked operations, and publishes domain events.
type Service struct {
	store    Store
	registry *Registry
	gate     *Gate
	scores   *Scores
	ranks    *Ranks
	bus      *EventBus
	metrics  Metrics
	logger   *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger used by every component.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

func NewService(store Store, bus *EventBus, opts ...ServiceOption) *Service {
	if store == nil || bus == nil {
		panic("NewService requires non-nil store and bus")
	}
	s := &Service{store: store, bus: bus, metrics: nopMetrics{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.registry = NewRegistry(store, s.logger)
	s.gate = NewGate(store)
	s.ranks = NewRanks(store, s.registry, s.logger)
	s.scores = NewScores(store, s.registry, s.ranks, s.logger)
	return s
}

// Registry exposes leaderboard configuration lookups.
func (s *Service) Registry() *Registry { return s.registry }

// Gate exposes secret resolution.
func (s *Service) Gate() *Gate { return s.gate }

// Subscribe convenience method.
func (s *Service) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	return s.bus.Subscribe(typ, handler)
}

func (s *Service) Publish(ctx context.Context, ev core.Event) {
	s.bus.Publish(ctx, ev)
}

// CreateLeaderboard creates a leaderboard and returns it with its secrets.
func (s *Service) CreateLeaderboard(ctx context.Context, opts CreateOptions) (core.Leaderboard, error) {
	lb, err := s.registry.Create(ctx, opts)
	if err != nil {
		return core.Leaderboard{}, err
	}
	s.metrics.LeaderboardCreated()
	s.bus.Publish(ctx, core.NewLeaderboardCreated(lb.ID))
	return lb, nil
}

// CheckSecret reports whether secret grants tier on the leaderboard.
func (s *Service) CheckSecret(ctx context.Context, id core.LeaderboardID, secret string, tier core.Tier) (bool, error) {
	return s.gate.CheckSecret(ctx, id, secret, tier)
}

// SubmitScore authorizes with the append tier, submits, and returns the player's rank.
func (s *Service) SubmitScore(ctx context.Context, id core.LeaderboardID, secret, name string, value int64, time float64) (int64, error) {
	if err := s.gate.Authorize(ctx, id, secret, core.TierAppend); err != nil {
		return 0, err
	}
	rank, accepted, err := s.scores.Submit(ctx, id, name, value, time)
	if err != nil {
		return 0, err
	}
	s.metrics.ScoreSubmitted(accepted)
	if accepted {
		s.bus.Publish(ctx, core.NewScoreAccepted(id, name, value, time, rank))
	}
	return rank, nil
}

// ClearScores authorizes with the modify tier and removes every entry.
func (s *Service) ClearScores(ctx context.Context, id core.LeaderboardID, secret string) error {
	if err := s.gate.Authorize(ctx, id, secret, core.TierModify); err != nil {
		return err
	}
	if err := s.scores.Clear(ctx, id); err != nil {
		return err
	}
	s.metrics.ScoresCleared()
	s.bus.Publish(ctx, core.NewScoresCleared(id))
	return nil
}

// DeleteScore authorizes with the modify tier and removes one entry.
func (s *Service) DeleteScore(ctx context.Context, id core.LeaderboardID, secret, name string) error {
	if err := s.gate.Authorize(ctx, id, secret, core.TierModify); err != nil {
		return err
	}
	if err := s.scores.Delete(ctx, id, name); err != nil {
		return err
	}
	s.metrics.ScoreDeleted()
	s.bus.Publish(ctx, core.NewScoreDeleted(id, name))
	return nil
}

// SetWebhook authorizes with the modify tier and sets or clears ("") the webhook.
// URL policy is enforced by the caller.
func (s *Service) SetWebhook(ctx context.Context, id core.LeaderboardID, secret, url string) error {
	if err := s.gate.Authorize(ctx, id, secret, core.TierModify); err != nil {
		return err
	}
	return s.registry.SetWebhook(ctx, id, url)
}

// GetWebhook authorizes with the modify tier and returns the webhook.
func (s *Service) GetWebhook(ctx context.Context, id core.LeaderboardID, secret string) (string, error) {
	if err := s.gate.Authorize(ctx, id, secret, core.TierModify); err != nil {
		return "", err
	}
	return s.registry.GetWebhook(ctx, id)
}

func (s *Service) Config(ctx context.Context, id core.LeaderboardID) (core.LeaderboardConfig, error) {
	return s.registry.GetConfig(ctx, id)
}

func (s *Service) Scores(ctx context.Context, id core.LeaderboardID, skip, count int64, reverse bool) ([]core.Score, error) {
	return s.ranks.GetRange(ctx, id, skip, count, reverse)
}

func (s *Service) Score(ctx context.Context, id core.LeaderboardID, name string) (core.Score, error) {
	return s.ranks.GetEntry(ctx, id, name)
}

func (s *Service) Rank(ctx context.Context, id core.LeaderboardID, name string) (int64, error) {
	return s.ranks.GetRank(ctx, id, name)
}

func (s *Service) Count(ctx context.Context, id core.LeaderboardID) (int64, error) {
	return s.ranks.Count(ctx, id)
}

// Health pings the store.
func (s *Service) Health(ctx context.Context) error { return s.store.Ping(ctx) }

func (s *Service) Close() { s.bus.Close() }
