// Package highscores assembles a ready to use leaderboard service.
package highscores

import (
	"log/slog"

	mem "highscores/adapters/memory"
	"highscores/core"
	"highscores/engine"
	"highscores/integrations/webhook"
	"highscores/realtime"
)

// Option configures the service builder.
type Option func(*config)

type config struct {
	store    engine.Store
	mode     engine.DispatchMode
	hub      *realtime.Hub
	notifier *webhook.Notifier
	metrics  engine.Metrics
	logger   *slog.Logger
}

// WithStore sets the ordered store.
func WithStore(s engine.Store) Option { return func(c *config) { c.store = s } }

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithRealtime wires a realtime hub to receive every engine event.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// WithWebhooks forwards accepted scores to the notifier.
func WithWebhooks(n *webhook.Notifier) Option { return func(c *config) { c.notifier = n } }

// WithMetrics sets the engine metrics sink.
func WithMetrics(m engine.Metrics) Option { return func(c *config) { c.metrics = m } }

// WithLogger sets the logger passed to the engine.
func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// AllEvents lists the event types the realtime bridge forwards.
var AllEvents = []core.EventType{
	core.EventLeaderboardCreated,
	core.EventScoreAccepted,
	core.EventScoreDeleted,
	core.EventScoresCleared,
}

// New builds a configured Service. If not provided, defaults are used:
//   - store: in-memory
//   - dispatch: async
func New(opts ...Option) *engine.Service {
	cfg := &config{mode: engine.DispatchAsync}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.store == nil {
		cfg.store = mem.New()
	}

	bus := engine.NewEventBus(cfg.mode, engine.WithBusLogger(cfg.logger))
	var svcOpts []engine.ServiceOption
	if cfg.logger != nil {
		svcOpts = append(svcOpts, engine.WithLogger(cfg.logger))
	}
	if cfg.metrics != nil {
		svcOpts = append(svcOpts, engine.WithMetrics(cfg.metrics))
	}
	svc := engine.NewService(cfg.store, bus, svcOpts...)

	if cfg.hub != nil {
		for _, typ := range AllEvents {
			bus.Subscribe(typ, cfg.hub.OnEvent)
		}
	}
	if cfg.notifier != nil {
		bus.Subscribe(core.EventScoreAccepted, cfg.notifier.OnEvent)
	}
	return svc
}
