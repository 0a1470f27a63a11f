package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"highscores/core"
)

// Resolver looks up the webhook configured for a leaderboard ("" when none).
// *engine.Registry implements it.
type Resolver interface {
	GetWebhook(ctx context.Context, id core.LeaderboardID) (string, error)
}

// Recorder counts delivery outcomes. metrics.Manager implements it.
type Recorder interface {
	WebhookDelivery(outcome string)
}

// Delivery outcomes passed to Recorder.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
	OutcomeDropped   = "dropped"
)

// Payload is the JSON body posted to a leaderboard webhook.
type Payload struct {
	Type        core.EventType     `json:"type"`
	Leaderboard core.LeaderboardID `json:"leaderboard"`
	Name        string             `json:"name"`
	Value       int64              `json:"value"`
	Time        float64            `json:"time"`
	Rank        int64              `json:"rank"`
	SentAt      time.Time          `json:"time_utc"`
}

// Notifier posts accepted scores to leaderboard webhooks. Deliveries run in
// detached goroutines with their own timeout and never report back to the
// submitter.
type Notifier struct {
	resolver Resolver
	client   *http.Client
	timeout  time.Duration
	slots    chan struct{}
	recorder Recorder
	logger   *slog.Logger
	wg       sync.WaitGroup
	// mu orders wg.Add against Close setting closing.
	mu      sync.RWMutex
	closing bool
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithClient overrides the HTTP client.
func WithClient(c *http.Client) Option {
	return func(n *Notifier) {
		if c != nil {
			n.client = c
		}
	}
}

// WithTimeout bounds each delivery including the webhook lookup (default 2s).
func WithTimeout(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.timeout = d
		}
	}
}

// WithMaxInFlight bounds concurrent deliveries (default 64).
func WithMaxInFlight(max int) Option {
	return func(n *Notifier) {
		if max > 0 {
			n.slots = make(chan struct{}, max)
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(n *Notifier) { n.recorder = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.logger = l
		}
	}
}

// New creates a webhook notifier.
func New(resolver Resolver, opts ...Option) *Notifier {
	n := &Notifier{
		resolver: resolver,
		client:   &http.Client{Timeout: 2 * time.Second},
		timeout:  2 * time.Second,
		slots:    make(chan struct{}, 64),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// OnEvent is an event bus handler; it forwards score_accepted events.
func (n *Notifier) OnEvent(ctx context.Context, e core.Event) {
	if e.Type == core.EventScoreAccepted {
		n.NotifyScoreAccepted(ctx, e)
	}
}

// NotifyScoreAccepted schedules delivery of e and returns immediately. The
// delivery does not inherit ctx cancellation.
func (n *Notifier) NotifyScoreAccepted(_ context.Context, e core.Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closing {
		n.logger.Warn("webhook dropped, notifier closed", "leaderboard", e.Leaderboard)
		n.record(OutcomeDropped)
		return
	}
	select {
	case n.slots <- struct{}{}:
	default:
		n.logger.Warn("webhook dropped, too many deliveries in flight", "leaderboard", e.Leaderboard)
		n.record(OutcomeDropped)
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer func() { <-n.slots }()
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		n.deliver(ctx, e)
	}()
}

// Wait blocks until in-flight deliveries finish. It must not run concurrently
// with NotifyScoreAccepted; use Close when notifications may still arrive.
func (n *Notifier) Wait() { n.wg.Wait() }

// Close refuses further notifications and waits for in-flight deliveries.
func (n *Notifier) Close() {
	n.mu.Lock()
	n.closing = true
	n.mu.Unlock()
	n.wg.Wait()
}

func (n *Notifier) deliver(ctx context.Context, e core.Event) {
	url, err := n.resolver.GetWebhook(ctx, e.Leaderboard)
	if err != nil {
		n.logger.Warn("webhook lookup failed", "leaderboard", e.Leaderboard, "error", err)
		n.record(OutcomeFailed)
		return
	}
	if url == "" {
		return
	}
	if err := n.post(ctx, url, Payload{
		Type:        e.Type,
		Leaderboard: e.Leaderboard,
		Name:        e.Name,
		Value:       e.Value,
		Time:        e.ScoreTime,
		Rank:        e.Rank,
		SentAt:      time.Now().UTC(),
	}); err != nil {
		n.logger.Warn("webhook delivery failed", "leaderboard", e.Leaderboard, "error", err)
		n.record(OutcomeFailed)
		return
	}
	n.logger.Debug("webhook delivered", "leaderboard", e.Leaderboard, "name", e.Name)
	n.record(OutcomeDelivered)
}

func (n *Notifier) post(ctx context.Context, url string, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (n *Notifier) record(outcome string) {
	if n.recorder != nil {
		n.recorder.WebhookDelivery(outcome)
	}
}
