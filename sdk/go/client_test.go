package sdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mem "highscores/adapters/memory"
	"highscores/api/httpapi"
	"highscores/core"
	"highscores/engine"
	"highscores/realtime"
)

// newTestServer serves the real API over an in-memory store.
func newTestServer(t *testing.T) (*httptest.Server, *realtime.Hub) {
	t.Helper()
	svc := engine.NewService(mem.New(), engine.NewEventBus(engine.DispatchSync))
	hub := realtime.NewHub()
	for _, typ := range []core.EventType{core.EventScoreAccepted, core.EventScoreDeleted, core.EventScoresCleared} {
		svc.Subscribe(typ, hub.OnEvent)
	}
	srv := httptest.NewServer(httpapi.NewMux(svc, hub, httpapi.Options{PathPrefix: "/api", APIKeys: []string{"k1"}}))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
		svc.Close()
	})
	return srv, hub
}

func TestClient_LeaderboardLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	client, err := NewClient(srv.URL+"/api/", WithAPIKey("k1"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	lb, err := client.CreateLeaderboard(ctx, CreateOptions{Direction: core.Ascending, OrderBy: core.ByTime})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if lb.ID != 1 || lb.Direction != core.Ascending || lb.OrderBy != core.ByTime {
		t.Fatalf("unexpected leaderboard: %+v", lb)
	}

	for _, s := range []struct {
		name string
		time float64
		rank int64
	}{
		{"alice", 31.5, 1},
		{"bob", 29.25, 1},
		{"big al", 40, 3},
	} {
		rank, err := client.SubmitScore(ctx, lb.ID, lb.AppendSecret, s.name, 0, s.time)
		if err != nil {
			t.Fatalf("submit %s: %v", s.name, err)
		}
		if rank != s.rank {
			t.Fatalf("submit %s: rank %d, want %d", s.name, rank, s.rank)
		}
	}

	list, err := client.ListScores(ctx, lb.ID, ListOptions{Count: Limit(2), Offset: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list.Total != 3 || len(list.Scores) != 2 || list.Scores[0].Name != "alice" || list.Scores[0].Rank != 2 {
		t.Fatalf("unexpected page: %+v", list)
	}

	score, err := client.GetScore(ctx, lb.ID, "big al")
	if err != nil || score.Rank != 3 || score.Time != 40 {
		t.Fatalf("get score: %+v err=%v", score, err)
	}

	if err := client.DeleteScore(ctx, lb.ID, lb.ModifySecret, "bob"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := client.GetScore(ctx, lb.ID, "bob"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}

	if err := client.ClearScores(ctx, lb.ID, lb.ModifySecret); err != nil {
		t.Fatalf("clear: %v", err)
	}
	list, err = client.ListScores(ctx, lb.ID, ListOptions{})
	if err != nil || list.Total != 0 {
		t.Fatalf("expected empty list, got %+v err=%v", list, err)
	}

	health, err := client.Health(ctx)
	if err != nil || health.Status != "healthy" {
		t.Fatalf("health: %+v err=%v", health, err)
	}
}

func TestClient_Webhook(t *testing.T) {
	srv, _ := newTestServer(t)
	client, _ := NewClient(srv.URL+"/api", WithAuthToken("k1"))
	ctx := context.Background()

	lb, err := client.CreateLeaderboard(ctx, CreateOptions{SingleSecret: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if lb.ModifySecret != "" {
		t.Fatalf("expected single secret leaderboard, got %+v", lb)
	}

	if err := client.SetWebhook(ctx, lb.ID, lb.AppendSecret, "https://hooks.example.com/scores"); err != nil {
		t.Fatalf("set webhook: %v", err)
	}
	got, err := client.GetWebhook(ctx, lb.ID, lb.AppendSecret)
	if err != nil || got != "https://hooks.example.com/scores" {
		t.Fatalf("get webhook: %q err=%v", got, err)
	}
	if err := client.ClearWebhook(ctx, lb.ID, lb.AppendSecret); err != nil {
		t.Fatalf("clear webhook: %v", err)
	}

	err = client.SetWebhook(ctx, lb.ID, lb.AppendSecret, "http://127.0.0.1/hook")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest || apiErr.Code != "invalid_webhook" {
		t.Fatalf("expected invalid_webhook, got %v", err)
	}
}

func TestClient_Errors(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	unauthenticated, _ := NewClient(srv.URL + "/api")
	if _, err := unauthenticated.CreateLeaderboard(ctx, CreateOptions{}); err == nil {
		t.Fatal("expected missing API key to fail")
	}

	client, _ := NewClient(srv.URL+"/api", WithAPIKey("k1"))
	lb, err := client.CreateLeaderboard(ctx, CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := client.SubmitScore(ctx, lb.ID, "wrong", "alice", 1, 0); !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := client.SubmitScore(ctx, lb.ID, lb.AppendSecret, "x", 1, 0); !errors.Is(err, core.ErrInvalidName) {
		t.Fatalf("expected invalid name, got %v", err)
	}
	if _, err := client.SubmitScore(ctx, lb.ID, lb.AppendSecret, "", 1, 0); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("expected empty name error, got %v", err)
	}
	if err := client.ClearScores(ctx, lb.ID, ""); !errors.Is(err, ErrEmptySecret) {
		t.Fatalf("expected empty secret error, got %v", err)
	}
	if _, err := client.ListScores(ctx, 42, ListOptions{}); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestClient_SubscribeEvents(t *testing.T) {
	srv, hub := newTestServer(t)
	client, _ := NewClient(srv.URL+"/api", WithAPIKey("k1"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	lb, err := client.CreateLeaderboard(ctx, CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	events, err := client.SubscribeEvents(ctx, lb.ID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	for hub.Subscribers() == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("timed out waiting for subscription")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if _, err := client.SubmitScore(ctx, lb.ID, lb.AppendSecret, "alice", 10, 0); err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case evt := <-events:
		if evt.Type != core.EventScoreAccepted || evt.Name != "alice" || evt.Rank != 1 {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}

	cancel()
	for range events {
	}
}

func TestDeriveWSURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8080/api":  "ws://localhost:8080/api/ws",
		"https://scores.example.com": "wss://scores.example.com/ws",
	}
	for in, want := range cases {
		if got := deriveWSURL(in); got != want {
			t.Fatalf("deriveWSURL(%q) = %q, want %q", in, got, want)
		}
	}
}
