package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"highscores/core"
)

type staticResolver struct {
	url string
	err error
}

func (r staticResolver) GetWebhook(context.Context, core.LeaderboardID) (string, error) {
	return r.url, r.err
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (c *countingRecorder) WebhookDelivery(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcomes == nil {
		c.outcomes = map[string]int{}
	}
	c.outcomes[outcome]++
}

func (c *countingRecorder) count(outcome string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcomes[outcome]
}

func TestNotifier_PostsPayload(t *testing.T) {
	got := make(chan Payload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var p Payload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		got <- p
	}))
	defer srv.Close()

	rec := &countingRecorder{}
	n := New(staticResolver{url: srv.URL}, WithRecorder(rec))
	n.NotifyScoreAccepted(context.Background(), core.NewScoreAccepted(3, "alice", 100, 1.5, 2))
	n.Wait()

	select {
	case p := <-got:
		assert.Equal(t, core.EventScoreAccepted, p.Type)
		assert.Equal(t, core.LeaderboardID(3), p.Leaderboard)
		assert.Equal(t, "alice", p.Name)
		assert.Equal(t, int64(100), p.Value)
		assert.Equal(t, 1.5, p.Time)
		assert.Equal(t, int64(2), p.Rank)
	default:
		t.Fatal("webhook not called")
	}
	assert.Equal(t, 1, rec.count(OutcomeDelivered))
}

func TestNotifier_NoWebhookConfigured(t *testing.T) {
	rec := &countingRecorder{}
	n := New(staticResolver{}, WithRecorder(rec))
	n.OnEvent(context.Background(), core.NewScoreAccepted(1, "a", 1, 0, 1))
	n.Wait()
	assert.Equal(t, 0, rec.count(OutcomeDelivered))
	assert.Equal(t, 0, rec.count(OutcomeFailed))
}

func TestNotifier_IgnoresOtherEvents(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	n := New(staticResolver{url: srv.URL})
	n.OnEvent(context.Background(), core.NewScoresCleared(1))
	n.Wait()
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestNotifier_FailuresAreContained(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rec := &countingRecorder{}
	n := New(staticResolver{url: srv.URL}, WithRecorder(rec))
	n.NotifyScoreAccepted(context.Background(), core.NewScoreAccepted(1, "a", 1, 0, 1))
	n = New(staticResolver{err: errors.New("store down")}, WithRecorder(rec))
	n.NotifyScoreAccepted(context.Background(), core.NewScoreAccepted(1, "a", 1, 0, 1))
	n.Wait()

	require.Eventually(t, func() bool { return rec.count(OutcomeFailed) == 2 }, time.Second, 10*time.Millisecond)
}

func TestNotifier_TimeoutDoesNotBlockCaller(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	rec := &countingRecorder{}
	n := New(staticResolver{url: srv.URL}, WithRecorder(rec), WithTimeout(50*time.Millisecond))
	start := time.Now()
	n.NotifyScoreAccepted(context.Background(), core.NewScoreAccepted(1, "a", 1, 0, 1))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	n.Wait()
	assert.Equal(t, 1, rec.count(OutcomeFailed))
}

func TestNotifier_DropsBeyondMaxInFlight(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()

	rec := &countingRecorder{}
	n := New(staticResolver{url: srv.URL}, WithRecorder(rec), WithMaxInFlight(1))
	n.NotifyScoreAccepted(context.Background(), core.NewScoreAccepted(1, "a", 1, 0, 1))
	n.NotifyScoreAccepted(context.Background(), core.NewScoreAccepted(1, "b", 1, 0, 1))
	assert.Equal(t, 1, rec.count(OutcomeDropped))
	close(release)
	n.Wait()
	assert.Equal(t, 1, rec.count(OutcomeDelivered))
}

func TestValidateURL(t *testing.T) {
	cases := []struct {
		url      string
		insecure bool
		ok       bool
	}{
		{"https://example.com/hook", false, true},
		{"https://hooks.example.co.uk:8443/x?y=1", false, true},
		{"https://bücher.example/hook", false, true},
		{"http://example.com/hook", false, false},
		{"http://example.com/hook", true, true},
		{"ftp://example.com", false, false},
		{"https://192.168.1.1/hook", false, false},
		{"https://[::1]/hook", false, false},
		{"https://localhost/hook", false, false},
		{"http://localhost:8080/hook", true, true},
		{"https://intranet/hook", false, false},
		{"https://user:pw@example.com/", false, false},
		{"https:///nohost", false, false},
		{"not a url", false, false},
	}
	for _, tc := range cases {
		err := Policy{AllowInsecure: tc.insecure}.ValidateURL(tc.url)
		if tc.ok {
			assert.NoError(t, err, tc.url)
		} else {
			assert.ErrorIs(t, err, ErrInvalidURL, tc.url)
		}
	}
}

func TestNotifier_CloseRefusesNewDeliveries(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	rec := &countingRecorder{}
	n := New(staticResolver{url: srv.URL}, WithRecorder(rec))
	n.NotifyScoreAccepted(context.Background(), core.NewScoreAccepted(1, "alice", 10, 0, 1))
	n.Close()
	// the in-flight delivery completed before Close returned
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Equal(t, 1, rec.count(OutcomeDelivered))

	n.NotifyScoreAccepted(context.Background(), core.NewScoreAccepted(1, "bob", 20, 0, 1))
	n.Close()
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Equal(t, 1, rec.count(OutcomeDropped))
}
