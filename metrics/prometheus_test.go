package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerCounters(t *testing.T) {
	m := NewManager()

	m.LeaderboardCreated()
	m.ScoreSubmitted(true)
	m.ScoreSubmitted(true)
	m.ScoreSubmitted(false)
	m.ScoresCleared()
	m.ScoreDeleted()
	m.WebhookDelivery("failed")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.leaderboardsCreated))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.submissions.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.submissions.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.clears))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deletes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhookDeliveries.WithLabelValues("failed")))
}

func TestManagerHTTPObservations(t *testing.T) {
	m := NewManager(WithNamespace("test"), WithHistogramBuckets([]float64{0.1, 1}))
	m.ObserveHTTP("/v1/scores", http.MethodGet, 200, 20*time.Millisecond)
	m.ObserveHTTP("/v1/scores", http.MethodGet, 404, 5*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("/v1/scores", "GET", "404")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.httpRequestDuration))

	expected := `
# HELP test_leaderboards_created_total Leaderboards created.
# TYPE test_leaderboards_created_total counter
test_leaderboards_created_total 0
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "test_leaderboards_created_total"))
}

func TestManagersDoNotShareRegistries(t *testing.T) {
	a := NewManager()
	b := NewManager()
	a.LeaderboardCreated()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.leaderboardsCreated))

	shared := prometheus.NewRegistry()
	c := NewManager(WithRegistry(shared))
	assert.Same(t, shared, c.Registry())
}

func TestManagerHandler(t *testing.T) {
	m := NewManager()
	m.ScoreSubmitted(true)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `highscores_score_submissions_total{outcome="accepted"} 1`)
}

func TestManagerSystemCollectors(t *testing.T) {
	m := NewManager(WithSystemCollectors())

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "go_goroutines")
}
