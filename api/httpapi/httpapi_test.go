package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "highscores/adapters/memory"
	"highscores/core"
	"highscores/engine"
)

func newTestService(t *testing.T) *engine.Service {
	t.Helper()
	svc := engine.NewService(mem.New(), engine.NewEventBus(engine.DispatchSync))
	t.Cleanup(svc.Close)
	return svc
}

func do(t *testing.T, h http.Handler, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func newLeaderboard(t *testing.T, h http.Handler, query string) core.Leaderboard {
	t.Helper()
	rec := do(t, h, http.MethodGet, "/api/v1/leaderboards/new"+query, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[core.Leaderboard](t, rec)
}

type listResponse struct {
	Scores []core.Score `json:"scores"`
	Total  int64        `json:"total"`
}

func TestCreateLeaderboard(t *testing.T) {
	h := NewMux(newTestService(t), nil, Options{PathPrefix: "/api"})

	lb := newLeaderboard(t, h, "")
	assert.Equal(t, core.LeaderboardID(1), lb.ID)
	assert.Equal(t, core.Descending, lb.Direction)
	assert.Len(t, lb.AppendSecret, 32)
	assert.Len(t, lb.ModifySecret, 32)

	rec := do(t, h, http.MethodPost, "/api/v1/leaderboards/new?direction=ascending&order_by=time&single_secret=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	lb2 := decode[core.Leaderboard](t, rec)
	assert.Equal(t, core.LeaderboardID(2), lb2.ID)
	assert.Equal(t, core.Ascending, lb2.Direction)
	assert.Equal(t, core.ByTime, lb2.OrderBy)
	assert.Empty(t, lb2.ModifySecret)
}

func TestCreateLeaderboardValidation(t *testing.T) {
	h := NewMux(newTestService(t), nil, Options{PathPrefix: "/api"})

	for _, q := range []string{"?direction=up", "?order_by=speed", "?single_secret=maybe"} {
		rec := do(t, h, http.MethodGet, "/api/v1/leaderboards/new"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
	rec := do(t, h, http.MethodDelete, "/api/v1/leaderboards/new", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSubmitAndList(t *testing.T) {
	h := NewMux(newTestService(t), nil, Options{PathPrefix: "/api"})
	lb := newLeaderboard(t, h, "")
	base := "/api/v1/scores/1/" + lb.AppendSecret + "/add/"

	rec := do(t, h, http.MethodPost, base+"alice/100", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]int64{"rank": 1}, decode[map[string]int64](t, rec))

	rec = do(t, h, http.MethodPost, base+"bob/200/12.5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int64{"rank": 1}, decode[map[string]int64](t, rec))

	rec = do(t, h, http.MethodPost, base+"alice/50", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int64{"rank": 2}, decode[map[string]int64](t, rec))

	rec = do(t, h, http.MethodGet, "/api/v1/scores/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[listResponse](t, rec)
	assert.Equal(t, int64(2), list.Total)
	assert.Equal(t, []core.Score{
		{Name: "bob", Value: 200, Time: 12.5, Rank: 1},
		{Name: "alice", Value: 100, Time: 0, Rank: 2},
	}, list.Scores)

	rec = do(t, h, http.MethodGet, "/api/v1/scores/1/1?offset=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list = decode[listResponse](t, rec)
	require.Len(t, list.Scores, 1)
	assert.Equal(t, "alice", list.Scores[0].Name)
	assert.Equal(t, int64(2), list.Scores[0].Rank)

	rec = do(t, h, http.MethodGet, "/api/v1/scores/1?reverse=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list = decode[listResponse](t, rec)
	require.Len(t, list.Scores, 2)
	assert.Equal(t, "alice", list.Scores[0].Name)

	rec = do(t, h, http.MethodGet, "/api/v1/scores/1/by/bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, core.Score{Name: "bob", Value: 200, Time: 12.5, Rank: 1}, decode[core.Score](t, rec))
}

func TestNameWithSpace(t *testing.T) {
	h := NewMux(newTestService(t), nil, Options{PathPrefix: "/api"})
	lb := newLeaderboard(t, h, "")

	rec := do(t, h, http.MethodPost, "/api/v1/scores/1/"+lb.AppendSecret+"/add/big%20al/7", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/scores/1/by/big%20al", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "big al", decode[core.Score](t, rec).Name)
}

func TestSubmitValidation(t *testing.T) {
	h := NewMux(newTestService(t), nil, Options{PathPrefix: "/api"})
	lb := newLeaderboard(t, h, "")
	base := "/api/v1/scores/1/" + lb.AppendSecret + "/add/"

	tests := []struct {
		name string
		path string
		code string
	}{
		{"short name", base + "a/1", "invalid_name"},
		{"bad character", base + "al!ce/1", "invalid_name"},
		{"long name", base + strings.Repeat("x", 17) + "/1", "invalid_name"},
		{"bad value", base + "alice/ten", "invalid_value"},
		{"bad time", base + "alice/1/soon", "invalid_time"},
		{"infinite time", base + "alice/1/Inf", "invalid_time"},
		{"bad id", "/api/v1/scores/x/" + lb.AppendSecret + "/add/alice/1", "invalid_leaderboard"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tt.path, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decode[apiError](t, rec).Code)
		})
	}
}

func TestCustomNameConstraints(t *testing.T) {
	h := NewMux(newTestService(t), nil, Options{
		PathPrefix: "/api",
		Names:      core.NameConstraints{MinLength: 1, MaxLength: 3, AllowedCharacters: "abc"},
	})
	lb := newLeaderboard(t, h, "")
	base := "/api/v1/scores/1/" + lb.AppendSecret + "/add/"

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, base+"a/1", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, base+"abcd/1", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, base+"xyz/1", "").Code)
}

func TestErrorMapping(t *testing.T) {
	h := NewMux(newTestService(t), nil, Options{PathPrefix: "/api"})
	lb := newLeaderboard(t, h, "")

	rec := do(t, h, http.MethodPost, "/api/v1/scores/1/wrong/add/alice/1", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/scores/99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/scores/1/by/nobody", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// the append secret does not grant modify operations
	rec = do(t, h, http.MethodDelete, "/api/v1/scores/1/"+lb.AppendSecret, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodPatch, "/api/v1/scores/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClearAndDelete(t *testing.T) {
	h := NewMux(newTestService(t), nil, Options{PathPrefix: "/api"})
	lb := newLeaderboard(t, h, "")
	for _, p := range []string{"alice/1", "bob/2", "carol/3"} {
		require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/scores/1/"+lb.AppendSecret+"/add/"+p, "").Code)
	}

	rec := do(t, h, http.MethodDelete, "/api/v1/scores/1/"+lb.ModifySecret+"/by/bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[listResponse](t, do(t, h, http.MethodGet, "/api/v1/scores/1", ""))
	assert.Equal(t, int64(2), list.Total)

	rec = do(t, h, http.MethodDelete, "/api/v1/scores/1/"+lb.ModifySecret, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list = decode[listResponse](t, do(t, h, http.MethodGet, "/api/v1/scores/1", ""))
	assert.Equal(t, int64(0), list.Total)
	assert.Empty(t, list.Scores)
}

func TestWebhookRoutes(t *testing.T) {
	h := NewMux(newTestService(t), nil, Options{PathPrefix: "/api"})
	lb := newLeaderboard(t, h, "")
	route := "/api/v1/leaderboards/1/" + lb.ModifySecret + "/webhook"

	rec := do(t, h, http.MethodPut, route, `{"url":"https://hooks.example.com/scores"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, route, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"url": "https://hooks.example.com/scores"}, decode[map[string]string](t, rec))

	rec = do(t, h, http.MethodDelete, route, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, route, "")
	assert.Equal(t, map[string]string{"url": ""}, decode[map[string]string](t, rec))

	rec = do(t, h, http.MethodGet, "/api/v1/leaderboards/1/"+lb.AppendSecret+"/webhook", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhookValidation(t *testing.T) {
	h := NewMux(newTestService(t), nil, Options{PathPrefix: "/api"})
	lb := newLeaderboard(t, h, "")
	route := "/api/v1/leaderboards/1/" + lb.ModifySecret + "/webhook"

	for _, body := range []string{
		`{}`,
		`{"url":"not a url"}`,
		`{"url":"http://hooks.example.com"}`,
		`{"url":"https://10.0.0.1/hook"}`,
		`{"url":"https://localhost/hook"}`,
		`{"url":"https://hooks.example.com","extra":1}`,
		`nope`,
	} {
		rec := do(t, h, http.MethodPut, route, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestHealthCheck(t *testing.T) {
	h := NewMux(newTestService(t), nil, Options{PathPrefix: "/api"})
	rec := do(t, h, http.MethodGet, "/api/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]any](t, rec)["status"])
}

type downStore struct {
	*mem.Store
}

func (downStore) Ping(context.Context) error {
	return core.StoreError("ping", errors.New("connection refused"))
}

func (downStore) HGet(context.Context, string, ...string) (map[string]string, error) {
	return nil, core.StoreError("hget", errors.New("connection refused"))
}

func TestStoreUnavailable(t *testing.T) {
	svc := engine.NewService(downStore{mem.New()}, engine.NewEventBus(engine.DispatchSync))
	t.Cleanup(svc.Close)
	h := NewMux(svc, nil, Options{PathPrefix: "/api"})

	rec := do(t, h, http.MethodGet, "/api/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/scores/1", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "store_unavailable", decode[apiError](t, rec).Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestAPIKeyAuth(t *testing.T) {
	h := NewMux(newTestService(t), nil, Options{
		PathPrefix:      "/api",
		APIKeys:         []string{"secret"},
		AllowCORSOrigin: "*",
	})

	rec := do(t, h, http.MethodGet, "/api/healthz", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/healthz", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodOptions, "/api/healthz", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}

func TestRateLimit(t *testing.T) {
	h := NewMux(newTestService(t), nil, Options{
		PathPrefix:       "/api",
		APIKeys:          []string{"k"},
		RateLimitEnabled: true,
		RateLimitRPM:     1,
		RateLimitBurst:   1,
	})

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodGet, "/api/healthz", nil)
		req.Header.Set("X-API-Key", "k")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, "request %d", i)
	}
}

func TestRateLimiterSweepsIdleBuckets(t *testing.T) {
	now := time.Unix(1000, 0)
	l := newRateLimiter(60, 1, time.Minute)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	now = now.Add(2 * time.Second)
	assert.True(t, l.allow("a"))

	now = now.Add(2 * time.Minute)
	assert.True(t, l.allow("b"))
	assert.Equal(t, 1, l.size())
}

type observation struct {
	route  string
	method string
	status int
}

type recordingObserver struct {
	mu  sync.Mutex
	obs []observation
}

func (r *recordingObserver) ObserveHTTP(route, method string, status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs = append(r.obs, observation{route, method, status})
}

func TestMetricsMiddleware(t *testing.T) {
	obs := &recordingObserver{}
	h := NewMux(newTestService(t), nil, Options{PathPrefix: "/api", Metrics: obs})

	newLeaderboard(t, h, "")
	do(t, h, http.MethodGet, "/api/v1/scores/1/by/ghost", "")
	do(t, h, http.MethodGet, "/api/elsewhere", "")

	assert.Equal(t, []observation{
		{"leaderboards_new", http.MethodGet, http.StatusOK},
		{"scores_get", http.MethodGet, http.StatusNotFound},
		{"unmatched", http.MethodGet, http.StatusNotFound},
	}, obs.obs)
}
