package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	wsadapter "highscores/adapters/websocket"
	"highscores/core"
	"highscores/engine"
	"highscores/integrations/webhook"
	"highscores/realtime"
)

const maxBodyBytes = 4 << 10

// RequestObserver records per-request metrics. metrics.Manager implements it.
type RequestObserver interface {
	ObserveHTTP(route, method string, status int, d time.Duration)
}

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
	// RateLimitCleanup is how long an idle client bucket is kept.
	RateLimitCleanup time.Duration
	// Names bounds submitted player names. The zero value uses core.DefaultNameConstraints.
	Names core.NameConstraints
	// WebhookPolicy validates URLs set through the webhook route.
	WebhookPolicy webhook.Policy
	// Metrics, if set, observes every request.
	Metrics RequestObserver
	Logger  *slog.Logger
}

type server struct {
	svc      *engine.Service
	names    core.NameConstraints
	policy   webhook.Policy
	validate *validator.Validate
	logger   *slog.Logger
}

// NewMux builds an http.Handler exposing the leaderboard REST API and WebSocket stream.
// Routes:
//   - GET|POST {prefix}/v1/leaderboards/new?direction=&order_by=&single_secret=
//   - POST     {prefix}/v1/scores/{id}/{secret}/add/{name}/{value}[/{time}]
//   - DELETE   {prefix}/v1/scores/{id}/{secret}
//   - DELETE   {prefix}/v1/scores/{id}/{secret}/by/{name}
//   - GET      {prefix}/v1/scores/{id}[/{count}]?offset=&reverse=
//   - GET      {prefix}/v1/scores/{id}/by/{name}
//   - GET|PUT|DELETE {prefix}/v1/leaderboards/{id}/{secret}/webhook
//   - GET      {prefix}/healthz
//   - WS       {prefix}/ws[?leaderboard={id}]
func NewMux(svc *engine.Service, hub *realtime.Hub, opts Options) http.Handler {
	s := &server{
		svc:      svc,
		names:    opts.Names,
		policy:   opts.WebhookPolicy,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   opts.Logger,
	}
	if s.names.MaxLength == 0 {
		s.names = core.DefaultNameConstraints()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	mux := http.NewServeMux()

	mux.HandleFunc(withPrefix(opts.PathPrefix, "/healthz"), func(w http.ResponseWriter, r *http.Request) {
		setRoute(r, "healthz")
		s.healthCheck(w, r)
	})

	if hub != nil {
		ws := wsadapter.Handler(hub, wsadapter.WithLogger(s.logger))
		mux.HandleFunc(withPrefix(opts.PathPrefix, "/ws"), func(w http.ResponseWriter, r *http.Request) {
			setRoute(r, "ws")
			ws.ServeHTTP(w, r)
		})
	}

	mux.HandleFunc(withPrefix(opts.PathPrefix, "/v1/leaderboards/"), func(w http.ResponseWriter, r *http.Request) {
		s.leaderboards(w, r, pathParts(r, opts.PathPrefix))
	})
	mux.HandleFunc(withPrefix(opts.PathPrefix, "/v1/scores/"), func(w http.ResponseWriter, r *http.Request) {
		s.scores(w, r, pathParts(r, opts.PathPrefix))
	})

	var handler http.Handler = mux
	if opts.AllowCORSOrigin != "" {
		handler = withCORS(handler, opts.AllowCORSOrigin)
	}
	if len(opts.APIKeys) > 0 {
		handler = withAPIKeyAuth(handler, opts.APIKeys)
	}
	if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
		handler = withRateLimit(handler, newRateLimiter(opts.RateLimitRPM, opts.RateLimitBurst, opts.RateLimitCleanup))
	}
	if opts.Metrics != nil {
		handler = withMetrics(handler, opts.Metrics)
	}
	return handler
}

// leaderboards serves parts ["v1", "leaderboards", ...].
func (s *server) leaderboards(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 3 && parts[2] == "new":
		setRoute(r, "leaderboards_new")
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.createLeaderboard(w, r)
	case len(parts) == 5 && parts[4] == "webhook":
		setRoute(r, "leaderboards_webhook")
		id, ok := parseID(w, parts[2])
		if !ok {
			return
		}
		s.webhook(w, r, id, parts[3])
	default:
		notFound(w)
	}
}

// scores serves parts ["v1", "scores", id, ...].
func (s *server) scores(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) < 3 {
		notFound(w)
		return
	}
	id, ok := parseID(w, parts[2])
	if !ok {
		return
	}
	rest := parts[3:]

	switch {
	case r.Method == http.MethodPost && (len(rest) == 4 || len(rest) == 5) && rest[1] == "add":
		setRoute(r, "scores_add")
		s.submitScore(w, r, id, rest[0], rest[2], rest[3], rest[4:])
	case r.Method == http.MethodDelete && len(rest) == 1:
		setRoute(r, "scores_clear")
		s.clearScores(w, r, id, rest[0])
	case r.Method == http.MethodDelete && len(rest) == 3 && rest[1] == "by":
		setRoute(r, "scores_delete")
		s.deleteScore(w, r, id, rest[0], rest[2])
	case r.Method == http.MethodGet && len(rest) == 2 && rest[0] == "by":
		setRoute(r, "scores_get")
		s.getScore(w, r, id, rest[1])
	case r.Method == http.MethodGet && len(rest) <= 1:
		setRoute(r, "scores_list")
		s.listScores(w, r, id, rest)
	default:
		notFound(w)
	}
}

func (s *server) createLeaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var opts engine.CreateOptions

	switch strings.ToLower(q.Get("direction")) {
	case "", "descending", "desc":
		opts.Direction = core.Descending
	case "ascending", "asc":
		opts.Direction = core.Ascending
	default:
		writeError(w, http.StatusBadRequest, "invalid_direction", "direction must be ascending or descending", nil)
		return
	}
	switch strings.ToLower(q.Get("order_by")) {
	case "", "value":
		opts.OrderBy = core.ByValue
	case "time":
		opts.OrderBy = core.ByTime
	default:
		writeError(w, http.StatusBadRequest, "invalid_order_by", "order_by must be value or time", nil)
		return
	}
	if raw := q.Get("single_secret"); raw != "" {
		single, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_single_secret", "single_secret must be a boolean", nil)
			return
		}
		opts.SingleSecret = single
	}

	lb, err := s.svc.CreateLeaderboard(r.Context(), opts)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, lb)
}

func (s *server) submitScore(w http.ResponseWriter, r *http.Request, id core.LeaderboardID, secret, name, rawValue string, rawTime []string) {
	if err := s.names.Validate(name); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_name", err.Error(), nil)
		return
	}
	value, err := strconv.ParseInt(rawValue, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_value", "value must be an integer", nil)
		return
	}
	var t float64
	if len(rawTime) == 1 {
		t, err = strconv.ParseFloat(rawTime[0], 64)
		if err != nil || math.IsNaN(t) || math.IsInf(t, 0) {
			writeError(w, http.StatusBadRequest, "invalid_time", "time must be a finite number", nil)
			return
		}
	}

	rank, err := s.svc.SubmitScore(r.Context(), id, secret, name, value, t)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"rank": rank})
}

func (s *server) clearScores(w http.ResponseWriter, r *http.Request, id core.LeaderboardID, secret string) {
	if err := s.svc.ClearScores(r.Context(), id, secret); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *server) deleteScore(w http.ResponseWriter, r *http.Request, id core.LeaderboardID, secret, name string) {
	if err := s.svc.DeleteScore(r.Context(), id, secret, name); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *server) getScore(w http.ResponseWriter, r *http.Request, id core.LeaderboardID, name string) {
	score, err := s.svc.Score(r.Context(), id, name)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, score)
}

func (s *server) listScores(w http.ResponseWriter, r *http.Request, id core.LeaderboardID, rest []string) {
	count := int64(-1)
	if len(rest) == 1 {
		n, err := strconv.ParseInt(rest[0], 10, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_count", "count must be an integer", nil)
			return
		}
		count = n
	}
	q := r.URL.Query()
	var offset int64
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be an integer", nil)
			return
		}
		offset = n
	}
	var reverse bool
	if raw := q.Get("reverse"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_reverse", "reverse must be a boolean", nil)
			return
		}
		reverse = b
	}

	scores, err := s.svc.Scores(r.Context(), id, offset, count, reverse)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	total, err := s.svc.Count(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"scores": scores, "total": total})
}

type webhookRequest struct {
	URL string `json:"url" validate:"required,url"`
}

func (s *server) webhook(w http.ResponseWriter, r *http.Request, id core.LeaderboardID, secret string) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		url, err := s.svc.GetWebhook(ctx, id, secret)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, map[string]any{"url": url})
	case http.MethodPut:
		var req webhookRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", "body must be a JSON object with a url field", nil)
			return
		}
		if err := s.validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_webhook", "url is required and must be absolute", validationDetails(err))
			return
		}
		if err := s.policy.ValidateURL(req.URL); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_webhook", err.Error(), nil)
			return
		}
		if err := s.svc.SetWebhook(ctx, id, secret, req.URL); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, map[string]any{"url": req.URL})
	case http.MethodDelete:
		if err := s.svc.SetWebhook(ctx, id, secret, ""); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	default:
		methodNotAllowed(w)
	}
}

// healthCheck pings the store.
func (s *server) healthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status": "healthy",
		"checks": map[string]any{
			"storage": "ok",
		},
	}
	code := http.StatusOK
	if err := s.svc.Health(r.Context()); err != nil {
		s.logger.Warn("health check failed", "error", err)
		code = http.StatusServiceUnavailable
		status["status"] = "unhealthy"
		status["checks"].(map[string]any)["storage"] = "failed"
	}
	writeJSONStatus(w, code, status)
}

// writeServiceError maps engine errors onto HTTP statuses.
func (s *server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, core.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "forbidden", "secret does not grant this operation", nil)
	case errors.Is(err, core.ErrInvalidName):
		writeError(w, http.StatusBadRequest, "invalid_name", err.Error(), nil)
	case errors.Is(err, core.ErrStoreUnavailable):
		s.logger.Error("store unavailable", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "storage is unavailable", nil)
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

func validationDetails(err error) any {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[strings.ToLower(fe.Field())] = fe.Tag()
	}
	return out
}

// Helpers

func parseID(w http.ResponseWriter, raw string) (core.LeaderboardID, bool) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_leaderboard", "leaderboard id must be a positive integer", nil)
		return 0, false
	}
	return core.LeaderboardID(n), true
}

func pathParts(r *http.Request, prefix string) []string {
	path := strings.TrimPrefix(r.URL.Path, strings.TrimSuffix(prefix, "/"))
	return split(path, '/')
}

func withPrefix(prefix, path string) string {
	if prefix == "" || prefix == "/" {
		return path
	}
	if prefix[len(prefix)-1] == '/' {
		return prefix[:len(prefix)-1] + path
	}
	return prefix + path
}

func split(p string, sep rune) []string {
	return strings.FieldsFunc(p, func(r rune) bool { return r == sep })
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	writeJSONStatus(w, status, apiError{Code: code, Message: msg, Details: details})
}
