package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"highscores/core"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the HighScores HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

// CreateLeaderboard creates a leaderboard. The returned secrets are only ever
// shown once.
func (c *Client) CreateLeaderboard(ctx context.Context, opts CreateOptions) (core.Leaderboard, error) {
	q := url.Values{}
	q.Set("direction", strings.ToLower(opts.Direction.String()))
	q.Set("order_by", strings.ToLower(opts.OrderBy.String()))
	if opts.SingleSecret {
		q.Set("single_secret", "true")
	}
	var lb core.Leaderboard
	err := c.do(ctx, http.MethodPost, "/v1/leaderboards/new", q, nil, &lb)
	return lb, err
}

// SubmitScore submits a score with the append secret and returns the player's
// rank afterwards. A zero time is omitted from the path.
func (c *Client) SubmitScore(ctx context.Context, id core.LeaderboardID, secret, name string, value int64, t float64) (int64, error) {
	if err := requireSecretAndName(secret, name, true); err != nil {
		return 0, err
	}
	path := fmt.Sprintf("/v1/scores/%d/%s/add/%s/%d", id, url.PathEscape(secret), url.PathEscape(name), value)
	if t != 0 {
		path += "/" + strconv.FormatFloat(t, 'g', -1, 64)
	}
	var body struct {
		Rank int64 `json:"rank"`
	}
	if err := c.do(ctx, http.MethodPost, path, nil, nil, &body); err != nil {
		return 0, err
	}
	return body.Rank, nil
}

// ClearScores removes every entry with the modify secret.
func (c *Client) ClearScores(ctx context.Context, id core.LeaderboardID, secret string) error {
	if err := requireSecretAndName(secret, "", false); err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/v1/scores/%d/%s", id, url.PathEscape(secret)), nil, nil, nil)
}

// DeleteScore removes one player's entry with the modify secret.
func (c *Client) DeleteScore(ctx context.Context, id core.LeaderboardID, secret, name string) error {
	if err := requireSecretAndName(secret, name, true); err != nil {
		return err
	}
	path := fmt.Sprintf("/v1/scores/%d/%s/by/%s", id, url.PathEscape(secret), url.PathEscape(name))
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

// ListScores fetches a page of ranked scores.
func (c *Client) ListScores(ctx context.Context, id core.LeaderboardID, opts ListOptions) (ScoreList, error) {
	path := fmt.Sprintf("/v1/scores/%d", id)
	if opts.Count != nil {
		path += "/" + strconv.Itoa(*opts.Count)
	}
	q := url.Values{}
	if opts.Offset != 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.Reverse {
		q.Set("reverse", "true")
	}
	var list ScoreList
	err := c.do(ctx, http.MethodGet, path, q, nil, &list)
	return list, err
}

// GetScore fetches one player's best score with its rank.
func (c *Client) GetScore(ctx context.Context, id core.LeaderboardID, name string) (core.Score, error) {
	if strings.TrimSpace(name) == "" {
		return core.Score{}, ErrEmptyName
	}
	var s core.Score
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/scores/%d/by/%s", id, url.PathEscape(name)), nil, nil, &s)
	return s, err
}

// SetWebhook sets the URL notified of accepted scores.
func (c *Client) SetWebhook(ctx context.Context, id core.LeaderboardID, secret, target string) error {
	if err := requireSecretAndName(secret, "", false); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, webhookPath(id, secret), nil, map[string]string{"url": target}, nil)
}

// GetWebhook returns the configured URL, or "" when none is set.
func (c *Client) GetWebhook(ctx context.Context, id core.LeaderboardID, secret string) (string, error) {
	if err := requireSecretAndName(secret, "", false); err != nil {
		return "", err
	}
	var body struct {
		URL string `json:"url"`
	}
	err := c.do(ctx, http.MethodGet, webhookPath(id, secret), nil, nil, &body)
	return body.URL, err
}

// ClearWebhook removes the configured URL.
func (c *Client) ClearWebhook(ctx context.Context, id core.LeaderboardID, secret string) error {
	if err := requireSecretAndName(secret, "", false); err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, webhookPath(id, secret), nil, nil, nil)
}

// Health calls /healthz and returns status + storage check. An unhealthy
// server answers 503, which is reported as the status rather than an error.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var hs HealthStatus
	err := c.do(ctx, http.MethodGet, "/healthz", nil, nil, &hs)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusServiceUnavailable {
		return HealthStatus{Status: "unhealthy"}, nil
	}
	return hs, err
}

// SubscribeEvents connects to the WebSocket stream and emits core.Event values,
// restricted to one leaderboard unless leaderboard is zero. The returned
// channel closes when ctx is done or the connection drops.
func (c *Client) SubscribeEvents(ctx context.Context, leaderboard core.LeaderboardID) (<-chan core.Event, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	target := c.wsURL
	if leaderboard != 0 {
		target += "?leaderboard=" + strconv.FormatInt(int64(leaderboard), 10)
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, target, c.headers)
	if err != nil {
		return nil, err
	}

	out := make(chan core.Event, 32)
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()
	go func() {
		defer close(out)
		defer close(stop)
		defer conn.Close()
		for {
			var evt core.Event
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			select {
			case out <- evt:
			default:
				// drop if consumer is slow
			}
		}
	}()
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, out)
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func webhookPath(id core.LeaderboardID, secret string) string {
	return fmt.Sprintf("/v1/leaderboards/%d/%s/webhook", id, url.PathEscape(secret))
}

func requireSecretAndName(secret, name string, needName bool) error {
	if strings.TrimSpace(secret) == "" {
		return ErrEmptySecret
	}
	if needName && strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}
	return nil
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
