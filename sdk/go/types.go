package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"highscores/core"
)

// CreateOptions mirrors the query parameters of the create route.
type CreateOptions struct {
	Direction    core.Direction
	OrderBy      core.OrderBy
	SingleSecret bool
}

// ListOptions selects a page of scores. A nil Count lists every entry.
type ListOptions struct {
	Count   *int
	Offset  int
	Reverse bool
}

// Limit is a helper for ListOptions.Count.
func Limit(n int) *int { return &n }

// ScoreList is a page of scores plus the leaderboard's entry count.
type ScoreList struct {
	Scores []core.Score `json:"scores"`
	Total  int64        `json:"total"`
}

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string                 `json:"status"`
	Checks map[string]interface{} `json:"checks"`
}

// APIError is a non-2xx response. errors.Is matches it against the core
// sentinels by status code.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed: status %d", e.Status)
	}
	return fmt.Sprintf("request failed: status %d: %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case core.ErrNotFound:
		return e.Status == http.StatusNotFound
	case core.ErrUnauthorized:
		return e.Status == http.StatusForbidden
	case core.ErrStoreUnavailable:
		return e.Status == http.StatusServiceUnavailable
	case core.ErrInvalidName:
		return e.Code == "invalid_name"
	}
	return false
}

func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		_ = json.Unmarshal(body, apiErr)
		return apiErr
	}
	if target == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

var (
	// ErrEmptyName is returned when a player name is empty.
	ErrEmptyName = errors.New("name is required")
	// ErrEmptySecret is returned when a secret is empty.
	ErrEmptySecret = errors.New("secret is required")
)
