package core

import (
	"errors"
	"fmt"
	"strings"
)

// LeaderboardID identifies a leaderboard. Ids are allocated by the store counter
// and never reused.
type LeaderboardID int64

// Direction decides which ranking keys are better.
type Direction int

const (
	// Descending ranks higher keys first. It is the default.
	Descending Direction = iota
	// Ascending ranks lower keys first (e.g. speedruns ordered by time).
	Ascending
)

func (d Direction) String() string {
	if d == Ascending {
		return "Ascending"
	}
	return "Descending"
}

// ParseDirection reads a stored direction. Empty or unknown input yields Descending
// so partially initialized records stay usable.
func ParseDirection(s string) Direction {
	if strings.EqualFold(strings.TrimSpace(s), "ascending") || strings.EqualFold(strings.TrimSpace(s), "asc") {
		return Ascending
	}
	return Descending
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(b []byte) error {
	*d = ParseDirection(string(b))
	return nil
}

// OrderBy selects which submitted field is the ranking key.
type OrderBy int

const (
	// ByValue ranks on the integer value. It is the default.
	ByValue OrderBy = iota
	// ByTime ranks on the floating point time.
	ByTime
)

func (o OrderBy) String() string {
	if o == ByTime {
		return "Time"
	}
	return "Value"
}

// ParseOrderBy reads a stored sort attribute, defaulting to ByValue.
func ParseOrderBy(s string) OrderBy {
	if strings.EqualFold(strings.TrimSpace(s), "time") {
		return ByTime
	}
	return ByValue
}

// MarshalText implements encoding.TextMarshaler.
func (o OrderBy) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *OrderBy) UnmarshalText(b []byte) error {
	*o = ParseOrderBy(string(b))
	return nil
}

// LeaderboardConfig is the immutable ranking configuration of a leaderboard.
type LeaderboardConfig struct {
	ID        LeaderboardID `json:"id"`
	Direction Direction     `json:"direction"`
	OrderBy   OrderBy       `json:"order_by"`
}

// RankingKey picks the field used for ordering.
func (c LeaderboardConfig) RankingKey(value int64, time float64) float64 {
	if c.OrderBy == ByTime {
		return time
	}
	return float64(value)
}

// Leaderboard is the full record returned once at creation.
type Leaderboard struct {
	ID           LeaderboardID `json:"id"`
	AppendSecret string        `json:"secret"`
	ModifySecret string        `json:"private_secret,omitempty"`
	Direction    Direction     `json:"direction"`
	OrderBy      OrderBy       `json:"order_by"`
	Webhook      string        `json:"webhook,omitempty"`
}

// Secrets holds the two authorization tiers of a leaderboard. Modify is empty for
// single-secret leaderboards.
type Secrets struct {
	Append string
	Modify string
}

// For resolves the token for a tier. A missing modify secret falls back to the
// append secret.
func (s Secrets) For(tier Tier) string {
	if tier == TierModify && s.Modify != "" {
		return s.Modify
	}
	return s.Append
}

// Tier is an authorization level.
type Tier int

const (
	// TierAppend authorizes score submission.
	TierAppend Tier = iota
	// TierModify authorizes clear, delete and webhook configuration.
	TierModify
)

func (t Tier) String() string {
	if t == TierModify {
		return "modify"
	}
	return "append"
}

// Score is a player's best entry with its derived rank.
type Score struct {
	Name  string  `json:"name"`
	Value int64   `json:"value"`
	Time  float64 `json:"time"`
	Rank  int64   `json:"rank"`
}

// Condition guards a conditional sorted-set update.
type Condition int

const (
	// GreaterThan only updates when the new score is strictly greater.
	GreaterThan Condition = iota
	// LessThan only updates when the new score is strictly lower.
	LessThan
)

// Order is the enumeration order of a sorted set.
type Order int

const (
	OrderAscending Order = iota
	OrderDescending
)

// Reverse flips the order.
func (o Order) Reverse() Order {
	if o == OrderAscending {
		return OrderDescending
	}
	return OrderAscending
}

var (
	// ErrNotFound is returned when a leaderboard or an entry does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned when a presented secret does not match.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrStoreUnavailable wraps backend and transport failures of the ordered store.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidName is returned by NameConstraints.Validate.
	ErrInvalidName = errors.New("invalid name")
)

// StoreError wraps err so that errors.Is(err, ErrStoreUnavailable) holds.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// DefaultAllowedCharacters is the default player name alphabet.
const DefaultAllowedCharacters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_ "

// NameConstraints bounds player names accepted by the API layer.
type NameConstraints struct {
	MinLength         int    `json:"min_length" env:"HIGHSCORES_NAMES_MIN_LENGTH"`
	MaxLength         int    `json:"max_length" env:"HIGHSCORES_NAMES_MAX_LENGTH"`
	AllowedCharacters string `json:"allowed_characters" env:"HIGHSCORES_NAMES_ALLOWED_CHARACTERS"`
}

// DefaultNameConstraints returns 2..16 characters of letters, digits, '_' and space.
func DefaultNameConstraints() NameConstraints {
	return NameConstraints{MinLength: 2, MaxLength: 16, AllowedCharacters: DefaultAllowedCharacters}
}

// Validate checks a name against the constraints. Length is counted in runes.
func (c NameConstraints) Validate(name string) error {
	n := len([]rune(name))
	if n < c.MinLength || n > c.MaxLength {
		return fmt.Errorf("%w: length must be between %d and %d", ErrInvalidName, c.MinLength, c.MaxLength)
	}
	for _, r := range name {
		if !strings.ContainsRune(c.AllowedCharacters, r) {
			return fmt.Errorf("%w: character %q is not allowed", ErrInvalidName, r)
		}
	}
	return nil
}
