package core

import "time"

// EventType enumerates domain events.
type EventType string

const (
	EventLeaderboardCreated EventType = "leaderboard_created"
	EventScoreAccepted      EventType = "score_accepted"
	EventScoreDeleted       EventType = "score_deleted"
	EventScoresCleared      EventType = "scores_cleared"
)

// Event represents an immutable domain event.
type Event struct {
	Type        EventType     `json:"type"`
	Time        time.Time     `json:"time"`
	Leaderboard LeaderboardID `json:"leaderboard"`
	Name        string        `json:"name,omitempty"`
	Value       int64         `json:"value,omitempty"`
	ScoreTime   float64       `json:"score_time,omitempty"`
	Rank        int64         `json:"rank,omitempty"`
}

func NewLeaderboardCreated(id LeaderboardID) Event {
	return Event{Type: EventLeaderboardCreated, Time: time.Now().UTC(), Leaderboard: id}
}

func NewScoreAccepted(id LeaderboardID, name string, value int64, scoreTime float64, rank int64) Event {
	return Event{
		Type:        EventScoreAccepted,
		Time:        time.Now().UTC(),
		Leaderboard: id,
		Name:        name,
		Value:       value,
		ScoreTime:   scoreTime,
		Rank:        rank,
	}
}

func NewScoreDeleted(id LeaderboardID, name string) Event {
	return Event{Type: EventScoreDeleted, Time: time.Now().UTC(), Leaderboard: id, Name: name}
}

func NewScoresCleared(id LeaderboardID) Event {
	return Event{Type: EventScoresCleared, Time: time.Now().UTC(), Leaderboard: id}
}
