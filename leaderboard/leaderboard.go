package leaderboard

// Entry is a member of an ordered set with its score.
type Entry struct {
	Member string
	Score  float64
}

// Board abstracts an ordered set ranked by (score asc, member asc).
type Board interface {
	Set(member string, score float64)
	Remove(member string) bool
	Score(member string) (float64, bool)
	Rank(member string, reverse bool) (int, bool)
	Range(skip, take int, reverse bool) []Entry
	Len() int
	Each(fn func(Entry) bool)
}
