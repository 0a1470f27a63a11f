package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"highscores/core"
	"highscores/engine"
)

func TestMemoryStoreHashes(t *testing.T) {
	ctx := context.Background()
	s := New()

	n, err := s.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, _ = s.Incr(ctx, "counter")
	assert.Equal(t, int64(2), n)

	require.NoError(t, s.HSet(ctx, "h", map[string]string{"a": "1", "b": "2"}))
	got, err := s.HGet(ctx, "h", "a", "c")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1"}, got)

	require.NoError(t, s.HDel(ctx, "h", "a", "b"))
	got, _ = s.HGet(ctx, "h", "a", "b")
	assert.Empty(t, got)
}

func TestMemoryStoreSetScoreIf(t *testing.T) {
	ctx := context.Background()
	s := New()
	rec := func(v string) engine.Record {
		return engine.Record{Key: "rec:a", Fields: map[string]string{"value": v}}
	}

	changed, err := s.SetScoreIf(ctx, "z", "a", 10, core.LessThan, rec("10"))
	require.NoError(t, err)
	assert.True(t, changed)

	changed, _ = s.SetScoreIf(ctx, "z", "a", 20, core.LessThan, rec("20"))
	assert.False(t, changed)
	changed, _ = s.SetScoreIf(ctx, "z", "a", 10, core.LessThan, rec("10b"))
	assert.False(t, changed, "equal score is not an improvement")

	got, _ := s.HGet(ctx, "rec:a", "value")
	assert.Equal(t, "10", got["value"], "record follows the stored score")

	changed, _ = s.SetScoreIf(ctx, "z", "a", 5, core.LessThan, rec("5"))
	assert.True(t, changed)
	got, _ = s.HGet(ctx, "rec:a", "value")
	assert.Equal(t, "5", got["value"])

	changed, _ = s.SetScoreIf(ctx, "z", "b", 1, core.GreaterThan, engine.Record{})
	assert.True(t, changed, "new member is always inserted")
	changed, _ = s.SetScoreIf(ctx, "z", "b", 0, core.GreaterThan, engine.Record{})
	assert.False(t, changed)
}

func TestMemoryStoreRankAndRange(t *testing.T) {
	ctx := context.Background()
	s := New()
	for m, sc := range map[string]float64{"a": 3, "b": 1, "c": 2, "d": 2} {
		_, err := s.SetScoreIf(ctx, "z", m, sc, core.LessThan, engine.Record{})
		require.NoError(t, err)
	}

	r, ok, err := s.Rank(ctx, "z", "b", core.OrderAscending)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(0), r)
	r, _, _ = s.Rank(ctx, "z", "b", core.OrderDescending)
	assert.Equal(t, int64(3), r)
	_, ok, _ = s.Rank(ctx, "z", "missing", core.OrderAscending)
	assert.False(t, ok)
	_, ok, _ = s.Rank(ctx, "nope", "a", core.OrderAscending)
	assert.False(t, ok)

	all, _ := s.Range(ctx, "z", 0, -1, core.OrderAscending)
	assert.Equal(t, []string{"b", "c", "d", "a"}, all)
	page, _ := s.Range(ctx, "z", 1, 2, core.OrderDescending)
	assert.Equal(t, []string{"d", "c"}, page)
	empty, _ := s.Range(ctx, "z", 10, 2, core.OrderAscending)
	assert.Empty(t, empty)

	n, _ := s.Card(ctx, "z")
	assert.Equal(t, int64(4), n)
	require.NoError(t, s.Remove(ctx, "z", "c"))
	require.NoError(t, s.Remove(ctx, "z", "missing"))
	n, _ = s.Card(ctx, "z")
	assert.Equal(t, int64(3), n)

	require.NoError(t, s.Del(ctx, "z"))
	n, _ = s.Card(ctx, "z")
	assert.Equal(t, int64(0), n)
	require.NoError(t, s.Ping(ctx))
}

func TestMemoryStoreSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, _ = s.Incr(ctx, "counter")
	_, _ = s.SetScoreIf(ctx, "z", "a", 1.5, core.LessThan, engine.Record{Key: "r", Fields: map[string]string{"f": "v"}})

	snap := s.Snapshot()
	other := New()
	other.Restore(snap)

	n, _ := other.Incr(ctx, "counter")
	assert.Equal(t, int64(2), n)
	got, _ := other.HGet(ctx, "r", "f")
	assert.Equal(t, "v", got["f"])
	members, _ := other.Range(ctx, "z", 0, -1, core.OrderAscending)
	assert.Equal(t, []string{"a"}, members)

	// snapshot is a copy
	_ = s.HSet(ctx, "r", map[string]string{"f": "changed"})
	assert.Equal(t, "v", snap.Hashes["r"]["f"])
}
