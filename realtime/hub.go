package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"highscores/core"
)

// AllLeaderboards subscribes to events of every leaderboard.
const AllLeaderboards core.LeaderboardID = 0

type subscriber struct {
	ch          chan core.Event
	leaderboard core.LeaderboardID
}

// Hub fans engine events out to subscriber channels. Slow subscribers lose
// events instead of blocking the publisher.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	next    int
	closed  bool
	dropped int64
}

func NewHub() *Hub { return &Hub{subs: map[int]subscriber{}} }

// Subscribe registers a channel for events of one leaderboard, or of all of
// them when leaderboard is AllLeaderboards. The channel is closed by
// Unsubscribe or Close.
func (h *Hub) Subscribe(buffer int, leaderboard core.LeaderboardID) (int, <-chan core.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan core.Event, buffer)
	if h.closed {
		close(ch)
		return 0, ch
	}
	h.next++
	id := h.next
	h.subs[id] = subscriber{ch: ch, leaderboard: leaderboard}
	return id, ch
}

func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Broadcast delivers ev to every matching subscriber, dropping it for those
// whose buffer is full.
func (h *Hub) Broadcast(_ context.Context, ev core.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if sub.leaderboard != AllLeaderboards && sub.leaderboard != ev.Leaderboard {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			h.dropped++
		}
	}
}

// OnEvent adapts Broadcast to the engine event bus handler signature.
func (h *Hub) OnEvent(ctx context.Context, ev core.Event) { h.Broadcast(ctx, ev) }

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped because of full buffers.
func (h *Hub) Dropped() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// Close ends every subscription. Later subscriptions receive a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// MarshalJSON is a helper to convert events to JSON bytes for WebSocket frames.
func MarshalJSON(ev core.Event) []byte {
	b, _ := json.Marshal(ev)
	return b
}
