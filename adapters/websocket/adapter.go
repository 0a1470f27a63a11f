package websocket

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"highscores/core"
	"highscores/realtime"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	bufferSize = 256
)

// Option configures the handler.
type Option func(*handler)

// WithLogger sets the logger for connection lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(h *handler) {
		if l != nil {
			h.logger = l
		}
	}
}

type handler struct {
	hub      *realtime.Hub
	upgrader gorillaws.Upgrader
	logger   *slog.Logger
}

// Handler returns an http.Handler that upgrades to WebSocket and streams hub
// events. The optional leaderboard query parameter restricts the stream to a
// single leaderboard.
func Handler(hub *realtime.Hub, opts ...Option) http.Handler {
	h := &handler{
		hub:      hub,
		upgrader: gorillaws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter := realtime.AllLeaderboards
	if raw := r.URL.Query().Get("leaderboard"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "invalid leaderboard", http.StatusBadRequest)
			return
		}
		filter = core.LeaderboardID(id)
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	id, ch := h.hub.Subscribe(bufferSize, filter)
	defer h.hub.Unsubscribe(id)
	h.logger.Debug("websocket subscriber connected", "subscriber", id, "leaderboard", filter)

	// The read side only drains control frames; it ends when the peer goes away.
	done := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(gorillaws.CloseMessage, gorillaws.FormatCloseMessage(gorillaws.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteMessage(gorillaws.TextMessage, realtime.MarshalJSON(ev)); err != nil {
				h.logger.Debug("websocket write failed", "subscriber", id, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(gorillaws.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			h.logger.Debug("websocket subscriber disconnected", "subscriber", id)
			return
		}
	}
}
