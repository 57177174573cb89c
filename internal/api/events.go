// Package api provides the websocket event stream for hapticd.
package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haptickit/hapticd/internal/models"
)

const eventBufferSize = 16

// VibrationEvent is one lifecycle transition pushed to event subscribers.
type VibrationEvent struct {
	ID     int64         `json:"id"`
	Token  string        `json:"token"`
	Status models.Status `json:"status"`
	Usage  models.Usage  `json:"usage"`
	Time   time.Time     `json:"time"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The daemon serves local tooling; origin checks add nothing here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// eventHub fans vibration lifecycle events out to websocket subscribers.
// Slow subscribers are dropped rather than allowed to block the manager.
type eventHub struct {
	mu      sync.Mutex
	clients map[chan VibrationEvent]struct{}
}

func newEventHub() *eventHub {
	return &eventHub{clients: make(map[chan VibrationEvent]struct{})}
}

func (h *eventHub) subscribe() chan VibrationEvent {
	ch := make(chan VibrationEvent, eventBufferSize)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *eventHub) unsubscribe(ch chan VibrationEvent) {
	h.mu.Lock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// BroadcastVibration is the manager.Listener adapter.
func (h *eventHub) BroadcastVibration(v *models.Vibration) {
	event := VibrationEvent{
		ID:     v.ID,
		Token:  v.Token,
		Status: v.Status(),
		Usage:  v.Caller.Usage,
		Time:   time.Now(),
	}
	h.mu.Lock()
	for ch := range h.clients {
		select {
		case ch <- event:
		default:
			slog.Warn("Dropping slow event subscriber", "vibration", event.ID)
			delete(h.clients, ch)
			close(ch)
		}
	}
	h.mu.Unlock()
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Server.eventsHandler: websocket upgrade failed", "error", err)
		return
	}
	slog.Debug("Event subscriber connected", "remote", conn.RemoteAddr())
	ch := s.hub.subscribe()
	defer s.hub.unsubscribe(ch)
	defer conn.Close()

	// Reader goroutine only notices disconnects; clients send nothing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				slog.Debug("Event subscriber write failed", "error", err)
				return
			}
		case <-done:
			return
		}
	}
}
