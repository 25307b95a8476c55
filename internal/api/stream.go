package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/agora/internal/engine"
)

const (
	maxStreamConns = 16
	streamBuffer   = 8
	writeWait      = 5 * time.Second
	readWait       = 60 * time.Second
	pingEvery      = readWait / 2
)

// Hub fans tick summaries out to websocket clients. Clients that fall
// behind by more than streamBuffer summaries miss the overflow rather
// than slowing the tick loop.
type Hub struct {
	mu      sync.Mutex
	clients map[uint64]chan []byte
	nextID  uint64
	logger  *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{clients: make(map[uint64]chan []byte), logger: logger}
}

// Publish is an engine summary sink.
func (h *Hub) Publish(sum engine.Summary) {
	b, err := json.Marshal(sum)
	if err != nil {
		h.logger.Error("encode summary", "tick", sum.Tick, "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.clients {
		select {
		case ch <- b:
		default:
			h.logger.Debug("stream client lagging", "client", id, "tick", sum.Tick)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) join() (uint64, chan []byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) >= maxStreamConns {
		return 0, nil, false
	}
	h.nextID++
	ch := make(chan []byte, streamBuffer)
	h.clients[h.nextID] = ch
	return h.nextID, ch, true
}

func (h *Hub) leave(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, id)
}

// handleStream upgrades to a websocket, sends the latest summary, then
// every new one. Client messages are read only to notice disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	id, out, ok := s.hub.join()
	if !ok {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many stream clients"), time.Now().Add(time.Second))
		return
	}
	defer s.hub.leave(id)
	s.logger.Info("stream client connected", "client", id)

	if first, err := json.Marshal(s.sim.Last()); err == nil {
		select {
		case out <- first:
		default:
		}
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	writeErr := make(chan error, 1)
	go func() {
		ping := time.NewTicker(pingEvery)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				writeErr <- ctx.Err()
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					writeErr <- err
					return
				}
			case b := <-out:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					writeErr <- err
					return
				}
			}
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	cancel()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	select {
	case <-writeErr:
	case <-time.After(500 * time.Millisecond):
	}
	s.logger.Info("stream client disconnected", "client", id)
}
