package api

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"patch-fleet/pkg/fleet"
)

// WSMessage is the envelope pushed to run subscribers.
type WSMessage struct {
	Type  string       `json:"type"` // host_progress, run_started, run_finished
	RunID uint         `json:"runId,omitempty"`
	Event *fleet.Event `json:"event,omitempty"`
}

// subscriber serializes writes to one connection. Broadcast is called
// concurrently from every host worker, and the websocket library allows
// only a single writer per connection.
type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *subscriber) send(msg WSMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(msg)
}

// WSHub fans fleet-run progress out to websocket subscribers (UIs,
// dashboards). Subscribers that stop reading are dropped.
type WSHub struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	subs     map[*subscriber]struct{}
}

func NewWSHub() *WSHub {
	return &WSHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		subs: map[*subscriber]struct{}{},
	}
}

// HandleWS upgrades the request and subscribes it to run progress.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v err=%v", r.RemoteAddr, err)
		return
	}
	sub := &subscriber{conn: c}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	log.Printf("ws subscriber connected: %s", r.RemoteAddr)
	go h.readLoop(sub)
}

// Broadcast sends a message to every subscriber; write failures drop the
// subscriber.
func (h *WSHub) Broadcast(msg WSMessage) {
	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()
	for _, s := range subs {
		if err := s.send(msg); err != nil {
			h.drop(s)
		}
	}
}

// Subscribers reports how many connections are registered.
func (h *WSHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// readLoop drains the connection so pings/closes are processed.
func (h *WSHub) readLoop(s *subscriber) {
	defer h.drop(s)
	for {
		if _, _, err := s.conn.NextReader(); err != nil {
			return
		}
	}
}

func (h *WSHub) drop(s *subscriber) {
	_ = s.conn.Close()
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}
