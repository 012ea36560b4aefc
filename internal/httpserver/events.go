package httpserver

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bx-funddesk/internal/funds"
)

// EventHub fans fund audit events out to connected admin panels. It
// doubles as a funds.EventPublisher so the service does not know it is
// feeding websockets.
type EventHub struct {
	mu   sync.RWMutex
	subs map[chan funds.AuditEvent]struct{}
}

func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[chan funds.AuditEvent]struct{})}
}

func (h *EventHub) Subscribe() chan funds.AuditEvent {
	ch := make(chan funds.AuditEvent, 100)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *EventHub) Unsubscribe(ch chan funds.AuditEvent) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// Publish never blocks: slow panels drop events rather than stall the
// fund pipeline.
func (h *EventHub) Publish(ctx context.Context, ev funds.AuditEvent) error {
	h.mu.RLock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	h.mu.RUnlock()
	return nil
}

// EventsWS streams the hub to a websocket client.
type EventsWS struct {
	hub      *EventHub
	upgrader websocket.Upgrader
}

func NewEventsWS(hub *EventHub, origin string) *EventsWS {
	return &EventsWS{
		hub:      hub,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return allowOrigin(r, origin) }},
	}
}

func (h *EventsWS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := h.hub.Subscribe()
	defer h.hub.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func allowOrigin(r *http.Request, origin string) bool {
	if origin == "*" {
		return true
	}
	return strings.EqualFold(r.Header.Get("Origin"), origin)
}
