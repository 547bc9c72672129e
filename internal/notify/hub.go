// Package notify fans out domain events to connected websocket clients.
// Delivery is best effort: slow clients get dropped events, a hub with no
// clients logs and discards.
package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/daehwan-kim/stockpilot/internal/domain"
)

const clientBuffer = 32

// Hub implements domain.Notifier over websocket connections.
type Hub struct {
	log zerolog.Logger

	mu      sync.Mutex
	clients map[chan domain.Event]struct{}
	closed  bool
}

var _ domain.Notifier = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:     log.With().Str("component", "notify").Logger(),
		clients: make(map[chan domain.Event]struct{}),
	}
}

// Push delivers an event to every connected client without blocking. A
// client whose buffer is full misses the event.
func (h *Hub) Push(event domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- event:
		default:
			h.log.Debug().Str("kind", string(event.Kind)).Msg("Client buffer full, event dropped")
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) register() (chan domain.Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	ch := make(chan domain.Event, clientBuffer)
	h.clients[ch] = struct{}{}
	return ch, true
}

func (h *Hub) unregister(ch chan domain.Event) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

// Close disconnects all clients and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Same-host UI, origin checking handled by CORS middleware
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ch, ok := h.register()
	if !ok {
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.unregister(ch)

	ctx := r.Context()
	h.log.Debug().Msg("Websocket client connected")

	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-ch:
			if !open {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, event)
			cancel()
			if err != nil {
				h.log.Debug().Err(err).Msg("Websocket write failed, dropping client")
				return
			}
		}
	}
}

// LogNotifier is the fallback Notifier when no websocket surface exists
// (tests, headless runs). Events go to the log at debug level.
type LogNotifier struct {
	Log zerolog.Logger
}

func (n LogNotifier) Push(event domain.Event) {
	n.Log.Debug().Str("kind", string(event.Kind)).Interface("payload", event.Payload).Msg("Event")
}
