package httpserver

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/wilkinlas2/IBKR-Server-V6/internal/events"
)

// OrdersWS streams every order-status event to connected clients. Slow
// clients fall behind silently: the bus drops events on a full subscriber
// channel instead of stalling the adapter.
type OrdersWS struct {
	bus      *events.Bus
	upgrader websocket.Upgrader
}

func NewOrdersWS(bus *events.Bus, origin string) *OrdersWS {
	return &OrdersWS{
		bus:      bus,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return allowOrigin(r, origin) }},
	}
}

func allowOrigin(r *http.Request, allowed string) bool {
	if allowed == "" || allowed == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(allowed, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

func (h *OrdersWS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	sub := h.bus.Subscribe()
	defer h.bus.Unsubscribe(sub)
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
		case evt, ok := <-sub:
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
