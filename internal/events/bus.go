package events

import (
	"sync"
)

// Event is one normalized order-status update, published after the result
// store has been written.
type Event struct {
	InternalID string `json:"internal_id"`
	Status     string `json:"status"`
	FilledQty  int64  `json:"filled_qty"`
	AvgPrice   string `json:"avg_price,omitempty"`
	BrokerID   int64  `json:"broker_order_id,omitempty"`
}

type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, 100)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.RUnlock()
}
