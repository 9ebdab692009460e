package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wilkinlas2/IBKR-Server-V6/internal/types"
)

var _ Session = (*SimSession)(nil)

// SimSession is an in-memory broker for development and tests. It assigns
// sequential broker ids, pushes status updates on the Updates channel and,
// when FillAfter is set, fills orders and cancels their OCA siblings.
type SimSession struct {
	mu        sync.Mutex
	nextID    int64
	idDelay   time.Duration
	fillAfter time.Duration
	connErr   error
	connected bool
	updates   chan Update
	handles   map[*Trade]*simOrder
	byID      map[int64]*simOrder
}

type SimOptions struct {
	// StartID is the last already-used broker id; the first order gets
	// StartID+1.
	StartID int64
	// IDDelay withholds the broker id for this long after placement, so the
	// adapter's id poll has something to wait on.
	IDDelay time.Duration
	// FillAfter fills each order this long after its id is assigned. Zero
	// leaves orders submitted.
	FillAfter time.Duration
	// ConnectErr makes Connect fail.
	ConnectErr error
}

type simOrder struct {
	id       int64
	visible  time.Time
	contract Contract
	order    Order
	status   types.OrderStatus
	filled   int64
	avg      *decimal.Decimal
}

func NewSimSession(opts SimOptions) *SimSession {
	return &SimSession{
		nextID:    opts.StartID,
		idDelay:   opts.IDDelay,
		fillAfter: opts.FillAfter,
		connErr:   opts.ConnectErr,
		updates:   make(chan Update, 256),
		handles:   make(map[*Trade]*simOrder),
		byID:      make(map[int64]*simOrder),
	}
}

func (s *SimSession) Connect(ctx context.Context, host string, port, clientID int) error {
	if s.connErr != nil {
		return s.connErr
	}
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

func (s *SimSession) Close() error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

func (s *SimSession) QualifyStock(ctx context.Context, symbol, exchange string) (Contract, error) {
	if symbol == "" {
		return Contract{}, fmt.Errorf("cannot qualify contract: empty symbol")
	}
	return Contract{Symbol: symbol, Exchange: exchange, Currency: "USD"}, nil
}

func (s *SimSession) PlaceOrder(ctx context.Context, c Contract, o *Order) (*Trade, error) {
	s.mu.Lock()
	s.nextID++
	rec := &simOrder{
		id:       s.nextID,
		visible:  time.Now().Add(s.idDelay),
		contract: c,
		order:    *o,
		status:   types.OrderStatusQueued,
	}
	s.byID[rec.id] = rec
	t := &Trade{Contract: c, Order: o, Status: rec.status}
	s.handles[t] = rec
	s.mu.Unlock()

	time.AfterFunc(s.idDelay, func() { s.markSubmitted(rec) })
	if s.fillAfter > 0 {
		time.AfterFunc(s.idDelay+s.fillAfter, func() { s.fill(rec) })
	}
	return t, nil
}

func (s *SimSession) markSubmitted(rec *simOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.status != types.OrderStatusQueued {
		return
	}
	rec.status = types.OrderStatusSubmitted
	s.emit(Update{BrokerID: rec.id, Status: string(rec.status)})
}

func (s *SimSession) fill(rec *simOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.status == types.OrderStatusCancelled || rec.status == types.OrderStatusFilled {
		return
	}
	rec.status = types.OrderStatusFilled
	rec.filled = rec.order.Quantity
	switch {
	case rec.order.LimitPrice != nil:
		rec.avg = rec.order.LimitPrice
	case rec.order.StopPrice != nil:
		rec.avg = rec.order.StopPrice
	default:
		px := decimal.NewFromInt(100)
		rec.avg = &px
	}
	s.emit(Update{BrokerID: rec.id, Status: string(rec.status), Filled: rec.filled, AvgPrice: rec.avg})
	// one-cancels-all: a filled leg takes its siblings down
	if rec.order.OCAGroup != "" {
		for _, other := range s.byID {
			if other != rec && other.order.OCAGroup == rec.order.OCAGroup && other.status != types.OrderStatusFilled {
				other.status = types.OrderStatusCancelled
				s.emit(Update{BrokerID: other.id, Status: string(other.status), Filled: other.filled})
			}
		}
	}
}

func (s *SimSession) CancelOrder(ctx context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[o.BrokerID]
	if !ok {
		return fmt.Errorf("unknown broker order id %d", o.BrokerID)
	}
	if rec.status == types.OrderStatusFilled || rec.status == types.OrderStatusCancelled {
		return nil
	}
	rec.status = types.OrderStatusCancelled
	s.emit(Update{BrokerID: rec.id, Status: string(rec.status), Filled: rec.filled})
	return nil
}

func (s *SimSession) BrokerID(ctx context.Context, t *Trade) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.handles[t]
	if !ok {
		return 0, fmt.Errorf("unknown trade")
	}
	if time.Now().Before(rec.visible) {
		return 0, nil
	}
	return rec.id, nil
}

func (s *SimSession) OpenTrades(ctx context.Context) ([]*Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Trade, 0, len(s.byID))
	for _, rec := range s.byID {
		o := rec.order
		o.BrokerID = rec.id
		out = append(out, &Trade{
			Contract: rec.contract,
			Order:    &o,
			Status:   rec.status,
			Filled:   rec.filled,
			AvgPrice: rec.avg,
		})
	}
	return out, nil
}

func (s *SimSession) Updates() <-chan Update {
	return s.updates
}

func (s *SimSession) emit(u Update) {
	select {
	case s.updates <- u:
	default:
	}
}
