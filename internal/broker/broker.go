package broker

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/wilkinlas2/IBKR-Server-V6/internal/types"
)

type Contract struct {
	Symbol   string
	Exchange string
	Currency string
}

// Order mirrors the fields the broker wire protocol cares about. BrokerID
// is zero until the broker assigns one.
type Order struct {
	BrokerID   int64
	Action     types.OrderSide
	Quantity   int64
	Kind       types.OrderKind
	LimitPrice *decimal.Decimal
	StopPrice  *decimal.Decimal
	TIF        types.TimeInForce
	ParentID   int64
	OCAGroup   string
	OCAType    int
	Transmit   bool
}

type Trade struct {
	Contract Contract
	Order    *Order
	Status   types.OrderStatus
	Filled   int64
	AvgPrice *decimal.Decimal
}

// Update is a push event for one broker order. The session emits these on
// its Updates channel for every status or fill change.
type Update struct {
	BrokerID int64
	Status   string
	Filled   int64
	AvgPrice *decimal.Decimal
}

// Session is one stateful broker connection. Implementations are not safe
// for concurrent use; all calls must be serialized by session.Runner.
type Session interface {
	Connect(ctx context.Context, host string, port, clientID int) error
	Close() error
	QualifyStock(ctx context.Context, symbol, exchange string) (Contract, error)
	PlaceOrder(ctx context.Context, c Contract, o *Order) (*Trade, error)
	// BrokerID reports the broker-assigned id for a placed trade, or 0 while
	// the broker has not acknowledged it yet.
	BrokerID(ctx context.Context, t *Trade) (int64, error)
	CancelOrder(ctx context.Context, o *Order) error
	OpenTrades(ctx context.Context) ([]*Trade, error)
	Updates() <-chan Update
}
