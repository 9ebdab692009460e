package types

type OrderSide string

type OrderKind string

type OrderStatus string

type TimeInForce string

type LegRole string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

const (
	OrderKindMarket OrderKind = "MKT"
	OrderKindLimit  OrderKind = "LMT"
	OrderKindStop   OrderKind = "STP"
)

const (
	OrderStatusQueued          OrderStatus = "queued"
	OrderStatusAccepted        OrderStatus = "accepted"
	OrderStatusSubmitted       OrderStatus = "submitted"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusPartiallyFilled OrderStatus = "partiallyfilled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusError           OrderStatus = "error"
	OrderStatusUnknown         OrderStatus = "unknown"
)

const (
	TimeInForceDay TimeInForce = "DAY"
	TimeInForceGTC TimeInForce = "GTC"
)

const (
	LegRoleParent LegRole = "parent"
	LegRoleTarget LegRole = "target"
	LegRoleStop   LegRole = "stop"
)

func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}
