package model

import (
	"github.com/shopspring/decimal"

	"github.com/wilkinlas2/IBKR-Server-V6/internal/types"
)

type OrderSpec struct {
	Symbol      string            `json:"symbol"`
	Exchange    string            `json:"exchange"`
	Side        types.OrderSide   `json:"side"`
	Kind        types.OrderKind   `json:"order_type"`
	Quantity    int64             `json:"quantity"`
	TimeInForce types.TimeInForce `json:"tif"`
	LimitPrice  *decimal.Decimal  `json:"limit_price,omitempty"`
	StopPrice   *decimal.Decimal  `json:"stop_price,omitempty"`
}

type OrderDetail struct {
	Symbol      string            `json:"symbol"`
	Side        types.OrderSide   `json:"side"`
	Quantity    int64             `json:"quantity"`
	Kind        types.OrderKind   `json:"order_type"`
	LimitPrice  *decimal.Decimal  `json:"limit_price,omitempty"`
	StopPrice   *decimal.Decimal  `json:"stop_price,omitempty"`
	TimeInForce types.TimeInForce `json:"tif"`
}

type OrderRecord struct {
	InternalID string            `json:"internal_id"`
	Status     types.OrderStatus `json:"status"`
	FilledQty  int64             `json:"filled_qty"`
	AvgPrice   *decimal.Decimal  `json:"avg_price,omitempty"`
	BrokerID   int64             `json:"broker_order_id,omitempty"`
	Detail     *OrderDetail      `json:"detail,omitempty"`
	Adapter    string            `json:"adapter"`
	Error      string            `json:"error,omitempty"`
}

type Leg struct {
	Role       types.LegRole     `json:"role"`
	InternalID string            `json:"internal_id"`
	BrokerID   int64             `json:"broker_order_id"`
	Status     types.OrderStatus `json:"status,omitempty"`
}

type OcaGroup struct {
	ID     string `json:"oca_group"`
	Symbol string `json:"symbol"`
	Legs   []Leg  `json:"legs"`
	Active bool   `json:"active"`
}

func (g *OcaGroup) Leg(role types.LegRole) *Leg {
	for i := range g.Legs {
		if g.Legs[i].Role == role {
			return &g.Legs[i]
		}
	}
	return nil
}
