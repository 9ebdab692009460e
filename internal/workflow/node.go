package workflow

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/wilkinlas2/IBKR-Server-V6/internal/types"
)

// Node is one step of a workflow tree. A workflow is a single root node
// evaluated once against one symbol.
type Node interface {
	NodeID() string
}

type SequenceNode struct {
	ID       string
	Children []Node
}

type SingleOrderNode struct {
	ID         string
	Side       types.OrderSide
	Kind       types.OrderKind
	Quantity   int64
	TIF        types.TimeInForce
	LimitPrice *decimal.Decimal
}

type BracketExitNode struct {
	ID          string
	Side        types.OrderSide
	Quantity    int64
	TargetPrice decimal.Decimal
	StopPrice   decimal.Decimal
	TIF         types.TimeInForce
	OCOOnly     bool
}

type WaitForFillNode struct {
	ID               string
	WaitsFor         string
	TimeoutSec       int
	ProceedOnTimeout bool
}

type WaitForStatusNode struct {
	ID               string
	WaitsFor         string
	Statuses         []string
	TimeoutSec       int
	ProceedOnTimeout bool
}

func (n *SequenceNode) NodeID() string      { return n.ID }
func (n *SingleOrderNode) NodeID() string   { return n.ID }
func (n *BracketExitNode) NodeID() string   { return n.ID }
func (n *WaitForFillNode) NodeID() string   { return n.ID }
func (n *WaitForStatusNode) NodeID() string { return n.ID }

// Parse decodes a JSON node tree.
func Parse(raw []byte) (Node, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("invalid workflow json: %w", err)
	}
	return ParseNode(m)
}

// ParseNode builds a node from a decoded JSON object, dispatching on the
// "type" discriminator. Defaults follow the persisted workflow format:
// quantity 1, tif DAY, timeout 300s, statuses ["filled"].
func ParseNode(m map[string]any) (Node, error) {
	t := strings.ToLower(getString(m, "type", ""))
	id := getString(m, "id", "")
	switch t {
	case "sequence":
		node := &SequenceNode{ID: id}
		children, _ := m["children"].([]any)
		for i, c := range children {
			cm, ok := c.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("sequence %q: child %d is not an object", id, i)
			}
			child, err := ParseNode(cm)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, child)
		}
		return node, nil
	case "single_order":
		node := &SingleOrderNode{
			ID:       id,
			Side:     types.OrderSide(strings.ToUpper(getString(m, "side", "BUY"))),
			Kind:     types.OrderKind(strings.ToUpper(getString(m, "order_type", "MKT"))),
			Quantity: getInt(m, "quantity", 1),
			TIF:      types.TimeInForce(getString(m, "tif", "DAY")),
		}
		if v, ok := m["limit_price"]; ok && v != nil {
			p, err := toDecimal(v)
			if err != nil {
				return nil, fmt.Errorf("single_order %q: limit_price: %w", id, err)
			}
			node.LimitPrice = &p
		}
		return node, nil
	case "bracket_exit":
		node := &BracketExitNode{
			ID:       id,
			Side:     types.OrderSide(strings.ToUpper(getString(m, "side", "SELL"))),
			Quantity: getInt(m, "quantity", 1),
			TIF:      types.TimeInForce(getString(m, "tif", "DAY")),
			OCOOnly:  getBool(m, "oco_only"),
		}
		var err error
		if node.TargetPrice, err = toDecimal(m["target_price"]); err != nil {
			return nil, fmt.Errorf("bracket_exit %q: target_price: %w", id, err)
		}
		if node.StopPrice, err = toDecimal(m["stop_price"]); err != nil {
			return nil, fmt.Errorf("bracket_exit %q: stop_price: %w", id, err)
		}
		return node, nil
	case "wait_for_fill":
		return &WaitForFillNode{
			ID:               id,
			WaitsFor:         getString(m, "waits_for_internal_id", ""),
			TimeoutSec:       int(getInt(m, "timeout_sec", 300)),
			ProceedOnTimeout: getBool(m, "proceed_on_timeout"),
		}, nil
	case "wait_for_status":
		node := &WaitForStatusNode{
			ID:               id,
			WaitsFor:         getString(m, "waits_for_internal_id", ""),
			TimeoutSec:       int(getInt(m, "timeout_sec", 300)),
			ProceedOnTimeout: getBool(m, "proceed_on_timeout"),
		}
		switch v := m["statuses"].(type) {
		case []any:
			for _, s := range v {
				node.Statuses = append(node.Statuses, strings.ToLower(fmt.Sprint(s)))
			}
		case string:
			node.Statuses = []string{strings.ToLower(v)}
		}
		if len(node.Statuses) == 0 {
			node.Statuses = []string{string(types.OrderStatusFilled)}
		}
		return node, nil
	}
	return nil, fmt.Errorf("unknown node type %q", t)
}

func getString(m map[string]any, key, def string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return def
}

func getInt(m map[string]any, key string, def int64) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case json.Number:
		n, err := v.Int64()
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case float64:
		return decimal.NewFromFloat(x), nil
	case string:
		return decimal.NewFromString(x)
	case json.Number:
		return decimal.NewFromString(x.String())
	case nil:
		return decimal.Decimal{}, fmt.Errorf("missing value")
	}
	return decimal.Decimal{}, fmt.Errorf("unsupported value %v", v)
}
