package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wilkinlas2/IBKR-Server-V6/internal/model"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/orders"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/results"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/types"
)

var ErrTimeout = errors.New("wait timed out")

const defaultPollInterval = 250 * time.Millisecond

// Engine interprets a workflow tree against one symbol. Each run is a single
// thread of control: order steps go through the order service, wait steps
// poll the result store cooperatively until they match or time out.
type Engine struct {
	svc          *orders.Service
	results      results.Store
	log          *slog.Logger
	pollInterval time.Duration
}

func NewEngine(svc *orders.Service, res results.Store, log *slog.Logger) *Engine {
	return &Engine{svc: svc, results: res, log: log, pollInterval: defaultPollInterval}
}

// SetPollInterval overrides the wait-node polling cadence.
func (e *Engine) SetPollInterval(d time.Duration) {
	if d > 0 {
		e.pollInterval = d
	}
}

// Run evaluates the tree and returns per-node results keyed by node id. A
// failing node aborts the remaining steps and propagates its error; results
// of the nodes that did run are still returned.
func (e *Engine) Run(ctx context.Context, root Node, symbol string) (map[string]any, error) {
	if symbol == "" {
		return nil, errors.New("symbol is required")
	}
	out := make(map[string]any)
	_, err := e.eval(ctx, root, symbol, out)
	return out, err
}

func (e *Engine) eval(ctx context.Context, node Node, symbol string, out map[string]any) (any, error) {
	switch n := node.(type) {
	case *SequenceNode:
		seq := make([]any, 0, len(n.Children))
		for _, child := range n.Children {
			r, err := e.eval(ctx, child, symbol, out)
			if err != nil {
				return nil, err
			}
			seq = append(seq, r)
		}
		res := map[string]any{"sequence": seq}
		out[n.ID] = res
		return seq, nil
	case *SingleOrderNode:
		res, err := e.runSingleOrder(ctx, n, symbol)
		if err != nil {
			return nil, err
		}
		out[n.ID] = res
		return res, nil
	case *BracketExitNode:
		res, err := e.runBracket(ctx, n, symbol)
		if err != nil {
			return nil, err
		}
		out[n.ID] = res
		return res, nil
	case *WaitForFillNode:
		res, err := e.wait(ctx, n.WaitsFor, []string{string(types.OrderStatusFilled)}, n.TimeoutSec, n.ProceedOnTimeout)
		if err != nil {
			return nil, err
		}
		out[n.ID] = res
		return res, nil
	case *WaitForStatusNode:
		res, err := e.wait(ctx, n.WaitsFor, n.Statuses, n.TimeoutSec, n.ProceedOnTimeout)
		if err != nil {
			return nil, err
		}
		out[n.ID] = res
		return res, nil
	}
	return nil, fmt.Errorf("unsupported node %T", node)
}

func (e *Engine) runSingleOrder(ctx context.Context, n *SingleOrderNode, symbol string) (map[string]any, error) {
	spec := model.OrderSpec{
		Symbol:      symbol,
		Exchange:    "SMART",
		Side:        n.Side,
		Kind:        n.Kind,
		Quantity:    n.Quantity,
		TimeInForce: n.TIF,
		LimitPrice:  n.LimitPrice,
	}
	res, err := e.svc.Enqueue(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("node %q: %w", n.ID, err)
	}
	return map[string]any{
		"ok":              true,
		"internal_id":     res.InternalID,
		"status":          string(res.Status),
		"broker_order_id": res.BrokerID,
	}, nil
}

func (e *Engine) runBracket(ctx context.Context, n *BracketExitNode, symbol string) (map[string]any, error) {
	placement, err := e.svc.PlaceBracket(ctx, orders.BracketRequest{
		Symbol:      symbol,
		Exchange:    "SMART",
		Side:        n.Side,
		Quantity:    n.Quantity,
		TargetPrice: n.TargetPrice,
		StopPrice:   n.StopPrice,
		TimeInForce: n.TIF,
		OCOOnly:     n.OCOOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("node %q: %w", n.ID, err)
	}
	brokerIDs := make(map[string]int64, len(placement.BrokerIDs))
	for role, id := range placement.BrokerIDs {
		brokerIDs[string(role)] = id
	}
	res := map[string]any{
		"ok":               true,
		"target_order_id":  placement.TargetOrderID,
		"stop_order_id":    placement.StopOrderID,
		"broker_order_ids": brokerIDs,
		"oca_group":        placement.OCAGroup,
	}
	if placement.ParentOrderID != "" {
		res["parent_order_id"] = placement.ParentOrderID
	}
	return res, nil
}

// wait polls the result store until the target's status is one of the wanted
// set or the deadline passes. A zero timeout gets exactly one status check.
func (e *Engine) wait(ctx context.Context, internalID string, statuses []string, timeoutSec int, proceed bool) (map[string]any, error) {
	if internalID == "" {
		return nil, errors.New("waits_for_internal_id is required")
	}
	wanted := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}
	deadline := time.Now().Add(time.Duration(timeoutSec) * time.Second)
	var last types.OrderStatus
	for {
		if rec, ok := e.results.Get(internalID); ok {
			last = rec.Status
			if wanted[string(rec.Status)] {
				return map[string]any{
					"ok":      true,
					"status":  string(rec.Status),
					"timeout": false,
				}, nil
			}
		}
		if !time.Now().Before(deadline) {
			if proceed {
				return map[string]any{
					"ok":        true,
					"status":    string(last),
					"timeout":   true,
					"proceeded": true,
				}, nil
			}
			return nil, fmt.Errorf("%w: %s not in %v after %ds (last %q)", ErrTimeout, internalID, statuses, timeoutSec, last)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.pollInterval):
		}
	}
}
