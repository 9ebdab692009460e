package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wilkinlas2/IBKR-Server-V6/internal/model"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/oca"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/results"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/types"
)

// Service is the surface the HTTP layer and the workflow engine call into.
type Service struct {
	adapter  *Adapter
	results  results.Store
	registry *oca.Registry
	log      *slog.Logger
}

func NewService(adapter *Adapter, res results.Store, registry *oca.Registry, log *slog.Logger) *Service {
	return &Service{adapter: adapter, results: res, registry: registry, log: log}
}

func newInternalID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Enqueue assigns a fresh internal id, seeds a queued snapshot and hands the
// order to the adapter. The id is valid for result lookups even when the
// placement fails.
func (s *Service) Enqueue(ctx context.Context, spec model.OrderSpec) (SendResult, error) {
	internalID := newInternalID()
	detail := specDetail(spec)
	s.results.Set(model.OrderRecord{
		InternalID: internalID,
		Status:     types.OrderStatusQueued,
		Detail:     &detail,
		Adapter:    adapterTag,
	})
	res, err := s.adapter.Send(ctx, spec, internalID)
	res.InternalID = internalID
	return res, err
}

type BracketRequest struct {
	Symbol      string
	Exchange    string
	Side        types.OrderSide
	Quantity    int64
	TargetPrice decimal.Decimal
	StopPrice   decimal.Decimal
	TimeInForce types.TimeInForce
	OCOOnly     bool
}

type BracketPlacement struct {
	ParentOrderID string                  `json:"parent_order_id,omitempty"`
	TargetOrderID string                  `json:"target_order_id"`
	StopOrderID   string                  `json:"stop_order_id"`
	BrokerIDs     map[types.LegRole]int64 `json:"broker_order_ids"`
	OCAGroup      string                  `json:"oca_group"`
}

// PlaceBracket seeds accepted placeholders for every leg before the broker
// call, places the linked set and registers the resulting group. Registration
// is best-effort: the orders are live at the broker whether or not the
// registry write sticks.
func (s *Service) PlaceBracket(ctx context.Context, req BracketRequest) (BracketPlacement, error) {
	base := model.OrderSpec{
		Symbol:      req.Symbol,
		Exchange:    req.Exchange,
		Side:        req.Side,
		Kind:        types.OrderKindMarket,
		Quantity:    req.Quantity,
		TimeInForce: req.TimeInForce,
	}
	placement := BracketPlacement{
		TargetOrderID: newInternalID(),
		StopOrderID:   newInternalID(),
	}
	if !req.OCOOnly {
		placement.ParentOrderID = newInternalID()
	}
	for _, id := range []string{placement.ParentOrderID, placement.TargetOrderID, placement.StopOrderID} {
		if id != "" {
			s.results.Set(model.OrderRecord{InternalID: id, Status: types.OrderStatusAccepted, Adapter: adapterTag})
		}
	}

	var res BracketResult
	var err error
	if req.OCOOnly {
		res, err = s.adapter.PlaceOCO(ctx, base, req.TargetPrice, req.StopPrice, OCOIDs{
			Target: placement.TargetOrderID,
			Stop:   placement.StopOrderID,
		})
	} else {
		res, err = s.adapter.PlaceBracket(ctx, base, req.TargetPrice, req.StopPrice, BracketIDs{
			Parent: placement.ParentOrderID,
			Target: placement.TargetOrderID,
			Stop:   placement.StopOrderID,
		})
	}
	placement.BrokerIDs = res.BrokerIDs
	if err != nil {
		return placement, err
	}

	anchor := types.LegRoleParent
	if req.OCOOnly {
		anchor = types.LegRoleTarget
	}
	placement.OCAGroup = oca.GroupID(req.Symbol, res.BrokerIDs[anchor])
	legs := []model.Leg{
		{Role: types.LegRoleTarget, InternalID: placement.TargetOrderID, BrokerID: res.BrokerIDs[types.LegRoleTarget]},
		{Role: types.LegRoleStop, InternalID: placement.StopOrderID, BrokerID: res.BrokerIDs[types.LegRoleStop]},
	}
	if !req.OCOOnly {
		legs = append([]model.Leg{
			{Role: types.LegRoleParent, InternalID: placement.ParentOrderID, BrokerID: res.BrokerIDs[types.LegRoleParent]},
		}, legs...)
	}
	if regErr := s.registry.Upsert(ctx, placement.OCAGroup, req.Symbol, legs); regErr != nil {
		s.log.Warn("oca registration failed", "oca_group", placement.OCAGroup, "err", regErr)
	}
	return placement, nil
}

type CancelGroupResult struct {
	OCAGroup       string   `json:"oca_group"`
	CancelledCount int      `json:"cancelled_count"`
	BrokerIDs      []int64  `json:"broker_order_ids,omitempty"`
	Errors         []string `json:"errors,omitempty"`
}

// CancelGroup cancels every leg of a registered group. Legs with known broker
// ids go down in one serialized batch; legs without ids fall back to per-leg
// cancels via the result store.
func (s *Service) CancelGroup(ctx context.Context, groupID string) (CancelGroupResult, error) {
	g, err := s.registry.Get(ctx, groupID)
	if err != nil {
		return CancelGroupResult{}, err
	}
	out := CancelGroupResult{OCAGroup: groupID}
	var brokerIDs []int64
	for _, leg := range g.Legs {
		if leg.BrokerID != 0 {
			brokerIDs = append(brokerIDs, leg.BrokerID)
		}
	}
	if len(brokerIDs) > 0 {
		count, err := s.adapter.CancelBracket(ctx, brokerIDs)
		out.CancelledCount = count
		out.BrokerIDs = brokerIDs
		if err != nil {
			return out, fmt.Errorf("cancel of oca %q failed: %w", groupID, err)
		}
	} else {
		for _, leg := range g.Legs {
			if leg.InternalID == "" {
				continue
			}
			if err := s.adapter.Cancel(ctx, leg.InternalID); err != nil {
				out.Errors = append(out.Errors, err.Error())
				continue
			}
			out.CancelledCount++
		}
		if out.CancelledCount == 0 {
			return out, errors.New("no cancellable legs in group " + groupID)
		}
	}
	if err := s.registry.MarkInactive(ctx, groupID); err != nil {
		s.log.Warn("mark inactive failed", "oca_group", groupID, "err", err)
	}
	return out, nil
}

func (s *Service) GetResult(internalID string) (model.OrderRecord, error) {
	rec, ok := s.results.Get(internalID)
	if !ok {
		return model.OrderRecord{}, fmt.Errorf("%w: %s", ErrNotFound, internalID)
	}
	return rec, nil
}

func (s *Service) ListResults() []model.OrderRecord {
	return s.results.List()
}

func (s *Service) Cancel(ctx context.Context, internalID string) error {
	return s.adapter.Cancel(ctx, internalID)
}

func (s *Service) GetGroupDetail(ctx context.Context, groupID string) (model.OcaGroup, error) {
	return s.registry.GetDetail(ctx, groupID)
}

func (s *Service) ListActiveGroups(ctx context.Context) ([]string, error) {
	return s.registry.ListActive(ctx)
}
