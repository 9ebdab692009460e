package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"

	"github.com/wilkinlas2/IBKR-Server-V6/internal/broker"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/events"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/model"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/oca"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/results"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/session"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/types"
)

var (
	ErrValidation     = errors.New("order validation failed")
	ErrInstrument     = errors.New("instrument resolution failed")
	ErrBrokerRejected = errors.New("broker rejected order")
	ErrBrokerID       = errors.New("could not obtain broker order id")
	ErrNotFound       = errors.New("order not found")
)

const adapterTag = "ibkr"

const parentIDWait = 2 * time.Second

const maxPendingUpdates = 16

// Adapter translates order operations into serialized broker calls and
// reconciles the broker's push updates into the result store.
type Adapter struct {
	runner   *session.Runner
	results  results.Store
	registry *oca.Registry
	bus      *events.Bus
	log      *slog.Logger

	mu       sync.Mutex
	bindings map[int64]string             // broker id -> internal id
	details  map[string]model.OrderDetail // internal id -> detail snapshot
	pending  map[int64][]broker.Update    // updates seen before their id was bound
}

var _ oca.StatusLookup = (*Adapter)(nil)

func NewAdapter(runner *session.Runner, res results.Store, registry *oca.Registry, bus *events.Bus, log *slog.Logger) *Adapter {
	return &Adapter{
		runner:   runner,
		results:  res,
		registry: registry,
		bus:      bus,
		log:      log,
		bindings: make(map[int64]string),
		details:  make(map[string]model.OrderDetail),
		pending:  make(map[int64][]broker.Update),
	}
}

// Run drains the broker's update channel into the result store. Blocks until
// ctx is cancelled or the channel closes.
func (a *Adapter) Run(ctx context.Context) {
	ch := a.runner.Session().Updates()
	if ch == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-ch:
			if !ok {
				return
			}
			a.apply(ctx, u)
		}
	}
}

func (a *Adapter) apply(ctx context.Context, u broker.Update) {
	a.mu.Lock()
	internalID, bound := a.bindings[u.BrokerID]
	if !bound {
		q := append(a.pending[u.BrokerID], u)
		if len(q) > maxPendingUpdates {
			q = q[len(q)-maxPendingUpdates:]
		}
		a.pending[u.BrokerID] = q
		a.mu.Unlock()
		return
	}
	detail, hasDetail := a.details[internalID]
	a.mu.Unlock()
	status := types.OrderStatus(strings.ToLower(u.Status))
	if status == "" {
		status = types.OrderStatusUnknown
	}
	filled := u.Filled
	if filled < 0 {
		filled = 0
	}
	rec := model.OrderRecord{
		InternalID: internalID,
		Status:     status,
		FilledQty:  filled,
		AvgPrice:   u.AvgPrice,
		BrokerID:   u.BrokerID,
		Adapter:    adapterTag,
	}
	if hasDetail {
		rec.Detail = &detail
	}
	a.results.Set(rec)
	evt := events.Event{InternalID: internalID, Status: string(status), FilledQty: filled, BrokerID: u.BrokerID}
	if u.AvgPrice != nil {
		evt.AvgPrice = u.AvgPrice.String()
	}
	a.bus.Publish(evt)
	if err := a.registry.UpdateLegByBrokerID(ctx, u.BrokerID, status); err != nil {
		a.log.Warn("oca leg refresh failed", "broker_order_id", u.BrokerID, "err", err)
	}
}

// bind maps a broker order id to its internal id and replays any updates the
// broker pushed before the mapping existed.
func (a *Adapter) bind(brokerID int64, internalID string, detail model.OrderDetail) {
	a.mu.Lock()
	var queued []broker.Update
	if brokerID != 0 {
		a.bindings[brokerID] = internalID
		queued = a.pending[brokerID]
		delete(a.pending, brokerID)
	}
	a.details[internalID] = detail
	a.mu.Unlock()
	for _, u := range queued {
		a.apply(context.Background(), u)
	}
}

func validateSpec(spec model.OrderSpec) error {
	if spec.Symbol == "" {
		return fmt.Errorf("%w: symbol required", ErrValidation)
	}
	if spec.Quantity <= 0 {
		return fmt.Errorf("%w: quantity > 0 required", ErrValidation)
	}
	switch spec.Side {
	case types.OrderSideBuy, types.OrderSideSell:
	default:
		return fmt.Errorf("%w: side must be BUY or SELL", ErrValidation)
	}
	switch spec.Kind {
	case types.OrderKindMarket:
	case types.OrderKindLimit:
		if spec.LimitPrice == nil || !spec.LimitPrice.IsPositive() {
			return fmt.Errorf("%w: limit_price required for LMT", ErrValidation)
		}
	case types.OrderKindStop:
		if spec.StopPrice == nil || !spec.StopPrice.IsPositive() {
			return fmt.Errorf("%w: stop_price required for STP", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unsupported order_type %q", ErrValidation, spec.Kind)
	}
	return nil
}

func buildOrder(spec model.OrderSpec) *broker.Order {
	tif := spec.TimeInForce
	if tif == "" {
		tif = types.TimeInForceDay
	}
	return &broker.Order{
		Action:     spec.Side,
		Quantity:   spec.Quantity,
		Kind:       spec.Kind,
		LimitPrice: spec.LimitPrice,
		StopPrice:  spec.StopPrice,
		TIF:        tif,
		Transmit:   true,
	}
}

func specDetail(spec model.OrderSpec) model.OrderDetail {
	tif := spec.TimeInForce
	if tif == "" {
		tif = types.TimeInForceDay
	}
	return model.OrderDetail{
		Symbol:      spec.Symbol,
		Side:        spec.Side,
		Quantity:    spec.Quantity,
		Kind:        spec.Kind,
		LimitPrice:  spec.LimitPrice,
		StopPrice:   spec.StopPrice,
		TimeInForce: tif,
	}
}

func qualify(ctx context.Context, sess broker.Session, symbol, exchange string) (broker.Contract, error) {
	if exchange == "" {
		exchange = "SMART"
	}
	c, err := sess.QualifyStock(ctx, symbol, exchange)
	if err != nil {
		return broker.Contract{}, fmt.Errorf("%w: %s/%s: %v", ErrInstrument, symbol, exchange, err)
	}
	return c, nil
}

// pollBrokerID waits briefly for the broker to acknowledge an order id.
// Explicit bounded poll with exponential backoff; zero means the broker
// never produced an id within maxWait.
func pollBrokerID(ctx context.Context, sess broker.Session, t *broker.Trade, maxWait time.Duration) (int64, error) {
	cfg := backoff.NewExponentialBackOff()
	cfg.InitialInterval = 50 * time.Millisecond
	cfg.MaxInterval = 250 * time.Millisecond
	deadline := time.Now().Add(maxWait)
	for {
		id, err := sess.BrokerID(ctx, t)
		if err != nil {
			return 0, err
		}
		if id != 0 {
			return id, nil
		}
		if !time.Now().Before(deadline) {
			return 0, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(cfg.NextBackOff()):
		}
	}
}

type SendResult struct {
	InternalID string            `json:"internal_id"`
	Status     types.OrderStatus `json:"status"`
	BrokerID   int64             `json:"broker_order_id,omitempty"`
}

// Send places a single order and binds its broker id to internalID so later
// push updates land in the result store.
func (a *Adapter) Send(ctx context.Context, spec model.OrderSpec, internalID string) (SendResult, error) {
	detail := specDetail(spec)
	if err := validateSpec(spec); err != nil {
		a.markError(internalID, err)
		return SendResult{InternalID: internalID}, err
	}
	type placed struct {
		trade *broker.Trade
		id    int64
	}
	res, err := a.runner.Submit(ctx, func(sess broker.Session) (any, error) {
		c, err := qualify(ctx, sess, spec.Symbol, spec.Exchange)
		if err != nil {
			return nil, err
		}
		t, err := sess.PlaceOrder(ctx, c, buildOrder(spec))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBrokerRejected, err)
		}
		id, err := pollBrokerID(ctx, sess, t, parentIDWait)
		if err != nil {
			return nil, err
		}
		return placed{trade: t, id: id}, nil
	})
	if err != nil {
		a.markError(internalID, err)
		return SendResult{InternalID: internalID}, err
	}
	p := res.(placed)
	status := p.trade.Status
	if status == "" {
		status = types.OrderStatusQueued
	}
	a.results.Set(model.OrderRecord{
		InternalID: internalID,
		Status:     status,
		FilledQty:  p.trade.Filled,
		AvgPrice:   p.trade.AvgPrice,
		BrokerID:   p.id,
		Detail:     &detail,
		Adapter:    adapterTag,
	})
	// Bind after the placement snapshot so replayed early pushes win.
	a.bind(p.id, internalID, detail)
	return SendResult{InternalID: internalID, Status: status, BrokerID: p.id}, nil
}

type BracketIDs struct {
	Parent string
	Target string
	Stop   string
}

type BracketResult struct {
	BrokerIDs map[types.LegRole]int64
	OCATag    string
}

type placedLeg struct {
	role  types.LegRole
	id    int64
	trade *broker.Trade
}

type bracketPlacement struct {
	legs   []placedLeg
	ocaTag string
}

// PlaceBracket submits parent + target + stop as one linked set inside a
// single serialized unit of work. The parent is placed with transmission
// withheld; both children carry its id and a shared OCA tag and only the
// last child transmits, releasing the whole set at once. The parent id must
// be acknowledged before any child references it.
func (a *Adapter) PlaceBracket(ctx context.Context, base model.OrderSpec, targetPrice, stopPrice decimal.Decimal, ids BracketIDs) (BracketResult, error) {
	if err := a.validateBracket(base, targetPrice, stopPrice, ids); err != nil {
		return BracketResult{}, err
	}
	tif := base.TimeInForce
	if tif == "" {
		tif = types.TimeInForceDay
	}
	childSide := base.Side.Opposite()
	res, err := a.runner.Submit(ctx, func(sess broker.Session) (any, error) {
		pl := &bracketPlacement{}
		c, err := qualify(ctx, sess, base.Symbol, base.Exchange)
		if err != nil {
			return pl, err
		}
		parent := &broker.Order{
			Action:   base.Side,
			Quantity: base.Quantity,
			Kind:     types.OrderKindMarket,
			TIF:      tif,
			Transmit: false,
		}
		pt, err := sess.PlaceOrder(ctx, c, parent)
		if err != nil {
			return pl, fmt.Errorf("%w: parent: %v", ErrBrokerRejected, err)
		}
		pid, err := pollBrokerID(ctx, sess, pt, parentIDWait)
		if err != nil {
			return pl, err
		}
		if pid == 0 {
			return pl, fmt.Errorf("%w: parent", ErrBrokerID)
		}
		pl.legs = append(pl.legs, placedLeg{role: types.LegRoleParent, id: pid, trade: pt})
		ocaTag := fmt.Sprintf("OCA-%d", pid)
		pl.ocaTag = ocaTag

		target := &broker.Order{
			Action:     childSide,
			Quantity:   base.Quantity,
			Kind:       types.OrderKindLimit,
			LimitPrice: &targetPrice,
			TIF:        tif,
			ParentID:   pid,
			OCAGroup:   ocaTag,
			OCAType:    1,
			Transmit:   false,
		}
		tt, err := sess.PlaceOrder(ctx, c, target)
		if err != nil {
			return pl, fmt.Errorf("%w: target: %v", ErrBrokerRejected, err)
		}
		tid, err := pollBrokerID(ctx, sess, tt, parentIDWait)
		if err != nil {
			return pl, err
		}
		if tid == 0 {
			return pl, fmt.Errorf("%w: target", ErrBrokerID)
		}
		pl.legs = append(pl.legs, placedLeg{role: types.LegRoleTarget, id: tid, trade: tt})

		stop := &broker.Order{
			Action:    childSide,
			Quantity:  base.Quantity,
			Kind:      types.OrderKindStop,
			StopPrice: &stopPrice,
			TIF:       tif,
			ParentID:  pid,
			OCAGroup:  ocaTag,
			OCAType:   1,
			Transmit:  true,
		}
		st, err := sess.PlaceOrder(ctx, c, stop)
		if err != nil {
			return pl, fmt.Errorf("%w: stop: %v", ErrBrokerRejected, err)
		}
		sid, err := pollBrokerID(ctx, sess, st, parentIDWait)
		if err != nil {
			return pl, err
		}
		if sid == 0 {
			return pl, fmt.Errorf("%w: stop", ErrBrokerID)
		}
		pl.legs = append(pl.legs, placedLeg{role: types.LegRoleStop, id: sid, trade: st})
		return pl, nil
	})
	pl, _ := res.(*bracketPlacement)
	return a.finishLinked(base, targetPrice, stopPrice, tif, childSide, pl, err, map[types.LegRole]string{
		types.LegRoleParent: ids.Parent,
		types.LegRoleTarget: ids.Target,
		types.LegRoleStop:   ids.Stop,
	})
}

type OCOIDs struct {
	Target string
	Stop   string
}

// PlaceOCO is the parent-less variant: two opposing exit legs sharing one OCA
// tag. With no parent chain to release them, the tag is derived from the
// target's internal id before anything reaches the broker, so both legs carry
// it at submission and each transmits on its own.
func (a *Adapter) PlaceOCO(ctx context.Context, base model.OrderSpec, targetPrice, stopPrice decimal.Decimal, ids OCOIDs) (BracketResult, error) {
	if err := a.validateBracket(base, targetPrice, stopPrice, BracketIDs{Parent: "x", Target: ids.Target, Stop: ids.Stop}); err != nil {
		return BracketResult{}, err
	}
	tif := base.TimeInForce
	if tif == "" {
		tif = types.TimeInForceDay
	}
	res, err := a.runner.Submit(ctx, func(sess broker.Session) (any, error) {
		pl := &bracketPlacement{}
		c, err := qualify(ctx, sess, base.Symbol, base.Exchange)
		if err != nil {
			return pl, err
		}
		ocaTag := "OCA-" + ids.Target
		pl.ocaTag = ocaTag
		target := &broker.Order{
			Action:     base.Side,
			Quantity:   base.Quantity,
			Kind:       types.OrderKindLimit,
			LimitPrice: &targetPrice,
			TIF:        tif,
			OCAGroup:   ocaTag,
			OCAType:    1,
			Transmit:   true,
		}
		tt, err := sess.PlaceOrder(ctx, c, target)
		if err != nil {
			return pl, fmt.Errorf("%w: target: %v", ErrBrokerRejected, err)
		}
		tid, err := pollBrokerID(ctx, sess, tt, parentIDWait)
		if err != nil {
			return pl, err
		}
		if tid == 0 {
			return pl, fmt.Errorf("%w: target", ErrBrokerID)
		}
		pl.legs = append(pl.legs, placedLeg{role: types.LegRoleTarget, id: tid, trade: tt})

		stop := &broker.Order{
			Action:    base.Side,
			Quantity:  base.Quantity,
			Kind:      types.OrderKindStop,
			StopPrice: &stopPrice,
			TIF:       tif,
			OCAGroup:  ocaTag,
			OCAType:   1,
			Transmit:  true,
		}
		st, err := sess.PlaceOrder(ctx, c, stop)
		if err != nil {
			return pl, fmt.Errorf("%w: stop: %v", ErrBrokerRejected, err)
		}
		sid, err := pollBrokerID(ctx, sess, st, parentIDWait)
		if err != nil {
			return pl, err
		}
		if sid == 0 {
			return pl, fmt.Errorf("%w: stop", ErrBrokerID)
		}
		pl.legs = append(pl.legs, placedLeg{role: types.LegRoleStop, id: sid, trade: st})
		return pl, nil
	})
	pl, _ := res.(*bracketPlacement)
	return a.finishLinked(base, targetPrice, stopPrice, tif, base.Side, pl, err, map[types.LegRole]string{
		types.LegRoleTarget: ids.Target,
		types.LegRoleStop:   ids.Stop,
	})
}

func (a *Adapter) validateBracket(base model.OrderSpec, targetPrice, stopPrice decimal.Decimal, ids BracketIDs) error {
	if base.Symbol == "" {
		return fmt.Errorf("%w: symbol required", ErrValidation)
	}
	if base.Quantity <= 0 {
		return fmt.Errorf("%w: quantity > 0 required", ErrValidation)
	}
	switch base.Side {
	case types.OrderSideBuy, types.OrderSideSell:
	default:
		return fmt.Errorf("%w: side must be BUY or SELL", ErrValidation)
	}
	if !targetPrice.IsPositive() {
		return fmt.Errorf("%w: target_price > 0 required", ErrValidation)
	}
	if !stopPrice.IsPositive() {
		return fmt.Errorf("%w: stop_price > 0 required", ErrValidation)
	}
	if ids.Parent == "" || ids.Target == "" || ids.Stop == "" {
		return fmt.Errorf("%w: internal ids for all legs required", ErrValidation)
	}
	return nil
}

// finishLinked records whatever legs made it to the broker. Placed legs keep
// their snapshots even when a later leg failed; unplaced legs are marked
// errored so partial failure is visible instead of hidden.
func (a *Adapter) finishLinked(base model.OrderSpec, targetPrice, stopPrice decimal.Decimal, tif types.TimeInForce, childSide types.OrderSide, pl *bracketPlacement, placeErr error, internalIDs map[types.LegRole]string) (BracketResult, error) {
	details := map[types.LegRole]model.OrderDetail{
		types.LegRoleParent: {Symbol: base.Symbol, Side: base.Side, Quantity: base.Quantity, Kind: types.OrderKindMarket, TimeInForce: tif},
		types.LegRoleTarget: {Symbol: base.Symbol, Side: childSide, Quantity: base.Quantity, Kind: types.OrderKindLimit, LimitPrice: &targetPrice, TimeInForce: tif},
		types.LegRoleStop:   {Symbol: base.Symbol, Side: childSide, Quantity: base.Quantity, Kind: types.OrderKindStop, StopPrice: &stopPrice, TimeInForce: tif},
	}
	placed := make(map[types.LegRole]placedLeg)
	if pl != nil {
		for _, leg := range pl.legs {
			placed[leg.role] = leg
		}
	}
	out := BracketResult{BrokerIDs: make(map[types.LegRole]int64)}
	for role, internalID := range internalIDs {
		detail := details[role]
		leg, ok := placed[role]
		if !ok {
			if placeErr != nil {
				a.markError(internalID, placeErr)
			}
			continue
		}
		status := leg.trade.Status
		if status == "" {
			status = types.OrderStatusQueued
		}
		a.results.Set(model.OrderRecord{
			InternalID: internalID,
			Status:     status,
			FilledQty:  leg.trade.Filled,
			AvgPrice:   leg.trade.AvgPrice,
			BrokerID:   leg.id,
			Detail:     &detail,
			Adapter:    adapterTag,
		})
		a.bind(leg.id, internalID, detail)
		out.BrokerIDs[role] = leg.id
	}
	if pl != nil {
		out.OCATag = pl.ocaTag
	}
	if placeErr != nil {
		return out, placeErr
	}
	return out, nil
}

func (a *Adapter) markError(internalID string, err error) {
	if internalID == "" {
		return
	}
	a.results.Set(model.OrderRecord{
		InternalID: internalID,
		Status:     types.OrderStatusError,
		Adapter:    adapterTag,
		Error:      err.Error(),
	})
}

// Cancel cancels one order by its internal id, resolving the broker id from
// the result store.
func (a *Adapter) Cancel(ctx context.Context, internalID string) error {
	rec, ok := a.results.Get(internalID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, internalID)
	}
	if rec.BrokerID == 0 {
		return fmt.Errorf("%w: %s has no broker order id", ErrNotFound, internalID)
	}
	_, err := a.runner.Submit(ctx, func(sess broker.Session) (any, error) {
		return nil, cancelOne(ctx, sess, rec.BrokerID)
	})
	return err
}

// CancelBracket cancels every broker id in one serialized unit. Per-id errors
// are aggregated; ids that cancel cleanly stay cancelled even when siblings
// fail.
func (a *Adapter) CancelBracket(ctx context.Context, brokerIDs []int64) (int, error) {
	if len(brokerIDs) == 0 {
		return 0, nil
	}
	res, err := a.runner.Submit(ctx, func(sess broker.Session) (any, error) {
		cancelled := 0
		var failures []string
		for _, id := range brokerIDs {
			if err := cancelOne(ctx, sess, id); err != nil {
				failures = append(failures, fmt.Sprintf("orderId %d: %v", id, err))
				continue
			}
			cancelled++
		}
		if len(failures) > 0 {
			return cancelled, errors.New(strings.Join(failures, "; "))
		}
		return cancelled, nil
	})
	count, _ := res.(int)
	return count, err
}

// cancelOne prefers the live trade; when the session cannot locate it, a bare
// cancel request carrying only the id is issued.
func cancelOne(ctx context.Context, sess broker.Session, brokerID int64) error {
	trades, err := sess.OpenTrades(ctx)
	if err != nil {
		return err
	}
	for _, t := range trades {
		if t.Order != nil && t.Order.BrokerID == brokerID {
			return sess.CancelOrder(ctx, t.Order)
		}
	}
	return sess.CancelOrder(ctx, &broker.Order{BrokerID: brokerID})
}

// OrderStatus asks the live session for an order's current status. Empty
// status means the session does not know the id.
func (a *Adapter) OrderStatus(ctx context.Context, brokerID int64) (types.OrderStatus, error) {
	res, err := a.runner.Submit(ctx, func(sess broker.Session) (any, error) {
		trades, err := sess.OpenTrades(ctx)
		if err != nil {
			return types.OrderStatus(""), err
		}
		for _, t := range trades {
			if t.Order != nil && t.Order.BrokerID == brokerID {
				return types.OrderStatus(strings.ToLower(string(t.Status))), nil
			}
		}
		return types.OrderStatus(""), nil
	})
	if err != nil {
		return "", err
	}
	return res.(types.OrderStatus), nil
}
