package oca

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/wilkinlas2/IBKR-Server-V6/internal/model"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/results"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/types"
)

var ErrNotFound = errors.New("oca group not found")

// StatusLookup asks the broker for the current status of an order. Implemented
// by the order adapter; empty status means the broker does not know the id.
type StatusLookup interface {
	OrderStatus(ctx context.Context, brokerID int64) (types.OrderStatus, error)
}

// GroupID derives the registry/broker-visible group name. It must be stable
// across restarts: same symbol and parent id always yield the same name.
func GroupID(symbol string, parentBrokerID int64) string {
	return fmt.Sprintf("OCA-%s-%d", strings.ToUpper(symbol), parentBrokerID)
}

// Registry maps OCA group ids to their legs. The in-memory map is the working
// copy; the durable store is loaded once on first access and mirrored on
// every write so groups survive restarts for read-back.
type Registry struct {
	mu      sync.Mutex
	store   Store
	groups  map[string]*model.OcaGroup
	loaded  bool
	results results.Store
	lookup  StatusLookup
}

func NewRegistry(store Store, res results.Store) *Registry {
	return &Registry{store: store, groups: make(map[string]*model.OcaGroup), results: res}
}

// SetStatusLookup wires the adapter in after construction; the adapter itself
// depends on the registry for leg refreshes.
func (r *Registry) SetStatusLookup(l StatusLookup) {
	r.mu.Lock()
	r.lookup = l
	r.mu.Unlock()
}

func (r *Registry) ensureLoaded(ctx context.Context) error {
	if r.loaded {
		return nil
	}
	groups, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load oca registry: %w", err)
	}
	for id, g := range groups {
		r.groups[id] = g
	}
	r.loaded = true
	return nil
}

func (r *Registry) Upsert(ctx context.Context, groupID, symbol string, legs []model.Leg) error {
	if groupID == "" || symbol == "" {
		return errors.New("oca group id and symbol are required")
	}
	seen := make(map[types.LegRole]bool, len(legs))
	for _, leg := range legs {
		if seen[leg.Role] {
			return fmt.Errorf("duplicate leg role %q in group %s", leg.Role, groupID)
		}
		seen[leg.Role] = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoaded(ctx); err != nil {
		return err
	}
	g := &model.OcaGroup{ID: groupID, Symbol: symbol, Legs: append([]model.Leg(nil), legs...), Active: true}
	r.groups[groupID] = g
	return r.store.SaveGroup(ctx, g)
}

func (r *Registry) UpdateLegStatus(ctx context.Context, groupID string, role types.LegRole, status types.OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoaded(ctx); err != nil {
		return err
	}
	g, ok := r.groups[groupID]
	if !ok {
		return ErrNotFound
	}
	leg := g.Leg(role)
	if leg == nil {
		return fmt.Errorf("group %s has no %s leg", groupID, role)
	}
	leg.Status = status
	return r.store.SaveLeg(ctx, groupID, *leg)
}

// UpdateLegByBrokerID refreshes the cached status of whichever leg carries
// the given broker id. Ids that belong to no group are a no-op; most orders
// are not OCA legs.
func (r *Registry) UpdateLegByBrokerID(ctx context.Context, brokerID int64, status types.OrderStatus) error {
	if brokerID == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoaded(ctx); err != nil {
		return err
	}
	for _, g := range r.groups {
		for i := range g.Legs {
			if g.Legs[i].BrokerID == brokerID {
				g.Legs[i].Status = status
				return r.store.SaveLeg(ctx, g.ID, g.Legs[i])
			}
		}
	}
	return nil
}

func (r *Registry) MarkInactive(ctx context.Context, groupID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoaded(ctx); err != nil {
		return err
	}
	g, ok := r.groups[groupID]
	if !ok {
		return ErrNotFound
	}
	g.Active = false
	return r.store.SetActive(ctx, groupID, false)
}

// GetDetail returns a snapshot of the group with leg statuses refreshed: the
// broker lookup wins, the result store is the fallback, the cached value
// stays when neither knows better.
func (r *Registry) GetDetail(ctx context.Context, groupID string) (model.OcaGroup, error) {
	r.mu.Lock()
	if err := r.ensureLoaded(ctx); err != nil {
		r.mu.Unlock()
		return model.OcaGroup{}, err
	}
	g, ok := r.groups[groupID]
	if !ok {
		r.mu.Unlock()
		return model.OcaGroup{}, ErrNotFound
	}
	out := *g
	out.Legs = append([]model.Leg(nil), g.Legs...)
	lookup := r.lookup
	r.mu.Unlock()

	for i := range out.Legs {
		leg := &out.Legs[i]
		if lookup != nil && leg.BrokerID != 0 {
			if st, err := lookup.OrderStatus(ctx, leg.BrokerID); err == nil && st != "" {
				leg.Status = st
				continue
			}
		}
		if r.results != nil {
			if rec, ok := r.results.Get(leg.InternalID); ok && rec.Status != "" {
				leg.Status = rec.Status
			}
		}
	}
	return out, nil
}

// Get returns the raw cached group without any status refresh.
func (r *Registry) Get(ctx context.Context, groupID string) (model.OcaGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoaded(ctx); err != nil {
		return model.OcaGroup{}, err
	}
	g, ok := r.groups[groupID]
	if !ok {
		return model.OcaGroup{}, ErrNotFound
	}
	out := *g
	out.Legs = append([]model.Leg(nil), g.Legs...)
	return out, nil
}

func (r *Registry) ListActive(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	var out []string
	for id, g := range r.groups {
		if g.Active {
			out = append(out, id)
		}
	}
	return out, nil
}
