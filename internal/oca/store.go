package oca

import (
	"context"
	"sync"

	"github.com/wilkinlas2/IBKR-Server-V6/internal/model"
)

// Store is the durable side of the registry: two tables, groups and legs,
// legs keyed uniquely by (group, role).
type Store interface {
	Load(ctx context.Context) (map[string]*model.OcaGroup, error)
	SaveGroup(ctx context.Context, g *model.OcaGroup) error
	SaveLeg(ctx context.Context, groupID string, leg model.Leg) error
	SetActive(ctx context.Context, groupID string, active bool) error
}

type MemoryStore struct {
	mu     sync.Mutex
	groups map[string]*model.OcaGroup
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{groups: make(map[string]*model.OcaGroup)}
}

func (s *MemoryStore) Load(ctx context.Context) (map[string]*model.OcaGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*model.OcaGroup, len(s.groups))
	for id, g := range s.groups {
		cp := *g
		cp.Legs = append([]model.Leg(nil), g.Legs...)
		out[id] = &cp
	}
	return out, nil
}

func (s *MemoryStore) SaveGroup(ctx context.Context, g *model.OcaGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *g
	cp.Legs = append([]model.Leg(nil), g.Legs...)
	s.groups[g.ID] = &cp
	return nil
}

func (s *MemoryStore) SaveLeg(ctx context.Context, groupID string, leg model.Leg) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return ErrNotFound
	}
	for i := range g.Legs {
		if g.Legs[i].Role == leg.Role {
			g.Legs[i] = leg
			return nil
		}
	}
	g.Legs = append(g.Legs, leg)
	return nil
}

func (s *MemoryStore) SetActive(ctx context.Context, groupID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return ErrNotFound
	}
	g.Active = active
	return nil
}
