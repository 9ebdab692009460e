package oca

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/wilkinlas2/IBKR-Server-V6/internal/model"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/types"
)

func TestSQLiteRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oca.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	g := &model.OcaGroup{
		ID:     "OCA-AAPL-101",
		Symbol: "AAPL",
		Active: true,
		Legs: []model.Leg{
			{Role: types.LegRoleParent, InternalID: "p1", BrokerID: 101},
			{Role: types.LegRoleTarget, InternalID: "t1", BrokerID: 102, Status: types.OrderStatusSubmitted},
			{Role: types.LegRoleStop, InternalID: "s1", BrokerID: 103},
		},
	}
	if err := s.SaveGroup(ctx, g); err != nil {
		t.Fatalf("save group: %v", err)
	}
	if err := s.SaveLeg(ctx, g.ID, model.Leg{Role: types.LegRoleTarget, InternalID: "t1", BrokerID: 102, Status: types.OrderStatusFilled}); err != nil {
		t.Fatalf("save leg: %v", err)
	}
	if err := s.SetActive(ctx, g.ID, false); err != nil {
		t.Fatalf("set active: %v", err)
	}

	loaded, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got, ok := loaded[g.ID]
	if !ok {
		t.Fatalf("group missing, loaded %d groups", len(loaded))
	}
	if got.Symbol != "AAPL" {
		t.Fatalf("symbol = %q", got.Symbol)
	}
	if got.Active {
		t.Fatal("group should be inactive")
	}
	if len(got.Legs) != 3 {
		t.Fatalf("legs = %d, want 3", len(got.Legs))
	}
	if leg := got.Leg(types.LegRoleTarget); leg == nil || leg.Status != types.OrderStatusFilled {
		t.Fatalf("target leg = %+v, want filled", leg)
	}
	// saving again under the same (group, role) must update, not duplicate
	if err := s.SaveGroup(ctx, g); err != nil {
		t.Fatalf("resave: %v", err)
	}
	loaded, err = s.Load(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if n := len(loaded[g.ID].Legs); n != 3 {
		t.Fatalf("legs after resave = %d, want 3", n)
	}
}
