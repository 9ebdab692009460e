package results

import (
	"testing"

	"github.com/wilkinlas2/IBKR-Server-V6/internal/model"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/types"
)

func TestSetGet(t *testing.T) {
	s := NewMemory()
	if _, ok := s.Get("missing"); ok {
		t.Fatal("want miss for unknown id")
	}
	s.Set(model.OrderRecord{InternalID: "a1", Status: types.OrderStatusQueued})
	rec, ok := s.Get("a1")
	if !ok {
		t.Fatal("want hit for a1")
	}
	if rec.Status != types.OrderStatusQueued {
		t.Fatalf("status = %q, want queued", rec.Status)
	}
}

func TestLastWriteWins(t *testing.T) {
	s := NewMemory()
	s.Set(model.OrderRecord{InternalID: "a1", Status: types.OrderStatusSubmitted})
	s.Set(model.OrderRecord{InternalID: "a1", Status: types.OrderStatusFilled, FilledQty: 10})
	rec, _ := s.Get("a1")
	if rec.Status != types.OrderStatusFilled {
		t.Fatalf("status = %q, want filled", rec.Status)
	}
	if rec.FilledQty != 10 {
		t.Fatalf("filled = %d, want 10", rec.FilledQty)
	}
}

func TestList(t *testing.T) {
	s := NewMemory()
	s.Set(model.OrderRecord{InternalID: "a1"})
	s.Set(model.OrderRecord{InternalID: "a2"})
	s.Set(model.OrderRecord{InternalID: "a1", Status: types.OrderStatusCancelled})
	if got := len(s.List()); got != 2 {
		t.Fatalf("len = %d, want 2", got)
	}
}
