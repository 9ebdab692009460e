package broker

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wilkinlas2/IBKR-Server-V6/internal/types"
)

func TestSequentialIDs(t *testing.T) {
	s := NewSimSession(SimOptions{StartID: 100})
	ctx := context.Background()
	c, _ := s.QualifyStock(ctx, "AAPL", "SMART")

	var ids []int64
	for i := 0; i < 3; i++ {
		tr, err := s.PlaceOrder(ctx, c, &Order{Action: types.OrderSideBuy, Quantity: 1, Kind: types.OrderKindMarket})
		if err != nil {
			t.Fatalf("place: %v", err)
		}
		id, err := s.BrokerID(ctx, tr)
		if err != nil {
			t.Fatalf("broker id: %v", err)
		}
		ids = append(ids, id)
	}
	for i, id := range ids {
		if want := int64(101 + i); id != want {
			t.Fatalf("ids[%d] = %d, want %d", i, id, want)
		}
	}
}

func TestIDWithheldUntilDelay(t *testing.T) {
	s := NewSimSession(SimOptions{StartID: 0, IDDelay: 80 * time.Millisecond})
	ctx := context.Background()
	c, _ := s.QualifyStock(ctx, "MSFT", "SMART")
	tr, err := s.PlaceOrder(ctx, c, &Order{Action: types.OrderSideBuy, Quantity: 1, Kind: types.OrderKindMarket})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	id, err := s.BrokerID(ctx, tr)
	if err != nil {
		t.Fatalf("broker id: %v", err)
	}
	if id != 0 {
		t.Fatalf("id before delay = %d, want 0", id)
	}
	time.Sleep(120 * time.Millisecond)
	id, err = s.BrokerID(ctx, tr)
	if err != nil {
		t.Fatalf("broker id: %v", err)
	}
	if id != 1 {
		t.Fatalf("id after delay = %d, want 1", id)
	}
}

func TestFillCancelsOCASiblings(t *testing.T) {
	s := NewSimSession(SimOptions{FillAfter: 30 * time.Millisecond})
	ctx := context.Background()
	c, _ := s.QualifyStock(ctx, "AAPL", "SMART")

	limit := decimal.NewFromInt(150)
	stopPx := decimal.NewFromInt(140)
	_, _ = s.PlaceOrder(ctx, c, &Order{Action: types.OrderSideSell, Quantity: 10, Kind: types.OrderKindLimit, LimitPrice: &limit, OCAGroup: "OCA-1"})
	_, _ = s.PlaceOrder(ctx, c, &Order{Action: types.OrderSideSell, Quantity: 10, Kind: types.OrderKindStop, StopPrice: &stopPx, OCAGroup: "OCA-1"})

	time.Sleep(150 * time.Millisecond)

	trades, err := s.OpenTrades(ctx)
	if err != nil {
		t.Fatalf("open trades: %v", err)
	}
	// both timers fire together; either leg may win, but only one can
	var filled, cancelled int
	for _, tr := range trades {
		switch tr.Status {
		case types.OrderStatusFilled:
			filled++
			if tr.AvgPrice == nil {
				t.Fatal("filled trade has no avg price")
			}
		case types.OrderStatusCancelled:
			cancelled++
		}
	}
	if filled != 1 || cancelled != 1 {
		t.Fatalf("filled = %d cancelled = %d, want 1 and 1", filled, cancelled)
	}
}

func TestCancelIdempotent(t *testing.T) {
	s := NewSimSession(SimOptions{})
	ctx := context.Background()
	c, _ := s.QualifyStock(ctx, "AAPL", "SMART")
	tr, _ := s.PlaceOrder(ctx, c, &Order{Action: types.OrderSideBuy, Quantity: 1, Kind: types.OrderKindMarket})
	id, _ := s.BrokerID(ctx, tr)

	if err := s.CancelOrder(ctx, &Order{BrokerID: id}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := s.CancelOrder(ctx, &Order{BrokerID: id}); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if err := s.CancelOrder(ctx, &Order{BrokerID: 9999}); err == nil {
		t.Fatal("want error for unknown id")
	}
}

func TestConnectError(t *testing.T) {
	wantErr := context.DeadlineExceeded
	s := NewSimSession(SimOptions{ConnectErr: wantErr})
	if err := s.Connect(context.Background(), "127.0.0.1", 7497, 1); err != wantErr {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}
