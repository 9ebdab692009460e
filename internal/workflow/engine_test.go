package workflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wilkinlas2/IBKR-Server-V6/internal/broker"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/events"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/model"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/oca"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/orders"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/results"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/session"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

func newTestEngine(t *testing.T, opts broker.SimOptions) (*Engine, results.Store) {
	t.Helper()
	log := testLogger()
	sim := broker.NewSimSession(opts)
	runner := session.NewRunner(sim, "127.0.0.1", 7497, 1, log)
	res := results.NewMemory()
	registry := oca.NewRegistry(oca.NewMemoryStore(), res)
	adapter := orders.NewAdapter(runner, res, registry, events.NewBus(), log)
	registry.SetStatusLookup(adapter)
	ctx, cancel := context.WithCancel(context.Background())
	go adapter.Run(ctx)
	t.Cleanup(func() {
		cancel()
		runner.Close()
	})
	engine := NewEngine(orders.NewService(adapter, res, registry, log), res, log)
	engine.SetPollInterval(10 * time.Millisecond)
	return engine, res
}

func TestWaitZeroTimeoutImmediatelyExpires(t *testing.T) {
	engine, res := newTestEngine(t, broker.SimOptions{})
	res.Set(model.OrderRecord{InternalID: "abc", Status: types.OrderStatusQueued})

	root := &WaitForStatusNode{ID: "w", WaitsFor: "abc", Statuses: []string{"filled", "cancelled"}, TimeoutSec: 0}
	start := time.Now()
	_, err := engine.Run(context.Background(), root, "AAPL")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("zero timeout took %s, want immediate expiry", elapsed)
	}
}

func TestWaitMatchesCurrentStatus(t *testing.T) {
	engine, res := newTestEngine(t, broker.SimOptions{})
	res.Set(model.OrderRecord{InternalID: "abc", Status: types.OrderStatusFilled})

	root := &WaitForFillNode{ID: "w", WaitsFor: "abc", TimeoutSec: 0}
	out, err := engine.Run(context.Background(), root, "AAPL")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	got := out["w"].(map[string]any)
	if got["status"] != "filled" || got["timeout"] != false {
		t.Fatalf("result = %+v", got)
	}
}

func TestWaitProceedOnTimeout(t *testing.T) {
	engine, res := newTestEngine(t, broker.SimOptions{})
	res.Set(model.OrderRecord{InternalID: "abc", Status: types.OrderStatusSubmitted})

	root := &WaitForFillNode{ID: "w", WaitsFor: "abc", TimeoutSec: 0, ProceedOnTimeout: true}
	out, err := engine.Run(context.Background(), root, "AAPL")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	got := out["w"].(map[string]any)
	if got["timeout"] != true || got["proceeded"] != true {
		t.Fatalf("result = %+v", got)
	}
}

func TestWaitSeesLaterUpdate(t *testing.T) {
	engine, res := newTestEngine(t, broker.SimOptions{})
	res.Set(model.OrderRecord{InternalID: "abc", Status: types.OrderStatusSubmitted})
	go func() {
		time.Sleep(50 * time.Millisecond)
		res.Set(model.OrderRecord{InternalID: "abc", Status: types.OrderStatusFilled})
	}()

	root := &WaitForFillNode{ID: "w", WaitsFor: "abc", TimeoutSec: 5}
	out, err := engine.Run(context.Background(), root, "AAPL")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := out["w"].(map[string]any)["status"]; got != "filled" {
		t.Fatalf("status = %v, want filled", got)
	}
}

func TestSequenceAbortsOnError(t *testing.T) {
	engine, _ := newTestEngine(t, broker.SimOptions{})
	root := &SequenceNode{
		ID: "root",
		Children: []Node{
			&WaitForStatusNode{ID: "w1", WaitsFor: "missing", Statuses: []string{"filled"}, TimeoutSec: 0},
			&SingleOrderNode{ID: "never", Side: types.OrderSideBuy, Kind: types.OrderKindMarket, Quantity: 1},
		},
	}
	out, err := engine.Run(context.Background(), root, "AAPL")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if _, ran := out["never"]; ran {
		t.Fatal("second child ran after first failed")
	}
}

func TestSequencePlacesOrderAndBracket(t *testing.T) {
	engine, res := newTestEngine(t, broker.SimOptions{StartID: 100})
	root := &SequenceNode{
		ID: "root",
		Children: []Node{
			&SingleOrderNode{ID: "buy", Side: types.OrderSideBuy, Kind: types.OrderKindMarket, Quantity: 10, TIF: types.TimeInForceDay},
			&BracketExitNode{
				ID:          "exit",
				Side:        types.OrderSideSell,
				Quantity:    10,
				TargetPrice: dec(150),
				StopPrice:   dec(140),
				TIF:         types.TimeInForceDay,
				OCOOnly:     true,
			},
		},
	}
	out, err := engine.Run(context.Background(), root, "AAPL")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	buy := out["buy"].(map[string]any)
	if buy["broker_order_id"].(int64) != 101 {
		t.Fatalf("buy broker id = %v, want 101", buy["broker_order_id"])
	}
	internalID := buy["internal_id"].(string)
	if _, ok := res.Get(internalID); !ok {
		t.Fatalf("no result for %s", internalID)
	}
	exit := out["exit"].(map[string]any)
	if exit["oca_group"] != "OCA-AAPL-102" {
		t.Fatalf("oca group = %v, want OCA-AAPL-102", exit["oca_group"])
	}
	seq := out["root"].(map[string]any)["sequence"].([]any)
	if len(seq) != 2 {
		t.Fatalf("sequence results = %d, want 2", len(seq))
	}
}

func TestRunRequiresSymbol(t *testing.T) {
	engine, _ := newTestEngine(t, broker.SimOptions{})
	if _, err := engine.Run(context.Background(), &SequenceNode{ID: "r"}, ""); err == nil {
		t.Fatal("want error for empty symbol")
	}
}
