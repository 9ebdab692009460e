package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wilkinlas2/IBKR-Server-V6/internal/broker"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/config"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/events"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/health"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/httpserver"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/oca"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/orders"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/results"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/session"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/util"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := util.NewLogger(cfg.LogLevel)
	ctx := context.Background()

	var ocaStore oca.Store
	switch {
	case cfg.DBDSN != "":
		pg, err := oca.NewPostgresStore(ctx, cfg.DBDSN)
		if err != nil {
			log.Fatal(err)
		}
		defer pg.Close()
		ocaStore = pg
	case cfg.SQLitePath != "":
		sq, err := oca.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			log.Fatal(err)
		}
		defer sq.Close()
		ocaStore = sq
	default:
		ocaStore = oca.NewMemoryStore()
	}

	res := results.NewMemory()
	registry := oca.NewRegistry(ocaStore, res)

	var sess broker.Session
	switch cfg.Broker {
	case "sim":
		sess = broker.NewSimSession(broker.SimOptions{
			StartID:   100,
			IDDelay:   50 * time.Millisecond,
			FillAfter: 500 * time.Millisecond,
		})
	default:
		// TODO: real TWS socket session; until then ibkr mode refuses work.
		sess = broker.NewDisabledSession()
	}
	runner := session.NewRunner(sess, cfg.IBKRHost, cfg.IBKRPort, cfg.IBKRClientID, logger)
	defer runner.Close()

	bus := events.NewBus()
	adapter := orders.NewAdapter(runner, res, registry, bus, logger)
	registry.SetStatusLookup(adapter)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	go adapter.Run(runCtx)

	svc := orders.NewService(adapter, res, registry, logger)
	engine := workflow.NewEngine(svc, res, logger)

	startedAt := time.Now().UTC()
	healthHandler := health.NewHandler(startedAt, cfg.Broker, cfg.HTTPAddr)
	router := httpserver.NewRouter(httpserver.RouterDeps{
		OrderHandler:    orders.NewHandler(svc),
		WorkflowHandler: workflow.NewHandler(engine),
		HealthHandler:   healthHandler.Health,
		OrdersWSHandler: httpserver.NewOrdersWS(bus, cfg.WSOrigin),
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr, "broker", cfg.Broker)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "err", err)
	}
}
