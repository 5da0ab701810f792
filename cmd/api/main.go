package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/grocery-fulfillment/internal/config"
	"github.com/ariefcatur/grocery-fulfillment/internal/events"
	"github.com/ariefcatur/grocery-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/grocery-fulfillment/internal/httpx"
	"github.com/ariefcatur/grocery-fulfillment/internal/inventory"
	kafkax "github.com/ariefcatur/grocery-fulfillment/internal/kafka"
	"github.com/ariefcatur/grocery-fulfillment/internal/ledger"
	"github.com/ariefcatur/grocery-fulfillment/internal/logging"
	"github.com/ariefcatur/grocery-fulfillment/internal/metrics"
	"github.com/ariefcatur/grocery-fulfillment/internal/orders"
	"github.com/ariefcatur/grocery-fulfillment/internal/postgres"
	"github.com/ariefcatur/grocery-fulfillment/internal/redisx"
)

type stores struct {
	products inventory.Store
	bins     ledger.Store
	orders   orders.Store
	seq      orders.Sequence
	idem     httpx.IdempotencyStore
	status   httpx.StatusCache
	sink     events.Sink
	closers  []func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(logging.Config{
		Level:       cfg.LogLevel,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("open stores", "store", cfg.Store, "error", err)
		os.Exit(1)
	}
	defer func() {
		for i := len(st.closers) - 1; i >= 0; i-- {
			st.closers[i]()
		}
	}()

	m := metrics.New(cfg.ServiceName)
	disp := events.NewDispatcher(st.sink, cfg.EventBuffer, logger, m)
	disp.Start(ctx)

	inv := inventory.NewService(st.products, logger)
	led := ledger.NewService(st.bins, logger)
	led.Retries = cfg.MaxCASRetries

	orch := fulfillment.NewOrchestrator(st.orders, inv, led, disp, st.seq, logger)
	orch.Metrics = m
	orch.Retries = cfg.MaxCASRetries
	orch.ReturnPickedOnCancel = cfg.ReturnPickedOnCancel
	orch.Pricing = orders.PricingPolicy{
		TaxRateBps:                 cfg.TaxRateBps,
		DeliveryFeeCents:           cfg.DeliveryFeeCents,
		FreeDeliveryThresholdCents: cfg.FreeDeliveryThresholdCents,
	}
	stock := fulfillment.NewStocking(inv, led, disp, logger)
	stock.Metrics = m

	router := httpx.NewRouter(logger, m)
	oh := httpx.NewOrdersHandler(orch, st.idem, logger)
	oh.Status = st.status
	oh.Register(router)
	httpx.NewStockHandler(stock, logger).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "error", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	_ = srv.Shutdown(sctx)
	disp.Close()      // stop accepting, flush what is queued
	disp.WaitClosed() // drain before the sink goes away
}

func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (*stores, error) {
	st := &stores{}
	if cfg.Store == "memory" {
		st.products = inventory.NewMemStore()
		st.bins = ledger.NewMemStore()
		st.orders = orders.NewMemStore()
		st.seq = orders.NewMemSequence()
		st.idem = httpx.NewMemIdempotency()
		st.sink = events.LogSink{Logger: logger}
		return st, nil
	}

	if cfg.MigrateOnStart {
		if err := postgres.Migrate(cfg.PostgresDSN, true); err != nil {
			return nil, err
		}
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresPool)
	if err != nil {
		return nil, err
	}
	st.closers = append(st.closers, db.Close)

	rdb := redisx.New(cfg.RedisAddr)
	st.closers = append(st.closers, func() { _ = rdb.Close() })

	prod := kafkax.NewProducer(cfg.Brokers(), cfg.EventsTopic, logger)
	st.closers = append(st.closers, func() { _ = prod.Close() })

	st.products = &postgres.ProductStore{DB: db}
	st.bins = &postgres.BinStore{DB: db}
	st.orders = &postgres.OrderStore{DB: db}
	st.seq = redisx.Sequence{RDB: rdb}
	st.idem = redisx.Idempotency{RDB: rdb}
	st.status = redisx.StatusCache{RDB: rdb}
	st.sink = &kafkax.EventSink{Producer: prod, Service: cfg.ServiceName}
	return st, nil
}
