package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/grocery-fulfillment/internal/config"
	"github.com/ariefcatur/grocery-fulfillment/internal/events"
	kafkax "github.com/ariefcatur/grocery-fulfillment/internal/kafka"
	"github.com/ariefcatur/grocery-fulfillment/internal/logging"
	"github.com/ariefcatur/grocery-fulfillment/internal/notify"
	"github.com/ariefcatur/grocery-fulfillment/internal/redisx"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New(logging.Config{}).Error("load config", "error", err)
		os.Exit(1)
	}
	service := cfg.ServiceName + "-notifier"
	logger := logging.New(logging.Config{
		Level:       cfg.LogLevel,
		ServiceName: service,
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	h := notify.NewHandler(
		redisx.Dedup{RDB: rdb, Service: service},
		redisx.StatusCache{RDB: rdb},
		events.LogSink{Logger: logger},
		logger,
	)
	cons := kafkax.NewConsumer(cfg.Brokers(), cfg.NotifierGroup, cfg.EventsTopic, cfg.NotifierWorkers, logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info("notifier consumer started", "group", cfg.NotifierGroup, "topic", cfg.EventsTopic, "workers", cfg.NotifierWorkers)
		if err := cons.Start(ctx, h.Handle); err != nil {
			logger.Error("consumer exit", "error", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down consumer")
	cancel()
	<-done
}
