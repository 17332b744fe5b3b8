// cmd/relay/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"librelay/internal/config"
	"librelay/internal/logger"
	"librelay/internal/relay"
	"librelay/internal/store"
	"librelay/internal/telemetry"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		logger.New(0).Fatal("load config", "error", err)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "librelay-relay", cfg.Telemetry.Endpoint)
	if err != nil {
		log.Fatal("setup tracing", "error", err)
	}
	defer shutdownTracing(context.Background())

	stores := make([]*store.Store, 0, 2)
	for _, name := range []string{"default", "admin"} {
		dsn, err := cfg.DSNFor(name)
		if err != nil {
			log.Fatal("resolve store", "store", name, "error", err)
		}
		s, err := store.Open(ctx, name, dsn)
		if err != nil {
			log.Fatal("open store", "store", name, "error", err)
		}
		defer s.Close()
		if err := s.EnsureSchema(ctx); err != nil {
			log.Fatal("ensure schema", "store", name, "error", err)
		}
		stores = append(stores, s)
	}

	transport, err := relay.NewAMQPTransport(cfg.AMQP.URL, cfg.AMQP.Queue, log)
	if err != nil {
		log.Fatal("connect transport", "error", err)
	}
	defer transport.Close()

	var wg sync.WaitGroup

	// One forwarder per store drains that store's outbox into the queue.
	for _, s := range stores {
		forwarder := relay.NewForwarder(s.Name, s.DB, transport, relay.ForwarderConfig{
			PollInterval: cfg.Relay.PollInterval,
			BatchSize:    cfg.Relay.BatchSize,
		}, log)
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			log.Info("forwarder running", "store", name)
			forwarder.Run(ctx)
		}(s.Name)
	}

	consumer := relay.NewConsumer(transport, relay.ConsumerConfig{
		Workers:         cfg.Relay.Workers,
		HandlerTimeout:  cfg.Relay.HandlerTimeout,
		MaxRedeliveries: cfg.Relay.MaxRedeliveries,
	}, log, stores...)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("consumer running", "workers", cfg.Relay.Workers)
		if err := consumer.Run(ctx); err != nil {
			log.Error("consumer stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	wg.Wait()
}
