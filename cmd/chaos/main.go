// cmd/chaos/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"librelay/internal/chaos"
	"librelay/internal/clients"
	"librelay/internal/config"
	"librelay/internal/logger"
	"librelay/internal/store"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	cfg, err := config.New()
	if err != nil {
		logger.New(0).Fatal("load config", "error", err)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	frontendDB, err := store.Open(ctx, "default", cfg.Frontend.DSN)
	if err != nil {
		log.Fatal("open frontend store", "error", err)
	}
	defer frontendDB.Close()

	adminDB, err := store.Open(ctx, "admin", cfg.Admin.DSN)
	if err != nil {
		log.Fatal("open admin store", "error", err)
	}
	defer adminDB.Close()

	deployment := &chaos.Deployment{
		FrontendDB: frontendDB.DB,
		AdminDB:    adminDB.DB,
		Frontend:   clients.New(envOr("FRONTEND_URL", "http://localhost:8080")),
		Admin:      clients.New(envOr("ADMIN_URL", "http://localhost:8081")),
	}

	engine := chaos.NewEngine()
	engine.RegisterExperiments(deployment)

	for _, exp := range engine.Experiments() {
		log.Info("running experiment", "name", exp.Name, "hypothesis", exp.Hypothesis)
		result, err := engine.Run(ctx, exp)
		if err != nil {
			log.Error("experiment aborted", "name", exp.Name, "error", err)
			continue
		}
		chaos.Report(result)
	}
}
