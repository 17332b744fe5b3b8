// cmd/frontend/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"librelay/internal/config"
	"librelay/internal/domain"
	"librelay/internal/library"
	"librelay/internal/logger"
	"librelay/internal/relay"
	"librelay/internal/repository"
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

	shutdownTracing, err := telemetry.Setup(ctx, "librelay-frontend", cfg.Telemetry.Endpoint)
	if err != nil {
		log.Fatal("setup tracing", "error", err)
	}
	defer shutdownTracing(context.Background())

	name := cfg.PrimaryStore
	if name == "" {
		name = "default"
	}
	dsn, err := cfg.DSNFor(name)
	if err != nil {
		log.Fatal("resolve primary store", "error", err)
	}

	primary, err := store.Open(ctx, name, dsn)
	if err != nil {
		log.Fatal("open primary store", "error", err)
	}
	defer primary.Close()
	if err := primary.EnsureSchema(ctx); err != nil {
		log.Fatal("ensure schema", "store", name, "error", err)
	}

	books := repository.NewBooks(repository.ReadPrimaryOnly, primary.Books)
	users := repository.NewUsers(repository.ReadPrimaryOnly, primary.Users)
	borrows := repository.NewBorrows(repository.ReadPrimaryOnly, books, primary.Borrows)

	coord := relay.NewCoordinator(primary, domain.NewLibrary(), log)
	handler := library.NewHandler(
		library.NewBookService(coord, books, borrows),
		library.NewUserService(coord, users, borrows),
		log,
	)

	router := chi.NewRouter()
	router.Use(middleware.RequestID, middleware.Recoverer)
	router.Mount("/", handler.FrontendRoutes())

	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("frontend service listening", "port", cfg.HTTPPort, "store", name)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("serve", "error", err)
	}
}
