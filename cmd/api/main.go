package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/benchlab/run-engine/internal/adapter"
	"github.com/benchlab/run-engine/internal/cancel"
	"github.com/benchlab/run-engine/internal/config"
	"github.com/benchlab/run-engine/internal/database"
	"github.com/benchlab/run-engine/internal/eventbus"
	"github.com/benchlab/run-engine/internal/handler"
	"github.com/benchlab/run-engine/internal/middleware"
	"github.com/benchlab/run-engine/internal/router"
	"github.com/benchlab/run-engine/internal/scheduler"
	"github.com/benchlab/run-engine/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectSQLite(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	st := store.New(db, logger)
	adapters := adapter.NewRegistry()
	cancels := cancel.NewRegistry()
	bus := eventbus.New(logger)
	sched := scheduler.New(st, adapters, cancels, bus, logger)
	prober := adapter.NewProber(&http.Client{Timeout: cfg.ProbeTimeout})

	runHandler := handler.NewRunHandler(st, sched, bus, validate, logger)
	providerHandler := handler.NewProviderHandler(st, prober, cfg.ProbeTimeout, validate, logger)
	modelHandler := handler.NewModelHandler(st, validate, logger)
	problemSetHandler := handler.NewProblemSetHandler(st, validate, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		RunHandler:        runHandler,
		ProviderHandler:   providerHandler,
		ModelHandler:      modelHandler,
		ProblemSetHandler: problemSetHandler,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, cfg)
}

func waitForShutdown(app *fiber.App, cfg config.Config) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancelFn := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancelFn()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
