package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThiagoRGoveia/spend-analytics/internal/app"
	"github.com/ThiagoRGoveia/spend-analytics/internal/config"
	"github.com/ThiagoRGoveia/spend-analytics/internal/server"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
)

func setup() (*app.App, *echo.Echo, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	a, cleanupFunc, err := app.New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	e := server.NewServer(server.NewSpendService(a.Orchestrator, a.Queries))
	return a, e, cleanupFunc, nil
}

func cleanup(cleanupFunc func()) {
	log.Println("Cleaning up resources...")
	cleanupFunc()
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: could not load .env file: %v", err)
	}

	a, e, cleanupFunc, err := setup()
	if err != nil {
		log.Fatal(err)
	}
	defer cleanup(cleanupFunc)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The dashboard serves immediately; reads answer 503 until the engine is loaded.
	go func() {
		state, err := a.Orchestrator.Start(ctx)
		if err != nil {
			log.Printf("Error starting dataset (state %s), a refresh will retry: %v", state, err)
			return
		}
		log.Printf("Dataset ready in state %s", state)
	}()

	go func() {
		log.Printf("Server starting on port %s", a.Config.APIPort)
		if err := e.Start(fmt.Sprintf("127.0.0.1:%s", a.Config.APIPort)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down server: %v", err)
	}
}
