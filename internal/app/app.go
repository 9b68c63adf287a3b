package app

import (
	"fmt"
	"log"

	"github.com/ThiagoRGoveia/spend-analytics/internal/config"
	"github.com/ThiagoRGoveia/spend-analytics/internal/database"
	"github.com/ThiagoRGoveia/spend-analytics/internal/engine"
	"github.com/ThiagoRGoveia/spend-analytics/internal/ingestion"
	"github.com/ThiagoRGoveia/spend-analytics/internal/lifecycle"
	"github.com/ThiagoRGoveia/spend-analytics/internal/query"
)

// App holds the wired pipeline shared by the server and the CLI.
type App struct {
	Config       *config.Config
	Store        *database.SQLiteStore
	Loader       *engine.Loader
	Orchestrator *lifecycle.Orchestrator
	Queries      *query.Service
}

// New wires every component from cfg. The returned cleanup releases the engine, then the store.
func New(cfg *config.Config) (*App, func(), error) {
	store, err := database.OpenSQLiteStore(cfg.StorePath, cfg.StoreChunkSize)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to open row store: %w", err)
	}

	factory := engine.NewDuckDBFactory(engine.Options{
		Threads:     cfg.EngineThreads,
		MemoryLimit: cfg.EngineMemoryLimit,
		TempDir:     cfg.EngineTempDir,
	})
	loader := engine.NewLoader(store, factory, cfg.Columns, cfg.EngineBatchSize)
	ingestor := ingestion.NewIngestionService(cfg.Columns, cfg.NumParserWorkers)
	orchestrator := lifecycle.NewOrchestrator(ingestor, store, loader)

	cleanup := func() {
		if err := orchestrator.Close(); err != nil {
			log.Printf("Error closing engine: %v", err)
		}
		if err := store.Close(); err != nil {
			log.Printf("Error closing row store: %v", err)
		}
	}

	return &App{
		Config:       cfg,
		Store:        store,
		Loader:       loader,
		Orchestrator: orchestrator,
		Queries:      query.NewService(loader, cfg.Columns),
	}, cleanup, nil
}
