// Command machina boots the shared collaborators an Orchestrator
// Controller needs — logger, config, the Postgres memory store — and
// hands them to whatever machines a deployment registers. This module
// is consumed as a library; this binary exists to prove the wiring
// compiles and runs, not to bundle any particular orchestrator.
package main

import (
	"fmt"
	"os"

	"github.com/fenwick-io/machina/internal/config"
	"github.com/fenwick-io/machina/internal/memory/gormmemory"
	"github.com/fenwick-io/machina/internal/platform/logger"
	"github.com/fenwick-io/machina/internal/platform/postgres"
)

func main() {
	log, err := logger.New(envOr("LOG_MODE", "production"))
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := config.Load(log)
	log.Info("config loaded", "strict", cfg.Strict, "executionUnits", cfg.ExecutionUnits)

	db, err := postgres.Open(log)
	if err != nil {
		log.Error("failed to connect to postgres", "error", err.Error())
		os.Exit(1)
	}

	store := gormmemory.New(db, envOr("MACHINA_INSTANCE_ID", "machina-0"))
	if err := store.AutoMigrate(); err != nil {
		log.Error("failed to migrate machine_records table", "error", err.Error())
		os.Exit(1)
	}

	log.Info("machina ready; register machines via registry.New and orchestrator.CreateOrchestrator to begin serving events")
	select {}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
