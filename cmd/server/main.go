/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the subsidy engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Initialize SQLite store
  3. Apply the seed reference document, if configured
  4. Create API handler with dependencies
  5. Start the monthly advancement scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port       HTTP server port (default: $PORT or 8080)
  -db         SQLite database path (default: $DB_PATH or subsidy.db)
              Use ":memory:" for in-memory database
  -seed       Reference JSON document to load at startup
  -schedule   Cron expression for the monthly job
  -scheduler  Enable the monthly job

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for a running job)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  # Run with file database and seed data
  ./server -db="./data/subsidy.db" -seed="./seed.json"

  # Run with in-memory database, no scheduler
  ./server -db=":memory:" -scheduler=false

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - api/scheduler.go: Monthly advancement
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/subsidy-engine/api"
	"github.com/warp/subsidy-engine/config"
	"github.com/warp/subsidy-engine/store/sqlite"
)

func main() {
	cfg := config.Load()

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	seedFile := flag.String("seed", cfg.SeedFile, "Reference JSON document to load at startup")
	schedule := flag.String("schedule", cfg.AdvancementSchedule, "Cron expression for monthly advancement")
	schedulerEnabled := flag.Bool("scheduler", cfg.SchedulerEnabled, "Run monthly advancement automatically")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Initialize handler
	handler := api.NewHandler(store)

	if *seedFile != "" {
		if err := seed(context.Background(), handler, *seedFile); err != nil {
			log.Fatalf("Failed to load seed file %s: %v", *seedFile, err)
		}
		log.Printf("[Seed] Loaded reference data from %s", *seedFile)
	}

	// Scheduler
	scheduler := api.NewAdvancementScheduler(handler.Advancer)
	scheduler.Schedule = *schedule
	scheduler.Enabled = *schedulerEnabled
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	// Create router
	router := api.NewRouter(handler, cfg.CORSOrigins)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

func seed(ctx context.Context, h *api.Handler, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	data, err := h.Reference.ParseReferenceData(raw)
	if err != nil {
		return err
	}
	return h.Reference.Apply(ctx, h.Store, data)
}
