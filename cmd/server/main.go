/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the ledger engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags (and .env for database settings)
  2. Initialize the repository (sqlite, postgres, or memory)
  3. Create the ledger and hydrate it from the repository
  4. Configure HTTP router and projection scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port             HTTP server port (default: 8080)
  -store            Backend: sqlite | postgres | memory (default: sqlite)
  -db               SQLite database path (default: ledger.db)
                    Use ":memory:" for an in-memory database
  -horizon-months   Recurring projection horizon (default: 3)
  -base-currency    Currency for category aggregates (default: EUR)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler, flush pending writes, close the ledger
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/ledger.db"

  # Run against Postgres (reads DATABASE_URL from env or .env)
  ./server -store=postgres

ENVIRONMENT:
  DATABASE_URL   Postgres connection string (when -store=postgres).
                 Loaded from .env if present.

SEE ALSO:
  - api/server.go: Router configuration
  - ledger/ledger.go: Core engine
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

	"github.com/joho/godotenv"

	"github.com/warp/ledger-engine/api"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/money"
	"github.com/warp/ledger-engine/store"
	"github.com/warp/ledger-engine/store/postgres"
	"github.com/warp/ledger-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	backend := flag.String("store", "sqlite", "Storage backend: sqlite | postgres | memory")
	dbPath := flag.String("db", "ledger.db", "SQLite database path")
	horizonMonths := flag.Int("horizon-months", 3, "Recurring projection horizon in months")
	baseCurrency := flag.String("base-currency", "EUR", "Base currency for aggregates")
	flag.Parse()

	// .env is optional; real env vars win either way.
	_ = godotenv.Load()

	ctx := context.Background()

	// Initialize repository
	var (
		repo    ledger.Repository
		cleanup func()
	)
	switch *backend {
	case "sqlite":
		s, err := sqlite.New(*dbPath)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		repo = s
		cleanup = func() { s.Close() }
	case "postgres":
		s, err := postgres.Connect(ctx)
		if err != nil {
			log.Fatalf("Failed to connect to postgres: %v", err)
		}
		repo = s
		cleanup = func() { s.Close() }
	case "memory":
		repo = store.NewMemory()
		cleanup = func() {}
	default:
		log.Fatalf("Unknown store backend %q (use sqlite, postgres, or memory)", *backend)
	}
	defer cleanup()

	// Build the ledger
	converter := money.NewConverter(*baseCurrency, money.FixedRates(nil))
	ldgr := ledger.New(ledger.Config{
		Engine: ledger.NewEngine(converter),
		Repo:   repo,
	})
	defer ldgr.Close()

	if err := ldgr.Load(ctx); err != nil {
		log.Fatalf("Failed to load ledger state: %v", err)
	}

	// Surface async persistence failures
	go func() {
		for err := range ldgr.Status() {
			log.Printf("[Main] Persistence problem: %v", err)
		}
	}()

	horizon := ledger.Horizon{Months: *horizonMonths}
	handler := api.NewHandler(ldgr, horizon)
	router := api.NewRouter(handler)

	scheduler := api.NewProjectionScheduler(ldgr, horizon)
	scheduler.Start()
	defer scheduler.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	if err := ldgr.FlushNow(shutdownCtx); err != nil {
		log.Printf("Final flush failed: %v", err)
	}

	log.Println("Server stopped")
}
