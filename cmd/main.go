// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/wwt/lunch-signups/internal/config"
	"github.com/wwt/lunch-signups/internal/database"
	"github.com/wwt/lunch-signups/internal/handler"
	"github.com/wwt/lunch-signups/internal/memory"
	"github.com/wwt/lunch-signups/internal/model"
	"github.com/wwt/lunch-signups/internal/repository"
	"github.com/wwt/lunch-signups/internal/service"
)

func main() {
	ctx := context.Background()

	// .env is optional; deployments use the process environment.
	if err := godotenv.Load(); err == nil {
		log.Println("loaded settings from .env")
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ── 1. Pick the storage backend ───────────────────────────────────────
	var (
		events service.EventStore
		ledger service.Ledger
	)
	if os.Getenv("STORE_DRIVER") == "memory" {
		store := memory.NewStore()
		events, ledger = store, store
		log.Println("✓ Using in-memory store (state is lost on restart)")
	} else {
		pool, err := database.NewPool(ctx)
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			log.Fatalf("database: %v", err)
		}
		events = repository.NewEventRepository(pool)
		ledger = repository.NewSignupRepository(pool)
		log.Println("✓ Connected to PostgreSQL")
	}

	// ── 2. Wire up layers ────────────────────────────────────────────────
	svc := service.NewEventService(events, ledger, cfg)
	eventHandler := handler.NewEventHandler(svc)

	if cfg.SeedFile != "" {
		if err := seedEvents(ctx, events, cfg.SeedFile); err != nil {
			log.Fatalf("seed: %v", err)
		}
	}

	// ── 3. Build the router ───────────────────────────────────────────────
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(handler.Logger)          // structured access log
	r.Use(handler.CORS)            // permissive CORS for the internal UI

	// Health
	r.Get("/health", handler.HealthCheck)

	// API routes
	r.Route("/events", func(r chi.Router) {
		r.Get("/", eventHandler.ListEvents)
		r.Post("/", eventHandler.CreateEvent)
		r.Put("/{id}", eventHandler.UpdateEvent)
		r.Delete("/{id}", eventHandler.DeleteEvent)
		r.Post("/{id}/restore", eventHandler.RestoreEvent)
		r.Get("/{id}/signups", eventHandler.ListSignups)
		r.Post("/{id}/signup", eventHandler.Signup)
		r.Post("/{id}/cancel", eventHandler.Cancel)
	})

	// ── 4. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Run in background goroutine so we can listen for shutdown signal.
	go func() {
		log.Printf("✓ Server listening on http://localhost:%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down server…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("graceful shutdown failed: %v", err)
	}
	log.Println("server stopped")
}

// seedEvents upserts the events listed in the seed file, keyed on their
// ids, so restarts refresh titles and times without duplicating events.
func seedEvents(ctx context.Context, store service.EventStore, path string) error {
	seeds, err := config.LoadSeeds(path)
	if err != nil {
		return err
	}
	for _, seed := range seeds {
		startsAt, err := time.Parse(time.RFC3339, seed.StartsAt)
		if err != nil {
			return fmt.Errorf("seed %q: parse startsAt: %w", seed.ID, err)
		}
		ev := &model.Event{
			ID:       seed.ID,
			Title:    seed.Title,
			StartsAt: startsAt,
			Location: seed.Location,
			Address:  seed.Address,
		}
		if err := store.Upsert(ctx, ev); err != nil {
			return err
		}
	}
	log.Printf("✓ Seeded %d events from %s", len(seeds), path)
	return nil
}
