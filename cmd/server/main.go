package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/habit-coach/internal/api"
	"github.com/ignite/habit-coach/internal/app"
	"github.com/ignite/habit-coach/internal/config"
	"github.com/ignite/habit-coach/internal/events"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func main() {
	configPath := flag.String("config", os.Getenv("COACH_CONFIG"), "path to config.yaml (optional)")
	flag.Parse()

	log.Println("╔════════════════════════════════════════════════════════════╗")
	log.Println("║  Habit Coach API Server (cmd/server/main.go)              ║")
	log.Println("║  Predictions, engagement callbacks and admin surface      ║")
	log.Println("╚════════════════════════════════════════════════════════════╝")

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}

	host := cfg.Server.GetHost()
	if err := checkPortAvailable(host, cfg.Server.Port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}
	log.Printf("Pre-flight check passed: port %d is available", cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer engine.Close()

	// Serve whatever versions the worker last published.
	engine.Restore(ctx)

	// Reload the registry when the worker publishes a new version. The
	// poll below catches anything the event path misses.
	if engine.Bus != nil {
		err := engine.Bus.OnModelPublished(func(ev events.ModelEvent) {
			log.Printf("[Server] Model published: %s (%s), reloading registry", ev.Tag, ev.Type)
			engine.Restore(ctx)
		})
		if err != nil {
			log.Printf("Warning: model event subscription failed: %v", err)
		} else {
			log.Println("Subscribed to model.published events")
		}
	} else {
		log.Printf("Events disabled: registry follows model_versions every %s", cfg.Server.ModelSync())
	}
	go engine.WatchModels(ctx, cfg.Server.ModelSync())

	if cfg.Server.AdminToken == "" {
		log.Println("Warning: ADMIN_API_TOKEN not set, the admin surface is unauthenticated")
	}

	handlers := api.NewHandlers(api.Deps{
		Predictions:     engine.Predictions,
		Generator:       engine.Coaching,
		Activities:      engine.Activities,
		Profiles:        engine.Profiles,
		Engagement:      engine.Deliveries.Tracker(),
		Messages:        engine.Deliveries,
		Retrainer:       engine.Pipeline,
		Models:          engine.Registry,
		Templates:       engine.Catalog,
		Cleaner:         engine.Jobs,
		Jobs:            engine.Scheduler,
		ActedRetention:  time.Duration(cfg.Scheduler.ActedRetentionDays) * 24 * time.Hour,
		WarmParallelism: cfg.Scheduler.Parallelism,
	})
	server := api.NewServer(cfg.Server, handlers, api.NewHealthChecker(engine.DB, engine.Redis, engine.Registry))

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s", server.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Println("All services initialized, server is ready")

	<-done
	log.Println("Shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
