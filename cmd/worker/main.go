package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/habit-coach/internal/app"
	"github.com/ignite/habit-coach/internal/config"
)

func main() {
	configPath := flag.String("config", os.Getenv("COACH_CONFIG"), "path to config.yaml (optional)")
	flag.Parse()

	log.Println("Starting Habit Coach Worker...")

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer engine.Close()

	// The generation sweep predicts with the registry, so it needs the
	// published versions before the first tick.
	engine.Restore(ctx)

	if err := engine.Scheduler.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	// Heartbeat
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				running := 0
				for _, j := range engine.Scheduler.Jobs() {
					if j.Running {
						running++
					}
				}
				log.Printf("Worker heartbeat - %d job(s) running", running)
			}
		}
	}()

	log.Println("Worker running...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	cancel()

	// Stop waits for in-flight job runs, which observe the canceled context.
	engine.Scheduler.Stop()

	log.Println("Worker stopped")
}
