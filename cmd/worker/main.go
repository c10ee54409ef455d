// Command worker drives the job queue in a loop instead of waiting for
// external triggers.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	api "supportdesk-backend/cmd/api"
	"supportdesk-backend/internal/queue/scheduler"
	"supportdesk-backend/pkg/config"
	"supportdesk-backend/pkg/database"
	"supportdesk-backend/pkg/logging"
)

func main() {
	cfg := config.Load()
	logCloser := logging.Setup(cfg.LogFile)
	defer logCloser.Close()

	db, err := database.NewPostgresConnection(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	if err := db.AutoMigrate(api.Models()...); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	app, err := api.NewApp(cfg, db)
	if err != nil {
		log.Fatal("Failed to initialize worker:", err)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := scheduler.NewProcessScheduler(app.Queue, cfg.WorkerInterval, cfg.QueueMaxBatch)
	s.Start(ctx)

	<-ctx.Done()
	log.Println("[Worker] Shutting down, waiting for the running batch")
	s.Stop()
}
