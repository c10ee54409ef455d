package main

import (
	"log"

	api "supportdesk-backend/cmd/api"
	"supportdesk-backend/pkg/config"
	"supportdesk-backend/pkg/database"
	"supportdesk-backend/pkg/logging"
)

func main() {
	// Load configuration
	cfg := config.Load()
	logCloser := logging.Setup(cfg.LogFile)
	defer logCloser.Close()

	if cfg.QueueSecret == "" {
		log.Println("[WARN] QUEUE_SECRET not set. The trigger gateway will answer 500 until it is configured.")
	}

	// Initialize database
	db, err := database.NewPostgresConnection(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Auto-migrate database schemas
	if err := db.AutoMigrate(api.Models()...); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	app, err := api.NewApp(cfg, db)
	if err != nil {
		log.Fatal("Failed to initialize worker:", err)
	}
	defer app.Close()

	// Initialize HTTP handler
	handler := api.NewHandler(app)

	log.Printf("Server starting on port %s", cfg.Port)
	if err := handler.Start(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
