package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"snapcapture/cmd"
	"snapcapture/internal/config"
	"snapcapture/internal/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	// Logger setup only; each command loads and validates what it needs.
	cfg, err := config.Load()
	if err != nil {
		log.Printf("Warning: Could not load configuration: %v", err)
		if err := logger.Setup(logger.DefaultConfig()); err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
	} else {
		if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
	}

	log := logger.WithComponent("main")
	log.Debug().Msg("Starting SnapCapture")

	cmd.Execute()

	log.Debug().Msg("SnapCapture shutdown")
	os.Exit(0)
}
