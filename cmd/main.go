package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/AlPairo/temis-backend/internal/app"
	"github.com/AlPairo/temis-backend/internal/platform/logger"
)

func main() {
	_ = godotenv.Load()

	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	a, err := app.New(log)
	if err != nil {
		log.Fatal("Startup failed", "error", err)
	}
	if err := a.Run(); err != nil {
		log.Fatal("Server exited", "error", err)
	}
}
