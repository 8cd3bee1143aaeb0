package main

import (
	"log"

	"signal-scout/app"
	"signal-scout/config"
)

func main() {
	// Load config from .env file
	cfg := config.LoadFromEnv()

	// Create and start app
	application := app.New(cfg)
	if err := application.Start(); err != nil {
		log.Fatal(err)
	}
}
