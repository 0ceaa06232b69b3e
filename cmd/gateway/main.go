package main

import (
	"log"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"github.com/trunov/pdfpress/internal/app"
	"github.com/trunov/pdfpress/internal/config"
)

const defaultConfigFile = "config.json"

func initSentry(cfg *config.SentryConfig, version string) error {
	return sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Release:     version,
	})
}

func main() {
	_ = godotenv.Load()

	cfg := config.NewConfig()
	file := defaultConfigFile
	if v := os.Getenv("CONFIG_FILE"); v != "" {
		file = v
	}
	if err := cfg.Read(file); err != nil {
		log.Printf("config file %s not read (%v); using defaults and environment", file, err)
	}
	cfg.ApplyEnv()

	if err := initSentry(&cfg.Sentry, "v1"); err != nil {
		log.Fatalf("sentry.Init: %s", err)
	}

	// Flush buffered events before the program terminates.
	defer sentry.Flush(2 * time.Second)

	app, err := app.New(cfg)
	if err != nil {
		log.Fatal(err)
	}

	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
