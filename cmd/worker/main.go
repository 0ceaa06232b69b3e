package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/trunov/pdfpress/internal/config"
	"github.com/trunov/pdfpress/internal/printerapi"
	"github.com/trunov/pdfpress/internal/queue"
	"github.com/trunov/pdfpress/internal/redisholder"
	"github.com/trunov/pdfpress/internal/staging"
)

const defaultConfigFile = "config.json"

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

	if cfg.Queue.Consumer == "" {
		// Every worker needs a distinct consumer name inside the group or
		// redis cannot tell their pending entries apart.
		host, _ := os.Hostname()
		cfg.Queue.Consumer = host + "-" + uuid.NewString()[:8]
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.Sentry.SentryDSN,
		Environment: cfg.Sentry.Environment,
		Release:     "v1",
	}); err != nil {
		log.Fatalf("sentry.Init: %s", err)
	}
	defer sentry.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := staging.New(cfg.Staging.Dir)
	if err != nil {
		log.Fatal(err)
	}

	// Build tolerates a down broker; Run's reconnect loop takes it from
	// there once consuming starts failing.
	holder, err := redisholder.Build(ctx, &cfg.Redis)
	if err != nil {
		log.Fatal(err)
	}
	defer holder.Close()

	conv := printerapi.New(cfg.Worker)
	w := queue.NewWorker(holder, cfg.Queue, st, conv)

	log.Printf("[worker] waiting for messages on %s", cfg.Queue.Stream)
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal(err)
	}
}
