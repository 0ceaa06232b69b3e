package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trunov/pdfpress/cmd/migrate"
	"github.com/trunov/pdfpress/internal/archive"
	"github.com/trunov/pdfpress/internal/cache"
	"github.com/trunov/pdfpress/internal/config"
	"github.com/trunov/pdfpress/internal/converter"
	"github.com/trunov/pdfpress/internal/dispatch"
	"github.com/trunov/pdfpress/internal/janitor"
	"github.com/trunov/pdfpress/internal/queue"
	"github.com/trunov/pdfpress/internal/redisholder"
	"github.com/trunov/pdfpress/internal/repository/storage"
	"github.com/trunov/pdfpress/internal/staging"
	"github.com/trunov/pdfpress/internal/transport/handler"
	"github.com/trunov/pdfpress/internal/transport/router"
)

type App struct {
	HttpServer *http.Server
	janitor    *janitor.Janitor
	pool       *converter.Pool
}

func New(cfg *config.Config) (*App, error) {
	ctx := context.Background()

	var recorder storage.JobRecorder = storage.Noop{}
	if cfg.Database.DSN != "" {
		if err := migrate.Migrate(cfg.Database.DSN, migrate.Migrations); err != nil {
			return nil, err
		}
		repo, err := storage.New(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		recorder = repo
	} else {
		log.Printf("[app] no database DSN; job audit trail disabled")
	}

	holder, err := redisholder.Build(ctx, &cfg.Redis)
	if err != nil {
		return nil, err
	}
	rc := holder.Get()

	markers := cache.NewCache("pdfpress:staging", rc)

	st, err := staging.New(cfg.Staging.Dir)
	if err != nil {
		return nil, err
	}

	conv, err := converter.New(cfg.Converter.Binary, st.Dir(), cfg.Converter.Timeout)
	if err != nil {
		return nil, err
	}
	pool := converter.NewPool(conv, cfg.Converter.PoolSize, 64)

	producer := queue.NewProducer(rc, cfg.Queue.Stream, cfg.Queue.MaxLen)

	var archiver dispatch.Archiver
	if cfg.Archive.BucketName != "" {
		up, err := archive.NewUploader(&cfg.Archive)
		if err != nil {
			return nil, err
		}
		archiver = up
	}

	disp := dispatch.New(st, producer, pool, recorder, archiver, markers, cfg.Staging.TTLSeconds)

	jan := janitor.New(st, markers, cfg.Staging.Retention)
	if err := jan.Start(cfg.Janitor.Schedule); err != nil {
		return nil, err
	}

	h := handler.New(disp, producer, redisPinger{rc}, cfg)
	r := router.NewRouter(h, cfg.Auth)

	s := &http.Server{
		Handler:      r,
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		ReadTimeout:  cfg.Server.ReadTimeout * time.Second,
		WriteTimeout: cfg.Server.WriteTimeout * time.Second,
	}

	return &App{
		HttpServer: s,
		janitor:    jan,
		pool:       pool,
	}, nil
}

func (a *App) Run() error {
	log.Printf("starting gateway on %s", a.HttpServer.Addr)
	return a.HttpServer.ListenAndServe()
}

func (a *App) Shutdown(ctx context.Context) error {
	err := a.HttpServer.Shutdown(ctx)
	a.janitor.Stop()
	a.pool.Close()
	return err
}

type redisPinger struct {
	rc redis.UniversalClient
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.rc.Ping(ctx).Err()
}
