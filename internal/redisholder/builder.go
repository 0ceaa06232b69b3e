package redisholder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trunov/pdfpress/internal/config"
)

// Build connects to the broker and starts a background health loop that
// rebuilds the client when pings start failing. Queue producers and the
// worker always fetch the client through the holder, so a reconnect is
// invisible to them.
func Build(ctx context.Context, cfg *config.RedisConfig) (*Holder, error) {
	if len(cfg.Nodes) == 0 {
		return nil, errors.New("no redis nodes defined")
	}

	cl, err := newClient(cfg)
	if err != nil {
		// A dead broker must not keep the process from starting: the
		// gateway can still serve synchronous conversions without it.
		// Hand out an unverified client; go-redis dials per command, so
		// it recovers on its own once the broker is back, and the health
		// loop keeps watching it.
		log.Printf("[redis] initial connect failed: %v; starting degraded", err)
		cl = dial(cfg, cfg.Nodes[0])
	}

	h := NewHolder(cl)

	go healthLoop(ctx, h, cfg)

	return h, nil
}

func healthLoop(ctx context.Context, h *Holder, cfg *config.RedisConfig) {
	log.Printf("[redis] health loop started (interval=%v)", cfg.HealthCheckInterval*time.Second)

	ping := func() {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := h.Get().Ping(pingCtx).Err()
		cancel()

		if err == nil {
			return
		}
		log.Printf("[redis] ping failed (%v); attempting reconnect", err)

		newCl, newErr := newClient(cfg)
		if newErr != nil {
			log.Printf("[redis] reconnect failed: %v", newErr)
			return
		}

		old := h.swap(newCl)
		if old != nil {
			_ = old.Close()
		}
		log.Printf("[redis] reconnected successfully")
	}

	ping()

	t := time.NewTicker(cfg.HealthCheckInterval * time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = h.Close()
			log.Printf("[redis] health loop stopped (%v)", ctx.Err())
			return
		case <-t.C:
			ping()
		}
	}
}

func dial(cfg *config.RedisConfig, node config.RedisNode) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         node.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DatabaseID,
		DialTimeout:  cfg.DialTimeout * time.Second,
		ReadTimeout:  cfg.ReadTimeout * time.Second,
		WriteTimeout: cfg.WriteTimeout * time.Second,
	})
}

// newClient returns the first node that answers a ping.
func newClient(cfg *config.RedisConfig) (*redis.Client, error) {
	var stickyErr = errors.New("no nodes defined")

	for _, node := range cfg.Nodes {
		cl := dial(cfg, node)

		err := cl.Ping(context.Background()).Err()
		if err != nil {
			stickyErr = fmt.Errorf("error pinging redis server: %w", err)
			_ = cl.Close()
			continue
		}

		return cl, nil
	}

	return nil, stickyErr
}
