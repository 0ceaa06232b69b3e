package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"

	"github.com/trunov/pdfpress/internal/config"
)

// StagedFiles is the slice of the staging store the worker needs: jobs
// referencing files that never made it to the shared directory are dropped.
type StagedFiles interface {
	Exists(filename string) bool
}

// StagedConverter executes one job against the gateway's staged-conversion
// endpoint. Implemented by printerapi.Client in production.
type StagedConverter interface {
	ConvertStaged(ctx context.Context, filename, options string, deleteOriginal bool) error
}

// ClientProvider hands out the current redis client. Satisfied by
// redisholder.Holder, whose health loop may swap the client between
// connection attempts.
type ClientProvider interface {
	Get() redis.UniversalClient
}

// streamClient is the slice of the redis API the worker drives. Narrow so
// tests can stand in a recording client.
type streamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAutoClaim(ctx context.Context, a *redis.XAutoClaimArgs) *redis.XAutoClaimCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Worker consumes conversion jobs from the stream, one message at a time per
// consumer goroutine. A message is acked only after handling finishes;
// failed jobs are re-enqueued with backoff up to MaxAttempts and then parked
// on the dead-letter stream.
type Worker struct {
	clients ClientProvider
	rc      streamClient // refreshed on every connection attempt
	cfg     config.QueueConfig
	staging StagedFiles
	conv    StagedConverter
}

func NewWorker(clients ClientProvider, cfg config.QueueConfig, staging StagedFiles, conv StagedConverter) *Worker {
	return &Worker{clients: clients, cfg: cfg, staging: staging, conv: conv}
}

// Run keeps the worker consuming for the life of the process. Any
// connection-level error drops it back to disconnected; it sleeps the
// configured delay plus jitter and tries again, forever.
func (w *Worker) Run(ctx context.Context) error {
	for {
		err := w.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		delay := reconnectDelay(w.cfg.ReconnectDelay)
		log.Printf("[worker] queue connection error: %v. retrying in %v", err, delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// reconnectDelay adds up to 25% jitter so a fleet of workers does not
// reconnect in lockstep after a broker restart.
func reconnectDelay(base time.Duration) time.Duration {
	if base <= 0 {
		base = 5 * time.Second
	}
	return base + time.Duration(rand.Int63n(int64(base)/4+1))
}

func (w *Worker) consume(ctx context.Context) error {
	w.rc = w.clients.Get()
	if err := w.ensureGroup(ctx); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	log.Printf("[worker] consuming group=%s stream=%s consumer=%s workers=%d",
		w.cfg.Group, w.cfg.Stream, w.cfg.Consumer, w.cfg.Workers,
	)

	// Adopt pending messages orphaned by a consumer that died before XACK.
	w.autoClaim(ctx)

	return w.readAll(ctx)
}

// readAll fans the stream out to the configured number of reader goroutines
// and returns once any of them fails. Every reader from this connection
// attempt is stopped and collected before it returns, so a reconnect never
// stacks new readers on top of surviving old ones.
func (w *Worker) readAll(ctx context.Context) error {
	workers := w.cfg.Workers
	if workers < 1 {
		workers = 1
	}

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			errCh <- w.loop(cctx)
		}()
	}

	select {
	case <-ctx.Done():
		cancel()
		for i := 0; i < workers; i++ {
			<-errCh
		}
		return ctx.Err()
	case err := <-errCh:
		cancel()
		for i := 1; i < workers; i++ {
			<-errCh
		}
		return err
	}
}

func (w *Worker) ensureGroup(ctx context.Context) error {
	// MKSTREAM so group creation works before the first message exists.
	err := w.rc.XGroupCreateMkStream(ctx, w.cfg.Stream, w.cfg.Group, "0").Err()
	// BUSYGROUP just means the group is already there.
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// autoClaim takes ownership of messages that were delivered to another
// consumer but never acknowledged, so jobs interrupted by a crash are
// retried after restart instead of sitting pending forever.
func (w *Worker) autoClaim(ctx context.Context) {
	next := "0-0"

	minIdle := 30 * time.Second
	if w.cfg.BlockTimeout > 0 {
		if t := w.cfg.BlockTimeout * 6; t > minIdle {
			minIdle = t
		}
	}

	for {
		msgs, start, err := w.rc.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   w.cfg.Stream,
			Group:    w.cfg.Group,
			Consumer: w.cfg.Consumer,
			MinIdle:  minIdle,
			Start:    next,
			Count:    100,
		}).Result()
		if err != nil || len(msgs) == 0 {
			return
		}
		log.Printf("[worker] reclaimed %d orphaned message(s)", len(msgs))
		for _, m := range msgs {
			if err := w.handle(ctx, m); err != nil {
				log.Printf("[worker] reclaimed job failed: %v", err)
			}
		}
		next = start
	}
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		streams, err := w.rc.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    w.cfg.Group,
			Consumer: w.cfg.Consumer,
			Streams:  []string{w.cfg.Stream, ">"},
			Count:    1,
			Block:    w.cfg.BlockTimeout,
		}).Result()
		if err != nil && err != redis.Nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for _, s := range streams {
			for _, m := range s.Messages {
				if err := w.handle(ctx, m); err != nil {
					log.Printf("[worker] job failed: %v", err)
				}
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, m redis.XMessage) error {
	rc := w.rc
	// Ack unconditionally once handling returns: successes are done, hard
	// failures were either re-enqueued as a fresh entry or dead-lettered.
	defer rc.XAck(ctx, w.cfg.Stream, w.cfg.Group, m.ID)

	raw, job, err := decodeJob(m.Values)
	if err != nil {
		log.Printf("[worker] dropping malformed message %s: %v", m.ID, err)
		sentry.CaptureException(fmt.Errorf("malformed queue message %s: %w", m.ID, err))
		return nil
	}
	attempt := toInt(m.Values["attempt"])

	if err := w.process(ctx, job); err != nil {
		if attempt+1 >= w.cfg.MaxAttempts {
			w.deadLetter(ctx, raw, err)
			return nil
		}
		// exponential backoff requeue
		backoff := w.cfg.BackoffBase << attempt
		time.AfterFunc(backoff, func() {
			_ = rc.XAdd(context.Background(), &redis.XAddArgs{
				Stream: w.cfg.Stream,
				MaxLen: w.cfg.MaxLen,
				Values: map[string]any{
					"payload": raw,
					"attempt": attempt + 1,
				},
			}).Err()
		})
		return err
	}
	return nil
}

func (w *Worker) deadLetter(ctx context.Context, raw string, cause error) {
	log.Printf("[worker] max attempts reached, dead-lettering job: %v", cause)
	sentry.CaptureException(fmt.Errorf("job dead-lettered: %w", cause))
	_ = w.rc.XAdd(ctx, &redis.XAddArgs{
		Stream: w.cfg.Stream + ".dead",
		Values: map[string]any{
			"payload": raw,
			"error":   cause.Error(),
		},
	}).Err()
}

func (w *Worker) process(ctx context.Context, job ConvertJob) error {
	if job.Xlsx == "" {
		log.Printf("[worker] no xlsx file named in message, dropping")
		return nil
	}
	if !w.staging.Exists(job.Xlsx) {
		// The upload never landed in the shared directory; retrying cannot
		// make it appear.
		log.Printf("[worker] staged file not found, dropping job: %s", job.Xlsx)
		return nil
	}

	log.Printf("[worker] converting %s via shared directory", job.Xlsx)
	if err := w.conv.ConvertStaged(ctx, job.Xlsx, job.LoOptions, job.DeleteOriginal); err != nil {
		return fmt.Errorf("convert %s: %w", job.Xlsx, err)
	}
	log.Printf("[worker] converted %s", job.Xlsx)
	return nil
}

func decodeJob(values map[string]any) (string, ConvertJob, error) {
	var job ConvertJob
	raw, ok := values["payload"].(string)
	if !ok {
		return "", job, errors.New("missing payload field")
	}
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return raw, job, err
	}
	return raw, job, nil
}

func toInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case string:
		var x int
		fmt.Sscanf(t, "%d", &x)
		return x
	default:
		return 0
	}
}
