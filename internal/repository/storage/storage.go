package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// JobRecorder is the audit trail for conversion jobs. It is observational
// only: the filename stays the job key and nothing reads these rows on the
// request path.
type JobRecorder interface {
	RecordSubmitted(ctx context.Context, filename, options, path string) error
	RecordOutcome(ctx context.Context, filename string, ok bool, detail string) error
}

type dbStorage struct {
	dbpool *pgxpool.Pool
}

func New(ctx context.Context, databaseDSN string) (*dbStorage, error) {
	pool, err := pgxpool.New(ctx, databaseDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	s := &dbStorage{dbpool: pool}
	// pgxpool connects lazily; fail at boot on a bad DSN, not on the first
	// recorded job.
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return s, nil
}

func (s *dbStorage) Ping(ctx context.Context) error {
	return s.dbpool.Ping(ctx)
}

// RecordSubmitted inserts one row per submission. path is "queued", "sync"
// or "staged" depending on which entry point accepted the job.
func (s *dbStorage) RecordSubmitted(ctx context.Context, filename, options, path string) error {
	_, err := s.dbpool.Exec(ctx,
		`INSERT INTO jobs (filename, options, path, status)
		 VALUES ($1, $2, $3, 'submitted')`,
		filename, options, path,
	)
	return err
}

// RecordOutcome marks the most recent submission of filename as converted
// or failed.
func (s *dbStorage) RecordOutcome(ctx context.Context, filename string, ok bool, detail string) error {
	status := "converted"
	if !ok {
		status = "failed"
	}
	_, err := s.dbpool.Exec(ctx,
		`UPDATE jobs SET status = $2, detail = $3, updated_timestamp = now()
		 WHERE id = (SELECT id FROM jobs WHERE filename = $1 ORDER BY id DESC LIMIT 1)`,
		filename, status, detail,
	)
	return err
}

// Noop satisfies JobRecorder when no database is configured.
type Noop struct{}

func (Noop) RecordSubmitted(context.Context, string, string, string) error { return nil }
func (Noop) RecordOutcome(context.Context, string, bool, string) error     { return nil }
