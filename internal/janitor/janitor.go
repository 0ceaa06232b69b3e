package janitor

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/trunov/pdfpress/internal/staging"
)

// MarkerStore answers whether a staged file's liveness marker still exists.
type MarkerStore interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// Janitor sweeps the staging directory on a cron schedule and deletes files
// whose liveness marker has expired. This is the "expired" arm of the
// staged-file lifecycle: orphaned inputs (crash between write and publish)
// and never-fetched PDFs eventually go away on their own.
type Janitor struct {
	staging   *staging.Store
	markers   MarkerStore
	retention time.Duration
	cron      *cron.Cron
}

func New(st *staging.Store, markers MarkerStore, retention time.Duration) *Janitor {
	return &Janitor{
		staging:   st,
		markers:   markers,
		retention: retention,
		cron:      cron.New(),
	}
}

func (j *Janitor) Start(schedule string) error {
	if _, err := j.cron.AddFunc(schedule, j.Sweep); err != nil {
		return err
	}
	j.cron.Start()
	log.Printf("[janitor] started (schedule=%q retention=%v)", schedule, j.retention)
	return nil
}

func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

func (j *Janitor) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	names, err := j.staging.List()
	if err != nil {
		log.Printf("[janitor] sweep failed: %v", err)
		return
	}

	for _, name := range names {
		info, err := os.Stat(j.staging.Path(name))
		if err != nil {
			continue
		}
		if !j.expired(ctx, name, info.ModTime()) {
			continue
		}
		log.Printf("[janitor] expiring staged file: %s", name)
		j.staging.Remove(name)
	}
}

// expired only when the file is older than the retention floor AND its
// marker is gone. The retention floor keeps the janitor away from files
// whose marker write failed moments ago.
func (j *Janitor) expired(ctx context.Context, name string, modTime time.Time) bool {
	if time.Since(modTime) < j.retention {
		return false
	}
	alive, err := j.markers.Exists(ctx, name)
	if err != nil {
		// Broker hiccup: keep the file, next sweep decides.
		return false
	}
	return !alive
}
