package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/trunov/pdfpress/internal/converter"
	"github.com/trunov/pdfpress/internal/queue"
	"github.com/trunov/pdfpress/internal/repository/storage"
	"github.com/trunov/pdfpress/internal/staging"
)

// ErrNotStaged is returned when a staged-file operation names a file that is
// not in the shared directory.
var ErrNotStaged = errors.New("file not staged")

type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.ConvertJob) error
}

type ConverterPool interface {
	Convert(ctx context.Context, inputPath, options string) (converter.Result, error)
}

// Archiver ships finished PDFs to long-term storage. Nil when archiving is
// not configured.
type Archiver interface {
	Archive(ctx context.Context, key string, payload []byte, onSuccess func()) error
}

// Markers tracks staged-file liveness for the janitor.
type Markers interface {
	Store(ctx context.Context, key string, ttl int, value interface{}) error
	Remove(ctx context.Context, key string) error
}

// Dispatcher decides how a conversion job runs: queued through the stream
// when the broker cooperates, synchronously through the converter pool when
// it does not or when the caller asked for an inline result.
type Dispatcher struct {
	staging  *staging.Store
	producer Enqueuer
	pool     ConverterPool
	recorder storage.JobRecorder
	archiver Archiver
	markers  Markers
	ttl      int
}

func New(st *staging.Store, producer Enqueuer, pool ConverterPool, recorder storage.JobRecorder, archiver Archiver, markers Markers, ttlSeconds int) *Dispatcher {
	if recorder == nil {
		recorder = storage.Noop{}
	}
	return &Dispatcher{
		staging:  st,
		producer: producer,
		pool:     pool,
		recorder: recorder,
		archiver: archiver,
		markers:  markers,
		ttl:      ttlSeconds,
	}
}

// SubmitResult is what a submission produced: either the job went onto the
// queue, or the broker was unavailable and the synchronous fallback ran
// inline, in which case PDF/Res mirror ConvertSync exactly.
type SubmitResult struct {
	Queued bool
	File   string
	PDF    []byte
	Res    converter.Result
}

// SubmitJob persists the upload into the staging directory first, then
// publishes the job. The two steps are not transactional: a crash in
// between leaves an orphaned input file with no job, which the janitor
// eventually expires. An enqueue failure is never surfaced to the caller;
// the job falls back to the synchronous path instead.
func (d *Dispatcher) SubmitJob(ctx context.Context, filename string, file io.Reader, options string) (SubmitResult, error) {
	if _, err := d.stage(ctx, filename, file); err != nil {
		return SubmitResult{}, err
	}

	err := d.producer.Enqueue(ctx, queue.ConvertJob{Xlsx: filename, LoOptions: options})
	if err == nil {
		log.Printf("[dispatch] queued job for %s", filename)
		d.record(ctx, filename, options, "queued")
		return SubmitResult{Queued: true, File: filename}, nil
	}

	log.Printf("[dispatch] queue unavailable (%v); falling back to direct conversion", err)
	d.record(ctx, filename, options, "sync")
	pdf, res, cerr := d.convertAndCleanup(ctx, filename, options)
	return SubmitResult{File: filename, PDF: pdf, Res: res}, cerr
}

// ConvertSync writes the upload, converts it, and returns the PDF bytes.
// Input and output are removed from the staging directory before returning,
// success or failure, so the synchronous path never leaks request-scoped
// files.
func (d *Dispatcher) ConvertSync(ctx context.Context, filename string, file io.Reader, options string) ([]byte, converter.Result, error) {
	if _, err := d.stage(ctx, filename, file); err != nil {
		return nil, converter.Result{}, err
	}
	d.record(ctx, filename, options, "sync")
	return d.convertAndCleanup(ctx, filename, options)
}

func (d *Dispatcher) convertAndCleanup(ctx context.Context, filename, options string) ([]byte, converter.Result, error) {
	outputName := converter.OutputName(filename)
	defer func() {
		d.staging.Remove(filename)
		d.staging.Remove(outputName)
		d.unmark(ctx, filename)
		d.unmark(ctx, outputName)
	}()

	res, err := d.pool.Convert(ctx, d.staging.Path(filename), options)
	if err != nil {
		return nil, res, err
	}
	if res.Err != nil {
		d.outcome(ctx, filename, false, res.Detail)
		return nil, res, nil
	}

	pdf, err := os.ReadFile(res.OutputPath)
	if err != nil {
		d.outcome(ctx, filename, false, err.Error())
		return nil, res, fmt.Errorf("read converted pdf: %w", err)
	}
	d.outcome(ctx, filename, true, "")
	return pdf, res, nil
}

// ConvertStaged converts a file already sitting in the shared directory.
// The PDF is left in place for later retrieval; the input is removed only
// when the caller asks for it.
func (d *Dispatcher) ConvertStaged(ctx context.Context, filename, options string, deleteOriginal bool) (string, converter.Result, error) {
	if !d.staging.Exists(filename) {
		log.Printf("[dispatch] staged input not found: %s", filename)
		return "", converter.Result{}, ErrNotStaged
	}
	d.record(ctx, filename, options, "staged")

	res, err := d.pool.Convert(ctx, d.staging.Path(filename), options)
	if err != nil {
		return "", res, err
	}
	if res.Err != nil {
		d.outcome(ctx, filename, false, res.Detail)
		return "", res, nil
	}

	outputName := converter.OutputName(filename)
	d.mark(ctx, outputName)
	d.outcome(ctx, filename, true, "")
	log.Printf("[dispatch] pdf generated: %s", outputName)

	if deleteOriginal {
		d.staging.Remove(filename)
		d.unmark(ctx, filename)
	}

	d.archive(ctx, outputName)

	return outputName, res, nil
}

// Fetch opens a staged file for serving. ErrNotStaged when it is missing.
func (d *Dispatcher) Fetch(filename string) (*os.File, error) {
	if !d.staging.Exists(filename) {
		return nil, ErrNotStaged
	}
	return d.staging.Open(filename)
}

// ScheduleDelete removes a staged file in the background. Callers invoke it
// only after the response body has been fully written, so a download is
// never truncated by its own cleanup. Fire and forget: a failed removal is
// logged and not retried.
func (d *Dispatcher) ScheduleDelete(filename string) {
	go func() {
		d.staging.Remove(filename)
		d.unmark(context.Background(), filename)
		log.Printf("[dispatch] scheduled deletion done: %s", filename)
	}()
}

// DeleteFile removes a staged file. Idempotent.
func (d *Dispatcher) DeleteFile(ctx context.Context, filename string) {
	d.staging.Remove(filename)
	d.unmark(ctx, filename)
}

func (d *Dispatcher) stage(ctx context.Context, filename string, file io.Reader) (string, error) {
	path, err := d.staging.Save(filename, file)
	if err != nil {
		return "", err
	}
	log.Printf("[dispatch] saved file: %s", path)
	d.mark(ctx, filename)
	return path, nil
}

// archive reads the finished PDF back and hands it to the uploader. Best
// effort: by the time the upload runs the file may already be fetched and
// deleted, and that is fine.
func (d *Dispatcher) archive(ctx context.Context, outputName string) {
	if d.archiver == nil {
		return
	}
	pdf, err := os.ReadFile(d.staging.Path(outputName))
	if err != nil {
		log.Printf("[dispatch] archive read failed for %s: %v", outputName, err)
		return
	}
	if err := d.archiver.Archive(ctx, outputName, pdf, nil); err != nil {
		log.Printf("[dispatch] archive enqueue failed for %s: %v", outputName, err)
	}
}

func (d *Dispatcher) mark(ctx context.Context, filename string) {
	if d.markers == nil {
		return
	}
	if err := d.markers.Store(ctx, filename, d.ttl, 1); err != nil {
		log.Printf("[dispatch] staging marker store failed for %s: %v", filename, err)
	}
}

func (d *Dispatcher) unmark(ctx context.Context, filename string) {
	if d.markers == nil {
		return
	}
	_ = d.markers.Remove(ctx, filename)
}

func (d *Dispatcher) record(ctx context.Context, filename, options, path string) {
	if err := d.recorder.RecordSubmitted(ctx, filename, options, path); err != nil {
		log.Printf("[dispatch] job audit insert failed: %v", err)
	}
}

func (d *Dispatcher) outcome(ctx context.Context, filename string, ok bool, detail string) {
	if err := d.recorder.RecordOutcome(ctx, filename, ok, detail); err != nil {
		log.Printf("[dispatch] job audit update failed: %v", err)
	}
}
