package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trunov/pdfpress/internal/config"
)

type fakeStaging struct {
	files map[string]bool
}

func (f fakeStaging) Exists(name string) bool { return f.files[name] }

type fakeConverter struct {
	err   error
	calls []ConvertJob
}

func (f *fakeConverter) ConvertStaged(_ context.Context, filename, options string, deleteOriginal bool) error {
	f.calls = append(f.calls, ConvertJob{Xlsx: filename, LoOptions: options, DeleteOriginal: deleteOriginal})
	return f.err
}

func TestDecodeJob(t *testing.T) {
	raw, job, err := decodeJob(map[string]any{
		"payload": `{"xlsx":"report.xlsx","lo_options":"opts","delete_original":true}`,
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if raw == "" {
		t.Fatalf("raw payload should be returned")
	}
	if job.Xlsx != "report.xlsx" || job.LoOptions != "opts" || !job.DeleteOriginal {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestDecodeJobMissingPayload(t *testing.T) {
	if _, _, err := decodeJob(map[string]any{"attempt": 0}); err == nil {
		t.Fatalf("expected error for missing payload")
	}
}

func TestDecodeJobMalformedJSON(t *testing.T) {
	if _, _, err := decodeJob(map[string]any{"payload": "{not json"}); err == nil {
		t.Fatalf("expected error for malformed payload")
	}
}

func TestProcessConvertsStagedFile(t *testing.T) {
	conv := &fakeConverter{}
	w := &Worker{
		staging: fakeStaging{files: map[string]bool{"report.xlsx": true}},
		conv:    conv,
	}

	job := ConvertJob{Xlsx: "report.xlsx", LoOptions: "opts", DeleteOriginal: true}
	if err := w.process(context.Background(), job); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(conv.calls) != 1 {
		t.Fatalf("expected one conversion call, got %d", len(conv.calls))
	}
	if conv.calls[0] != job {
		t.Fatalf("unexpected call: %+v", conv.calls[0])
	}
}

func TestProcessDropsMissingFile(t *testing.T) {
	conv := &fakeConverter{}
	w := &Worker{
		staging: fakeStaging{files: map[string]bool{}},
		conv:    conv,
	}

	// Dropped, not retried: the error is swallowed.
	if err := w.process(context.Background(), ConvertJob{Xlsx: "gone.xlsx"}); err != nil {
		t.Fatalf("missing file must be dropped, got %v", err)
	}
	if len(conv.calls) != 0 {
		t.Fatalf("converter must not be called for a missing file")
	}
}

func TestProcessDropsEmptyFilename(t *testing.T) {
	conv := &fakeConverter{}
	w := &Worker{staging: fakeStaging{}, conv: conv}

	if err := w.process(context.Background(), ConvertJob{}); err != nil {
		t.Fatalf("empty filename must be dropped, got %v", err)
	}
	if len(conv.calls) != 0 {
		t.Fatalf("converter must not be called without a filename")
	}
}

func TestProcessPropagatesConversionError(t *testing.T) {
	conv := &fakeConverter{err: errors.New("printer api returned 500")}
	w := &Worker{
		staging: fakeStaging{files: map[string]bool{"report.xlsx": true}},
		conv:    conv,
	}

	if err := w.process(context.Background(), ConvertJob{Xlsx: "report.xlsx"}); err == nil {
		t.Fatalf("expected conversion error to propagate for retry accounting")
	}
}

func TestReconnectDelayJitterBounds(t *testing.T) {
	base := 5 * time.Second
	for i := 0; i < 100; i++ {
		d := reconnectDelay(base)
		if d < base || d > base+base/4 {
			t.Fatalf("delay %v outside [%v, %v]", d, base, base+base/4)
		}
	}
}

func TestReconnectDelayDefaultsWhenUnset(t *testing.T) {
	if d := reconnectDelay(0); d < 5*time.Second {
		t.Fatalf("expected at least the 5s default, got %v", d)
	}
}

// fakeStreamClient records the stream commands the worker issues. XAutoClaim
// pops one batch per call; XReadGroup blocks until the context ends unless
// readErr is armed for the first caller.
type fakeStreamClient struct {
	mu     sync.Mutex
	claims [][]redis.XMessage
	acked  []string
	added  []*redis.XAddArgs

	readErr  error
	errFired atomic.Bool
	readers  atomic.Int32
}

func (f *fakeStreamClient) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	return redis.NewStatusCmd(ctx)
}

func (f *fakeStreamClient) XAutoClaim(ctx context.Context, a *redis.XAutoClaimArgs) *redis.XAutoClaimCmd {
	cmd := redis.NewXAutoClaimCmd(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.claims) == 0 {
		cmd.SetVal(nil, "0-0")
		return cmd
	}
	batch := f.claims[0]
	f.claims = f.claims[1:]
	cmd.SetVal(batch, "0-0")
	return cmd
}

func (f *fakeStreamClient) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	f.readers.Add(1)
	defer f.readers.Add(-1)
	cmd := redis.NewXStreamSliceCmd(ctx)
	if f.readErr != nil && f.errFired.CompareAndSwap(false, true) {
		cmd.SetErr(f.readErr)
		return cmd
	}
	<-ctx.Done()
	cmd.SetErr(ctx.Err())
	return cmd
}

func (f *fakeStreamClient) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	f.mu.Lock()
	f.acked = append(f.acked, ids...)
	f.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(ids)))
	return cmd
}

func (f *fakeStreamClient) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.mu.Lock()
	f.added = append(f.added, a)
	f.mu.Unlock()
	cmd := redis.NewStringCmd(ctx)
	cmd.SetVal("1-0")
	return cmd
}

func TestAutoClaimHandlesReclaimedMessages(t *testing.T) {
	rc := &fakeStreamClient{
		claims: [][]redis.XMessage{{
			{ID: "7-0", Values: map[string]any{
				"payload": `{"xlsx":"report.xlsx"}`,
				"attempt": "0",
			}},
		}},
	}
	conv := &fakeConverter{}
	w := &Worker{
		rc:      rc,
		cfg:     config.QueueConfig{Stream: "pdf_jobs", Group: "pdf_jobs-workers", Consumer: "c1", MaxAttempts: 3},
		staging: fakeStaging{files: map[string]bool{"report.xlsx": true}},
		conv:    conv,
	}

	w.autoClaim(context.Background())

	// A job stranded in another consumer's pending list must be converted
	// and acked, not parked forever.
	if len(conv.calls) != 1 || conv.calls[0].Xlsx != "report.xlsx" {
		t.Fatalf("reclaimed message never reached the converter: %+v", conv.calls)
	}
	if len(rc.acked) != 1 || rc.acked[0] != "7-0" {
		t.Fatalf("reclaimed message not acked: %v", rc.acked)
	}
}

func TestAutoClaimRequeuesFailedReclaim(t *testing.T) {
	rc := &fakeStreamClient{
		claims: [][]redis.XMessage{{
			{ID: "8-0", Values: map[string]any{
				"payload": `{"xlsx":"report.xlsx"}`,
				"attempt": "0",
			}},
		}},
	}
	conv := &fakeConverter{err: errors.New("engine crashed")}
	w := &Worker{
		rc:      rc,
		cfg:     config.QueueConfig{Stream: "pdf_jobs", Group: "pdf_jobs-workers", Consumer: "c1", MaxAttempts: 3},
		staging: fakeStaging{files: map[string]bool{"report.xlsx": true}},
		conv:    conv,
	}

	w.autoClaim(context.Background())

	if len(rc.acked) != 1 {
		t.Fatalf("failed reclaim must still be acked after requeue, got %v", rc.acked)
	}
	// BackoffBase is zero so the requeue timer fires immediately.
	deadline := time.After(2 * time.Second)
	for {
		rc.mu.Lock()
		n := len(rc.added)
		rc.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("failed reclaim was not re-enqueued")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestReadAllStopsReadersBeforeReturning(t *testing.T) {
	rc := &fakeStreamClient{readErr: errors.New("connection reset")}
	w := &Worker{
		rc:  rc,
		cfg: config.QueueConfig{Stream: "pdf_jobs", Group: "pdf_jobs-workers", Consumer: "c1", Workers: 3},
	}

	if err := w.readAll(context.Background()); err == nil {
		t.Fatalf("expected the reader error to surface")
	}
	// All readers from this attempt must be gone by the time readAll
	// returns, or every reconnect cycle would leak goroutines.
	if n := rc.readers.Load(); n != 0 {
		t.Fatalf("%d reader(s) still running after readAll returned", n)
	}
}

func TestToInt(t *testing.T) {
	cases := []struct {
		in   any
		want int
	}{
		{3, 3},
		{int64(7), 7},
		{"2", 2},
		{nil, 0},
		{"junk", 0},
	}
	for _, c := range cases {
		if got := toInt(c.in); got != c.want {
			t.Errorf("toInt(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}
