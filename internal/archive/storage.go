package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/getsentry/sentry-go"

	conf "github.com/trunov/pdfpress/internal/config"
)

var ErrQueueFull = errors.New("archive queue is full")

type uploadReq struct {
	ctx     context.Context
	key     string
	payload []byte

	onSuccess func()
}

// Uploader ships finished PDFs to S3-compatible storage off the request
// path. Uploads are queued to a small worker pool with bounded retries;
// archiving is best-effort and never blocks or fails a conversion.
type Uploader struct {
	accountID string
	bucket    string
	region    string // "auto" for R2
	accessKey string
	secretKey string

	workers        int
	queueSize      int
	maxRetries     int
	retryBaseDelay time.Duration

	queue chan uploadReq
	wg    sync.WaitGroup

	uploader *manager.Uploader
}

func NewUploader(cfg *conf.ArchiveConfig) (*Uploader, error) {
	u := &Uploader{
		accountID:      cfg.AccountID,
		bucket:         cfg.BucketName,
		region:         "auto",
		accessKey:      cfg.AccessKeyID,
		secretKey:      cfg.SecretKey,
		workers:        4,
		queueSize:      256,
		maxRetries:     3,
		retryBaseDelay: 300 * time.Millisecond,
	}
	if err := u.run(); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *Uploader) run() error {
	cfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			u.accessKey, u.secretKey, "",
		)),
		awsconfig.WithRegion(u.region),
	)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", u.accountID))
		o.UsePathStyle = true
	})
	u.uploader = manager.NewUploader(client)

	u.queue = make(chan uploadReq, u.queueSize)
	for i := 0; i < u.workers; i++ {
		u.wg.Add(1)
		go u.worker()
	}

	log.Printf("[archive] uploader initialized (bucket=%s workers=%d)", u.bucket, u.workers)
	return nil
}

// Close waits for all queued uploads to be processed.
func (u *Uploader) Close() {
	close(u.queue)
	u.wg.Wait()
}

// Archive tries to put an upload on the queue without blocking. If the
// queue is full it returns ErrQueueFull immediately.
func (u *Uploader) Archive(ctx context.Context, key string, payload []byte, onSuccess func()) error {
	req := uploadReq{ctx: ctx, key: key, payload: payload, onSuccess: onSuccess}
	select {
	case u.queue <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (u *Uploader) worker() {
	defer u.wg.Done()
	for req := range u.queue {
		var err error
		attempt := 0

		for {
			attempt++
			_, err = u.uploader.Upload(req.ctx, &s3.PutObjectInput{
				Bucket:      aws.String(u.bucket),
				Key:         aws.String(req.key),
				Body:        bytes.NewReader(req.payload),
				ContentType: aws.String("application/pdf"),
			})
			if err == nil {
				if req.onSuccess != nil {
					req.onSuccess()
				}
				break
			}

			if attempt > u.maxRetries {
				log.Printf("[archive] giving up on %s: %v", req.key, err)
				sentry.CaptureException(fmt.Errorf("archive %s: %w", req.key, err))
				break
			}

			backoff := u.backoffDelay(attempt)
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-req.ctx.Done():
				timer.Stop()
			}
			if req.ctx != nil && req.ctx.Err() != nil {
				break
			}
		}
	}
}

// backoffDelay doubles per attempt with jitter on top.
func (u *Uploader) backoffDelay(attempt int) time.Duration {
	base := u.retryBaseDelay << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(u.retryBaseDelay)))
	return base + jitter
}
