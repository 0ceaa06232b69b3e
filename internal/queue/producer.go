package queue

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

type Producer struct {
	r      redis.UniversalClient
	stream string
	maxLen int64
}

func NewProducer(r redis.UniversalClient, stream string, maxLen int64) *Producer {
	return &Producer{r: r, stream: stream, maxLen: maxLen}
}

// Encodes the job as JSON and appends it to the stream. Redis persists the
// entry until a consumer group member acks it, so a broker restart does not
// lose published jobs. There is no publish→result correlation: callers learn
// the outcome only by polling for the PDF.
func (p *Producer) Enqueue(ctx context.Context, job ConvertJob) error {
	raw, _ := json.Marshal(job)
	return p.r.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Values: map[string]any{
			"payload": string(raw),
			"attempt": 0,
		},
	}).Err()
}

// Len reports how many entries sit in the stream right now.
func (p *Producer) Len(ctx context.Context) (int64, error) {
	return p.r.XLen(ctx, p.stream).Result()
}
