package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/domain"
)

const (
	// JobDataField is the stream field carrying the serialized job message.
	JobDataField = "job"

	// SubmittedAtField carries the submission timestamp in RFC 3339.
	SubmittedAtField = "submitted_at"

	defaultMaxStreamLen = 10000
)

// JobMessage is the payload a crawl worker receives.
type JobMessage struct {
	// MessageID lets workers drop duplicates of a resubmitted job.
	MessageID   string      `json:"message_id"`
	Job         *domain.Job `json:"job"`
	SubmittedAt time.Time   `json:"submitted_at"`
}

// Producer submits jobs to their channel's stream.
type Producer struct {
	client       *Client
	maxStreamLen int64
	now          func() time.Time
}

// NewProducer creates a producer. maxStreamLen caps each channel stream;
// zero or less selects the default.
func NewProducer(client *Client, maxStreamLen int64) *Producer {
	if maxStreamLen <= 0 {
		maxStreamLen = defaultMaxStreamLen
	}
	return &Producer{client: client, maxStreamLen: maxStreamLen, now: time.Now}
}

// Submit appends job to the stream of job.Channel and returns the stream
// entry id.
func (p *Producer) Submit(ctx context.Context, job *domain.Job) (string, error) {
	if job == nil {
		return "", errors.New("job cannot be nil")
	}
	if job.Channel == "" {
		return "", fmt.Errorf("job %d has no channel", job.ID)
	}

	now := p.now().UTC()
	payload, err := json.Marshal(JobMessage{
		MessageID:   uuid.NewString(),
		Job:         job,
		SubmittedAt: now,
	})
	if err != nil {
		return "", fmt.Errorf("failed to serialize job %d: %w", job.ID, err)
	}

	stream := p.client.JobsStream(job.Channel)
	id, err := p.client.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: p.maxStreamLen,
		Values: map[string]any{
			JobDataField:     string(payload),
			SubmittedAtField: now.Format(time.RFC3339),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to submit job %d to stream %s: %w", job.ID, stream, err)
	}
	return id, nil
}

// Depth returns the number of entries in a channel's stream.
func (p *Producer) Depth(ctx context.Context, channel string) (int64, error) {
	n, err := p.client.rdb.XLen(ctx, p.client.JobsStream(channel)).Result()
	if err != nil && !isNil(err) {
		return 0, fmt.Errorf("failed to read depth of %s: %w", channel, err)
	}
	return n, nil
}
