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
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/lifecycle"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/logger"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/metrics"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/retry"
)

const (
	// SignalDataField is the stream field carrying the serialized signal.
	SignalDataField = "signal"

	// SignalGroup is the consumer group the scheduler reads signals with.
	SignalGroup = "harvest-scheduler"

	defaultSignalBlock     = 5 * time.Second
	defaultSignalBatchSize = 50
	errorBackoff           = time.Second
	maxErrorBackoff        = 30 * time.Second
)

// SignalMessage is what the crawl engine publishes about a job.
type SignalMessage struct {
	Type    lifecycle.Signal `json:"type"`
	JobID   int64            `json:"job_id"`
	Worker  string           `json:"worker,omitempty"`
	Bytes   int64            `json:"bytes,omitempty"`
	Objects int64            `json:"objects,omitempty"`
	Reason  string           `json:"reason,omitempty"`
	// PerConfig optionally carries exact counts for completed jobs.
	PerConfig []ConfigCount `json:"per_config,omitempty"`
}

// ConfigCount is the harvested size of one configuration.
type ConfigCount struct {
	Domain  string `json:"domain"`
	Config  string `json:"config"`
	Bytes   int64  `json:"bytes"`
	Objects int64  `json:"objects"`
}

// Report converts a completion signal to a completion report.
func (m SignalMessage) Report() domain.CompletionReport {
	report := domain.CompletionReport{Bytes: m.Bytes, Objects: m.Objects}
	if len(m.PerConfig) > 0 {
		report.PerConfig = make(map[domain.ConfigKey]domain.Size, len(m.PerConfig))
		for _, c := range m.PerConfig {
			key := domain.ConfigKey{Domain: c.Domain, Config: c.Config}
			report.PerConfig[key] = domain.Size{Bytes: c.Bytes, Objects: c.Objects}
		}
	}
	return report
}

// SignalHandler applies crawl engine signals. *lifecycle.Tracker implements it.
type SignalHandler interface {
	OnStarted(ctx context.Context, id int64, worker string) (*domain.Job, error)
	OnCompleted(ctx context.Context, id int64, report domain.CompletionReport) (*domain.Job, error)
	OnFailed(ctx context.Context, id int64, reason string) (*domain.Job, error)
}

// PublishSignal appends msg to the signal stream.
func (c *Client) PublishSignal(ctx context.Context, msg SignalMessage) (string, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to serialize signal: %w", err)
	}
	return c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.SignalsStream(),
		Values: map[string]any{SignalDataField: string(payload)},
	}).Result()
}

// SignalConsumer reads the signal stream through a consumer group and hands
// each signal to the handler. Signals that fail for a transient reason stay
// pending and are re-read from the consumer's backlog.
type SignalConsumer struct {
	client    *Client
	handler   SignalHandler
	consumer  string
	block     time.Duration
	batchSize int64
	backoff   retry.Policy
	log       logger.Logger
	metrics   *metrics.Metrics
}

// SignalConsumerOption customises a SignalConsumer.
type SignalConsumerOption func(*SignalConsumer)

// WithSignalLogger sets the logger.
func WithSignalLogger(log logger.Logger) SignalConsumerOption {
	return func(c *SignalConsumer) {
		c.log = log
	}
}

// WithSignalMetrics sets the metrics sink.
func WithSignalMetrics(m *metrics.Metrics) SignalConsumerOption {
	return func(c *SignalConsumer) {
		c.metrics = m
	}
}

// WithBlockTimeout sets how long a read waits for new signals.
func WithBlockTimeout(d time.Duration) SignalConsumerOption {
	return func(c *SignalConsumer) {
		c.block = d
	}
}

// WithSignalBackoff sets how long the consumer waits after a failed read or a
// signal left pending. The delay grows with each consecutive failure.
func WithSignalBackoff(policy retry.Policy) SignalConsumerOption {
	return func(c *SignalConsumer) {
		c.backoff = policy
	}
}

// NewSignalConsumer creates a consumer with a unique name in SignalGroup.
func NewSignalConsumer(client *Client, handler SignalHandler, opts ...SignalConsumerOption) *SignalConsumer {
	c := &SignalConsumer{
		client:    client,
		handler:   handler,
		consumer:  "scheduler-" + uuid.NewString(),
		block:     defaultSignalBlock,
		batchSize: defaultSignalBatchSize,
		backoff: retry.Policy{
			InitialDelay: errorBackoff,
			MaxDelay:     maxErrorBackoff,
			Multiplier:   2,
		},
		log: logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(logger.Component("signals"), logger.String("consumer", c.consumer))
	return c
}

// Initialize creates the consumer group.
func (c *SignalConsumer) Initialize(ctx context.Context) error {
	return c.client.CreateConsumerGroup(ctx, c.client.SignalsStream(), SignalGroup)
}

// Run consumes signals until ctx is done.
func (c *SignalConsumer) Run(ctx context.Context) error {
	if err := c.Initialize(ctx); err != nil {
		return err
	}

	backlog := true
	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, pending, err := c.Poll(ctx, backlog)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("Failed to read signals", logger.Error(err))
		case pending:
			// The backlog read does not block, so wait before handing the
			// same signals back to a failing handler.
			backlog = true
		default:
			failures = 0
			// Keep draining the backlog until it is empty.
			backlog = backlog && n > 0
			continue
		}

		failures++
		delay := c.backoff.Backoff(failures)
		c.log.Debug("Backing off signal consumption",
			logger.Int("failures", failures),
			logger.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// Poll reads and handles one batch. With backlog set it re-reads this
// consumer's pending signals instead of new ones. pending reports whether any
// signal was left unacknowledged.
func (c *SignalConsumer) Poll(ctx context.Context, backlog bool) (handled int, pending bool, err error) {
	start := ">"
	block := c.block
	if backlog {
		start = "0"
		block = -1
	}

	streams, err := c.client.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    SignalGroup,
		Consumer: c.consumer,
		Streams:  []string{c.client.SignalsStream(), start},
		Count:    c.batchSize,
		Block:    block,
	}).Result()
	if err != nil {
		if isNil(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to read signal stream: %w", err)
	}

	stream := c.client.SignalsStream()
	// A handled signal is acknowledged even when shutdown begins mid-batch.
	ackCtx := context.WithoutCancel(ctx)
	for _, s := range streams {
		for _, msg := range s.Messages {
			handled++
			if !c.handle(ctx, msg) {
				pending = true
				continue
			}
			if ackErr := c.client.rdb.XAck(ackCtx, stream, SignalGroup, msg.ID).Err(); ackErr != nil {
				c.log.Warn("Failed to acknowledge signal", logger.String("message_id", msg.ID), logger.Error(ackErr))
			}
		}
	}
	return handled, pending, nil
}

// handle applies one message and reports whether it may be acknowledged.
func (c *SignalConsumer) handle(ctx context.Context, msg redis.XMessage) bool {
	raw, _ := msg.Values[SignalDataField].(string)
	var sig SignalMessage
	if err := json.Unmarshal([]byte(raw), &sig); err != nil {
		c.log.Error("Dropping malformed signal", logger.String("message_id", msg.ID), logger.Error(err))
		c.metrics.RecordSignal("unknown", "malformed")
		return true
	}

	err := c.Apply(ctx, sig)
	switch {
	case err == nil:
		c.metrics.RecordSignal(string(sig.Type), "ok")
		return true
	case errors.Is(err, lifecycle.ErrStateInconsistency):
		// Already logged and counted by the tracker.
		c.metrics.RecordSignal(string(sig.Type), "inconsistent")
		return true
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, ErrUnknownSignal):
		c.log.Warn("Dropping signal",
			logger.String("message_id", msg.ID),
			logger.Int64("job_id", sig.JobID),
			logger.Error(err),
		)
		c.metrics.RecordSignal(string(sig.Type), "dropped")
		return true
	default:
		c.log.Error("Signal left pending",
			logger.String("message_id", msg.ID),
			logger.Int64("job_id", sig.JobID),
			logger.Error(err),
		)
		c.metrics.RecordSignal(string(sig.Type), "error")
		return false
	}
}

// ErrUnknownSignal is returned for a signal type the scheduler does not know.
var ErrUnknownSignal = errors.New("unknown signal type")

// Apply routes sig to the handler.
func (c *SignalConsumer) Apply(ctx context.Context, sig SignalMessage) error {
	var err error
	switch sig.Type {
	case lifecycle.SignalStarted:
		_, err = c.handler.OnStarted(ctx, sig.JobID, sig.Worker)
	case lifecycle.SignalCompleted:
		_, err = c.handler.OnCompleted(ctx, sig.JobID, sig.Report())
	case lifecycle.SignalFailed:
		_, err = c.handler.OnFailed(ctx, sig.JobID, sig.Reason)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownSignal, sig.Type)
	}
	return err
}
