package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/listing-scraper/internal/jobs"
)

// EventTypeCrawlRequested asks the service to queue a crawl.
const EventTypeCrawlRequested = "CRAWL_REQUESTED"

// ErrMalformedMessage marks a message that can never be processed.
var ErrMalformedMessage = errors.New("malformed stream message")

// StreamClient is the subset of the redis client used by the consumer
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// Submitter queues crawl requests.
type Submitter interface {
	Submit(ctx context.Context, req jobs.Request) (*jobs.Job, error)
}

type Config struct {
	Stream   string
	Group    string
	Consumer string
	Block    time.Duration
	Count    int64

	// RetryInterval is how often the consumer re-reads its own pending
	// messages, the ones left unacked after a transient failure.
	RetryInterval time.Duration
}

// Consumer turns CRAWL_REQUESTED stream messages into queued jobs.
type Consumer struct {
	redis  StreamClient
	jobs   Submitter
	cfg    Config
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error
	now    func() time.Time

	nextDrain time.Time
}

func NewConsumer(client StreamClient, submitter Submitter, cfg Config, logger *slog.Logger) *Consumer {
	if cfg.Group == "" {
		cfg.Group = "listing-scraper-group"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "consumer-1"
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.Count <= 0 {
		cfg.Count = 10
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 30 * time.Second
	}

	return &Consumer{
		redis:  client,
		jobs:   submitter,
		cfg:    cfg,
		logger: logger.With("component", "stream_consumer", "stream", cfg.Stream),
		sleep:  sleepContext,
		now:    time.Now,
	}
}

// Run reads until ctx is cancelled. The consumer's pending list is drained
// first and again every RetryInterval.
func (c *Consumer) Run(ctx context.Context) error {
	err := c.redis.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("starting consumer", "group", c.cfg.Group, "consumer", c.cfg.Consumer)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !c.now().Before(c.nextDrain) {
			if err := c.drainPending(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error("failed to drain pending messages", "error", err)
			}
			c.nextDrain = c.now().Add(c.cfg.RetryInterval)
		}

		if err := c.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			if err := c.sleep(ctx, time.Second); err != nil {
				return err
			}
		}
	}
}

func (c *Consumer) poll(ctx context.Context) error {
	streams, err := c.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.Count,
		Block:    c.cfg.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, s := range streams {
		for _, message := range s.Messages {
			c.handle(ctx, message)
		}
	}
	return nil
}

// drainPending re-delivers this consumer's unacknowledged messages, paging
// through the pending list once from the start.
func (c *Consumer) drainPending(ctx context.Context) error {
	start := "0"
	for {
		streams, err := c.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			Streams:  []string{c.cfg.Stream, start},
			Count:    c.cfg.Count,
			Block:    -1,
		}).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read pending messages: %w", err)
		}

		read := 0
		for _, s := range streams {
			for _, message := range s.Messages {
				c.handle(ctx, message)
				start = message.ID
				read++
			}
		}
		if read == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// handle acks processed and malformed messages. Messages that failed for a
// transient reason stay pending for redelivery.
func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) {
	err := c.processMessage(ctx, msg)
	switch {
	case err == nil:
	case errors.Is(err, ErrMalformedMessage), errors.Is(err, jobs.ErrInvalidRequest):
		c.logger.Warn("dropping message", "id", msg.ID, "error", err)
	default:
		c.logger.Error("failed to process message", "id", msg.ID, "error", err)
		return
	}

	if err := c.redis.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		c.logger.Error("failed to acknowledge message", "id", msg.ID, "error", err)
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg redis.XMessage) error {
	if eventType, _ := msg.Values["event_type"].(string); eventType != EventTypeCrawlRequested {
		return nil
	}

	req, err := decodeRequest(msg.Values)
	if err != nil {
		return err
	}

	job, err := c.jobs.Submit(ctx, req)
	if err != nil {
		return err
	}

	c.logger.Info("crawl requested from stream", "message_id", msg.ID, "job_id", job.ID, "url", job.URL)
	return nil
}

// decodeRequest reads the request from "payload", or from the payload field of
// a relayed "data" envelope.
func decodeRequest(values map[string]interface{}) (jobs.Request, error) {
	var req jobs.Request

	if raw, ok := values["payload"].(string); ok {
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			return req, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return req, nil
	}

	if raw, ok := values["data"].(string); ok {
		var envelope struct {
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal([]byte(raw), &envelope); err != nil || len(envelope.Payload) == 0 {
			return req, fmt.Errorf("%w: bad data envelope", ErrMalformedMessage)
		}
		if err := json.Unmarshal(envelope.Payload, &req); err != nil {
			return req, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return req, nil
	}

	return req, fmt.Errorf("%w: missing payload", ErrMalformedMessage)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
