package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/listing-scraper/internal/jobs"
	"github.com/maltedev/listing-scraper/internal/queue"
)

type MockStreamClient struct {
	mock.Mock
}

func (m *MockStreamClient) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	args := m.Called(ctx, stream, group, start)
	cmd := redis.NewStatusCmd(ctx)
	if err := args.Error(0); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal("OK")
	}
	return cmd
}

func (m *MockStreamClient) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	args := m.Called(ctx, a)
	cmd := redis.NewXStreamSliceCmd(ctx)
	if err := args.Error(1); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(args.Get(0).([]redis.XStream))
	}
	return cmd
}

func (m *MockStreamClient) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	args := m.Called(ctx, stream, group, ids)
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(ids)))
	if err := args.Error(0); err != nil {
		cmd.SetErr(err)
	}
	return cmd
}

type MockSubmitter struct {
	mock.Mock
}

func (m *MockSubmitter) Submit(ctx context.Context, req jobs.Request) (*jobs.Job, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jobs.Job), args.Error(1)
}

const testStream = "stream:listing_crawl_requests"

func newTestConsumer(client StreamClient, submitter Submitter) *Consumer {
	c := NewConsumer(client, submitter, Config{Stream: testStream}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return c
}

func message(id string, values map[string]interface{}) redis.XMessage {
	return redis.XMessage{ID: id, Values: values}
}

func TestNewConsumer_Defaults(t *testing.T) {
	c := newTestConsumer(new(MockStreamClient), new(MockSubmitter))
	assert.Equal(t, "listing-scraper-group", c.cfg.Group)
	assert.Equal(t, "consumer-1", c.cfg.Consumer)
	assert.Equal(t, 5*time.Second, c.cfg.Block)
	assert.Equal(t, int64(10), c.cfg.Count)
	assert.Equal(t, 30*time.Second, c.cfg.RetryInterval)
}

func TestDecodeRequest(t *testing.T) {
	req, err := decodeRequest(map[string]interface{}{
		"payload": `{"url":"https://shop.example","profile":"Zara","max_pages":3}`,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example", req.URL)
	assert.Equal(t, "Zara", req.Profile)
	require.NotNil(t, req.MaxPages)
	assert.Equal(t, 3, *req.MaxPages)

	req, err = decodeRequest(map[string]interface{}{
		"data": `{"id":"x","payload":{"url":"https://relayed.example"}}`,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://relayed.example", req.URL)

	for name, values := range map[string]map[string]interface{}{
		"no payload":    {"event_type": EventTypeCrawlRequested},
		"bad payload":   {"payload": "{"},
		"bad envelope":  {"data": "[]"},
		"empty payload": {"data": `{"id":"x"}`},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := decodeRequest(values)
			assert.ErrorIs(t, err, ErrMalformedMessage)
		})
	}
}

func TestConsumer_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("submits and acks", func(t *testing.T) {
		client := new(MockStreamClient)
		submitter := new(MockSubmitter)
		c := newTestConsumer(client, submitter)

		submitter.On("Submit", ctx, jobs.Request{URL: "https://shop.example"}).
			Return(&jobs.Job{ID: "job-1", URL: "https://shop.example"}, nil)
		client.On("XAck", ctx, testStream, "listing-scraper-group", []string{"1-0"}).Return(nil)

		c.handle(ctx, message("1-0", map[string]interface{}{
			"event_type": EventTypeCrawlRequested,
			"payload":    `{"url":"https://shop.example"}`,
		}))

		submitter.AssertExpectations(t)
		client.AssertExpectations(t)
	})

	t.Run("other events are acked untouched", func(t *testing.T) {
		client := new(MockStreamClient)
		submitter := new(MockSubmitter)
		c := newTestConsumer(client, submitter)

		client.On("XAck", ctx, testStream, mock.Anything, []string{"2-0"}).Return(nil)

		c.handle(ctx, message("2-0", map[string]interface{}{"event_type": "LISTING_CRAWLED"}))

		submitter.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
		client.AssertExpectations(t)
	})

	t.Run("invalid request is dropped", func(t *testing.T) {
		client := new(MockStreamClient)
		submitter := new(MockSubmitter)
		c := newTestConsumer(client, submitter)

		submitter.On("Submit", ctx, mock.Anything).Return(nil, jobs.ErrInvalidRequest)
		client.On("XAck", ctx, testStream, mock.Anything, []string{"3-0"}).Return(nil)

		c.handle(ctx, message("3-0", map[string]interface{}{
			"event_type": EventTypeCrawlRequested,
			"payload":    `{"url":"ftp://nope"}`,
		}))

		client.AssertExpectations(t)
	})

	t.Run("full queue leaves message pending", func(t *testing.T) {
		client := new(MockStreamClient)
		submitter := new(MockSubmitter)
		c := newTestConsumer(client, submitter)

		submitter.On("Submit", ctx, mock.Anything).Return(nil, queue.ErrQueueFull)

		c.handle(ctx, message("4-0", map[string]interface{}{
			"event_type": EventTypeCrawlRequested,
			"payload":    `{"url":"https://shop.example"}`,
		}))

		client.AssertNotCalled(t, "XAck", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestConsumer_Poll(t *testing.T) {
	ctx := context.Background()

	t.Run("timeout without messages", func(t *testing.T) {
		client := new(MockStreamClient)
		c := newTestConsumer(client, new(MockSubmitter))

		client.On("XReadGroup", ctx, mock.Anything).Return(nil, redis.Nil)
		assert.NoError(t, c.poll(ctx))
	})

	t.Run("reads from the configured stream", func(t *testing.T) {
		client := new(MockStreamClient)
		submitter := new(MockSubmitter)
		c := newTestConsumer(client, submitter)

		messages := []redis.XMessage{
			message("5-0", map[string]interface{}{"event_type": EventTypeCrawlRequested, "payload": `{"url":"https://a.example"}`}),
			message("6-0", map[string]interface{}{"event_type": EventTypeCrawlRequested, "payload": `{"url":"https://b.example"}`}),
		}
		client.On("XReadGroup", ctx, mock.MatchedBy(func(a *redis.XReadGroupArgs) bool {
			return a.Group == "listing-scraper-group" && a.Streams[0] == testStream && a.Streams[1] == ">"
		})).Return([]redis.XStream{{Stream: testStream, Messages: messages}}, nil)
		submitter.On("Submit", ctx, mock.Anything).Return(&jobs.Job{ID: "job"}, nil).Twice()
		client.On("XAck", ctx, testStream, mock.Anything, mock.Anything).Return(nil).Twice()

		require.NoError(t, c.poll(ctx))
		submitter.AssertExpectations(t)
		client.AssertExpectations(t)
	})
}

func readsFrom(id string) interface{} {
	return mock.MatchedBy(func(a *redis.XReadGroupArgs) bool {
		return len(a.Streams) == 2 && a.Streams[0] == testStream && a.Streams[1] == id
	})
}

func TestConsumer_PendingMessageIsRetried(t *testing.T) {
	ctx := context.Background()
	client := new(MockStreamClient)
	submitter := new(MockSubmitter)
	c := newTestConsumer(client, submitter)

	msg := message("7-0", map[string]interface{}{
		"event_type": EventTypeCrawlRequested,
		"payload":    `{"url":"https://shop.example"}`,
	})

	submitter.On("Submit", ctx, jobs.Request{URL: "https://shop.example"}).Return(nil, queue.ErrQueueFull).Once()
	submitter.On("Submit", ctx, jobs.Request{URL: "https://shop.example"}).Return(&jobs.Job{ID: "job-7"}, nil).Once()

	client.On("XReadGroup", ctx, readsFrom(">")).Return([]redis.XStream{{Stream: testStream, Messages: []redis.XMessage{msg}}}, nil).Once()
	client.On("XReadGroup", ctx, readsFrom("0")).Return([]redis.XStream{{Stream: testStream, Messages: []redis.XMessage{msg}}}, nil).Once()
	client.On("XReadGroup", ctx, readsFrom("7-0")).Return([]redis.XStream{{Stream: testStream}}, nil).Once()
	client.On("XAck", ctx, testStream, "listing-scraper-group", []string{"7-0"}).Return(nil).Once()

	require.NoError(t, c.poll(ctx))
	client.AssertNotCalled(t, "XAck", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	require.NoError(t, c.drainPending(ctx))

	submitter.AssertExpectations(t)
	client.AssertExpectations(t)
}

func TestConsumer_DrainPending(t *testing.T) {
	ctx := context.Background()

	t.Run("pending list is paged without blocking", func(t *testing.T) {
		client := new(MockStreamClient)
		c := newTestConsumer(client, new(MockSubmitter))

		client.On("XReadGroup", ctx, mock.MatchedBy(func(a *redis.XReadGroupArgs) bool {
			return a.Streams[1] == "0" && a.Block < 0 && a.Consumer == "consumer-1"
		})).Return([]redis.XStream{}, nil).Once()

		require.NoError(t, c.drainPending(ctx))
		client.AssertExpectations(t)
	})

	t.Run("read failure is returned", func(t *testing.T) {
		client := new(MockStreamClient)
		c := newTestConsumer(client, new(MockSubmitter))

		client.On("XReadGroup", ctx, readsFrom("0")).Return(nil, errors.New("connection reset"))

		err := c.drainPending(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read pending messages")
	})
}

func TestConsumer_Run(t *testing.T) {
	t.Run("group creation failure", func(t *testing.T) {
		client := new(MockStreamClient)
		c := newTestConsumer(client, new(MockSubmitter))

		client.On("XGroupCreateMkStream", mock.Anything, testStream, "listing-scraper-group", "0").
			Return(errors.New("NOAUTH Authentication required"))

		assert.Error(t, c.Run(context.Background()))
	})

	t.Run("existing group and cancellation", func(t *testing.T) {
		client := new(MockStreamClient)
		c := newTestConsumer(client, new(MockSubmitter))

		ctx, cancel := context.WithCancel(context.Background())
		client.On("XGroupCreateMkStream", mock.Anything, testStream, mock.Anything, "0").
			Return(errors.New("BUSYGROUP Consumer Group name already exists"))
		client.On("XReadGroup", mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { cancel() }).
			Return(nil, redis.Nil)

		assert.ErrorIs(t, c.Run(ctx), context.Canceled)
	})

	t.Run("pending list is drained once per interval", func(t *testing.T) {
		client := new(MockStreamClient)
		c := newTestConsumer(client, new(MockSubmitter))
		start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		c.now = func() time.Time { return start }

		ctx, cancel := context.WithCancel(context.Background())
		client.On("XGroupCreateMkStream", mock.Anything, testStream, mock.Anything, "0").Return(nil)
		client.On("XReadGroup", mock.Anything, readsFrom("0")).Return(nil, redis.Nil).Once()

		polls := 0
		client.On("XReadGroup", mock.Anything, readsFrom(">")).
			Run(func(mock.Arguments) {
				polls++
				if polls == 3 {
					cancel()
				}
			}).
			Return(nil, redis.Nil)

		assert.ErrorIs(t, c.Run(ctx), context.Canceled)
		assert.Equal(t, 3, polls)
		client.AssertNumberOfCalls(t, "XReadGroup", 4)
	})

	t.Run("read errors back off until cancelled", func(t *testing.T) {
		client := new(MockStreamClient)
		c := newTestConsumer(client, new(MockSubmitter))

		ctx, cancel := context.WithCancel(context.Background())
		c.sleep = func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		}
		client.On("XGroupCreateMkStream", mock.Anything, testStream, mock.Anything, "0").Return(nil)
		client.On("XReadGroup", mock.Anything, readsFrom("0")).Return(nil, redis.Nil)
		client.On("XReadGroup", mock.Anything, readsFrom(">")).Return(nil, errors.New("connection refused"))

		assert.ErrorIs(t, c.Run(ctx), context.Canceled)
	})
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	assert.ErrorIs(t, sleepContext(ctx, time.Minute), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)

	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
}
