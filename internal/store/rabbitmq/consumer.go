package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const retryCountHeader = "x-retry-count"

// Handler processes one job. A returned error sends the job to the retry
// queue until MaxRetries is reached, then to the DLQ.
type Handler func(ctx context.Context, jobID string) error

type ConsumerOptions struct {
	Concurrency int
	MaxRetries  int
	RetryDelay  time.Duration
}

type Consumer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	opts  ConsumerOptions
}

// delivery is the part of amqp.Delivery a worker touches.
type delivery interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func NewConsumer(url, queue string, opts ConsumerOptions) (*Consumer, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 10 * time.Second
	}
	conn, ch, err := dial(url, queue)
	if err != nil {
		return nil, err
	}
	// strict concurrency control
	if err := ch.Qos(opts.Concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Consumer{conn: conn, ch: ch, queue: queue, opts: opts}, nil
}

func (c *Consumer) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}

// Run dispatches deliveries to a bounded worker pool until ctx is done or the
// broker closes the channel.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	log.WithField("queue", c.queue).WithField("concurrency", c.opts.Concurrency).Info("worker started")

	jobs := make(chan amqp.Delivery, c.opts.Concurrency*2)

	var wg sync.WaitGroup
	wg.Add(c.opts.Concurrency)
	for i := 0; i < c.opts.Concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				c.process(ctx, workerID, d, handle)
			}
		}(i)
	}

	defer func() {
		close(jobs)
		wg.Wait()
	}()

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("rabbitmq: delivery channel closed")
			}
			jobs <- d
		}
	}
}

func (c *Consumer) process(ctx context.Context, workerID int, d amqp.Delivery, handle Handler) {
	entry := log.WithField("worker", workerID)

	var m JobMessage
	if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
		entry.WithError(err).Warn("bad message")
		_ = d.Nack(false, false)
		return
	}
	entry = entry.WithField("job_id", m.JobID)

	start := time.Now()
	err := handle(ctx, m.JobID)
	if err == nil {
		if err := d.Ack(false); err != nil {
			entry.WithError(err).Error("ack failed")
		}
		return
	}
	entry.WithError(err).WithField("cost", time.Since(start).String()).Warn("job failed")
	c.settleFailure(ctx, d, retryCount(d.Headers), d.Body)
}

func (c *Consumer) settleFailure(ctx context.Context, d delivery, attempts int, body []byte) {
	if attempts >= c.opts.MaxRetries {
		_ = d.Nack(false, false) // dead-letters to the DLQ
		return
	}
	err := c.ch.PublishWithContext(ctx, "", c.queue+".retry", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Expiration:   strconv.FormatInt(c.opts.RetryDelay.Milliseconds(), 10),
		Headers:      amqp.Table{retryCountHeader: int32(attempts + 1)},
		Timestamp:    time.Now(),
	})
	if err != nil {
		log.WithError(err).Error("retry publish failed")
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

func retryCount(h amqp.Table) int {
	switch v := h[retryCountHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
