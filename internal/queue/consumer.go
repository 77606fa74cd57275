package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kkraso01/cognicodeide/internal/executor"
	"github.com/kkraso01/cognicodeide/internal/store"
)

// Consumer is the worker side of the distributed backend. Each delivery
// carries only a run id; the payload comes from the persisted run so a
// redelivered message executes the exact same request.
type Consumer struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	queueName  string
	store      store.Store
	dispatcher *Dispatcher
	logger     *slog.Logger
	wg         sync.WaitGroup
}

func NewConsumer(url, queueName string, st store.Store, d *Dispatcher, prefetch int, logger *slog.Logger) (*Consumer, error) {
	if queueName == "" {
		queueName = DefaultAMQPQueue
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("set prefetch: %w", err)
	}
	return &Consumer{
		conn:       conn,
		ch:         ch,
		queueName:  queueName,
		store:      st,
		dispatcher: d,
		logger:     logger,
	}, nil
}

// Run consumes deliveries until the context is cancelled, then waits for
// in-flight executions to finish.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.ch.Consume(c.queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}
	c.logger.Info("Consuming execution jobs", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Worker received shutdown signal, waiting for jobs to finish...")
			c.wg.Wait()
			c.logger.Info("All jobs finished")
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				c.wg.Wait()
				return errors.New("broker channel closed")
			}
			c.wg.Add(1)
			go func(d amqp.Delivery) {
				defer c.wg.Done()
				c.handle(ctx, d)
			}(delivery)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, delivery amqp.Delivery) {
	// A claimed delivery is resolved even while shutdown is in progress;
	// a running job is bounded by the executor's timeouts, never by the
	// consumer's context.
	ctx = context.WithoutCancel(ctx)

	var msg jobMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		c.logger.Error("Discarding malformed job message", "error", err)
		_ = delivery.Nack(false, false)
		return
	}

	logger := c.logger.With("run_id", msg.RunID)

	run, err := c.store.GetRun(ctx, msg.RunID)
	if err != nil {
		if errors.Is(err, store.ErrNoRun) {
			logger.Error("Run referenced by job message does not exist")
			_ = delivery.Nack(false, false)
			return
		}
		// Storage hiccup: requeue so another worker can retry the read.
		logger.Error("Failed to load run", "error", err)
		_ = delivery.Nack(false, true)
		return
	}
	if run.Status.Terminal() {
		// Redelivery of an already-resolved run; results are never redone.
		logger.Info("Skipping redelivered terminal run", "status", run.Status)
		_ = delivery.Ack(false)
		return
	}

	var req executor.Request
	if err := json.Unmarshal(run.RequestJSON, &req); err != nil {
		logger.Error("Stored request payload is unreadable", "error", err)
		diagnostic := fmt.Sprintf("Invalid request JSON: %v", err)
		if failErr := c.store.FailRun(ctx, msg.RunID, diagnostic, time.Now()); failErr != nil {
			logger.Error("Failed to mark run error", "error", failErr)
		}
		_ = delivery.Ack(false)
		return
	}

	job := &Job{RunID: run.ID, Payload: &req, EnqueuedAt: run.CreatedAt}
	if err := c.dispatcher.Process(ctx, job); err != nil {
		logger.Error("Error processing job", "error", err)
		_ = delivery.Nack(false, true)
		return
	}
	_ = delivery.Ack(false)
}

func (c *Consumer) Close() error {
	if err := c.ch.Close(); err != nil {
		c.conn.Close()
		return err
	}
	return c.conn.Close()
}
