package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultAMQPQueue = "runlab.jobs"

// jobMessage is the whole handoff: the worker side re-reads the run's
// reproducibility payload from storage, so the broker stays stateless and
// messages are replay-safe.
type jobMessage struct {
	RunID int64 `json:"run_id"`
}

// AMQPBackend publishes admitted jobs to a durable broker queue for
// horizontally scaled workers.
type AMQPBackend struct {
	conn      *amqp.Connection
	ch        *amqp.Channel
	queueName string
	logger    *slog.Logger
}

func NewAMQPBackend(url, queueName string, logger *slog.Logger) (*AMQPBackend, error) {
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
	return &AMQPBackend{conn: conn, ch: ch, queueName: queueName, logger: logger}, nil
}

func (b *AMQPBackend) Submit(ctx context.Context, job *Job) error {
	body, err := json.Marshal(jobMessage{RunID: job.RunID})
	if err != nil {
		return err
	}
	err = b.ch.PublishWithContext(ctx, "", b.queueName, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	b.logger.Info("Published job to broker", "run_id", job.RunID, "queue", b.queueName)
	return nil
}

// Position is unavailable through the publish channel; clients get no
// queue position in distributed mode.
func (b *AMQPBackend) Position() int {
	return -1
}

func (b *AMQPBackend) Start(ctx context.Context) error {
	return nil
}

func (b *AMQPBackend) Shutdown(ctx context.Context) error {
	if err := b.ch.Close(); err != nil {
		b.conn.Close()
		return err
	}
	return b.conn.Close()
}
