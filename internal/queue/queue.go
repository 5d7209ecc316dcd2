package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/except-pass/telltale/internal/util"
	"github.com/except-pass/telltale/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const (
	TruthTableQueue = "truth_table_queue"
	Exchange        = "pubsub_exchange"
	CompletedTopic  = "truth_table.completed"

	// MaxRetries is how often a message goes through the retry queue
	// before it is dead-lettered.
	MaxRetries = 10

	retryTTL = int32(10000)
)

// Queues lists the work queues the worker consumes.
var Queues = []string{TruthTableQueue}

// Channel is the subset of *amqp091.Channel used for declaring and
// publishing.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// Init dials RabbitMQ from the RABBITMQ_* environment, retrying while the
// broker comes up.
func Init(ctx context.Context) (*amqp091.Connection, error) {
	user := util.GetEnvString("RABBITMQ_USER", "guest")
	pass := util.GetEnvString("RABBITMQ_PASSWORD", "guest")
	host := util.GetEnvString("RABBITMQ_HOST", "localhost")
	port := util.GetEnvString("RABBITMQ_PORT", "5672")

	connURL := fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		user,
		pass,
		host,
		port,
	)

	conn, err := util.RetryWithContext(ctx, 5, util.DefaultBackoff, func(ctx context.Context) (*amqp091.Connection, error) {
		conn, err := amqp091.Dial(connURL)
		if err != nil {
			logger.Warn("[Queue] Failed to connect to RabbitMQ", "host", host, "err", err)
		}
		return conn, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

func declareExchange(ch Channel) error {
	return ch.ExchangeDeclare(
		Exchange, // name
		"topic",  // type
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,
	)
}

// SetupQueues declares the topic exchange and, for every queue, its
// _retry and _dlq companions. Messages in <queue>_retry return to the
// queue after ten seconds.
func SetupQueues(ch Channel, queueNames []string) error {
	if err := declareExchange(ch); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	for _, name := range queueNames {
		_, err := ch.QueueDeclare(
			name,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			nil,   // args
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", name, err)
		}

		dlqName := name + "_dlq"
		_, err = ch.QueueDeclare(
			dlqName,
			true,
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", dlqName, err)
		}

		retryName := name + "_retry"
		_, err = ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             retryTTL,
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", retryName, err)
		}
	}

	return nil
}

// PublishFIFO sends a persistent message straight to a durable queue.
func PublishFIFO(ctx context.Context, ch Channel, queueName string, data []byte) error {
	q, err := ch.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}

	return ch.PublishWithContext(
		ctx,
		"",
		q.Name,
		false,
		false,
		publishing,
	)
}

// PublishTopic broadcasts an event on the topic exchange.
func PublishTopic(ctx context.Context, ch Channel, topic string, data []byte) error {
	if err := declareExchange(ch); err != nil {
		return err
	}

	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}

	return ch.PublishWithContext(
		ctx,
		Exchange,
		topic,
		false,
		false,
		publishing,
	)
}
