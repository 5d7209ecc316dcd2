package queue

import (
	"context"
	"fmt"

	"github.com/except-pass/telltale/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const retriesHeader = "x-retries"

// Retries reads how often a delivery has been retried.
func Retries(headers amqp091.Table) int {
	switch v := headers[retriesHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// HandleFailure moves a failed delivery to <queue>_retry, or to
// <queue>_dlq once it has been retried MaxRetries times, and acks the
// original. If republishing fails the delivery is requeued instead.
// deadLettered reports whether the message reached the DLQ.
func HandleFailure(ctx context.Context, ch Channel, msg amqp091.Delivery, queueName string) (deadLettered bool, err error) {
	retries := Retries(msg.Headers)

	if retries >= MaxRetries {
		dlqName := queueName + "_dlq"
		logger.Warn("[Queue] Sending message to DLQ", "dlq", dlqName, "retries", retries)
		pubErr := ch.PublishWithContext(
			ctx,
			"",
			dlqName,
			false,
			false,
			amqp091.Publishing{
				ContentType:  msg.ContentType,
				Body:         msg.Body,
				Headers:      msg.Headers,
				DeliveryMode: amqp091.Persistent,
			},
		)
		if pubErr != nil {
			logger.Error("[Queue] Failed to publish to DLQ", "dlq", dlqName, "err", pubErr)
			return false, requeue(msg, pubErr)
		}
		return true, msg.Ack(false)
	}

	retryName := queueName + "_retry"
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[retriesHeader] = int32(retries + 1)

	pubErr := ch.PublishWithContext(
		ctx,
		"",
		retryName,
		false,
		false,
		amqp091.Publishing{
			ContentType:  msg.ContentType,
			Body:         msg.Body,
			Headers:      headers,
			DeliveryMode: amqp091.Persistent,
		},
	)
	if pubErr != nil {
		logger.Error("[Queue] Failed to publish to retry queue", "retry_queue", retryName, "err", pubErr)
		return false, requeue(msg, pubErr)
	}
	logger.Info("[Queue] Message scheduled for retry", "retry_queue", retryName, "attempt", retries+1)
	return false, msg.Ack(false)
}

func requeue(msg amqp091.Delivery, cause error) error {
	if err := msg.Nack(false, true); err != nil {
		return fmt.Errorf("failed to requeue message after %v: %w", cause, err)
	}
	return cause
}
