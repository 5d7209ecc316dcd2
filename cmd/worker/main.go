package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/except-pass/telltale/internal/db"
	"github.com/except-pass/telltale/internal/queue"
	"github.com/except-pass/telltale/internal/storage"
	"github.com/except-pass/telltale/internal/util"
	"github.com/except-pass/telltale/pkg/logger"
	"github.com/except-pass/telltale/pkg/logger/console"

	amqp "github.com/rabbitmq/amqp091-go"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
		JSON:  util.GetEnv("LOG_FORMAT") == "json",
	})
	logger.Init(consoleLogger)

	backend, err := db.Open(ctx)
	if err != nil {
		logger.Fatal("Failed to open graph store", "err", err)
	}
	defer backend.Close()
	if !backend.Persistent() {
		logger.Warn("Worker is using an in-memory store; runs queued by the server will not be found")
	}

	// Init rabbitmq
	conn, err := queue.Init(ctx)
	if err != nil {
		logger.Fatal("Failed to connect to queue", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	processor := &queue.Processor{
		Store:       backend.Store,
		Locker:      backend.Locker,
		Events:      ch,
		Parallelism: util.GetEnvInt("TRUTH_TABLE_PARALLEL", 0),
		MaxCases:    util.GetEnvInt("TRUTH_TABLE_MAX_CASES", 100000),
		Lease:       queue.DefaultLease,
	}

	client, err := storage.NewS3Client(ctx)
	if err != nil {
		logger.Fatal("Failed to create S3 client", "err", err)
	}
	if client != nil {
		processor.Reports = storage.NewReportStore(client, util.GetEnv("AWS_BUCKET"))
	}

	// A single consumer channel with prefetch=1 delivers one message at a
	// time across all queues.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	err = consumerCh.Qos(1, 0, true)
	if err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	type queuedMessage struct {
		msg       amqp.Delivery
		queueName string
	}

	messageChan := make(chan queuedMessage)

	for _, queueName := range queue.Queues {
		go func(qName string) {
			consumerTag := fmt.Sprintf("%s_consumer", qName)
			msgs, err := consumerCh.Consume(
				qName,
				consumerTag,
				false, // autoAck
				false, // exclusive
				false, // noLocal
				false, // noWait
				nil,   // args
			)
			if err != nil {
				logger.Fatal("Failed to start consuming", "queue", qName, "err", err)
			}

			for {
				select {
				case <-ctx.Done():
					logger.Info("Stopping consumer", "queue", qName)
					return
				case msg, ok := <-msgs:
					if !ok {
						logger.Info("Message channel closed", "queue", qName)
						stop()
						return
					}
					messageChan <- queuedMessage{msg: msg, queueName: qName}
				}
			}
		}(queueName)
	}

	logger.Info("Listening for messages", "queues", queue.Queues)

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case qm := <-messageChan:
				startTime := time.Now()
				logger.Info("Received message", "queue", qm.queueName)

				var processingErr error
				switch qm.queueName {
				case queue.TruthTableQueue:
					processingErr = processor.ProcessTruthTableMessage(ctx, qm.msg.Body)
				default:
					processingErr = errors.New("no handler for queue " + qm.queueName)
				}

				// On error send to retry or dead-letter, otherwise ack the message
				if processingErr != nil {
					logger.Error("Error processing message", "queue", qm.queueName, "err", processingErr)
					dead, err := queue.HandleFailure(ctx, consumerCh, qm.msg, qm.queueName)
					if err != nil {
						logger.Error("Failed to reschedule message", "queue", qm.queueName, "err", err)
					}
					if dead {
						if err := processor.Fail(ctx, qm.msg.Body, processingErr); err != nil {
							logger.Error("Failed to mark run failed", "err", err)
						}
					}
				} else {
					if err := qm.msg.Ack(false); err != nil {
						logger.Error("Failed to ack message", "err", err)
					}
					logger.Info("Message processed successfully", "queue", qm.queueName)
				}

				logger.Info(
					"Processing time",
					"duration", time.Since(startTime).Round(time.Millisecond).String(),
				)
				logger.Info("Waiting for next message")
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}
