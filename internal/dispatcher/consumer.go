package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/lammesen/netops-be/internal/job"
	"github.com/lammesen/netops-be/shared/rabbitmq"
)

// Consumer drains the dispatch queue and hands due jobs to the dispatcher.
// Acknowledgement is manual: a dispatch that failed on a transient error is
// requeued, a poison message (bad JSON, unknown job) is dropped.
type Consumer struct {
	logger     *slog.Logger
	rabbit     *rabbitmq.Client
	dispatcher *Dispatcher
	prefetch   int
	tag        string
}

// NewConsumer creates a consumer with the given tag and prefetch window.
func NewConsumer(logger *slog.Logger, rabbit *rabbitmq.Client, d *Dispatcher, tag string, prefetch int) *Consumer {
	return &Consumer{
		logger:     logger,
		rabbit:     rabbit,
		dispatcher: d,
		prefetch:   prefetch,
		tag:        tag,
	}
}

// Run consumes dispatch messages until ctx is done. The ctx it passes down
// is the process lifetime: in-flight host executors keep running through a
// queue disconnect.
func (c *Consumer) Run(ctx context.Context) error {
	ch := c.rabbit.GetChannel()
	if ch == nil {
		return fmt.Errorf("rabbitmq channel is nil")
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := c.rabbit.Consume(c.tag)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("Dispatch consumer started",
		slog.String("consumer_tag", c.tag),
		slog.Int("prefetch", c.prefetch),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Dispatch consumer stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("RabbitMQ delivery channel closed")
				return nil
			}
			c.handle(ctx, delivery)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, delivery amqp.Delivery) {
	var msg message
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		c.logger.Error("Failed to parse dispatch message",
			slog.String("error", err.Error()),
			slog.String("body", string(delivery.Body)),
		)
		c.nack(delivery, false)
		return
	}

	if _, err := uuid.Parse(msg.JobID); err != nil {
		c.logger.Error("Dispatch message carries invalid job id",
			slog.String("job_id", msg.JobID),
		)
		c.nack(delivery, false)
		return
	}

	if err := c.dispatcher.Dispatch(ctx, msg.JobID); err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			c.logger.Warn("Dispatch message for unknown job dropped",
				slog.String("job_id", msg.JobID),
			)
			c.nack(delivery, false)
			return
		}

		// Transient failure (store unavailable, resolver outage at the
		// claim step): requeue for another attempt.
		c.logger.Error("Dispatch failed, requeueing",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
		c.nack(delivery, true)
		return
	}

	if err := delivery.Ack(false); err != nil {
		c.logger.Error("Failed to ACK dispatch message",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Consumer) nack(delivery amqp.Delivery, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		c.logger.Error("Failed to NACK dispatch message",
			slog.String("error", err.Error()),
		)
	}
}
