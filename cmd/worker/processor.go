package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/textile-storefront/internal/checkout"
)

// Releaser returns an expired reservation to stock. A positive duration
// means the reservation has not lapsed yet.
type Releaser interface {
	ReleaseExpired(ctx context.Context, orderID string) (time.Duration, error)
}

// Requeuer schedules another expiry check.
type Requeuer interface {
	ScheduleIn(ctx context.Context, orderID string, expiresAt time.Time, delay time.Duration) error
}

// Processor handles reservation expiry messages.
type Processor struct {
	releaser Releaser
	requeuer Requeuer
	log      *slog.Logger
}

// NewProcessor creates a worker processor.
func NewProcessor(r Releaser, q Requeuer, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{releaser: r, requeuer: q, log: logger.With("component", "worker")}
}

// Handle receives an SQS batch event and processes each message. The first
// failure is returned so the batch is redelivered and eventually dead-lettered.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec.Body); err != nil {
			p.log.ErrorContext(ctx, "[worker] message failed", "message_id", rec.MessageId, "error", err)
			return err
		}
	}
	return nil
}

func (p *Processor) processMessage(ctx context.Context, body string) error {
	var msg checkout.ExpiryMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	if msg.OrderID == "" {
		return fmt.Errorf("invalid message body: missing order_id")
	}

	p.log.InfoContext(ctx, "[worker] received", "order_id", msg.OrderID, "correlation_id", msg.CorrelationID)

	remaining, err := p.releaser.ReleaseExpired(ctx, msg.OrderID)
	if err != nil {
		return fmt.Errorf("release order %s: %w", msg.OrderID, err)
	}
	if remaining > 0 {
		if err := p.requeuer.ScheduleIn(ctx, msg.OrderID, msg.ExpiresAt, remaining); err != nil {
			return fmt.Errorf("requeue order %s: %w", msg.OrderID, err)
		}
		p.log.InfoContext(ctx, "[worker] not expired yet, requeued", "order_id", msg.OrderID, "remaining", remaining)
		return nil
	}

	p.log.InfoContext(ctx, "[worker] done", "order_id", msg.OrderID)
	return nil
}
