package checkout

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/textile-storefront/internal/aws"
)

// QueueScheduler schedules reservation expiry checks as delayed SQS messages.
// Reservations longer than the queue's maximum delay are re-enqueued by the
// worker until they lapse.
type QueueScheduler struct {
	pub     *aws.Publisher
	nowFunc func() time.Time
}

func NewQueueScheduler(pub *aws.Publisher) *QueueScheduler {
	return &QueueScheduler{pub: pub, nowFunc: time.Now}
}

// ScheduleExpiry enqueues an ExpiryMessage due at expiresAt, or as close to
// it as the queue allows.
func (q *QueueScheduler) ScheduleExpiry(ctx context.Context, orderID string, expiresAt time.Time) error {
	return q.ScheduleIn(ctx, orderID, expiresAt, expiresAt.Sub(q.nowFunc()))
}

// ScheduleIn enqueues an ExpiryMessage after delay.
func (q *QueueScheduler) ScheduleIn(ctx context.Context, orderID string, expiresAt time.Time, delay time.Duration) error {
	if delay > aws.MaxMessageDelay {
		delay = aws.MaxMessageDelay
	}
	msg := ExpiryMessage{
		OrderID:       orderID,
		ExpiresAt:     expiresAt.UTC(),
		CorrelationID: uuid.NewString(),
	}
	return q.pub.Send(ctx, msg, delay, map[string]string{"order_id": orderID})
}
