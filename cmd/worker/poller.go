package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/imrishuroy/textile-storefront/internal/aws"
)

const (
	pollWait    = 20
	pollBatch   = 10
	pollBackoff = 5 * time.Second
)

// Poller long-polls a queue and feeds messages to a Processor one at a time.
// It is the local stand-in for the Lambda SQS trigger.
type Poller struct {
	sqs      aws.SQSAPI
	queueURL string
	proc     *Processor
	log      *slog.Logger
	backoff  time.Duration
}

func NewPoller(client aws.SQSAPI, queueURL string, proc *Processor, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{sqs: client, queueURL: queueURL, proc: proc, log: logger.With("component", "poller"), backoff: pollBackoff}
}

// Run polls until ctx is cancelled. Messages that fail processing are left on
// the queue for redelivery.
func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		out, err := p.sqs.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            &p.queueURL,
			MaxNumberOfMessages: pollBatch,
			WaitTimeSeconds:     pollWait,
		})
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			p.log.WarnContext(ctx, "[worker] receive failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.backoff):
			}
			continue
		}
		for _, m := range out.Messages {
			rec := events.SQSMessage{Body: deref(m.Body)}
			if m.MessageId != nil {
				rec.MessageId = *m.MessageId
			}
			if err := p.proc.Handle(ctx, events.SQSEvent{Records: []events.SQSMessage{rec}}); err != nil {
				continue
			}
			if _, err := p.sqs.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      &p.queueURL,
				ReceiptHandle: m.ReceiptHandle,
			}); err != nil {
				p.log.WarnContext(ctx, "[worker] delete failed", "message_id", rec.MessageId, "error", err)
			}
		}
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
