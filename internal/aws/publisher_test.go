package aws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type sqsRecorder struct {
	sent []*sqs.SendMessageInput
	err  error
}

func (r *sqsRecorder) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.sent = append(r.sent, in)
	return &sqs.SendMessageOutput{}, nil
}

func (r *sqsRecorder) ReceiveMessage(context.Context, *sqs.ReceiveMessageInput, ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{}, nil
}

func (r *sqsRecorder) DeleteMessage(context.Context, *sqs.DeleteMessageInput, ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	return &sqs.DeleteMessageOutput{}, nil
}

type cwRecorder struct {
	inputs []*cloudwatch.PutMetricDataInput
}

func (r *cwRecorder) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	r.inputs = append(r.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestPublisherSend_ClampsDelayAndSetsAttributes(t *testing.T) {
	rec := &sqsRecorder{}
	p := NewPublisher(rec, "http://queue")

	if err := p.Send(context.Background(), map[string]string{"order_id": "o1"}, time.Hour, map[string]string{"order_id": "o1", "empty": ""}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(rec.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(rec.sent))
	}
	in := rec.sent[0]
	if in.DelaySeconds != int32(MaxMessageDelay/time.Second) {
		t.Fatalf("delay not clamped: %d", in.DelaySeconds)
	}
	if *in.MessageBody != `{"order_id":"o1"}` {
		t.Fatalf("unexpected body %s", *in.MessageBody)
	}
	if _, ok := in.MessageAttributes["empty"]; ok {
		t.Fatalf("empty attributes must be dropped")
	}
	if got := *in.MessageAttributes["order_id"].StringValue; got != "o1" {
		t.Fatalf("order_id attribute = %q", got)
	}
}

func TestPublisherSend_WrapsClientError(t *testing.T) {
	p := NewPublisher(&sqsRecorder{err: errors.New("boom")}, "http://queue")
	err := p.Send(context.Background(), "x", 0, nil)
	if err == nil || err.Error() != "send message: boom" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestAlerterRaise_MetricAndQueue(t *testing.T) {
	cw := &cwRecorder{}
	q := &sqsRecorder{}
	a := NewAlerter(cw, NewPublisher(q, "http://alerts"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	err := a.Raise(context.Background(), Alert{Kind: "StockShortfall", OrderID: "o1", ProductIDs: []string{"p1"}})
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	if len(cw.inputs) != 1 || *cw.inputs[0].MetricData[0].MetricName != "StockShortfall" {
		t.Fatalf("expected one StockShortfall metric, got %+v", cw.inputs)
	}
	if len(q.sent) != 1 {
		t.Fatalf("expected alert message, got %d", len(q.sent))
	}
	var got Alert
	if err := json.Unmarshal([]byte(*q.sent[0].MessageBody), &got); err != nil {
		t.Fatalf("decode alert: %v", err)
	}
	if got.OrderID != "o1" || !got.RaisedAt.Equal(now) {
		t.Fatalf("unexpected alert %+v", got)
	}
}

func TestAlerterRaise_NoQueueURLSkipsQueue(t *testing.T) {
	q := &sqsRecorder{}
	a := NewAlerter(nil, NewPublisher(q, ""), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := a.Raise(context.Background(), Alert{Kind: "StockShortfall", OrderID: "o1"}); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if len(q.sent) != 0 {
		t.Fatalf("no queue URL must not publish")
	}
}
