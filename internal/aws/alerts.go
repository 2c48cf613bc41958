package aws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// MetricsNamespace is the CloudWatch namespace all storefront metrics are written to.
const MetricsNamespace = "TextileStorefront"

// Alert is an operator-facing event. It is counted in CloudWatch and, when an
// alert queue is configured, forwarded as a message for manual follow-up.
type Alert struct {
	Kind       string            `json:"kind"`
	OrderID    string            `json:"order_id"`
	ProductIDs []string          `json:"product_ids,omitempty"`
	Detail     string            `json:"detail,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
	RaisedAt   time.Time         `json:"raised_at"`
}

// Alerter raises operator alerts.
type Alerter struct {
	cw    CloudWatchAPI
	queue *Publisher
	log   *slog.Logger
	now   func() time.Time
}

// NewAlerter builds an Alerter. queue may be nil when no alert queue is configured.
func NewAlerter(cw CloudWatchAPI, queue *Publisher, logger *slog.Logger) *Alerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Alerter{cw: cw, queue: queue, log: logger.With("component", "alerts"), now: time.Now}
}

// Raise logs the alert at error level, emits a count metric named after the
// alert kind and publishes it to the alert queue. Both sinks are attempted even
// if one fails; the joined error is returned.
func (a *Alerter) Raise(ctx context.Context, alert Alert) error {
	if alert.RaisedAt.IsZero() {
		alert.RaisedAt = a.now().UTC()
	}
	a.log.ErrorContext(ctx, "operator alert",
		"kind", alert.Kind,
		"order_id", alert.OrderID,
		"product_ids", alert.ProductIDs,
		"detail", alert.Detail,
	)

	var errs []error
	if a.cw != nil {
		_, err := a.cw.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace: awsString(MetricsNamespace),
			MetricData: []cwtypes.MetricDatum{{
				MetricName: awsString(alert.Kind),
				Unit:       cwtypes.StandardUnitCount,
				Value:      float64Ptr(1),
				Timestamp:  &alert.RaisedAt,
			}},
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("put metric: %w", err))
		}
	}
	if a.queue != nil && a.queue.QueueURL != "" {
		if err := a.queue.Send(ctx, alert, 0, map[string]string{"kind": alert.Kind, "order_id": alert.OrderID}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func float64Ptr(v float64) *float64 { return &v }
