package metrics

import (
	"context"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-order-settlement/internal/aws"
)

// Metric names published by the service.
const (
	MetricDeliveryElapsed  = "DeliveryElapsedMinutes"
	MetricWebhookUnmatched = "WebhookUnmatched"
	MetricOrdersPaid       = "OrdersPaid"
)

// Recorder receives operational measurements. Implementations must not
// fail the caller; errors are logged and dropped.
type Recorder interface {
	DeliveryElapsed(ctx context.Context, orderID string, minutes int)
	WebhookUnmatched(ctx context.Context, vendorOrderNumber string)
	OrdersPaid(ctx context.Context, count int)
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) DeliveryElapsed(context.Context, string, int) {}
func (Nop) WebhookUnmatched(context.Context, string)     {}
func (Nop) OrdersPaid(context.Context, int)              {}

// CloudWatch publishes measurements with PutMetricData.
type CloudWatch struct {
	client    aws.CloudWatchAPI
	namespace string
	log       logrus.FieldLogger
	nowFunc   func() time.Time
}

// NewCloudWatch returns a Recorder writing into namespace.
func NewCloudWatch(client aws.CloudWatchAPI, namespace string, log logrus.FieldLogger) *CloudWatch {
	return &CloudWatch{
		client:    client,
		namespace: namespace,
		log:       log,
		nowFunc:   time.Now,
	}
}

func (c *CloudWatch) DeliveryElapsed(ctx context.Context, orderID string, minutes int) {
	c.put(ctx, MetricDeliveryElapsed, float64(minutes), cwtypes.StandardUnitNone)
	c.log.WithFields(logrus.Fields{"order_id": orderID, "minutes": minutes}).Info("order delivered")
}

func (c *CloudWatch) WebhookUnmatched(ctx context.Context, vendorOrderNumber string) {
	c.put(ctx, MetricWebhookUnmatched, 1, cwtypes.StandardUnitCount)
}

func (c *CloudWatch) OrdersPaid(ctx context.Context, count int) {
	if count <= 0 {
		return
	}
	c.put(ctx, MetricOrdersPaid, float64(count), cwtypes.StandardUnitCount)
}

func (c *CloudWatch) put(ctx context.Context, name string, value float64, unit cwtypes.StandardUnit) {
	_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: sdkaws.String(c.namespace),
		MetricData: []cwtypes.MetricDatum{{
			MetricName: sdkaws.String(name),
			Value:      sdkaws.Float64(value),
			Unit:       unit,
			Timestamp:  sdkaws.Time(c.nowFunc()),
		}},
	})
	if err != nil {
		c.log.WithError(err).WithField("metric", name).Warn("put metric data failed")
	}
}
