package core

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"habitly/internal/queue"
	"habitly/internal/types"
)

// MetricResult is the outcome dimension of a delivery metric.
type MetricResult string

const (
	MetricSuccess MetricResult = "success"
	MetricFailed  MetricResult = "failed"
)

// Metric names and dimensions.
const (
	MetricDeliveryAttempt = "DeliveryAttempt"
	MetricDeliveryLatency = "DeliveryLatency"
	MetricQueueLag        = "QueueLag"
	MetricQueueEvent      = "QueueEvent"
	DimChannel            = "Channel"
	DimResult             = "Result"
	DimEvent              = "Event"
	DimQueue              = "Queue"
)

// Metrics records delivery outcomes. It also observes queue lifecycle events.
type Metrics interface {
	queue.EventListener
	RecordDelivery(ctx context.Context, channel types.Channel, result MetricResult)
	RecordLatency(ctx context.Context, channel types.Channel, d time.Duration)
	RecordQueueLag(ctx context.Context, lag time.Duration)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordDelivery(context.Context, types.Channel, MetricResult) {}
func (NoopMetrics) RecordLatency(context.Context, types.Channel, time.Duration) {}
func (NoopMetrics) RecordQueueLag(context.Context, time.Duration)               {}
func (NoopMetrics) OnEvent(context.Context, queue.Event)                        {}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ Metrics = (*CloudWatchMetrics)(nil)

// DefaultPutTimeout bounds a single PutMetricData call.
const DefaultPutTimeout = 500 * time.Millisecond

// CloudWatchMetrics publishes delivery and queue metrics to CloudWatch.
// Publication failures are logged and never affect delivery. Each call is
// bounded by DefaultPutTimeout and ignores the caller's cancellation, so a
// slow endpoint delays the enqueue and worker paths by at most that long.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	timeout   time.Duration
	logger    types.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics for the namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchMetrics {
	return &CloudWatchMetrics{client: client, namespace: namespace, timeout: DefaultPutTimeout, logger: logger}
}

// RecordDelivery emits DeliveryAttempt with Channel and Result dimensions.
func (m *CloudWatchMetrics) RecordDelivery(ctx context.Context, channel types.Channel, result MetricResult) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(MetricDeliveryAttempt),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			dim(DimChannel, string(channel)),
			dim(DimResult, string(result)),
		},
	})
}

// RecordLatency emits DeliveryLatency in milliseconds.
func (m *CloudWatchMetrics) RecordLatency(ctx context.Context, channel types.Channel, d time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(MetricDeliveryLatency),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{dim(DimChannel, string(channel))},
	})
}

// RecordQueueLag emits the time between enqueue and first processing.
func (m *CloudWatchMetrics) RecordQueueLag(ctx context.Context, lag time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(MetricQueueLag),
		Value:      aws.Float64(float64(lag.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
	})
}

// OnEvent counts queue lifecycle events per type.
func (m *CloudWatchMetrics) OnEvent(ctx context.Context, ev queue.Event) {
	value := 1.0
	if ev.Type == queue.EventCleaned {
		value = float64(ev.Count)
	}
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(MetricQueueEvent),
		Value:      aws.Float64(value),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			dim(DimQueue, ev.Queue),
			dim(DimEvent, string(ev.Type)),
		},
	})
}

func (m *CloudWatchMetrics) put(ctx context.Context, datum cwtypes.MetricDatum) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()

	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	})
	if err != nil {
		m.logger.Error("failed to publish metric", "metric", aws.ToString(datum.MetricName), "error", err)
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}
