package processing

import (
	"context"
	"encoding/json"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/censys/radio-survey/internal/logging"
	"github.com/censys/radio-survey/pkg/upload"
)

const publishTimeout = 5 * time.Second

// DeadLetterPublisher receives records whose upload failed.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, channel string, rec upload.Record, reason string) error
}

// ReportPublisher receives a summary of every finished cycle.
type ReportPublisher interface {
	PublishReport(ctx context.Context, report CycleReport) error
}

// PubSubDeadLetterPublisher implements DeadLetterPublisher using a Pub/Sub
// topic.
type PubSubDeadLetterPublisher struct {
	topic *pubsub.Topic
}

// NewPubSubDeadLetterPublisher constructs a publisher for topic. If the topic
// is nil, publishes are no-ops.
func NewPubSubDeadLetterPublisher(topic *pubsub.Topic) *PubSubDeadLetterPublisher {
	return &PubSubDeadLetterPublisher{topic: topic}
}

func (p *PubSubDeadLetterPublisher) Publish(ctx context.Context, channel string, rec upload.Record, reason string) error {
	if p.topic == nil {
		return nil
	}
	data, err := json.Marshal(DeadLetter{Channel: channel, Reason: reason, Record: rec})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	_, err = p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"reason":    reason,
			"channel":   channel,
			"cycle_id":  logging.CycleIDFromContext(ctx),
			"device_id": rec.DeviceID,
		},
	}).Get(ctx)
	return err
}

// NoopDeadLetterPublisher is used when no dead-letter topic is configured.
type NoopDeadLetterPublisher struct{}

func (n *NoopDeadLetterPublisher) Publish(context.Context, string, upload.Record, string) error {
	return nil
}

// PubSubReportPublisher implements ReportPublisher using a Pub/Sub topic.
type PubSubReportPublisher struct {
	topic *pubsub.Topic
}

// NewPubSubReportPublisher constructs a report publisher. A nil topic is a
// no-op.
func NewPubSubReportPublisher(topic *pubsub.Topic) *PubSubReportPublisher {
	return &PubSubReportPublisher{topic: topic}
}

func (p *PubSubReportPublisher) PublishReport(ctx context.Context, report CycleReport) error {
	if p.topic == nil {
		return nil
	}
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	_, err = p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"cycle_id":  report.CycleID,
			"device_id": report.DeviceID,
		},
	}).Get(ctx)
	return err
}

// NoopReportPublisher drops reports.
type NoopReportPublisher struct{}

func (n *NoopReportPublisher) PublishReport(context.Context, CycleReport) error { return nil }
