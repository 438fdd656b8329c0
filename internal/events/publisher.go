package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/cictpeerlearninghub/booking-gateway/internal/booking"
	"github.com/cictpeerlearninghub/booking-gateway/libs/kafkax"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	TopicSlotsSubmitted   = "booking.slots.submitted.v1"
	TopicSubmissionFailed = "booking.submission.failed.v1"
)

// Publisher emits booking submission events to Kafka. A fully failed
// fan-out goes to the failure topic, anything with at least one booked
// slot to the submitted topic.
type Publisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewPublisher returns nil when no brokers are configured; callers treat a
// nil publisher as disabled.
func NewPublisher(brokerList string, logger *slog.Logger) *Publisher {
	brokers := kafkax.SplitBrokers(brokerList)
	if len(brokers) == 0 {
		logger.Warn("event publisher disabled (no kafka brokers configured)")
		return nil
	}
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Balancer: &kafka.Hash{},
	})
	return &Publisher{writer: writer, logger: logger}
}

func (p *Publisher) PublishSubmission(ctx context.Context, evt booking.SubmissionEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	topic := TopicSlotsSubmitted
	if len(evt.Successful) == 0 {
		topic = TopicSubmissionFailed
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(evt.SessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(uuid.New().String())},
			{Key: "event_type", Value: []byte(topic)},
		},
	}
	msg.Headers = kafkax.InjectTraceHeaders(ctx, msg.Headers)
	return p.writer.WriteMessages(ctx, msg)
}

func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
