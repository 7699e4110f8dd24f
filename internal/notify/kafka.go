package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/shopspring/decimal"

	"fraud-detection-pipeline/internal/appcontext"
)

const flushTimeoutMs = 5000

// AlertTransaction is one flagged transaction in an alert.
type AlertTransaction struct {
	TransNum    string          `json:"trans_num"`
	Amount      decimal.Decimal `json:"amt"`
	Category    string          `json:"category"`
	Merchant    string          `json:"merchant"`
	Probability float64         `json:"probability"`
}

// Alert summarises the frauds found in one scoring pass.
type Alert struct {
	DetectedAt   time.Time          `json:"detected_at"`
	ModelVersion string             `json:"model_version"`
	Count        int                `json:"count"`
	Transactions []AlertTransaction `json:"transactions"`
}

// Producer is the subset of *kafka.Producer the publisher uses.
type Producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

// KafkaPublisher writes alerts as JSON to a topic.
type KafkaPublisher struct {
	producer Producer
	topic    string
}

// NewKafkaPublisher connects a producer to broker.
func NewKafkaPublisher(ctx context.Context, broker, topic string) (*KafkaPublisher, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{"bootstrap.servers": broker})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	logger := appcontext.LoggerFromContext(ctx)
	go func() {
		for ev := range p.Events() {
			if m, ok := ev.(*kafka.Message); ok && m.TopicPartition.Error != nil {
				logger.Error("kafka delivery failed", "topic", topic, "error", m.TopicPartition.Error)
			}
		}
	}()

	return NewKafkaPublisherWithProducer(p, topic), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer.
func NewKafkaPublisherWithProducer(p Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: p, topic: topic}
}

// Publish enqueues an alert keyed by its detection time.
func (k *KafkaPublisher) Publish(ctx context.Context, alert Alert) error {
	value, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &k.topic, Partition: kafka.PartitionAny},
		Key:            []byte(alert.DetectedAt.UTC().Format(time.RFC3339Nano)),
		Value:          value,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce alert to %s: %w", k.topic, err)
	}
	return nil
}

// Close flushes pending alerts and releases the producer.
func (k *KafkaPublisher) Close() {
	k.producer.Flush(flushTimeoutMs)
	k.producer.Close()
}
