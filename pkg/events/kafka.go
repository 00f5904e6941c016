package events

import (
	"context"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/discordwell/cliaas/pkg/errors"
	"github.com/discordwell/cliaas/pkg/json"
)

// DefaultTopic receives cycle events when none is configured
const DefaultTopic = "cliaas.sync.cycles"

// KafkaPublisher sends events through a synchronous sarama producer, keyed
// by connector so one connector's events stay ordered within a partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewKafkaConfig returns the producer settings used for cycle events
func NewKafkaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.Compression = sarama.CompressionGZIP
	return config
}

// NewKafkaPublisher connects a sync producer to brokers
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "events: kafka requires brokers")
	}
	producer, err := sarama.NewSyncProducer(brokers, NewKafkaConfig())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "events: create kafka producer")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("connected to Kafka", zap.Strings("brokers", brokers))
	return NewKafkaPublisherWithProducer(producer, topic, logger), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string, logger *zap.Logger) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{
		producer: producer,
		topic:    topic,
		logger:   logger.With(zap.String("component", "kafka_publisher")),
	}
}

// Publish implements Publisher
func (p *KafkaPublisher) Publish(_ context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "events: marshal event")
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(e.Connector),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(e.Type)},
			{Key: []byte("event_id"), Value: []byte(e.ID)},
		},
		Timestamp: e.OccurredAt,
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "events: send to "+p.topic)
	}
	p.logger.Debug("published event",
		zap.String("type", string(e.Type)),
		zap.String("connector", e.Connector),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// Close implements Publisher
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
