package events

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/discordwell/cliaas/pkg/errors"
	"github.com/discordwell/cliaas/pkg/json"
)

// DefaultExchange receives cycle events when none is configured
const DefaultExchange = "cliaas.sync"

// amqpChannel is the part of *amqp.Channel the publisher uses
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes events to a topic exchange, routed by event type
type AMQPPublisher struct {
	exchange string
	logger   *zap.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel amqpChannel
}

// NewAMQPPublisher dials url and declares a durable topic exchange
func NewAMQPPublisher(url, exchange string, logger *zap.Logger) (*AMQPPublisher, error) {
	if url == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "events: amqp requires a url")
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "events: dial amqp")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "events: open channel")
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "events: declare exchange")
	}

	logger.Info("connected to RabbitMQ", zap.String("exchange", exchange))
	p := newAMQPPublisher(ch, exchange, logger)
	p.conn = conn
	return p, nil
}

func newAMQPPublisher(ch amqpChannel, exchange string, logger *zap.Logger) *AMQPPublisher {
	return &AMQPPublisher{
		exchange: exchange,
		logger:   logger.With(zap.String("component", "amqp_publisher")),
		channel:  ch,
	}
}

// Publish implements Publisher
func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "events: marshal event")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(ctx, p.exchange, string(e.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Timestamp:    e.OccurredAt,
		Type:         string(e.Type),
		Body:         body,
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "events: publish to "+p.exchange)
	}

	p.logger.Debug("published event",
		zap.String("type", string(e.Type)),
		zap.String("connector", e.Connector),
		zap.String("event_id", e.ID))
	return nil
}

// Close implements Publisher
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var first error
	if p.channel != nil {
		first = p.channel.Close()
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
