// Package events publishes sync cycle outcomes to a message broker so other
// services can react to fresh helpdesk data.
package events

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/discordwell/cliaas/pkg/errors"
)

// Type is the event type, also used as routing key
type Type string

const (
	// CycleCompleted is emitted after a cycle that stored every page
	CycleCompleted Type = "sync.cycle.completed"
	// CycleFailed is emitted after a cycle that ended with an error
	CycleFailed Type = "sync.cycle.failed"
)

// Event is the envelope sent to brokers
type Event struct {
	ID         string      `json:"id"`
	Type       Type        `json:"type"`
	Connector  string      `json:"connector"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// New creates an event with a fresh ID
func New(t Type, connector string, payload interface{}) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		Connector:  connector,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// Publisher delivers events. Implementations are safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event
type Nop struct{}

// Publish implements Publisher
func (Nop) Publish(context.Context, Event) error { return nil }

// Close implements Publisher
func (Nop) Close() error { return nil }

// Driver names accepted by Open.
const (
	DriverNone  = "none"
	DriverAMQP  = "amqp"
	DriverKafka = "kafka"
)

// Config selects and configures a broker
type Config struct {
	Driver   string   `mapstructure:"driver" yaml:"driver"`
	URL      string   `mapstructure:"url" yaml:"url,omitempty"`
	Exchange string   `mapstructure:"exchange" yaml:"exchange,omitempty"`
	Brokers  []string `mapstructure:"brokers" yaml:"brokers,omitempty"`
	Topic    string   `mapstructure:"topic" yaml:"topic,omitempty"`
}

// Open connects the configured publisher
func Open(cfg Config, logger *zap.Logger) (Publisher, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverNone:
		return Nop{}, nil
	case DriverAMQP:
		p, err := NewAMQPPublisher(cfg.URL, cfg.Exchange, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	case DriverKafka:
		p, err := NewKafkaPublisher(cfg.Brokers, cfg.Topic, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "events: unknown driver %q", cfg.Driver)
	}
}
