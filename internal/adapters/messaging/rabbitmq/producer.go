// Package rabbitmq publishes donation lifecycle events to a topic exchange
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"zakat-ledger/internal/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// EventProducer holds the RabbitMQ connection and channel for publishing messages
type EventProducer struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	declared map[string]bool
	log      zerolog.Logger
}

// EventProducerFallback is a no-op publisher used when RabbitMQ is not
// configured or unreachable at startup
type EventProducerFallback struct {
	Log zerolog.Logger
}

func (p *EventProducerFallback) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.Log.Debug().Str("exchange", exchange).Str("routing_key", routingKey).Msg("publish skipped, broker disabled")
	return nil
}

func (p *EventProducerFallback) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer dials the broker and opens a channel
func NewEventProducer(amqpURL string, log zerolog.Logger) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// bounded dial so startup does not hang
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &EventProducer{
		conn:     conn,
		channel:  ch,
		declared: make(map[string]bool),
		log:      logger.Component(log, "rabbitmq_producer"),
	}, nil
}

// Publish sends body as JSON to exchange. A broken channel is reopened once.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Body:         jsonBody,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publish(ctx, exchange, routingKey, msg)
	if err == nil {
		return nil
	}

	p.log.Warn().Err(err).Str("exchange", exchange).Str("routing_key", routingKey).Msg("publish failed; reopening channel")
	if reopenErr := p.reopen(); reopenErr != nil {
		return reopenErr
	}
	return p.publish(ctx, exchange, routingKey, msg)
}

func (p *EventProducer) publish(ctx context.Context, exchange, routingKey string, msg amqp091.Publishing) error {
	if !p.declared[exchange] {
		if err := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			return err
		}
		p.declared[exchange] = true
	}
	return p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
}

func (p *EventProducer) reopen() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	p.channel = ch
	p.declared = make(map[string]bool)
	return nil
}

// Close gracefully closes the channel and connection
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
