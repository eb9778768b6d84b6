package rabbitmq

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"devconnector-chat/internal/observability"
	"devconnector-chat/internal/telemetry"
)

// NewPublisher builds a RabbitMQ event publisher, or a noop publisher when
// AMQP is disabled or unreachable. Events are best effort, so a broker
// outage never blocks startup.
func NewPublisher(amqpURL, exchange string) telemetry.Publisher {
	if amqpURL == "" {
		return noopPublisher{reason: "empty amqp url"}
	}

	ch, closeAll, err := dialExchange(amqpURL, exchange)
	if err != nil {
		slog.Warn("rabbitmq events disabled, using noop", "err", err)
		return noopPublisher{reason: err.Error()}
	}
	slog.Info("rabbitmq events connected", "exchange", exchange)
	return &amqpPublisher{ch: ch, close: closeAll, exchange: exchange}
}

type amqpPublisher struct {
	ch       *amqp.Channel
	close    func() error
	exchange string
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      toTable(headers),
		Body:         body,
	})
	if err != nil {
		slog.Warn("rabbitmq publish failed", "routing_key", routingKey, "err", err)
	}
	return err
}

func (p *amqpPublisher) Close() error {
	return p.close()
}

func toTable(headers map[string]string) amqp.Table {
	if len(headers) == 0 {
		return nil
	}
	table := make(amqp.Table, len(headers))
	for key, value := range headers {
		table[key] = value
	}
	return table
}

type noopPublisher struct {
	reason string
}

func (noopPublisher) Publish(_ context.Context, routingKey string, event any, _ map[string]string) error {
	attrs := []any{"routing_key", routingKey}
	switch e := event.(type) {
	case telemetry.AuditEnvelope:
		attrs = append(attrs, "event_type", e.EventType, "action", e.Payload.Action)
	case observability.EventEnvelope:
		attrs = append(attrs, "event_type", e.EventType, "event_name", e.EventName)
	}
	slog.Debug("rabbitmq noop publish", attrs...)
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

// PublisherMode reports the publisher mode for logging.
func PublisherMode(p telemetry.Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

// PublisherNoopReason explains why events are not reaching the broker.
func PublisherNoopReason(p telemetry.Publisher) string {
	if publisher, ok := p.(noopPublisher); ok {
		return publisher.reason
	}
	return ""
}
