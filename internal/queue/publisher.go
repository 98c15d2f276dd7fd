package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// TenantQueueName is the durable queue carrying TenantEvent messages.
const TenantQueueName = "tenant.lifecycle"

// Publisher sends tenant lifecycle events to RabbitMQ. It dials per message,
// which is fine for the low rate of event creation and deletion and keeps no
// connection state to repair. Failures are logged and returned so callers can
// ignore them without interrupting the request.
type Publisher struct {
	url    string
	logger zerolog.Logger
}

func NewPublisher(url string, logger zerolog.Logger) *Publisher {
	return &Publisher{url: url, logger: logger.With().Str("component", "publisher").Logger()}
}

// PublishTenantEvent publishes ev to the tenant.lifecycle queue as a
// persistent JSON message.
func (p *Publisher) PublishTenantEvent(ctx context.Context, ev TenantEvent) error {
	if p == nil || p.url == "" {
		return nil
	}
	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.logger.Warn().Err(err).Msg("rabbitmq: dial failed")
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.logger.Warn().Err(err).Msg("rabbitmq: channel open failed")
		return err
	}
	defer func() { _ = ch.Close() }()

	// Ensure the queue exists (idempotent). Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(
		TenantQueueName, // name
		true,            // durable
		false,           // autoDelete
		false,           // exclusive
		false,           // noWait
		nil,             // args
	); err != nil {
		p.logger.Warn().Err(err).Msg("rabbitmq: queue declare failed")
		return err
	}

	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.At,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", TenantQueueName, false, false, pub); err != nil {
		p.logger.Warn().Err(err).Str("kind", ev.Kind).Int64("event_id", ev.EventID).Msg("rabbitmq: publish failed")
		return err
	}
	return nil
}
