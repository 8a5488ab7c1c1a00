// Package messaging forwards gateway events to RabbitMQ.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"goodlistseller-gate/internal/observability"
)

const (
	// ReportsExchange receives CSP violation events keyed by directive
	ReportsExchange = "csp.reports"
	// ViolationsQueue collects every event published to ReportsExchange
	ViolationsQueue = "csp.violations"
	// RoutingPrefix is prepended to the directive name, e.g. "csp.script-src"
	RoutingPrefix = "csp."

	publishTimeout = 5 * time.Second
)

// RabbitMQ owns one connection and one channel. Publishing never blocks a
// request for longer than publishTimeout.
type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  atomic.Bool
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	rmq := &RabbitMQ{conn: conn, channel: ch}
	if err := rmq.Setup(); err != nil {
		rmq.Close()
		return nil, err
	}

	go rmq.watch(conn.NotifyClose(make(chan *amqp.Error, 1)))

	return rmq, nil
}

// watch flags the broker as gone once the server or network closes the
// connection. Readiness reads the flag.
func (r *RabbitMQ) watch(closes <-chan *amqp.Error) {
	if amqpErr, ok := <-closes; ok && amqpErr != nil {
		slog.Error("rabbitmq connection lost",
			slog.Int("code", amqpErr.Code),
			slog.String("reason", amqpErr.Reason))
	}
	r.closed.Store(true)
}

// Setup declares the topology: a durable topic exchange and one durable
// queue bound to every csp.* key. Declarations are idempotent.
func (r *RabbitMQ) Setup() error {
	if err := r.channel.ExchangeDeclare(
		ReportsExchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare %s exchange: %w", ReportsExchange, err)
	}

	if _, err := r.channel.QueueDeclare(
		ViolationsQueue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare %s queue: %w", ViolationsQueue, err)
	}

	if err := r.channel.QueueBind(ViolationsQueue, RoutingPrefix+"#", ReportsExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind %s queue: %w", ViolationsQueue, err)
	}

	slog.Info("rabbitmq topology ready",
		slog.String("exchange", ReportsExchange),
		slog.String("queue", ViolationsQueue))
	return nil
}

// PublishJSON publishes payload as a persistent JSON message on the reports
// exchange. Each message gets a fresh id so consumers can deduplicate.
func (r *RabbitMQ) PublishJSON(ctx context.Context, routingKey string, payload any) error {
	if r.IsClosed() {
		return fmt.Errorf("publish %s: %w", routingKey, amqp.ErrClosed)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		AppId:        observability.ServiceName,
		Body:         body,
	}
	if err := r.channel.PublishWithContext(ctx, ReportsExchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", ReportsExchange, err)
	}

	slog.Debug("published report event",
		slog.String("routing_key", routingKey),
		slog.String("message_id", msg.MessageId))
	return nil
}

// Consume registers a manual-ack consumer on the violations queue. Used by
// report processors and the integration tests.
func (r *RabbitMQ) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	msgs, err := r.channel.Consume(ViolationsQueue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}
	return msgs, nil
}

func (r *RabbitMQ) IsClosed() bool {
	return r.closed.Load() || r.conn == nil || r.conn.IsClosed()
}

func (r *RabbitMQ) Close() error {
	r.closed.Store(true)
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
