package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/streadway/amqp"
	"go.uber.org/zap"
)

const (
	// OrdersExchange is the topic exchange order lifecycle events are published to.
	OrdersExchange = "orders"
	// FulfillmentQueue carries status updates from the warehouse.
	FulfillmentQueue = "fulfillment_events"
)

// ErrClosed is returned once Close has been called.
var ErrClosed = errors.New("rabbitmq client is closed")

// Client holds the RabbitMQ connection and channel.
type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	log     *zap.Logger

	// amqp channels are not safe for concurrent publishing.
	mu     sync.Mutex
	closed bool
}

// Config holds RabbitMQ connection details.
type Config struct {
	URL string
}

// NewClient connects to RabbitMQ and declares the exchange and queue the service uses.
func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	log.Info("rabbitmq client connected",
		zap.String("exchange", OrdersExchange),
		zap.String("queue", FulfillmentQueue))

	return &Client{
		conn:    conn,
		channel: ch,
		log:     log,
	}, nil
}

func declareTopology(ch *amqp.Channel) error {
	err := ch.ExchangeDeclare(
		OrdersExchange, // name
		"topic",        // kind
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", OrdersExchange, err)
	}

	_, err = ch.QueueDeclare(
		FulfillmentQueue, // name
		true,             // durable
		false,            // delete when unused
		false,            // exclusive
		false,            // no-wait
		nil,              // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare %s: %w", FulfillmentQueue, err)
	}
	return nil
}

// Close closes the RabbitMQ connection and channel.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Healthy reports whether the broker connection is still open.
func (c *Client) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.conn != nil && !c.conn.IsClosed()
}

// Publish sends a persistent JSON message to the orders exchange under routingKey.
func (c *Client) Publish(routingKey string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	err := c.channel.Publish(
		OrdersExchange, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}

	c.log.Debug("published event", zap.String("routing_key", routingKey), zap.Int("bytes", len(body)))
	return nil
}

// MessageHandler processes one message body. A nil error acknowledges the delivery.
type MessageHandler func(ctx context.Context, body []byte) error

// ConsumeFulfillment delivers fulfillment messages to handler until ctx is done or the
// channel closes. Failed messages are requeued.
func (c *Client) ConsumeFulfillment(ctx context.Context, handler MessageHandler) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	msgs, err := c.channel.Consume(
		FulfillmentQueue, // queue
		"",               // consumer
		false,            // auto-ack
		false,            // exclusive
		false,            // no-local
		false,            // no-wait
		nil,              // args
	)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.log.Info("consuming fulfillment events", zap.String("queue", FulfillmentQueue))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("fulfillment delivery channel closed")
			}
			c.handle(ctx, msg, handler)
		}
	}
}

func (c *Client) handle(ctx context.Context, msg amqp.Delivery, handler MessageHandler) {
	if err := handler(ctx, msg.Body); err != nil {
		c.log.Warn("fulfillment message failed, requeueing",
			zap.Uint64("delivery_tag", msg.DeliveryTag), zap.Error(err))
		if nackErr := msg.Nack(false, true); nackErr != nil {
			c.log.Error("nack failed", zap.Uint64("delivery_tag", msg.DeliveryTag), zap.Error(nackErr))
		}
		return
	}
	if ackErr := msg.Ack(false); ackErr != nil {
		c.log.Error("ack failed", zap.Uint64("delivery_tag", msg.DeliveryTag), zap.Error(ackErr))
	}
}
