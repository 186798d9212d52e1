package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"emailagent/pkg/metrics"
	"emailagent/pkg/otel"
	"emailagent/pkg/trace"
)

type MessageHandler func(ctx context.Context, data json.RawMessage) error

// ErrReject marks a message that must not be redelivered. The consumer rejects
// it without requeue so it is dead-lettered.
var ErrReject = errors.New("message rejected")

// Reject wraps err so the consumer dead-letters the message.
func Reject(err error) error {
	return fmt.Errorf("%w: %w", ErrReject, err)
}

type Consumer struct {
	channel     *amqp091.Channel
	queue       amqp091.Queue
	routingKey  string
	handler     MessageHandler
	conn        *amqp091.Connection
	logger      *zap.Logger
	concurrency int
	tag         string
}

type ConsumerOption func(*Consumer)

// WithConcurrency bounds the number of messages handled at the same time.
func WithConcurrency(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// NewConsumer creates a consumer for a specific routing key.
func NewConsumer(url, queueName, routingKey string, logger *zap.Logger, opts ...ConsumerOption) (*Consumer, error) {
	c := &Consumer{
		routingKey:  routingKey,
		logger:      logger,
		concurrency: 1,
		tag:         queueName + "-worker",
	}
	for _, opt := range opts {
		opt(c)
	}

	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	fail := func(format string, err error) (*Consumer, error) {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf(format, err)
	}

	if err := DeclareExchange(ch); err != nil {
		return fail("failed to declare exchange: %w", err)
	}
	if err := DeclareDLQExchange(ch); err != nil {
		return fail("failed to declare dlq exchange: %w", err)
	}
	if _, err := DeclareDLQQueue(ch, queueName, routingKey); err != nil {
		return fail("failed to declare dlq queue: %w", err)
	}

	q, err := ch.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		deadLetterArgs(),
	)
	if err != nil {
		return fail("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, routingKey, ExchangeName, false, nil); err != nil {
		return fail("failed to bind queue: %w", err)
	}

	// prefetch 与并发数一致，未 ack 的消息不会超过 worker 数
	if err := ch.Qos(c.concurrency, 0, false); err != nil {
		return fail("failed to set qos: %w", err)
	}

	logger.Info("Consumer initialized",
		zap.String("routing_key", routingKey),
		zap.String("queue", queueName),
		zap.String("exchange", ExchangeName),
		zap.Int("concurrency", c.concurrency),
	)

	c.conn = conn
	c.channel = ch
	c.queue = q
	return c, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Start consumes until ctx is cancelled or the delivery channel closes. Each
// message is handled in the bounded pool with ctx, so shutdown reaches the
// handlers. Start returns after every in-flight message was acked or nacked.
func (c *Consumer) Start(ctx context.Context) error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.Consume(
		c.queue.Name,
		c.tag,
		false, // 手动ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages",
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
	)

	var pool errgroup.Group
	pool.SetLimit(c.concurrency)

	stopping := ctx.Done()
loop:
	for {
		select {
		case <-stopping:
			// 停止接收新消息，等待 deliveries 关闭
			if err := c.channel.Cancel(c.tag, false); err != nil {
				c.logger.Warn("Failed to cancel consumer", zap.Error(err))
				break loop
			}
			stopping = nil
		case msg, ok := <-deliveries:
			if !ok {
				break loop
			}
			pool.Go(func() error {
				c.handle(ctx, msg)
				return nil
			})
		}
	}

	_ = pool.Wait()
	c.logger.Info("Consumer stopped", zap.String("queue", c.queue.Name))
	return nil
}

// handle 保证每条消息都会被 ack 或 nack
func (c *Consumer) handle(ctx context.Context, msg amqp091.Delivery) {
	start := time.Now()
	result := "ack"

	if traceID, ok := msg.Headers[trace.HeaderName()].(string); ok && traceID != "" {
		ctx = trace.WithContext(ctx, traceID)
	}
	ctx = otel.GetTextMapPropagator().Extract(ctx, otel.NewMQHeaderCarrier(msg.Headers))
	ctx, span := otel.MQConsumeSpan(ctx, c.routingKey, c.queue.Name)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Handler panic recovered",
				zap.String("routing_key", c.routingKey),
				zap.String("queue", c.queue.Name),
				zap.Any("panic", r),
			)
			result = "panic"
			if err := msg.Nack(false, true); err != nil {
				c.logger.Error("Failed to nack message after panic", zap.Error(err))
			}
		}
		metrics.RecordMQConsumeLatency(c.routingKey, c.queue.Name, result, time.Since(start))
	}()

	err := c.handler(ctx, msg.Body)
	switch {
	case err == nil:
		if ackErr := msg.Ack(false); ackErr != nil {
			c.logger.Error("Failed to ack message", zap.Error(ackErr))
		}
	case errors.Is(err, ErrReject):
		result = "reject"
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("Message rejected to DLQ",
			zap.String("routing_key", c.routingKey),
			zap.Error(err),
		)
		if nackErr := msg.Nack(false, false); nackErr != nil {
			c.logger.Error("Failed to reject message", zap.Error(nackErr))
		}
	default:
		// 业务失败 → 重新入队，让 MQ 重试
		result = "requeue"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("Handler error",
			zap.String("routing_key", c.routingKey),
			zap.String("queue", c.queue.Name),
			zap.Error(err),
		)
		if nackErr := msg.Nack(false, true); nackErr != nil {
			c.logger.Error("Failed to nack message", zap.Error(nackErr))
		}
	}
}
