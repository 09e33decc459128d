package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"recruitment-hitos/pkg/metrics"
	"recruitment-hitos/pkg/trace"
	"recruitment-hitos/pkg/util"
)

type MessageHandler func(ctx context.Context, data json.RawMessage) error

type Consumer struct {
	channel    *amqp091.Channel
	queue      amqp091.Queue
	routingKey string
	handler    MessageHandler
	conn       *amqp091.Connection
	logger     *zap.Logger
	done       chan struct{}

	retries    *util.RetryCounter
	maxRetries int64
}

// NewConsumer creates a consumer for one binding. The queue dead-letters
// into <routingKey>.dlq.
func NewConsumer(url string, b Binding, logger *zap.Logger) (*Consumer, error) {
	conn, err := Dial(url, b.Queue)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	q, err := DeclareBinding(ch, b)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	logger.Info("Consumer initialized",
		zap.String("routing_key", b.RoutingKey),
		zap.String("queue", b.Queue),
		zap.String("exchange", ExchangeName),
	)

	return &Consumer{
		conn:       conn,
		channel:    ch,
		queue:      q,
		routingKey: b.RoutingKey,
		logger:     logger,
		done:       make(chan struct{}),
	}, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

// SetRetryBudget lets retryable failures be requeued up to max times.
// Without a budget a message is requeued once, then dead-lettered.
func (c *Consumer) SetRetryBudget(counter *util.RetryCounter, max int) {
	c.retries = counter
	c.maxRetries = int64(max)
}

// IsConnected reports whether the underlying connection is open.
func (c *Consumer) IsConnected() bool {
	return c.conn != nil && !c.conn.IsClosed()
}

// Stop cancels delivery; StartConsuming returns once in-flight messages finish.
func (c *Consumer) Stop() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	if c.channel != nil {
		_ = c.channel.Cancel(c.queue.Name, false)
	}
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// StartConsuming starts consuming messages. This method blocks and should be called in a goroutine.
func (c *Consumer) StartConsuming() error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.Consume(
		c.queue.Name,
		c.queue.Name, // consumer tag, used by Stop
		false,        // 手动ack
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

	for msg := range deliveries {
		c.handle(msg)
	}
	return nil
}

// handle 保证每条消息都会被 ack 或 nack
func (c *Consumer) handle(msg amqp091.Delivery) {
	start := time.Now()
	ctx := context.Background()
	if traceID, ok := msg.Headers[trace.HeaderName].(string); ok {
		ctx = trace.WithContext(ctx, traceID)
	}
	ctx, traceID := trace.Ensure(ctx)
	log := c.logger.With(
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
		zap.String("trace_id", traceID),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Handler panic recovered", zap.Any("panic", r))
			metrics.RecordMQConsumeLatency(c.routingKey, c.queue.Name, "panic", time.Since(start))
			// Panic → 进入死信队列，避免无限重试
			if err := msg.Nack(false, false); err != nil {
				log.Error("Failed to nack message after panic", zap.Error(err))
			}
		}
	}()

	if err := c.handler(ctx, msg.Body); err != nil {
		retryable, errType := util.IsRetryableError(err)
		log.Error("Handler error",
			zap.Error(err),
			zap.Bool("retryable", retryable),
			zap.String("error_type", errType),
		)
		outcome := "dead_lettered"
		if retryable && c.shouldRequeue(ctx, msg) {
			outcome = "requeued"
		}
		metrics.RecordMQConsumeLatency(c.routingKey, c.queue.Name, outcome, time.Since(start))
		// 可重试错误只重新入队一次，之后进入死信队列
		if err := msg.Nack(false, outcome == "requeued"); err != nil {
			log.Error("Failed to nack message", zap.Error(err))
		}
		return
	}

	metrics.RecordMQConsumeLatency(c.routingKey, c.queue.Name, "ok", time.Since(start))
	if c.retries != nil && msg.Redelivered {
		if err := c.retries.Reset(ctx, util.FormatRetryKey(c.queue.Name, msg.Body)); err != nil {
			log.Warn("Failed to reset retry count", zap.Error(err))
		}
	}
	if err := msg.Ack(false); err != nil {
		log.Error("Failed to ack message", zap.Error(err))
		return
	}
	log.Debug("Message processed successfully")
}

func (c *Consumer) shouldRequeue(ctx context.Context, msg amqp091.Delivery) bool {
	if c.retries == nil {
		return !msg.Redelivered
	}
	n, err := c.retries.IncrementAndGet(ctx, util.FormatRetryKey(c.queue.Name, msg.Body))
	if err != nil {
		// Redis 不可用时退回到只重试一次
		c.logger.Warn("Retry counter unavailable", zap.Error(err))
		return !msg.Redelivered
	}
	return n <= c.maxRetries
}
