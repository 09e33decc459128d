package mq

import (
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

const (
	// ExchangeName carries recruitment process events in and milestone events out.
	ExchangeName    = "hitos.events"
	DLQExchangeName = "hitos.events.dlq"

	QueueProcessCreated = "hitos.process.created.q"
	QueueProcessEvent   = "hitos.process.event.q"
)

// Binding ties a consumer queue to one routing key of the events exchange.
type Binding struct {
	Queue      string
	RoutingKey string
}

// DLQ is the dead letter queue name for the binding's routing key.
func (b Binding) DLQ() string {
	return b.RoutingKey + ".dlq"
}

func (b Binding) validate() error {
	if b.Queue == "" || b.RoutingKey == "" {
		return fmt.Errorf("binding requires queue and routing key, got %+v", b)
	}
	if b.Queue == b.DLQ() {
		return fmt.Errorf("queue %q collides with its dead letter queue", b.Queue)
	}
	return nil
}

// Dial opens a connection labelled with role (publisher or the queue name)
// so it can be told apart in the broker's management UI.
func Dial(url, role string) (*amqp091.Connection, error) {
	conn, err := amqp091.DialConfig(url, amqp091.Config{
		Properties: amqp091.Table{"connection_name": "hito-service/" + role},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// DeclareExchange declares the topic exchange both sides publish to.
func DeclareExchange(ch *amqp091.Channel) error {
	return ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil)
}

// DeclareBinding declares everything a consumer of b needs: both exchanges,
// the dead letter queue and the work queue that dead-letters into it.
func DeclareBinding(ch *amqp091.Channel, b Binding) (amqp091.Queue, error) {
	if err := b.validate(); err != nil {
		return amqp091.Queue{}, err
	}
	if err := DeclareExchange(ch); err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(DLQExchangeName, "topic", true, false, false, false, nil); err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare dlq exchange: %w", err)
	}

	dlq, err := ch.QueueDeclare(b.DLQ(), true, false, false, false, nil)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare DLQ queue: %w", err)
	}
	if err := ch.QueueBind(dlq.Name, b.RoutingKey, DLQExchangeName, false, nil); err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to bind DLQ queue: %w", err)
	}

	// 拒绝且不重投的消息保留原 routing key 进入死信队列
	q, err := ch.QueueDeclare(b.Queue, true, false, false, false, amqp091.Table{
		"x-dead-letter-exchange": DLQExchangeName,
	})
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, b.RoutingKey, ExchangeName, false, nil); err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to bind queue: %w", err)
	}
	return q, nil
}
