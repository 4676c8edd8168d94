package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/odvcencio/hivemind/pkg/config"
	"github.com/odvcencio/hivemind/pkg/wire"
)

// DefaultHeartbeat is the broker heartbeat for connections that stay
// busy. Roles that sit idle while a human thinks pass 0 to disable
// heartbeats instead.
const DefaultHeartbeat = 10 * time.Second

// AMQPBus implements Bus on a single RabbitMQ connection. Each consumer
// runs on its own channel; publishes share one channel and rely on the
// caller to serialize (the memory coordinator is a single goroutine,
// the asker and brainer publish from their prompt loop).
type AMQPBus struct {
	conn   *amqp.Connection
	mu     sync.Mutex
	pub    *amqp.Channel
	closed atomic.Bool
}

// Dial connects to RabbitMQ using the configured host and credentials.
// A zero heartbeat disables broker heartbeats.
func Dial(cfg config.RabbitMQConfig, heartbeat time.Duration) (*AMQPBus, error) {
	conn, err := amqp.DialConfig(cfg.URL(), amqp.Config{
		Heartbeat: heartbeat,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, fmt.Errorf("bus: dial amqp: %w", err)
	}
	return &AMQPBus{conn: conn}, nil
}

func (b *AMQPBus) PublishQuestion(ctx context.Context, body []byte, replyTo, correlationID string) error {
	ch, err := b.publisher()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, "", wire.AskerQuestionQueue, false, false, amqp.Publishing{
		ContentType:   wire.ContentType,
		ReplyTo:       replyTo,
		CorrelationId: correlationID,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("bus: publish question: %w", err)
	}
	return nil
}

func (b *AMQPBus) Reply(ctx context.Context, replyTo, correlationID string, body []byte) error {
	ch, err := b.publisher()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, "", replyTo, false, false, amqp.Publishing{
		ContentType:   wire.ContentType,
		CorrelationId: correlationID,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("bus: reply to %s: %w", replyTo, err)
	}
	return nil
}

func (b *AMQPBus) BroadcastQuestion(ctx context.Context, body []byte) error {
	return b.publishToExchange(ctx, wire.QuestionKey, body)
}

func (b *AMQPBus) PublishAnswer(ctx context.Context, body []byte) error {
	return b.publishToExchange(ctx, wire.AnswerKey, body)
}

func (b *AMQPBus) publishToExchange(ctx context.Context, key string, body []byte) error {
	ch, err := b.publisher()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, wire.BrainerExchange, key, false, false, amqp.Publishing{
		ContentType: wire.ContentType,
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("bus: publish %s: %w", key, err)
	}
	return nil
}

func (b *AMQPBus) ConsumeAskerQuestions(ctx context.Context) (<-chan Delivery, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("bus: open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(wire.AskerQuestionQueue, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("bus: declare question queue: %w", err)
	}
	// Prefetch one so flow control happens at the broker.
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("bus: set qos: %w", err)
	}
	return b.consume(ctx, ch, wire.AskerQuestionQueue, false)
}

func (b *AMQPBus) ConsumeBrainerAnswers(ctx context.Context) (<-chan Delivery, error) {
	return b.consumeExchange(ctx, wire.AnswerKey)
}

func (b *AMQPBus) ConsumeBrainerQuestions(ctx context.Context) (<-chan Delivery, error) {
	return b.consumeExchange(ctx, wire.QuestionKey)
}

// consumeExchange binds a fresh exclusive queue to one routing key of
// the brainer exchange.
func (b *AMQPBus) consumeExchange(ctx context.Context, key string) (<-chan Delivery, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("bus: open channel: %w", err)
	}
	if err := declareBrainerExchange(ch); err != nil {
		ch.Close()
		return nil, err
	}
	q, err := ch.QueueDeclare("", false, false, true, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("bus: declare exclusive queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, key, wire.BrainerExchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("bus: bind %s: %w", key, err)
	}
	return b.consume(ctx, ch, q.Name, false)
}

func (b *AMQPBus) ConsumeReplies(ctx context.Context) (string, <-chan Delivery, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return "", nil, fmt.Errorf("bus: open channel: %w", err)
	}
	q, err := ch.QueueDeclare("", false, false, true, false, nil)
	if err != nil {
		ch.Close()
		return "", nil, fmt.Errorf("bus: declare reply queue: %w", err)
	}
	deliveries, err := b.consume(ctx, ch, q.Name, true)
	if err != nil {
		return "", nil, err
	}
	return q.Name, deliveries, nil
}

// consume starts a consumer on the given channel and pumps deliveries
// until the context is cancelled or the broker closes the stream. The
// returned channel is closed either way; the caller tells shutdown from
// connection loss by inspecting its context.
func (b *AMQPBus) consume(ctx context.Context, ch *amqp.Channel, queue string, autoAck bool) (<-chan Delivery, error) {
	msgs, err := ch.Consume(queue, "", autoAck, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("bus: consume %s: %w", queue, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				d := Delivery{
					Body:          m.Body,
					ReplyTo:       m.ReplyTo,
					CorrelationID: m.CorrelationId,
				}
				if !autoAck {
					d.ack = func() error { return m.Ack(false) }
				}
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// publisher lazily opens the shared publish channel and declares the
// entities publishes may target.
func (b *AMQPBus) publisher() (*amqp.Channel, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pub != nil {
		return b.pub, nil
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("bus: open publish channel: %w", err)
	}
	if _, err := ch.QueueDeclare(wire.AskerQuestionQueue, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("bus: declare question queue: %w", err)
	}
	if err := declareBrainerExchange(ch); err != nil {
		ch.Close()
		return nil, err
	}
	b.pub = ch
	return ch, nil
}

func declareBrainerExchange(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(wire.BrainerExchange, "direct", false, false, false, false, nil); err != nil {
		return fmt.Errorf("bus: declare brainer exchange: %w", err)
	}
	return nil
}

func (b *AMQPBus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	if err := b.conn.Close(); err != nil {
		return fmt.Errorf("bus: close connection: %w", err)
	}
	return nil
}
