// Package bus provides the broker transport shared by hivemind roles.
// It covers the three channel contracts of the system: the durable
// asker question queue, the direct brainer exchange with its question
// and answer routing keys, and the ephemeral per-asker reply queues.
// The production implementation uses RabbitMQ, with an in-memory option
// for testing.
package bus

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned when operating on a closed bus.
	ErrClosed = errors.New("bus: closed")

	// ErrUnknownQueue is returned when replying to a queue that does not
	// exist. The AMQP backend never returns it; the broker drops such
	// publishes silently.
	ErrUnknownQueue = errors.New("bus: unknown queue")
)

// Delivery is a single message received from the broker. Consumers on
// manually acknowledged queues must call Ack once the message has been
// handed off; deliveries from auto-acked queues carry a no-op Ack.
type Delivery struct {
	Body          []byte
	ReplyTo       string
	CorrelationID string

	ack func() error
}

// Ack acknowledges the delivery with the broker.
func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Bus is the transport contract between hivemind roles.
// Implementations must be safe for concurrent use. Every Consume method
// owns a dedicated broker channel; the delivery stream is closed when
// the context is cancelled or the connection is lost.
type Bus interface {
	// PublishQuestion publishes an asker question to the durable
	// question queue, carrying the asker's reply queue name and
	// correlation id in the message metadata.
	PublishQuestion(ctx context.Context, body []byte, replyTo, correlationID string) error

	// ConsumeReplies declares an exclusive auto-acked reply queue and
	// returns its broker-assigned name for use as reply_to.
	ConsumeReplies(ctx context.Context) (queue string, deliveries <-chan Delivery, err error)

	// ConsumeAskerQuestions consumes the durable question queue with a
	// prefetch of one and manual acknowledgement.
	ConsumeAskerQuestions(ctx context.Context) (<-chan Delivery, error)

	// ConsumeBrainerAnswers binds an exclusive queue to the answer
	// routing key of the brainer exchange, manual acknowledgement.
	ConsumeBrainerAnswers(ctx context.Context) (<-chan Delivery, error)

	// ConsumeBrainerQuestions binds an exclusive queue to the question
	// routing key of the brainer exchange, manual acknowledgement.
	ConsumeBrainerQuestions(ctx context.Context) (<-chan Delivery, error)

	// Reply publishes directly to a reply queue with the correlation id
	// the asker supplied.
	Reply(ctx context.Context, replyTo, correlationID string, body []byte) error

	// BroadcastQuestion publishes to every queue bound to the question
	// routing key of the brainer exchange.
	BroadcastQuestion(ctx context.Context, body []byte) error

	// PublishAnswer publishes a brainer answer on the answer routing key.
	PublishAnswer(ctx context.Context, body []byte) error

	// Close shuts the bus down. Open delivery streams are closed.
	Close() error
}
