package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
)

// MemoryBus is an in-memory implementation of Bus for testing. The
// asker question queue is a buffered channel shared by all consumers,
// the brainer exchange is a binding table keyed by routing key, and
// reply queues are named channels. Acks are counted so tests can assert
// the acknowledgement boundary.
type MemoryBus struct {
	mu       sync.Mutex
	closed   atomic.Bool
	askerQ   chan Delivery
	bindings map[string][]chan Delivery
	replies  map[string]chan Delivery
	acked    atomic.Int64
}

// NewMemoryBus creates a new in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		askerQ:   make(chan Delivery, 1024),
		bindings: make(map[string][]chan Delivery),
		replies:  make(map[string]chan Delivery),
	}
}

func (b *MemoryBus) PublishQuestion(ctx context.Context, body []byte, replyTo, correlationID string) error {
	if b.closed.Load() {
		return ErrClosed
	}

	d := Delivery{
		Body:          body,
		ReplyTo:       replyTo,
		CorrelationID: correlationID,
		ack:           b.countAck,
	}
	select {
	case b.askerQ <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBus) ConsumeAskerQuestions(ctx context.Context) (<-chan Delivery, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	return b.askerQ, nil
}

func (b *MemoryBus) ConsumeBrainerAnswers(ctx context.Context) (<-chan Delivery, error) {
	return b.bind(AnswerBinding)
}

func (b *MemoryBus) ConsumeBrainerQuestions(ctx context.Context) (<-chan Delivery, error) {
	return b.bind(QuestionBinding)
}

// Binding keys of the in-memory brainer exchange.
const (
	QuestionBinding = "question"
	AnswerBinding   = "answer"
)

func (b *MemoryBus) bind(key string) (<-chan Delivery, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	ch := make(chan Delivery, 256)
	b.mu.Lock()
	b.bindings[key] = append(b.bindings[key], ch)
	b.mu.Unlock()
	return ch, nil
}

func (b *MemoryBus) ConsumeReplies(ctx context.Context) (string, <-chan Delivery, error) {
	if b.closed.Load() {
		return "", nil, ErrClosed
	}

	name := "inbox." + ulid.Make().String()
	ch := make(chan Delivery, 256)
	b.mu.Lock()
	b.replies[name] = ch
	b.mu.Unlock()
	return name, ch, nil
}

func (b *MemoryBus) Reply(ctx context.Context, replyTo, correlationID string, body []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	ch, ok := b.replies[replyTo]
	b.mu.Unlock()
	if !ok {
		return ErrUnknownQueue
	}

	d := Delivery{Body: body, CorrelationID: correlationID}
	select {
	case ch <- d:
	default:
		// Reply queues are ephemeral; a full one drops, as the broker
		// would for a consumer that stopped reading.
	}
	return nil
}

func (b *MemoryBus) BroadcastQuestion(ctx context.Context, body []byte) error {
	return b.publish(QuestionBinding, body)
}

func (b *MemoryBus) PublishAnswer(ctx context.Context, body []byte) error {
	return b.publish(AnswerBinding, body)
}

func (b *MemoryBus) publish(key string, body []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	bound := append([]chan Delivery(nil), b.bindings[key]...)
	b.mu.Unlock()

	d := Delivery{Body: body, ack: b.countAck}
	for _, ch := range bound {
		select {
		case ch <- d:
		default:
		}
	}
	return nil
}

func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	close(b.askerQ)
	for _, chans := range b.bindings {
		for _, ch := range chans {
			close(ch)
		}
	}
	for _, ch := range b.replies {
		close(ch)
	}
	return nil
}

// Acked returns how many deliveries have been acknowledged, for tests.
func (b *MemoryBus) Acked() int64 {
	return b.acked.Load()
}

func (b *MemoryBus) countAck() error {
	b.acked.Add(1)
	return nil
}
