// Package memory implements the memory role: the deduplicating, caching
// relay between askers and brainers.
//
// Two ingress goroutines consume the broker (asker questions and
// brainer answers) and feed one mailbox; a single coordinator goroutine
// drains the mailbox, performs one atomic store operation per envelope,
// and publishes the resulting replies or broadcasts. Because the
// coordinator is the only store writer in the process and every store
// operation is atomic on the backend, no locks are needed anywhere and
// several memory agents can share the same store.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/hivemind/pkg/bus"
	"github.com/odvcencio/hivemind/pkg/store"
	"github.com/odvcencio/hivemind/pkg/wire"
)

// DefaultMailboxSize is the mailbox buffer. Ingresses only block on a
// full mailbox, which the store round-trip time keeps drained; broker
// prefetch is the real flow control.
const DefaultMailboxSize = 1024

// ErrDeliveryStreamClosed is returned when the broker closes a consume
// stream while the agent is still running. Connection loss is fatal;
// the agent terminates and a supervisor restarts it.
var ErrDeliveryStreamClosed = errors.New("memory: delivery stream closed")

// Agent is one memory process.
type Agent struct {
	bus     bus.Bus
	store   store.Store
	log     *slog.Logger
	mailbox chan Envelope
}

// New creates a memory agent on the given transport and store.
func New(b bus.Bus, st store.Store, log *slog.Logger) *Agent {
	return &Agent{
		bus:     b,
		store:   st,
		log:     log,
		mailbox: make(chan Envelope, DefaultMailboxSize),
	}
}

// Run consumes asker questions and brainer answers until ctx is
// cancelled, then drains the mailbox before returning so no
// acknowledged delivery is lost to an orderly shutdown.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.store.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("memory: init indexes: %w", err)
	}

	questions, err := a.bus.ConsumeAskerQuestions(ctx)
	if err != nil {
		return fmt.Errorf("memory: consume asker questions: %w", err)
	}
	answers, err := a.bus.ConsumeBrainerAnswers(ctx)
	if err != nil {
		return fmt.Errorf("memory: consume brainer answers: %w", err)
	}
	a.log.Info("waiting for questions and answers")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.ingestQuestions(gctx, questions) })
	g.Go(func() error { return a.ingestAnswers(gctx, answers) })

	ingressErr := make(chan error, 1)
	go func() {
		ingressErr <- g.Wait()
		close(a.mailbox)
	}()

	// Store and publish calls must outlive ctx so the drain can finish.
	opCtx := context.WithoutCancel(ctx)
	for env := range a.mailbox {
		a.dispatch(opCtx, env)
	}

	if err := <-ingressErr; err != nil {
		return err
	}
	a.log.Info("mailbox drained, shutting down")
	return nil
}

// ingestQuestions pumps asker deliveries into the mailbox. A delivery
// is acknowledged exactly when its envelope is in the mailbox (or when
// it is dropped as malformed); a crash after the ack loses at most the
// mailbox contents, which the asker covers by retrying on timeout.
func (a *Agent) ingestQuestions(ctx context.Context, deliveries <-chan bus.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrDeliveryStreamClosed
			}
			a.ingestQuestion(ctx, d)
		}
	}
}

func (a *Agent) ingestQuestion(ctx context.Context, d bus.Delivery) {
	q, err := wire.DecodeQuestion(d.Body)
	if err != nil {
		a.drop(d, "invalid asker question", err)
		return
	}
	if d.ReplyTo == "" || d.CorrelationID == "" {
		a.drop(d, "asker question without reply metadata", nil)
		return
	}

	env := AskerQuestion{
		Question:      q.Question,
		ReplyTo:       d.ReplyTo,
		CorrelationID: d.CorrelationID,
	}
	if !a.enqueue(ctx, env, d) {
		return
	}
	metricQuestionsConsumed.Inc()
}

func (a *Agent) ingestAnswers(ctx context.Context, deliveries <-chan bus.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrDeliveryStreamClosed
			}
			a.ingestAnswer(ctx, d)
		}
	}
}

func (a *Agent) ingestAnswer(ctx context.Context, d bus.Delivery) {
	ans, err := wire.DecodeAnswer(d.Body)
	if err != nil {
		a.drop(d, "invalid brainer answer", err)
		return
	}

	env := BrainerAnswer{Question: ans.Question, Answer: ans.Answer}
	if !a.enqueue(ctx, env, d) {
		return
	}
	metricAnswersConsumed.Inc()
}

// enqueue places the envelope in the mailbox and acknowledges the
// delivery. On shutdown before the handoff the delivery stays unacked
// and the broker redelivers it to the next agent.
func (a *Agent) enqueue(ctx context.Context, env Envelope, d bus.Delivery) bool {
	select {
	case a.mailbox <- env:
	case <-ctx.Done():
		return false
	}
	if err := d.Ack(); err != nil {
		a.log.Warn("ack failed", "error", err)
	}
	return true
}

// drop acknowledges and discards a malformed delivery. The sender will
// time out client-side; the agent keeps running.
func (a *Agent) drop(d bus.Delivery, msg string, err error) {
	metricDropped.Inc()
	if err != nil {
		a.log.Warn(msg, "error", err)
	} else {
		a.log.Warn(msg)
	}
	if ackErr := d.Ack(); ackErr != nil {
		a.log.Warn("ack failed", "error", ackErr)
	}
}
