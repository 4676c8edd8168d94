// Package brainer implements the interactive brainer role: a terminal
// that receives question broadcasts and lets a human answer them.
package brainer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/odvcencio/hivemind/pkg/bus"
	"github.com/odvcencio/hivemind/pkg/wire"
)

var banner = strings.Repeat("*", 12)

// Agent is one brainer terminal.
type Agent struct {
	bus bus.Bus
	log *slog.Logger

	// In and Out default to the process terminal, swappable in tests.
	In  io.Reader
	Out io.Writer
}

// New creates a brainer on the given transport.
func New(b bus.Bus, log *slog.Logger) *Agent {
	return &Agent{bus: b, log: log, In: os.Stdin, Out: os.Stdout}
}

// Run consumes question broadcasts until ctx is cancelled, prompting
// the human for each one. An empty answer skips the question; some
// other brainer may pick it up. Questions are acknowledged as soon as
// they are received so a slow human never blocks redelivery elsewhere.
func (a *Agent) Run(ctx context.Context) error {
	questions, err := a.bus.ConsumeBrainerQuestions(ctx)
	if err != nil {
		return fmt.Errorf("brainer: consume questions: %w", err)
	}

	fmt.Fprintln(a.Out, "Connection ready. Waiting for questions...")
	reader := bufio.NewReader(a.In)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(a.Out, "\nBye.")
			return nil
		case d, ok := <-questions:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("brainer: question stream closed: %w", bus.ErrClosed)
			}
			a.handle(ctx, reader, d)
		}
	}
}

func (a *Agent) handle(ctx context.Context, reader *bufio.Reader, d bus.Delivery) {
	q, err := wire.DecodeQuestion(d.Body)
	if ackErr := d.Ack(); ackErr != nil {
		a.log.Warn("ack failed", "error", ackErr)
	}
	if err != nil {
		a.log.Warn("invalid question", "error", err)
		return
	}

	fmt.Fprintf(a.Out, "%s\nQuestion: %s\n", banner, q.Question)
	fmt.Fprint(a.Out, "Answer (enter to skip): ")

	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return
	}
	answer := strings.TrimSpace(line)
	if answer == "" {
		return
	}

	body := wire.Answer{Question: q.Question, Answer: answer}.Encode()
	if err := a.bus.PublishAnswer(ctx, body); err != nil {
		a.log.Warn("publish answer failed", "error", err)
	}
}
