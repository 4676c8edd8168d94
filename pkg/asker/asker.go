// Package asker implements the interactive asker role: a terminal that
// submits questions and prints the answers as memories deliver them.
//
// Two goroutines share the terminal: the prompt loop reading stdin and
// a reply consumer printing answers. The consumer asks the prompt loop
// to re-issue the prompt over a channel after printing.
package asker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/odvcencio/hivemind/pkg/bus"
	"github.com/odvcencio/hivemind/pkg/wire"
)

const prompt = "Your question? "

var banner = strings.Repeat("*", 12)

// Agent is one asker terminal.
type Agent struct {
	bus bus.Bus
	log *slog.Logger

	// In and Out default to the process terminal, swappable in tests.
	In  io.Reader
	Out io.Writer
}

// New creates an asker on the given transport.
func New(b bus.Bus, log *slog.Logger) *Agent {
	return &Agent{bus: b, log: log, In: os.Stdin, Out: os.Stdout}
}

// Run prompts for questions until ctx is cancelled or input ends.
// Every question is published with this terminal's reply queue and a
// fresh correlation id; answers arrive asynchronously and are printed
// as they come, including answers to questions asked by other askers of
// the same queue, which the correlation id disambiguates.
func (a *Agent) Run(ctx context.Context) error {
	replyQueue, replies, err := a.bus.ConsumeReplies(ctx)
	if err != nil {
		return fmt.Errorf("asker: consume replies: %w", err)
	}

	reprompt := make(chan struct{}, 1)
	go a.printAnswers(ctx, replies, reprompt)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(a.In)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(a.Out, "Connection ready.")
	fmt.Fprint(a.Out, prompt)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(a.Out, "\nBye.")
			return nil
		case <-reprompt:
			fmt.Fprint(a.Out, prompt)
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(a.Out, "\nBye.")
				return nil
			}
			a.submit(ctx, line, replyQueue)
			fmt.Fprint(a.Out, prompt)
		}
	}
}

func (a *Agent) submit(ctx context.Context, line, replyQueue string) {
	question := strings.TrimSpace(line)
	if question == "" {
		return
	}
	body := wire.Question{Question: question}.Encode()
	if err := a.bus.PublishQuestion(ctx, body, replyQueue, uuid.NewString()); err != nil {
		a.log.Warn("publish question failed", "error", err)
	}
}

func (a *Agent) printAnswers(ctx context.Context, replies <-chan bus.Delivery, reprompt chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-replies:
			if !ok {
				return
			}
			ans, err := wire.DecodeAnswer(d.Body)
			if err != nil {
				a.log.Warn("invalid answer", "error", err)
				continue
			}
			fmt.Fprintf(a.Out, "\n%s\nQuestion: %s\nAnswer: %s\n%s\n", banner, ans.Question, ans.Answer, banner)
			select {
			case reprompt <- struct{}{}:
			default:
			}
		}
	}
}
