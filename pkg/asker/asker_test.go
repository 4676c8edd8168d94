package asker

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/odvcencio/hivemind/pkg/bus"
	"github.com/odvcencio/hivemind/pkg/logging"
	"github.com/odvcencio/hivemind/pkg/wire"
)

// syncBuffer lets the test read terminal output while the prompt loop
// and the answer printer both write to it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type askerHarness struct {
	bus  *bus.MemoryBus
	in   *io.PipeWriter
	out  *syncBuffer
	done chan error
}

func startAsker(t *testing.T) *askerHarness {
	t.Helper()

	pr, pw := io.Pipe()
	h := &askerHarness{
		bus:  bus.NewMemoryBus(),
		in:   pw,
		out:  &syncBuffer{},
		done: make(chan error, 1),
	}

	agent := New(h.bus, logging.Discard())
	agent.In = pr
	agent.Out = h.out

	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.done <- agent.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		pw.Close()
		select {
		case err := <-h.done:
			if err != nil {
				t.Errorf("Run returned %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Asker did not shut down")
		}
		h.bus.Close()
	})
	return h
}

func (h *askerHarness) typeLine(t *testing.T, line string) {
	t.Helper()
	if _, err := io.WriteString(h.in, line+"\n"); err != nil {
		t.Fatalf("Write to stdin pipe failed: %v", err)
	}
}

func (h *askerHarness) waitOutput(t *testing.T, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(h.out.String(), want) {
		if time.Now().After(deadline) {
			t.Fatalf("Timeout waiting for output %q, have:\n%s", want, h.out.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitDelivery(t *testing.T, ch <-chan bus.Delivery, what string) bus.Delivery {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatalf("Timeout waiting for %s", what)
		return bus.Delivery{}
	}
}

func TestAsker_PublishesQuestionWithReplyMetadata(t *testing.T) {
	h := startAsker(t)

	questions, err := h.bus.ConsumeAskerQuestions(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	h.typeLine(t, "  What is Go?  ")

	d := waitDelivery(t, questions, "published question")
	q, err := wire.DecodeQuestion(d.Body)
	if err != nil {
		t.Fatalf("Question body invalid: %v", err)
	}
	if q.Question != "What is Go?" {
		t.Errorf("Expected trimmed question, got %q", q.Question)
	}
	if d.ReplyTo == "" {
		t.Error("Question published without a reply queue")
	}
	if d.CorrelationID == "" {
		t.Error("Question published without a correlation id")
	}
}

func TestAsker_FreshCorrelationIDPerQuestion(t *testing.T) {
	h := startAsker(t)

	questions, _ := h.bus.ConsumeAskerQuestions(context.Background())

	h.typeLine(t, "first")
	first := waitDelivery(t, questions, "first question")
	h.typeLine(t, "second")
	second := waitDelivery(t, questions, "second question")

	if first.ReplyTo != second.ReplyTo {
		t.Errorf("Reply queue changed between questions: %q vs %q", first.ReplyTo, second.ReplyTo)
	}
	if first.CorrelationID == second.CorrelationID {
		t.Errorf("Correlation id reused: %q", first.CorrelationID)
	}
}

func TestAsker_PrintsAnswer(t *testing.T) {
	h := startAsker(t)
	ctx := context.Background()

	questions, _ := h.bus.ConsumeAskerQuestions(ctx)

	h.typeLine(t, "capital of france?")
	d := waitDelivery(t, questions, "published question")

	body := wire.Answer{Question: "capital of france?", Answer: "Paris"}.Encode()
	if err := h.bus.Reply(ctx, d.ReplyTo, d.CorrelationID, body); err != nil {
		t.Fatalf("Reply failed: %v", err)
	}

	h.waitOutput(t, "Question: capital of france?")
	h.waitOutput(t, "Answer: Paris")
}

func TestAsker_IgnoresMalformedAnswer(t *testing.T) {
	h := startAsker(t)
	ctx := context.Background()

	questions, _ := h.bus.ConsumeAskerQuestions(ctx)

	h.typeLine(t, "foo")
	d := waitDelivery(t, questions, "published question")

	if err := h.bus.Reply(ctx, d.ReplyTo, d.CorrelationID, []byte("not-json")); err != nil {
		t.Fatalf("Reply failed: %v", err)
	}
	body := wire.Answer{Question: "foo", Answer: "bar"}.Encode()
	if err := h.bus.Reply(ctx, d.ReplyTo, d.CorrelationID, body); err != nil {
		t.Fatalf("Reply failed: %v", err)
	}

	h.waitOutput(t, "Answer: bar")
	if strings.Contains(h.out.String(), "not-json") {
		t.Error("Malformed answer leaked into the terminal")
	}
}

func TestAsker_SkipsBlankLines(t *testing.T) {
	h := startAsker(t)

	questions, _ := h.bus.ConsumeAskerQuestions(context.Background())

	h.typeLine(t, "   ")
	h.typeLine(t, "real question")

	d := waitDelivery(t, questions, "published question")
	q, _ := wire.DecodeQuestion(d.Body)
	if q.Question != "real question" {
		t.Errorf("Blank line was published, got %q first", q.Question)
	}

	select {
	case d := <-questions:
		t.Fatalf("Unexpected extra question: %q", string(d.Body))
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAsker_ExitsOnInputEOF(t *testing.T) {
	pr, pw := io.Pipe()
	b := bus.NewMemoryBus()
	defer b.Close()

	agent := New(b, logging.Discard())
	agent.In = pr
	agent.Out = &syncBuffer{}

	done := make(chan error, 1)
	go func() { done <- agent.Run(context.Background()) }()

	pw.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Asker did not exit on EOF")
	}
}
