package brainer

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

type brainerHarness struct {
	bus  *bus.MemoryBus
	in   *io.PipeWriter
	out  *syncBuffer
	done chan error
}

func startBrainer(t *testing.T) *brainerHarness {
	t.Helper()

	pr, pw := io.Pipe()
	h := &brainerHarness{
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
			t.Error("Brainer did not shut down")
		}
		h.bus.Close()
	})

	// Broadcasts only reach consumers bound before the publish.
	h.waitOutput(t, "Waiting for questions")
	return h
}

func (h *brainerHarness) typeLine(t *testing.T, line string) {
	t.Helper()
	if _, err := io.WriteString(h.in, line+"\n"); err != nil {
		t.Fatalf("Write to stdin pipe failed: %v", err)
	}
}

func (h *brainerHarness) broadcast(t *testing.T, question string) {
	t.Helper()
	body := wire.Question{Question: question}.Encode()
	if err := h.bus.BroadcastQuestion(context.Background(), body); err != nil {
		t.Fatalf("BroadcastQuestion failed: %v", err)
	}
}

func (h *brainerHarness) waitOutput(t *testing.T, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(h.out.String(), want) {
		if time.Now().After(deadline) {
			t.Fatalf("Timeout waiting for output %q, have:\n%s", want, h.out.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (h *brainerHarness) waitAcked(t *testing.T, n int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.bus.Acked() < n {
		if time.Now().After(deadline) {
			t.Fatalf("Timeout waiting for %d acks, have %d", n, h.bus.Acked())
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

func expectSilence(t *testing.T, ch <-chan bus.Delivery, what string) {
	t.Helper()
	select {
	case d := <-ch:
		t.Fatalf("Unexpected %s: %q", what, string(d.Body))
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBrainer_AnswersQuestion(t *testing.T) {
	h := startBrainer(t)

	answers, err := h.bus.ConsumeBrainerAnswers(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	h.broadcast(t, "capital of france?")
	h.waitOutput(t, "Question: capital of france?")
	h.typeLine(t, "Paris")

	d := waitDelivery(t, answers, "published answer")
	ans, err := wire.DecodeAnswer(d.Body)
	if err != nil {
		t.Fatalf("Answer body invalid: %v", err)
	}
	if ans.Question != "capital of france?" || ans.Answer != "Paris" {
		t.Errorf("Unexpected answer: %+v", ans)
	}
}

func TestBrainer_EmptyAnswerSkips(t *testing.T) {
	h := startBrainer(t)

	answers, _ := h.bus.ConsumeBrainerAnswers(context.Background())

	h.broadcast(t, "foo")
	h.waitOutput(t, "Question: foo")
	h.typeLine(t, "   ")

	h.waitAcked(t, 1)
	expectSilence(t, answers, "answer for a skipped question")
}

func TestBrainer_AcksBeforeHumanAnswers(t *testing.T) {
	h := startBrainer(t)

	h.broadcast(t, "foo")
	h.waitOutput(t, "Question: foo")

	// No input typed yet; the delivery must already be acknowledged.
	h.waitAcked(t, 1)
	h.typeLine(t, "bar")
}

func TestBrainer_MalformedQuestionDropped(t *testing.T) {
	h := startBrainer(t)

	answers, _ := h.bus.ConsumeBrainerAnswers(context.Background())

	if err := h.bus.BroadcastQuestion(context.Background(), []byte("not-json")); err != nil {
		t.Fatal(err)
	}
	h.waitAcked(t, 1)
	if strings.Contains(h.out.String(), "Answer (enter to skip)") {
		t.Error("Malformed question prompted the human")
	}

	// The brainer keeps serving after the garbage.
	h.broadcast(t, "still alive?")
	h.waitOutput(t, "Question: still alive?")
	h.typeLine(t, "yes")
	waitDelivery(t, answers, "answer after malformed question")
}
