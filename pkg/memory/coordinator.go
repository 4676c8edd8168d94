package memory

import (
	"context"

	"github.com/odvcencio/hivemind/pkg/store"
	"github.com/odvcencio/hivemind/pkg/wire"
)

// dispatch handles one envelope. Failures are logged and confined to
// the envelope: the store already was or becomes the source of truth,
// and a missed publish surfaces as an asker timeout.
func (a *Agent) dispatch(ctx context.Context, env Envelope) {
	switch e := env.(type) {
	case AskerQuestion:
		a.handleAskerQuestion(ctx, e)
	case BrainerAnswer:
		a.handleBrainerAnswer(ctx, e)
	}
}

// handleAskerQuestion folds the asker into the question record, then
// either replies from the cached answer or forwards the question to
// brainers. A duplicate broadcast is harmless: the store, not the
// broadcast, deduplicates at answer time.
func (a *Agent) handleAskerQuestion(ctx context.Context, q AskerQuestion) {
	rec, err := a.store.EnqueueAsker(ctx, q.Question, q.ReplyTo, q.CorrelationID)
	if err != nil {
		a.log.Warn("dropping asker question", "error", err, "reply_to", q.ReplyTo)
		return
	}

	if rec.HasAnswer() {
		metricCacheHits.Inc()
		a.log.Info("answering from cache", "question", rec.Question)
		a.reply(ctx, q.ReplyTo, q.CorrelationID, rec)
		return
	}

	a.log.Info("forwarding question to brainers", "question", rec.Question)
	body := wire.Question{Question: rec.Question}.Encode()
	if err := a.bus.BroadcastQuestion(ctx, body); err != nil {
		a.log.Warn("broadcast failed", "question", rec.Question, "error", err)
		return
	}
	metricBroadcasts.Inc()
}

// handleBrainerAnswer commits the answer and fans it out to every asker
// that was pending before the commit. A losing duplicate answer comes
// back with no pending askers, so the fan-out happens exactly once per
// question.
func (a *Agent) handleBrainerAnswer(ctx context.Context, ans BrainerAnswer) {
	rec, err := a.store.SetAnswer(ctx, ans.Question, ans.Answer)
	if err != nil {
		a.log.Warn("dropping brainer answer", "error", err)
		return
	}

	if len(rec.PendingAskers) == 0 {
		return
	}
	a.log.Info("fanning out answer", "question", rec.Question, "askers", len(rec.PendingAskers))
	for _, p := range rec.PendingAskers {
		a.reply(ctx, p.ReplyTo, p.CorrelationID, rec)
	}
}

func (a *Agent) reply(ctx context.Context, replyTo, correlationID string, rec store.Record) {
	body := wire.Answer{Question: rec.Question, Answer: rec.Answer}.Encode()
	if err := a.bus.Reply(ctx, replyTo, correlationID, body); err != nil {
		a.log.Warn("reply failed", "reply_to", replyTo, "error", err)
		return
	}
	metricReplies.Inc()
}
