package memory

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricQuestionsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hivemind",
		Subsystem: "memory",
		Name:      "asker_questions_total",
		Help:      "Asker questions accepted into the mailbox.",
	})
	metricAnswersConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hivemind",
		Subsystem: "memory",
		Name:      "brainer_answers_total",
		Help:      "Brainer answers accepted into the mailbox.",
	})
	metricDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hivemind",
		Subsystem: "memory",
		Name:      "dropped_messages_total",
		Help:      "Deliveries acknowledged and dropped as malformed.",
	})
	metricCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hivemind",
		Subsystem: "memory",
		Name:      "cache_hits_total",
		Help:      "Questions answered straight from the store.",
	})
	metricBroadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hivemind",
		Subsystem: "memory",
		Name:      "question_broadcasts_total",
		Help:      "Questions forwarded to brainers.",
	})
	metricReplies = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hivemind",
		Subsystem: "memory",
		Name:      "asker_replies_total",
		Help:      "Replies published to asker reply queues.",
	})
)
