package memory

// Envelope is a unit of work flowing through the agent mailbox. The set
// is closed: an envelope is either an AskerQuestion or a BrainerAnswer,
// dispatched by a single type switch in the coordinator.
type Envelope interface {
	envelope()
}

// AskerQuestion is an asker waiting on a question. The question text is
// raw; the coordinator normalizes it before touching the store.
type AskerQuestion struct {
	Question      string
	ReplyTo       string
	CorrelationID string
}

// BrainerAnswer is a brainer's answer to a broadcast question.
type BrainerAnswer struct {
	Question string
	Answer   string
}

func (AskerQuestion) envelope() {}
func (BrainerAnswer) envelope() {}
