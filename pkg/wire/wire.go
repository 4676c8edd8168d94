// Package wire defines the JSON message bodies and the broker naming
// shared by every hivemind role. Askers, memories, and brainers declare
// against the same constants so processes can start in any order.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// AskerQuestionQueue is the durable queue askers publish questions to
	// and memories consume from.
	AskerQuestionQueue = "hivemind.asker.questions"

	// BrainerExchange is the direct exchange carrying question broadcasts
	// from memories to brainers and answers back.
	BrainerExchange = "hivemind.brainer"

	// QuestionKey routes question broadcasts to brainers.
	QuestionKey = "question"

	// AnswerKey routes brainer answers back to memories.
	AnswerKey = "answer"

	// ContentType is set on every published message.
	ContentType = "application/json"
)

var (
	// ErrMissingQuestion is returned when a decoded body has no question.
	ErrMissingQuestion = errors.New("wire: missing question")

	// ErrMissingAnswer is returned when a decoded body has no answer.
	ErrMissingAnswer = errors.New("wire: missing answer")
)

// Question is the body of an asker question and of a brainer broadcast.
type Question struct {
	Question string `json:"question"`
}

// Answer is the body of a brainer answer and of a reply to an asker.
type Answer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Encode renders the question body as JSON.
func (q Question) Encode() []byte {
	b, _ := json.Marshal(q)
	return b
}

// Encode renders the answer body as JSON.
func (a Answer) Encode() []byte {
	b, _ := json.Marshal(a)
	return b
}

// DecodeQuestion parses a question body, rejecting empty questions.
func DecodeQuestion(body []byte) (Question, error) {
	var q Question
	if err := json.Unmarshal(body, &q); err != nil {
		return Question{}, fmt.Errorf("wire: decode question: %w", err)
	}
	if q.Question == "" {
		return Question{}, ErrMissingQuestion
	}
	return q, nil
}

// DecodeAnswer parses an answer body. Both fields must be non-empty.
func DecodeAnswer(body []byte) (Answer, error) {
	var a Answer
	if err := json.Unmarshal(body, &a); err != nil {
		return Answer{}, fmt.Errorf("wire: decode answer: %w", err)
	}
	if a.Question == "" {
		return Answer{}, ErrMissingQuestion
	}
	if a.Answer == "" {
		return Answer{}, ErrMissingAnswer
	}
	return a, nil
}
