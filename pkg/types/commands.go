package types

import (
	"encoding/json"
	"strconv"
	"strings"
)

// DecodeEnvelope parses one inbound frame. A frame without a type is rejected.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	if envelope.Type == "" {
		return nil, ErrEmptyEnvelope
	}
	return &envelope, nil
}

// Seconds is a duration as the client sent it. Numbers and numeric strings
// decode; anything else decodes to zero so the default applies.
type Seconds float64

// UnmarshalJSON accepts 45, 45.5, "45" and treats other values as zero
func (s *Seconds) UnmarshalJSON(data []byte) error {
	var number float64
	if err := json.Unmarshal(data, &number); err == nil {
		*s = Seconds(number)
		return nil
	}

	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err == nil {
			*s = Seconds(parsed)
			return nil
		}
	}

	*s = 0
	return nil
}

// OptionInput is one option as the teacher submits it
type OptionInput struct {
	ID        string `json:"id,omitempty"`
	Label     string `json:"label"`
	IsCorrect bool   `json:"isCorrect"`
}

// AskQuestionPayload is the body of teacher:ask-question.
// Duration is in seconds; zero means "use the default".
type AskQuestionPayload struct {
	Text     string        `json:"text"`
	Options  []OptionInput `json:"options"`
	Duration Seconds       `json:"duration"`
}

// KickStudentPayload is the body of teacher:kick-student
type KickStudentPayload struct {
	StudentID string `json:"studentId"`
}

// StudentJoinPayload is the body of student:join
type StudentJoinPayload struct {
	Name      string `json:"name"`
	StudentID string `json:"studentId,omitempty"`
}

// AnswerPayload is the body of student:answer
type AnswerPayload struct {
	StudentID string `json:"studentId"`
	OptionID  string `json:"optionId"`
}

// ChatPayload is the body of chat:message
type ChatPayload struct {
	AuthorID   string `json:"authorId,omitempty"`
	AuthorRole string `json:"authorRole,omitempty"`
	AuthorName string `json:"authorName,omitempty"`
	Content    string `json:"content"`
}

// Request identifies the connection a command arrived on and the ack it expects
type Request struct {
	ConnID string
	AckID  string
}
