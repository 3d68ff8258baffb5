package types

import (
	"encoding/json"
	"time"
)

// Participant roles
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// Inbound command types
// ARCHITECTURAL DISCOVERY: Command names are the wire contract shared with the
// presentation layer; the router rejects anything outside this set
const (
	CommandTeacherJoin           = "teacher:join"
	CommandTeacherAskQuestion    = "teacher:ask-question"
	CommandTeacherKickStudent    = "teacher:kick-student"
	CommandTeacherRequestHistory = "teacher:request-history"
	CommandStudentJoin           = "student:join"
	CommandStudentAnswer         = "student:answer"
	CommandChatMessage           = "chat:message"
)

// Outbound event types
const (
	EventAck                 = "ack"
	EventError               = "error"
	EventTeacherWelcome      = "teacher:welcome"
	EventTeacherState        = "teacher:state"
	EventPollQuestion        = "poll:question"
	EventPollResults         = "poll:results"
	EventPollAnswer          = "poll:answer"
	EventPollAnswerConfirmed = "poll:answer-confirmed"
	EventPollHistory         = "poll:history"
	EventChatMessage         = "chat:message"
	EventStudentKicked       = "student:kicked"
)

// Envelope is a single inbound frame from a participant
// FUNCTIONAL DISCOVERY: AckID replaces per-emit callbacks; a command that
// carries one receives exactly one ack frame
type Envelope struct {
	Type    string          `json:"type"`
	AckID   string          `json:"ackId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OutboundMessage is a single outbound frame to a participant
type OutboundMessage struct {
	Type      string      `json:"type"`
	AckID     string      `json:"ackId,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewOutboundMessage stamps an event for delivery
func NewOutboundMessage(eventType string, payload interface{}) *OutboundMessage {
	return &OutboundMessage{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// NewAckMessage builds the single ack frame answering a command
func NewAckMessage(ackID string, payload interface{}) *OutboundMessage {
	message := NewOutboundMessage(EventAck, payload)
	message.AckID = ackID
	return message
}

// AckPayload is the body of an ack frame
type AckPayload struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// Option is one answer choice of a question.
// IsCorrect never leaves the server before the question is closed.
type Option struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	IsCorrect bool   `json:"isCorrect"`
}

// PublicOption is an option with correctness stripped
type PublicOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// PublicQuestion is the open question as participants see it
type PublicQuestion struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Duration  int            `json:"duration"`
	CreatedAt time.Time      `json:"createdAt"`
	ExpiresAt time.Time      `json:"expiresAt"`
	Options   []PublicOption `json:"options"`
}

// OptionResult is the tally for one option in a teacher-facing snapshot
type OptionResult struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	IsCorrect  bool   `json:"isCorrect"`
	Votes      int    `json:"votes"`
	Percentage int    `json:"percentage"`
}

// StudentAnswer is one row of the per-student breakdown
type StudentAnswer struct {
	StudentID   string    `json:"studentId"`
	Name        string    `json:"name"`
	OptionID    string    `json:"optionId"`
	OptionLabel string    `json:"optionLabel"`
	IsCorrect   bool      `json:"isCorrect"`
	AnsweredAt  time.Time `json:"answeredAt"`
}

// ResultsSnapshot is the immutable outcome of a closed question
// ARCHITECTURAL DISCOVERY: Snapshots are value objects; once built they are
// only ever copied, never mutated, so they can be shared with transport consumers
type ResultsSnapshot struct {
	ID             string          `json:"id"`
	Text           string          `json:"text"`
	CreatedAt      time.Time       `json:"createdAt"`
	ClosedAt       time.Time       `json:"closedAt"`
	Duration       int             `json:"duration"`
	CloseReason    string          `json:"closeReason"`
	TotalResponses int             `json:"totalResponses"`
	Options        []OptionResult  `json:"options"`
	Students       []StudentAnswer `json:"students,omitempty"`
}

// WithoutBreakdown returns a copy without the per-student rows
func (s ResultsSnapshot) WithoutBreakdown() ResultsSnapshot {
	s.Students = nil
	return s
}

// PublicOptionResult is the tally for one option in a student-facing view
type PublicOptionResult struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	Votes      int    `json:"votes"`
	Percentage int    `json:"percentage"`
}

// StudentResults is a closed question as one student sees it
type StudentResults struct {
	ID                string               `json:"id"`
	Text              string               `json:"text"`
	CreatedAt         time.Time            `json:"createdAt"`
	ClosedAt          time.Time            `json:"closedAt"`
	Duration          int                  `json:"duration"`
	TotalResponses    int                  `json:"totalResponses"`
	Options           []PublicOptionResult `json:"options"`
	CorrectOptionIDs  []string             `json:"correctOptionIds"`
	SelectedOptionID  string               `json:"selectedOptionId,omitempty"`
	AnsweredCorrectly *bool                `json:"answeredCorrectly,omitempty"`
}

// StudentView is the public identity handed back on join
type StudentView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// StudentSummary is one roster row for the teacher
type StudentSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	JoinedAt  time.Time `json:"joinedAt"`
	Kicked    bool      `json:"kicked"`
	Connected bool      `json:"connected"`
}

// ChatMessage is an accepted, immutable chat entry
type ChatMessage struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"authorId"`
	AuthorRole string    `json:"authorRole"`
	AuthorName string    `json:"authorName"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TeacherState is the full-state push to the teacher connection
type TeacherState struct {
	Students        []StudentSummary  `json:"students"`
	CurrentQuestion *PublicQuestion   `json:"currentQuestion"`
	PollHistory     []ResultsSnapshot `json:"pollHistory"`
	ChatHistory     []ChatMessage     `json:"chatHistory"`
}

// StudentJoinResponse is the ack body of a successful student:join
type StudentJoinResponse struct {
	OK               bool             `json:"ok"`
	Student          StudentView      `json:"student"`
	CurrentQuestion  *PublicQuestion  `json:"currentQuestion"`
	AnsweredOptionID string           `json:"answeredOptionId,omitempty"`
	PollHistory      []StudentResults `json:"pollHistory"`
	ChatHistory      []ChatMessage    `json:"chatHistory"`
}

// AnswerProgress tells the teacher how far the open question has got
type AnswerProgress struct {
	StudentID     string `json:"studentId"`
	OptionID      string `json:"optionId"`
	AnsweredCount int    `json:"answeredCount"`
	TotalStudents int    `json:"totalStudents"`
}

// AnswerConfirmation is sent to the submitting student
type AnswerConfirmation struct {
	QuestionID string `json:"questionId"`
	OptionID   string `json:"optionId"`
}

// KickNotice is sent to a removed student's connection
type KickNotice struct {
	StudentID string `json:"studentId"`
	Message   string `json:"message"`
}

// StatusSnapshot is the read-only view published after every coordinator event
type StatusSnapshot struct {
	CurrentQuestion *PublicQuestion   `json:"currentQuestion"`
	PollHistory     []ResultsSnapshot `json:"pollHistory"`
	TeacherOnline   bool              `json:"teacherOnline"`
	KnownStudents   int               `json:"knownStudents"`
	ActiveStudents  int               `json:"activeStudents"`
	AnsweredCount   int               `json:"answeredCount"`
	ChatMessages    int               `json:"chatMessages"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}
