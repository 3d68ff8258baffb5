package coordinator

import (
	"errors"

	"livepoll/internal/poll"
	"livepoll/internal/session"
)

// Coordinator error types
var (
	ErrCoordinatorAlreadyRunning = errors.New("coordinator is already running")
	ErrCoordinatorNotRunning     = errors.New("coordinator is not running")
	ErrEventQueueFull            = errors.New("coordinator event queue is full")
	ErrNotAllowed                = errors.New("participant cannot answer")
	ErrEmptyMessage              = errors.New("chat message is empty")
)

// Client-facing rejection messages
const (
	MessageAlreadyOpen     = "Wait for the current question to finish before asking a new one."
	MessageInvalidQuestion = "Add a question and at least two options."
	MessageTooManyOptions  = "Too many options for one question."
	MessageRemoved         = "You have been removed from the poll."
	MessageNotAllowed      = "You cannot answer right now."
	MessageNotOpen         = "No active question currently."
	MessageAlreadyAnswered = "Answer already submitted."
	MessageUnknownOption   = "Option not found."
	MessageEmptyChat       = "Message is empty."
	MessageBusy            = "Server busy, try again."
)

// RejectionMessage maps a command error to the text shown to the participant
func RejectionMessage(err error) string {
	switch {
	case errors.Is(err, poll.ErrAlreadyOpen):
		return MessageAlreadyOpen
	case errors.Is(err, poll.ErrInvalidQuestion):
		return MessageInvalidQuestion
	case errors.Is(err, poll.ErrTooManyOptions):
		return MessageTooManyOptions
	case errors.Is(err, session.ErrStudentRemoved):
		return MessageRemoved
	case errors.Is(err, ErrNotAllowed):
		return MessageNotAllowed
	case errors.Is(err, poll.ErrNotOpen):
		return MessageNotOpen
	case errors.Is(err, poll.ErrAlreadyAnswered):
		return MessageAlreadyAnswered
	case errors.Is(err, poll.ErrUnknownOption):
		return MessageUnknownOption
	case errors.Is(err, ErrEmptyMessage):
		return MessageEmptyChat
	case errors.Is(err, ErrEventQueueFull), errors.Is(err, ErrCoordinatorNotRunning):
		return MessageBusy
	default:
		return err.Error()
	}
}
