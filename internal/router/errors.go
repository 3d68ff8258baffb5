package router

import "errors"

// Router error types
var (
	ErrUnauthorizedCommand = errors.New("connection not authorized to send this command")
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")
)

// Client-facing decline messages
const (
	MessageUnknownCommand = "Unknown command"
	MessageInvalidPayload = "Invalid payload"
	MessageRateLimited    = "Too many requests, slow down."
	MessageTeacherOnly    = "Join as the teacher first."
	MessageStudentOnly    = "Join the poll first."
)
