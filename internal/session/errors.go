package session

import "errors"

// Roster error types
var (
	ErrStudentRemoved  = errors.New("student has been removed from the session")
	ErrStudentNotFound = errors.New("student not found")
)
