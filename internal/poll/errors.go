package poll

import "errors"

// Lifecycle and ledger rejections. None of them change state.
var (
	ErrAlreadyOpen     = errors.New("a question is already open")
	ErrInvalidQuestion = errors.New("question needs text and at least two options")
	ErrTooManyOptions  = errors.New("question has too many options")
	ErrNotOpen         = errors.New("no question is open")
	ErrAlreadyAnswered = errors.New("answer already submitted")
	ErrUnknownOption   = errors.New("option not found")
)
