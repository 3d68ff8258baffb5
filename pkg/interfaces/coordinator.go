package interfaces

import (
	"context"

	"livepoll/pkg/types"
)

// Coordinator is the command surface of the session coordinator
// ARCHITECTURAL DISCOVERY: Context-first design pattern ensures callers can
// abandon a wait without affecting the serial event loop
type Coordinator interface {
	TeacherJoin(ctx context.Context, req types.Request) (*types.TeacherState, error)
	AskQuestion(ctx context.Context, req types.Request, payload types.AskQuestionPayload) (*types.PublicQuestion, error)
	KickStudent(ctx context.Context, req types.Request, payload types.KickStudentPayload) error
	RequestHistory(ctx context.Context, req types.Request) ([]types.ResultsSnapshot, error)
	StudentJoin(ctx context.Context, req types.Request, payload types.StudentJoinPayload) (*types.StudentJoinResponse, error)
	Answer(ctx context.Context, req types.Request, payload types.AnswerPayload) error
	Chat(ctx context.Context, req types.Request, payload types.ChatPayload) (*types.ChatMessage, error)
	Disconnect(connID string) error

	// Status returns the latest published read-only snapshot
	Status() *types.StatusSnapshot
}
