// Package router turns inbound envelopes into coordinator commands.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"livepoll/internal/coordinator"
	"livepoll/pkg/interfaces"
	"livepoll/pkg/types"
)

// DefaultCommandTimeout bounds how long a connection's read loop waits on the coordinator
const DefaultCommandTimeout = 5 * time.Second

// Router implements interfaces.Router
// ARCHITECTURAL DISCOVERY: Pure dispatch logic without session state; every
// decision about the poll itself belongs to the coordinator
type Router struct {
	coordinator interfaces.Coordinator
	rateLimiter *RateLimiter
	timeout     time.Duration
}

// NewRouter creates a router allowing rateLimit commands per connection per minute
// FUNCTIONAL DISCOVERY: Dependency injection enables testing with a mock coordinator
func NewRouter(coordinator interfaces.Coordinator, rateLimit int) *Router {
	return &Router{
		coordinator: coordinator,
		rateLimiter: NewRateLimiter(rateLimit),
		timeout:     DefaultCommandTimeout,
	}
}

// RateLimiter exposes the limiter so the application can run its cleanup
func (r *Router) RateLimiter() *RateLimiter {
	return r.rateLimiter
}

// RouteCommand validates one envelope and hands it to the coordinator.
// Every declined command with an ack id receives exactly one {ok:false} ack.
func (r *Router) RouteCommand(ctx context.Context, conn interfaces.Connection, envelope *types.Envelope) error {
	req := types.Request{ConnID: conn.GetConnID(), AckID: envelope.AckID}

	if !types.IsValidCommandType(envelope.Type) {
		decline(conn, req, MessageUnknownCommand)
		return fmt.Errorf("%w: %q", types.ErrUnknownCommand, envelope.Type)
	}

	// TECHNICAL DISCOVERY: Rate limiting applied before any decoding or queueing
	if !r.rateLimiter.Allow(req.ConnID) {
		decline(conn, req, MessageRateLimited)
		return ErrRateLimitExceeded
	}

	if message, ok := canSendCommand(conn.GetRole(), envelope.Type); !ok {
		decline(conn, req, message)
		return ErrUnauthorizedCommand
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := r.dispatch(ctx, conn, req, envelope)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, types.ErrInvalidPayload):
		decline(conn, req, MessageInvalidPayload)
		return err
	case errors.Is(err, coordinator.ErrEventQueueFull), errors.Is(err, coordinator.ErrCoordinatorNotRunning):
		// The loop never ran the command, so nobody else will ack it
		decline(conn, req, coordinator.MessageBusy)
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		// Still queued; the coordinator acks when it gets there
		return err
	default:
		// Domain rejection, already acked by the coordinator
		return nil
	}
}

func (r *Router) dispatch(ctx context.Context, conn interfaces.Connection, req types.Request, envelope *types.Envelope) error {
	switch envelope.Type {
	case types.CommandTeacherJoin:
		_, err := r.coordinator.TeacherJoin(ctx, req)
		return err

	case types.CommandTeacherAskQuestion:
		var payload types.AskQuestionPayload
		if err := decodePayload(envelope.Payload, &payload); err != nil {
			return err
		}
		_, err := r.coordinator.AskQuestion(ctx, req, payload)
		return err

	case types.CommandTeacherKickStudent:
		var payload types.KickStudentPayload
		if err := decodePayload(envelope.Payload, &payload); err != nil {
			return err
		}
		return r.coordinator.KickStudent(ctx, req, payload)

	case types.CommandTeacherRequestHistory:
		_, err := r.coordinator.RequestHistory(ctx, req)
		return err

	case types.CommandStudentJoin:
		var payload types.StudentJoinPayload
		if err := decodePayload(envelope.Payload, &payload); err != nil {
			return err
		}
		_, err := r.coordinator.StudentJoin(ctx, req, payload)
		return err

	case types.CommandStudentAnswer:
		var payload types.AnswerPayload
		if err := decodePayload(envelope.Payload, &payload); err != nil {
			return err
		}
		return r.coordinator.Answer(ctx, req, payload)

	case types.CommandChatMessage:
		var payload types.ChatPayload
		if err := decodePayload(envelope.Payload, &payload); err != nil {
			return err
		}
		// The declared role comes from the join, not from the client
		payload.AuthorRole = conn.GetRole()
		_, err := r.coordinator.Chat(ctx, req, payload)
		return err

	default:
		return types.ErrUnknownCommand
	}
}

// Disconnect forgets the connection's rate window and tells the coordinator
func (r *Router) Disconnect(connID string) error {
	r.rateLimiter.Forget(connID)
	return r.coordinator.Disconnect(connID)
}

// decodePayload treats a missing payload as an empty object
func decodePayload(raw json.RawMessage, target interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidPayload, err)
	}
	return nil
}

func decline(conn interfaces.Connection, req types.Request, message string) {
	if req.AckID == "" {
		return
	}
	ack := types.NewAckMessage(req.AckID, types.AckPayload{OK: false, Message: message})
	if err := conn.WriteJSON(ack); err != nil {
		log.Printf("Failed to send ack to conn=%s: %v", req.ConnID, err)
	}
}

// canSendCommand gates commands by the role the connection joined as.
// Joins are open to every connection.
func canSendCommand(role, command string) (string, bool) {
	switch command {
	case types.CommandTeacherJoin, types.CommandStudentJoin:
		return "", true
	case types.CommandTeacherAskQuestion, types.CommandTeacherKickStudent, types.CommandTeacherRequestHistory:
		return MessageTeacherOnly, role == types.RoleTeacher
	case types.CommandStudentAnswer:
		return MessageStudentOnly, role == types.RoleStudent
	case types.CommandChatMessage:
		return MessageStudentOnly, role == types.RoleTeacher || role == types.RoleStudent
	default:
		return MessageUnknownCommand, false
	}
}
