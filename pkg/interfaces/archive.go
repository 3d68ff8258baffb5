package interfaces

import (
	"context"

	"livepoll/pkg/types"
)

// Archive keeps an out-of-band record of closed polls and chat traffic
// ARCHITECTURAL DISCOVERY: Write-behind only; nothing in the session is ever
// rebuilt from it, so an archive outage never changes session behaviour
type Archive interface {
	// StorePollResults records a closed question's teacher-facing snapshot
	StorePollResults(ctx context.Context, snapshot *types.ResultsSnapshot) error

	// StoreChatMessage records an accepted chat entry
	StoreChatMessage(ctx context.Context, message *types.ChatMessage) error

	// ListPollResults returns the most recent snapshots, newest first
	ListPollResults(ctx context.Context, limit int) ([]*types.ResultsSnapshot, error)

	// ListChatMessages returns the most recent chat entries, oldest first
	ListChatMessages(ctx context.Context, limit int) ([]*types.ChatMessage, error)

	// HealthCheck verifies database connectivity
	HealthCheck(ctx context.Context) error

	// Close flushes pending writes and closes the database
	Close() error
}
