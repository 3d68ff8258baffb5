package interfaces

import (
	"context"

	"livepoll/pkg/types"
)

// Router dispatches one inbound envelope from a connection
// ARCHITECTURAL DISCOVERY: The transport only decodes frames; gating, rate
// limiting and acks for undeliverable commands belong to the router
type Router interface {
	RouteCommand(ctx context.Context, conn Connection, envelope *types.Envelope) error
}
