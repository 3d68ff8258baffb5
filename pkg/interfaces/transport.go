package interfaces

import "livepoll/pkg/types"

// Fan-out groups
const (
	GroupTeachers = "teachers"
	GroupStudents = "students"
	GroupAll      = "all"
)

// Transport delivers coordinator output to connections
// ARCHITECTURAL DISCOVERY: Group addressing mirrors the room model of the
// presentation layer: one connection, all students, all teachers, or everyone
type Transport interface {
	// SendTo delivers a frame to one connection
	SendTo(connID string, message *types.OutboundMessage) error

	// Broadcast delivers a frame to every connection in a group
	Broadcast(group string, message *types.OutboundMessage)

	// Assign binds a connection to a role and the matching group
	Assign(connID, role, userID string) error

	// Release removes a connection from its role group without closing it
	Release(connID string)
}
