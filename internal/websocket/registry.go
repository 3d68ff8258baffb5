package websocket

import (
	"encoding/json"
	"log"
	"sync"

	"livepoll/pkg/interfaces"
	"livepoll/pkg/types"
)

// Registry tracks live connections and their role groups. It is the
// coordinator's Transport.
// ARCHITECTURAL DISCOVERY: Pure connection management without session logic
// maintains clean separation between connection tracking and the coordinator
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection // connID -> Connection
	teachers    map[string]*Connection // connID -> Connection
	students    map[string]*Connection // connID -> Connection
}

// NewRegistry creates a new connection registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		teachers:    make(map[string]*Connection),
		students:    make(map[string]*Connection),
	}
}

// RegisterConnection adds a freshly upgraded connection with no role yet
func (r *Registry) RegisterConnection(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.GetConnID()]; exists {
		return ErrDuplicateConnection
	}
	r.connections[conn.GetConnID()] = conn
	return nil
}

// UnregisterConnection removes a connection from every map.
// RACE CONDITION FIX: Only removes the connection if it matches the one registered
func (r *Registry) UnregisterConnection(conn *Connection) {
	if conn == nil {
		return
	}

	connID := conn.GetConnID()
	r.mu.Lock()
	defer r.mu.Unlock()

	if registered, exists := r.connections[connID]; !exists || registered != conn {
		return
	}
	delete(r.connections, connID)
	delete(r.teachers, connID)
	delete(r.students, connID)
}

// GetConnection returns a registered connection by id
func (r *Registry) GetConnection(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.connections[connID]
	return conn, exists
}

// SendTo queues a frame for one connection
func (r *Registry) SendTo(connID string, message *types.OutboundMessage) error {
	conn, exists := r.GetConnection(connID)
	if !exists {
		return interfaces.ErrConnectionNotFound
	}
	return conn.WriteJSON(message)
}

// Broadcast queues one encoded frame for every connection in group.
// Slow receivers lose the frame; the rest are unaffected.
func (r *Registry) Broadcast(group string, message *types.OutboundMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("Failed to encode %s broadcast: %v", message.Type, err)
		return
	}

	for _, conn := range r.groupMembers(group) {
		if err := conn.writeRaw(data); err != nil {
			log.Printf("Dropped %s for conn=%s: %v", message.Type, conn.GetConnID(), err)
		}
	}
}

func (r *Registry) groupMembers(group string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var source map[string]*Connection
	switch group {
	case interfaces.GroupAll:
		source = r.connections
	case interfaces.GroupTeachers:
		source = r.teachers
	case interfaces.GroupStudents:
		source = r.students
	default:
		return nil
	}

	members := make([]*Connection, 0, len(source))
	for _, conn := range source {
		members = append(members, conn)
	}
	return members
}

// Assign moves a connection into the group for role and records its credentials
func (r *Registry) Assign(connID, role, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.connections[connID]
	if !exists {
		return interfaces.ErrConnectionNotFound
	}

	delete(r.teachers, connID)
	delete(r.students, connID)
	switch role {
	case types.RoleTeacher:
		r.teachers[connID] = conn
	case types.RoleStudent:
		r.students[connID] = conn
	default:
		return ErrUnknownGroup
	}
	return conn.SetCredentials(userID, role)
}

// Release drops a connection from its role group and clears its credentials.
// The socket stays open.
func (r *Registry) Release(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.connections[connID]
	if !exists {
		return
	}
	delete(r.teachers, connID)
	delete(r.students, connID)
	conn.ClearCredentials()
}

// GetStats returns registry statistics for monitoring
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.connections),
		"teachers":          len(r.teachers),
		"students":          len(r.students),
	}
}

// CloseAll closes every live connection. Read loops then unregister them.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			log.Printf("Failed to close connection %s: %v", conn.GetConnID(), err)
		}
	}
	return len(conns)
}
