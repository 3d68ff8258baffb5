package interfaces

// Connection represents a participant's transport link
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// ensures clean boundaries between WebSocket infrastructure and session logic
type Connection interface {
	// WriteJSON queues a JSON frame for the participant (thread-safe, non-blocking)
	WriteJSON(v interface{}) error

	// Close closes the connection and cleans up resources
	Close() error

	// GetConnID returns the server-assigned connection id
	GetConnID() string

	// GetUserID returns the participant id bound by a successful join
	GetUserID() string

	// GetRole returns "teacher", "student" or "" before any join
	GetRole() string

	// HasJoined returns true once a join command bound a role to the connection
	HasJoined() bool

	// SetCredentials binds the participant id and role after a join
	SetCredentials(userID, role string) error
}
