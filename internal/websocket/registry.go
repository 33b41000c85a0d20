package websocket

import (
	"log"
	"sync"
)

// Registry tracks open tabs and the session each tab's coordinator is bound to
// ARCHITECTURAL DISCOVERY: Pure connection bookkeeping; session membership
// is mirrored from coordinator status callbacks, never decided here
type Registry struct {
	mu          sync.RWMutex                      // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy lookup patterns
	connections map[string]*Connection            // connID -> Connection
	sessions    map[string]map[string]*Connection // sessionID -> connID -> Connection
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		sessions:    make(map[string]map[string]*Connection),
	}
}

// Register adds a connection that is not yet bound to any session
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ID()]; exists {
		return ErrDuplicateConnection
	}
	r.connections[conn.ID()] = conn
	if sessionID := conn.SessionID(); sessionID != "" {
		r.addToSession(sessionID, conn)
	}
	return nil
}

// Unregister removes a connection from all maps; idempotent
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if registered, exists := r.connections[conn.ID()]; !exists || registered != conn {
		return
	}
	delete(r.connections, conn.ID())
	r.removeFromSession(conn.SessionID(), conn)
}

// SetSession moves conn to sessionID; an empty sessionID detaches it
func (r *Registry) SetSession(conn *Connection, sessionID string) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	previous := conn.SessionID()
	if previous == sessionID {
		return
	}
	conn.setSessionID(sessionID)

	// Unregistered connections keep their label but never enter session maps
	if _, exists := r.connections[conn.ID()]; !exists {
		return
	}
	r.removeFromSession(previous, conn)
	if sessionID != "" {
		r.addToSession(sessionID, conn)
	}
}

func (r *Registry) addToSession(sessionID string, conn *Connection) {
	if r.sessions[sessionID] == nil {
		r.sessions[sessionID] = make(map[string]*Connection)
	}
	r.sessions[sessionID][conn.ID()] = conn
}

// TECHNICAL DISCOVERY: Clean up empty maps to prevent memory leaks
func (r *Registry) removeFromSession(sessionID string, conn *Connection) {
	if sessionID == "" {
		return
	}
	if members, exists := r.sessions[sessionID]; exists {
		delete(members, conn.ID())
		if len(members) == 0 {
			delete(r.sessions, sessionID)
		}
	}
}

// Get returns the connection with the given tab ID
func (r *Registry) Get(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.connections[connID]
	return conn, exists
}

// SessionConnections returns all tabs bound to a session
func (r *Registry) SessionConnections(sessionID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.sessions[sessionID]
	connections := make([]*Connection, 0, len(members))
	for _, conn := range members {
		connections = append(connections, conn)
	}
	return connections
}

// SessionConnectionCount returns how many tabs are bound to a session
func (r *Registry) SessionConnectionCount(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[sessionID])
}

// UserConnections returns every open tab of a user
func (r *Registry) UserConnections(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var connections []*Connection
	for _, conn := range r.connections {
		if conn.UserID() == userID {
			connections = append(connections, conn)
		}
	}
	return connections
}

// GetStats returns registry statistics for monitoring
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.connections),
		"active_sessions":   len(r.sessions),
	}
}

// CloseAll closes every registered socket; read pumps then unregister them
func (r *Registry) CloseAll() {
	r.mu.RLock()
	connections := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		connections = append(connections, conn)
	}
	r.mu.RUnlock()

	for _, conn := range connections {
		if err := conn.Close(); err != nil {
			log.Printf("Failed to close connection: id=%s err=%v", conn.ID(), err)
		}
	}
}
