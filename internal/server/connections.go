package server

import (
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Connection is the registry's view of one live socket: the transport
// handle plus whatever session attributes have been bound so far.
type Connection struct {
	ID       string
	Socket   *websocket.Conn
	PlayerID int64 // 0 until a player registers on this connection
	RoomCode string
}

// ConnectionRegistry maps connection ids to live sockets. At most one
// connection is bound to a given player id at a time.
type ConnectionRegistry struct {
	connections map[string]*Connection
	byPlayer    map[int64]string // playerID → connectionID
	mu          sync.RWMutex
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		connections: make(map[string]*Connection),
		byPlayer:    make(map[int64]string),
	}
}

// Register assigns the socket a fresh connection id and tracks it.
func (cr *ConnectionRegistry) Register(socket *websocket.Conn) string {
	id := uuid.New().String()

	cr.mu.Lock()
	defer cr.mu.Unlock()
	cr.connections[id] = &Connection{ID: id, Socket: socket}

	return id
}

// Lookup returns a copy of the connection's attributes. Unknown ids report
// ok=false, never an error.
func (cr *ConnectionRegistry) Lookup(connectionID string) (Connection, bool) {
	cr.mu.RLock()
	defer cr.mu.RUnlock()

	conn, ok := cr.connections[connectionID]
	if !ok {
		return Connection{}, false
	}
	return *conn, true
}

// BindPlayer associates a player with the connection. Unknown connection
// ids are a no-op.
func (cr *ConnectionRegistry) BindPlayer(connectionID string, playerID int64) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	conn, ok := cr.connections[connectionID]
	if !ok {
		return
	}
	conn.PlayerID = playerID
	cr.byPlayer[playerID] = connectionID
}

// BindRoom records which lobby room the connection is subscribed to. Pass
// an empty code to clear the binding.
func (cr *ConnectionRegistry) BindRoom(connectionID, roomCode string) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	if conn, ok := cr.connections[connectionID]; ok {
		conn.RoomCode = roomCode
	}
}

// Unregister drops the connection and its player binding. Callers must
// extract the room/player attributes first; after this the binding is gone.
func (cr *ConnectionRegistry) Unregister(connectionID string) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	conn, ok := cr.connections[connectionID]
	if !ok {
		return
	}
	if conn.PlayerID != 0 && cr.byPlayer[conn.PlayerID] == connectionID {
		delete(cr.byPlayer, conn.PlayerID)
	}
	delete(cr.connections, connectionID)
}

// Socket returns the transport handle for a connection, or nil.
func (cr *ConnectionRegistry) Socket(connectionID string) *websocket.Conn {
	cr.mu.RLock()
	defer cr.mu.RUnlock()

	if conn, ok := cr.connections[connectionID]; ok {
		return conn.Socket
	}
	return nil
}

// All returns a copy of every live connection; used at shutdown.
func (cr *ConnectionRegistry) All() []Connection {
	cr.mu.RLock()
	defer cr.mu.RUnlock()

	conns := make([]Connection, 0, len(cr.connections))
	for _, conn := range cr.connections {
		conns = append(conns, *conn)
	}
	return conns
}

// ConnectionForPlayer returns the connection currently bound to a player.
func (cr *ConnectionRegistry) ConnectionForPlayer(playerID int64) (string, bool) {
	cr.mu.RLock()
	defer cr.mu.RUnlock()

	id, ok := cr.byPlayer[playerID]
	return id, ok
}
