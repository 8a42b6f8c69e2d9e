package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	log "github.com/sirupsen/logrus"
)

func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // TODO: restrict to the deployed frontend origin
	})
	if err != nil {
		http.Error(w, "Failed to open websocket", http.StatusInternalServerError)
		return
	}
	defer socket.Close(websocket.StatusGoingAway, "Server closing")

	ctx := r.Context()

	connectionID := s.registry.Register(socket)
	log.WithField("connection", connectionID).Info("new connection")

	defer s.handleDisconnect(connectionID)

	if err := s.sendMessage(socket, ctx, ServerMessage{
		Type:    "connected",
		Payload: ConnectedMessage{ClientID: connectionID},
	}); err != nil {
		log.WithField("connection", connectionID).Warnf("failed to send connected: %v", err)
		return
	}

	for {
		msgType, data, err := socket.Read(ctx)
		if err != nil {
			log.WithField("connection", connectionID).Infof("read loop ended: %v", err)
			return
		}

		if msgType != websocket.MessageText {
			log.WithField("connection", connectionID).Warn("non-text frame ignored")
			continue
		}

		s.connectionHealth.UpdateActivity(connectionID)

		if !s.rateLimiter.Allow(connectionID) {
			s.sendError(socket, ctx, "RATE_LIMITED: Too many messages, slow down")
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			s.sendError(socket, ctx, "INVALID_FORMAT: invalid message format")
			continue
		}

		if msg.Type == "ping" {
			s.sendMessage(socket, ctx, ServerMessage{Type: "pong", Payload: struct{}{}})
			continue
		}

		if err := ValidateMessageType(msg.Type); err != nil {
			s.sendError(socket, ctx, err.Error())
			continue
		}

		s.dispatch(ctx, socket, connectionID, msg)
	}
}

// dispatch routes one envelope to its handler. The dispatch mutex makes
// handler bodies run to completion against the shared registry, index and
// store, which is what keeps the cross-component invariants intact.
func (s *Server) dispatch(ctx context.Context, socket *websocket.Conn, connectionID string, msg ClientMessage) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	log.WithFields(log.Fields{"connection": connectionID, "type": msg.Type}).Debug("dispatch")

	switch msg.Type {
	case "register_player":
		s.handleRegisterPlayer(ctx, socket, connectionID, msg.Payload)
	case "create_room":
		s.handleCreateRoom(ctx, socket, connectionID, msg.Payload)
	case "join_room":
		s.handleJoinRoom(ctx, socket, connectionID, msg.Payload)
	case "leave_room":
		s.handleLeaveRoom(ctx, socket, connectionID, msg.Payload)
	case "toggle_ready":
		s.handleToggleReady(ctx, socket, connectionID, msg.Payload)
	case "start_game":
		s.handleStartGame(ctx, socket, connectionID, msg.Payload)
	case "make_accusation":
		s.handleMakeAccusation(ctx, socket, connectionID, msg.Payload)
	case "make_final_accusation":
		s.handleMakeFinalAccusation(ctx, socket, connectionID, msg.Payload)
	case "end_turn":
		s.handleEndTurn(ctx, socket, connectionID, msg.Payload)
	case "change_room":
		s.handleChangeRoom(ctx, socket, connectionID, msg.Payload)
	case "chat_message":
		s.handleChatMessage(ctx, socket, connectionID, msg.Payload)
	case "get_solution":
		s.handleGetSolution(ctx, socket, connectionID, msg.Payload)
	}
}

// handleDisconnect runs the same detach path as leave_room, then removes
// the connection. It is the implicit inbound event for a closed transport.
func (s *Server) handleDisconnect(connectionID string) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	// Extract bindings before unregistering; afterwards they are gone.
	conn, ok := s.registry.Lookup(connectionID)
	if ok && conn.PlayerID != 0 && conn.RoomCode != "" {
		s.detachFromRoom(conn)
	}

	s.rateLimiter.RemoveConnection(connectionID)
	s.connectionHealth.RemoveConnection(connectionID)
	s.registry.Unregister(connectionID)
	log.WithField("connection", connectionID).Info("connection closed")
}

func (s *Server) sendMessage(socket *websocket.Conn, ctx context.Context, msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return socket.Write(ctx, websocket.MessageText, data)
}

func (s *Server) sendError(socket *websocket.Conn, ctx context.Context, message string) {
	err := s.sendMessage(socket, ctx, ServerMessage{
		Type:    "error",
		Payload: ErrorMessage{Message: message},
	})
	if err != nil {
		log.Warnf("failed to send error message: %v", err)
	}
}

// broadcastToRoom fans an envelope out to every connection subscribed to
// the room. Send failures are soft: one unreachable member must not keep
// the rest of the room from being notified.
func (s *Server) broadcastToRoom(roomCode, messageType string, payload interface{}) {
	s.broadcastToRoomExcept(roomCode, "", messageType, payload)
}

func (s *Server) broadcastToRoomExcept(roomCode, exceptConnectionID, messageType string, payload interface{}) {
	msg := ServerMessage{Type: messageType, Payload: payload}

	for _, connID := range s.roomIndex.MembersOf(roomCode) {
		if connID == exceptConnectionID {
			continue
		}
		socket := s.registry.Socket(connID)
		if socket == nil {
			continue
		}
		if err := s.sendMessage(socket, context.Background(), msg); err != nil {
			log.WithFields(log.Fields{"connection": connID, "type": messageType}).
				Warnf("broadcast dropped: %v", err)
		}
	}
}

// unicastToPlayer sends to the connection bound to a player. Returns false
// when the player has no reachable connection.
func (s *Server) unicastToPlayer(playerID int64, messageType string, payload interface{}) bool {
	connID, ok := s.registry.ConnectionForPlayer(playerID)
	if !ok {
		return false
	}
	socket := s.registry.Socket(connID)
	if socket == nil {
		return false
	}

	msg := ServerMessage{Type: messageType, Payload: payload}
	if err := s.sendMessage(socket, context.Background(), msg); err != nil {
		log.WithFields(log.Fields{"player": playerID, "type": messageType}).
			Warnf("unicast dropped: %v", err)
		return false
	}
	return true
}
