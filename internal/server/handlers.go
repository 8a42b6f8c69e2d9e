package server

import (
	"context"
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/coder/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/Seif4646/MysteryMansion/internal/game"
)

// requirePlayer resolves the sender's session. Handlers that need a bound
// player call this first; on failure the typed error has already been sent.
func (s *Server) requirePlayer(socket *websocket.Conn, ctx context.Context, connectionID string) (Connection, Player, bool) {
	conn, ok := s.registry.Lookup(connectionID)
	if !ok || conn.PlayerID == 0 {
		s.sendError(socket, ctx, "NOT_REGISTERED: Register a player first")
		return Connection{}, Player{}, false
	}

	player, ok := s.store.GetPlayer(conn.PlayerID)
	if !ok {
		s.sendError(socket, ctx, "NOT_REGISTERED: Player record not found")
		return Connection{}, Player{}, false
	}

	return conn, player, true
}

func (s *Server) handleRegisterPlayer(ctx context.Context, socket *websocket.Conn, connectionID string, payload json.RawMessage) {
	var req RegisterPlayerRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, "INVALID_PAYLOAD: Invalid register_player payload")
		return
	}

	if n := utf8.RuneCountInString(req.Name); n < 2 || n > 20 {
		s.sendError(socket, ctx, "INVALID_NAME: Name must be 2-20 characters")
		return
	}

	// Retransmission-safe: a connection that already registered gets its
	// existing player back instead of a duplicate record.
	if conn, ok := s.registry.Lookup(connectionID); ok && conn.PlayerID != 0 {
		if player, ok := s.store.GetPlayer(conn.PlayerID); ok {
			s.sendMessage(socket, ctx, ServerMessage{Type: "player_registered", Payload: player})
			return
		}
	}

	// The session token is the originating connection id.
	player := s.store.CreatePlayer(req.Name, connectionID)
	s.registry.BindPlayer(connectionID, player.ID)

	log.WithFields(log.Fields{"player": player.ID, "name": player.Name}).Info("player registered")

	s.sendMessage(socket, ctx, ServerMessage{Type: "player_registered", Payload: player})
}

func (s *Server) handleCreateRoom(ctx context.Context, socket *websocket.Conn, connectionID string, payload json.RawMessage) {
	var req CreateRoomRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, "INVALID_PAYLOAD: Invalid create_room payload")
		return
	}

	_, player, ok := s.requirePlayer(socket, ctx, connectionID)
	if !ok {
		return
	}
	if player.RoomCode != "" {
		s.sendError(socket, ctx, "ALREADY_IN_ROOM: Leave your current room first")
		return
	}

	// Regenerate on collision until the code is unused.
	var code string
	for {
		code = GenerateRoomCode()
		if _, exists := s.store.GetRoomByCode(code); !exists {
			break
		}
	}

	room := s.store.CreateRoom(code)

	host := true
	ready := false
	s.store.UpdatePlayer(player.ID, PlayerPatch{RoomCode: &code, Host: &host, Ready: &ready})

	count := 1
	room, _ = s.store.UpdateRoom(room.ID, RoomPatch{PlayersCount: &count})

	s.registry.BindRoom(connectionID, code)
	s.roomIndex.Subscribe(code, connectionID)

	log.WithFields(log.Fields{"room": code, "player": player.ID}).Info("room created")

	s.sendMessage(socket, ctx, ServerMessage{
		Type: "room_created",
		Payload: RoomCreatedMessage{
			Room:    room,
			Players: s.store.GetPlayersInRoom(code),
		},
	})
}

func (s *Server) handleJoinRoom(ctx context.Context, socket *websocket.Conn, connectionID string, payload json.RawMessage) {
	var req JoinRoomRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, "INVALID_PAYLOAD: Invalid join_room payload")
		return
	}

	code := NormalizeRoomCode(req.RoomCode)
	if err := ValidateRoomCode(code); err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	_, player, ok := s.requirePlayer(socket, ctx, connectionID)
	if !ok {
		return
	}
	if player.RoomCode != "" {
		s.sendError(socket, ctx, "ALREADY_IN_ROOM: Leave your current room first")
		return
	}

	room, exists := s.store.GetRoomByCode(code)
	if !exists {
		s.sendError(socket, ctx, "ROOM_NOT_FOUND: No room with that code")
		return
	}
	if room.Status != StatusWaiting {
		s.sendError(socket, ctx, "GAME_ALREADY_STARTED: Cannot join a room in progress")
		return
	}
	if room.PlayersCount >= room.MaxPlayers {
		s.sendError(socket, ctx, "ROOM_FULL: Room is full")
		return
	}

	player, _ = s.store.UpdatePlayer(player.ID, PlayerPatch{RoomCode: &code})

	count := room.PlayersCount + 1
	room, _ = s.store.UpdateRoom(room.ID, RoomPatch{PlayersCount: &count})

	s.registry.BindRoom(connectionID, code)
	s.roomIndex.Subscribe(code, connectionID)

	players := s.store.GetPlayersInRoom(code)

	log.WithFields(log.Fields{"room": code, "player": player.ID}).Info("player joined room")

	s.broadcastToRoomExcept(code, connectionID, "player_joined", PlayerJoinedMessage{
		Player:  player,
		Players: players,
	})

	s.sendMessage(socket, ctx, ServerMessage{
		Type:    "room_joined",
		Payload: RoomJoinedMessage{Room: room, Players: players},
	})
}

func (s *Server) handleLeaveRoom(ctx context.Context, socket *websocket.Conn, connectionID string, payload json.RawMessage) {
	conn, player, ok := s.requirePlayer(socket, ctx, connectionID)
	if !ok {
		return
	}
	if player.RoomCode == "" {
		s.sendError(socket, ctx, "NOT_IN_ROOM: You are not in a room")
		return
	}

	s.detachFromRoom(conn)
}

// detachFromRoom removes a player from their room: clears the binding,
// fixes the count, promotes a replacement host, then notifies the room.
// Both leave_room and the transport disconnect path land here. All state
// is mutated before the first broadcast goes out.
func (s *Server) detachFromRoom(conn Connection) {
	player, ok := s.store.GetPlayer(conn.PlayerID)
	if !ok || player.RoomCode == "" {
		return
	}

	code := player.RoomCode
	wasHost := player.Host

	clear := ""
	off := false
	s.store.UpdatePlayer(player.ID, PlayerPatch{RoomCode: &clear, Ready: &off, Host: &off})

	remaining := s.store.GetPlayersInRoom(code)
	if room, exists := s.store.GetRoomByCode(code); exists {
		count := len(remaining)
		s.store.UpdateRoom(room.ID, RoomPatch{PlayersCount: &count})
	}

	var newHostID int64
	if wasHost && len(remaining) > 0 {
		promote := true
		s.store.UpdatePlayer(remaining[0].ID, PlayerPatch{Host: &promote})
		newHostID = remaining[0].ID
	}

	s.roomIndex.Unsubscribe(code, conn.ID)
	s.registry.BindRoom(conn.ID, "")

	log.WithFields(log.Fields{"room": code, "player": player.ID}).Info("player left room")

	if newHostID != 0 {
		s.broadcastToRoom(code, "host_changed", HostChangedMessage{NewHostID: newHostID})
	}
	s.broadcastToRoom(code, "player_left", PlayerLeftMessage{PlayerID: player.ID})
}

func (s *Server) handleToggleReady(ctx context.Context, socket *websocket.Conn, connectionID string, payload json.RawMessage) {
	_, player, ok := s.requirePlayer(socket, ctx, connectionID)
	if !ok {
		return
	}
	if player.RoomCode == "" {
		s.sendError(socket, ctx, "NOT_IN_ROOM: You are not in a room")
		return
	}

	room, exists := s.store.GetRoomByCode(player.RoomCode)
	if !exists {
		s.sendError(socket, ctx, "ROOM_NOT_FOUND: Room no longer exists")
		return
	}
	if room.Status != StatusWaiting {
		s.sendError(socket, ctx, "GAME_ALREADY_STARTED: Ready state is fixed once the game starts")
		return
	}

	ready := !player.Ready
	player, _ = s.store.UpdatePlayer(player.ID, PlayerPatch{Ready: &ready})

	s.broadcastToRoom(room.Code, "player_ready_changed", PlayerReadyChangedMessage{
		PlayerID: player.ID,
		Ready:    player.Ready,
	})

	// Quorum check: enough players and everyone ready. The host gets a
	// private signal, not a broadcast.
	players := s.store.GetPlayersInRoom(room.Code)
	if len(players) < room.MinPlayers {
		return
	}
	for _, p := range players {
		if !p.Ready {
			return
		}
	}
	for _, p := range players {
		if p.Host {
			s.unicastToPlayer(p.ID, "all_players_ready", AllPlayersReadyMessage{CanStart: true})
			return
		}
	}
}

func (s *Server) handleStartGame(ctx context.Context, socket *websocket.Conn, connectionID string, payload json.RawMessage) {
	_, player, ok := s.requirePlayer(socket, ctx, connectionID)
	if !ok {
		return
	}
	if player.RoomCode == "" {
		s.sendError(socket, ctx, "NOT_IN_ROOM: You are not in a room")
		return
	}
	if !player.Host {
		s.sendError(socket, ctx, "NOT_HOST: Only the host can start the game")
		return
	}

	room, exists := s.store.GetRoomByCode(player.RoomCode)
	if !exists {
		s.sendError(socket, ctx, "ROOM_NOT_FOUND: Room no longer exists")
		return
	}
	if room.Status != StatusWaiting {
		s.sendError(socket, ctx, "GAME_ALREADY_STARTED: Game already started")
		return
	}

	players := s.store.GetPlayersInRoom(room.Code)
	if len(players) < room.MinPlayers {
		s.sendError(socket, ctx, "NOT_ENOUGH_PLAYERS: Need more players to start")
		return
	}
	for _, p := range players {
		if !p.Ready {
			s.sendError(socket, ctx, "NOT_ALL_READY: All players must be ready")
			return
		}
	}

	// The player order captured here is frozen inside the game state for
	// the whole game; later joins or disconnects never reorder turns.
	orderedIDs := make([]int64, len(players))
	for i, p := range players {
		orderedIDs[i] = p.ID
	}

	state, err := game.NewState(orderedIDs)
	if err != nil {
		s.sendError(socket, ctx, "START_FAILED: "+err.Error())
		return
	}
	s.store.SetGameState(room.Code, state)

	playing := StatusPlaying
	s.store.UpdateRoom(room.ID, RoomPatch{Status: &playing})

	log.WithFields(log.Fields{"room": room.Code, "players": len(players)}).Info("game started")

	s.broadcastToRoom(room.Code, "game_started", GameStartedMessage{RoomCode: room.Code})

	// Hands are private: unicast only, never broadcast.
	for _, id := range orderedIDs {
		s.unicastToPlayer(id, "player_cards", PlayerCardsMessage{Cards: state.HandOf(id)})
	}

	s.broadcastToRoom(room.Code, "turn_changed", TurnChangedMessage{PlayerID: state.CurrentPlayerID()})
}

func (s *Server) handleMakeAccusation(ctx context.Context, socket *websocket.Conn, connectionID string, payload json.RawMessage) {
	acc, player, ok := s.parseAccusation(ctx, socket, connectionID, payload)
	if !ok {
		return
	}

	state, exists := s.store.GetGameState(player.RoomCode)
	if !exists {
		s.sendError(socket, ctx, "GAME_NOT_STARTED: No game in progress")
		return
	}
	if room, _ := s.store.GetRoomByCode(player.RoomCode); room.Status != StatusPlaying {
		s.sendError(socket, ctx, "GAME_ENDED: Game is over")
		return
	}
	if state.IsEliminated(player.ID) {
		s.sendError(socket, ctx, "ELIMINATED: A failed final accusation ends your investigation")
		return
	}
	if !state.IsPlayersTurn(player.ID) {
		s.sendError(socket, ctx, "NOT_YOUR_TURN: Wait for your turn")
		return
	}

	s.broadcastToRoom(player.RoomCode, "accusation_made", AccusationMadeMessage{
		PlayerID:   player.ID,
		Accusation: acc,
	})

	disproof := state.CheckSuggestion(player.ID, acc)
	if disproof == nil {
		// Nobody can contradict it. This reveals nothing about the
		// solution; it is an information-gathering result only.
		s.broadcastToRoom(player.RoomCode, "accusation_not_disproved", AccusationNotDisprovedMessage{
			PlayerID:   player.ID,
			Accusation: acc,
		})
		return
	}

	// The engine has already chosen the revealed card; the exchange below
	// is notification, not negotiation. If the revealer is unreachable the
	// suggestion is treated as standing so the accuser is never left
	// waiting.
	if _, reachable := s.registry.ConnectionForPlayer(disproof.PlayerID); !reachable {
		s.broadcastToRoom(player.RoomCode, "accusation_not_disproved", AccusationNotDisprovedMessage{
			PlayerID:   player.ID,
			Accusation: acc,
		})
		return
	}

	s.unicastToPlayer(player.ID, "card_being_revealed", CardBeingRevealedMessage{
		Revealer: disproof.PlayerID,
	})

	if !s.unicastToPlayer(disproof.PlayerID, "reveal_card_request", RevealCardRequestMessage{
		AccuserID:     player.ID,
		PossibleCards: disproof.Cards,
	}) {
		s.broadcastToRoom(player.RoomCode, "accusation_not_disproved", AccusationNotDisprovedMessage{
			PlayerID:   player.ID,
			Accusation: acc,
		})
	}
}

func (s *Server) handleMakeFinalAccusation(ctx context.Context, socket *websocket.Conn, connectionID string, payload json.RawMessage) {
	acc, player, ok := s.parseAccusation(ctx, socket, connectionID, payload)
	if !ok {
		return
	}

	state, exists := s.store.GetGameState(player.RoomCode)
	if !exists {
		s.sendError(socket, ctx, "GAME_NOT_STARTED: No game in progress")
		return
	}
	room, _ := s.store.GetRoomByCode(player.RoomCode)
	if room.Status != StatusPlaying {
		s.sendError(socket, ctx, "GAME_ENDED: Game is over")
		return
	}
	if state.IsEliminated(player.ID) {
		s.sendError(socket, ctx, "ELIMINATED: A failed final accusation ends your investigation")
		return
	}

	// A final accusation is always resolved, win or lose.
	correct := state.CheckFinal(acc)

	if correct {
		ended := StatusEnded
		s.store.UpdateRoom(room.ID, RoomPatch{Status: &ended})
		s.store.AwardPoints(player.ID, 1)
	} else {
		state.Eliminate(player.ID)
	}

	log.WithFields(log.Fields{"room": room.Code, "player": player.ID, "correct": correct}).
		Info("final accusation resolved")

	s.broadcastToRoom(room.Code, "final_accusation_result", FinalAccusationResultMessage{
		PlayerID:   player.ID,
		Accusation: acc,
		Correct:    correct,
	})

	if correct {
		s.broadcastToRoom(room.Code, "game_ended", GameEndedMessage{
			Winner:   player.ID,
			Solution: state.Solution,
		})
	}
}

// parseAccusation validates the shared accusation payload shape and
// resolves the sender into a room-bound player.
func (s *Server) parseAccusation(ctx context.Context, socket *websocket.Conn, connectionID string, payload json.RawMessage) (game.Accusation, Player, bool) {
	var req AccusationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, "INVALID_PAYLOAD: Invalid accusation payload")
		return game.Accusation{}, Player{}, false
	}
	if req.Suspect == "" || req.Weapon == "" || req.Room == "" {
		s.sendError(socket, ctx, "INVALID_PAYLOAD: Accusation needs suspect, weapon and room")
		return game.Accusation{}, Player{}, false
	}

	_, player, ok := s.requirePlayer(socket, ctx, connectionID)
	if !ok {
		return game.Accusation{}, Player{}, false
	}
	if player.RoomCode == "" {
		s.sendError(socket, ctx, "NOT_IN_ROOM: You are not in a room")
		return game.Accusation{}, Player{}, false
	}

	return game.Accusation{Suspect: req.Suspect, Weapon: req.Weapon, Room: req.Room}, player, true
}

func (s *Server) handleEndTurn(ctx context.Context, socket *websocket.Conn, connectionID string, payload json.RawMessage) {
	_, player, ok := s.requirePlayer(socket, ctx, connectionID)
	if !ok {
		return
	}
	if player.RoomCode == "" {
		s.sendError(socket, ctx, "NOT_IN_ROOM: You are not in a room")
		return
	}

	state, exists := s.store.GetGameState(player.RoomCode)
	if !exists {
		s.sendError(socket, ctx, "GAME_NOT_STARTED: No game in progress")
		return
	}
	if room, _ := s.store.GetRoomByCode(player.RoomCode); room.Status != StatusPlaying {
		s.sendError(socket, ctx, "GAME_ENDED: Game is over")
		return
	}
	if !state.IsPlayersTurn(player.ID) {
		s.sendError(socket, ctx, "NOT_YOUR_TURN: Wait for your turn")
		return
	}

	next := state.AdvanceTurn()

	s.broadcastToRoom(player.RoomCode, "turn_changed", TurnChangedMessage{PlayerID: next})
}

func (s *Server) handleChangeRoom(ctx context.Context, socket *websocket.Conn, connectionID string, payload json.RawMessage) {
	var req ChangeRoomRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.Room == "" {
		s.sendError(socket, ctx, "INVALID_PAYLOAD: Invalid change_room payload")
		return
	}

	_, player, ok := s.requirePlayer(socket, ctx, connectionID)
	if !ok {
		return
	}
	if player.RoomCode == "" {
		s.sendError(socket, ctx, "NOT_IN_ROOM: You are not in a room")
		return
	}

	// Board movement is flavor only; it never touches game state.
	s.broadcastToRoom(player.RoomCode, "player_changed_room", PlayerChangedRoomMessage{
		PlayerID: player.ID,
		Room:     req.Room,
	})
}

func (s *Server) handleChatMessage(ctx context.Context, socket *websocket.Conn, connectionID string, payload json.RawMessage) {
	var req ChatMessageRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, "INVALID_PAYLOAD: Invalid chat_message payload")
		return
	}
	if n := utf8.RuneCountInString(req.Text); n < 1 || n > 500 {
		s.sendError(socket, ctx, "INVALID_TEXT: Message must be 1-500 characters")
		return
	}

	_, player, ok := s.requirePlayer(socket, ctx, connectionID)
	if !ok {
		return
	}
	if req.PlayerID != player.ID {
		s.sendError(socket, ctx, "SENDER_MISMATCH: Claimed sender does not match this connection")
		return
	}
	if player.RoomCode == "" {
		s.sendError(socket, ctx, "NOT_IN_ROOM: You are not in a room")
		return
	}

	timestamp := req.Timestamp
	if timestamp == "" {
		timestamp = time.Now().Format(time.RFC3339)
	}

	s.broadcastToRoom(player.RoomCode, "chat_message", ChatMessage{
		PlayerID:   player.ID,
		PlayerName: player.Name,
		Text:       req.Text,
		Timestamp:  timestamp,
	})

	s.sendMessage(socket, ctx, ServerMessage{
		Type:    "chat_message_sent",
		Payload: ChatMessageSentMessage{Success: true},
	})
}

func (s *Server) handleGetSolution(ctx context.Context, socket *websocket.Conn, connectionID string, payload json.RawMessage) {
	_, player, ok := s.requirePlayer(socket, ctx, connectionID)
	if !ok {
		return
	}

	// Diagnostic path, gated by the server debug capability instead of a
	// privileged identity.
	if !s.debug {
		s.sendError(socket, ctx, "ACCESS_DENIED: Solution access is disabled")
		return
	}
	if player.RoomCode == "" {
		s.sendError(socket, ctx, "NOT_IN_ROOM: You are not in a room")
		return
	}

	state, exists := s.store.GetGameState(player.RoomCode)
	if !exists {
		s.sendError(socket, ctx, "GAME_NOT_STARTED: No game in progress")
		return
	}

	log.WithFields(log.Fields{"room": player.RoomCode, "player": player.ID}).
		Warn("solution revealed through debug path")

	s.sendMessage(socket, ctx, ServerMessage{
		Type:    "solution_revealed",
		Payload: SolutionRevealedMessage{Solution: state.Solution},
	})
}
