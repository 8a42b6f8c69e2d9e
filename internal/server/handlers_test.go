package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"

	"github.com/Seif4646/MysteryMansion/internal/game"
)

// setupTestServer wires a server without postgres; persistence is exercised
// separately. The rate limit is generous so scripted exchanges never trip it.
func setupTestServer() (*Server, string, func()) {
	s := &Server{
		registry:         NewConnectionRegistry(),
		roomIndex:        NewRoomIndex(),
		store:            NewStore(),
		rateLimiter:      NewRateLimiter(200, time.Second),
		connectionHealth: NewConnectionHealth(),
		stopTasks:        make(chan struct{}),
	}

	server := httptest.NewServer(http.HandlerFunc(s.websocketHandler))
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/websocket"

	return s, url, server.Close
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// dialClient connects and consumes the connected envelope every socket
// receives first.
func dialClient(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	msg := readMessage(t, ctx, conn)
	assert.Equal(t, "connected", msg.Type)

	return conn
}

func sendMessage(t *testing.T, ctx context.Context, conn *websocket.Conn, msgType string, payload interface{}) {
	t.Helper()

	msg := ClientMessage{Type: msgType}
	if payload != nil {
		msg.Payload = mustMarshal(payload)
	}
	if err := conn.Write(ctx, websocket.MessageText, mustMarshal(msg)); err != nil {
		t.Fatalf("failed to send %s: %v", msgType, err)
	}
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) ServerMessage {
	t.Helper()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("failed to read message: %v", err)
	}

	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("failed to parse message: %v", err)
	}
	return msg
}

// expectMessage reads one envelope, asserts its type and decodes the
// payload into target.
func expectMessage(t *testing.T, ctx context.Context, conn *websocket.Conn, msgType string, target interface{}) {
	t.Helper()

	msg := readMessage(t, ctx, conn)
	assert.Equal(t, msgType, msg.Type)

	if target != nil {
		payloadBytes, _ := json.Marshal(msg.Payload)
		if err := json.Unmarshal(payloadBytes, target); err != nil {
			t.Fatalf("failed to decode %s payload: %v", msgType, err)
		}
	}
}

func expectError(t *testing.T, ctx context.Context, conn *websocket.Conn, code string) {
	t.Helper()

	var errMsg ErrorMessage
	expectMessage(t, ctx, conn, "error", &errMsg)
	assert.Contains(t, errMsg.Message, code)
}

func registerPlayer(t *testing.T, ctx context.Context, conn *websocket.Conn, name string) Player {
	t.Helper()

	sendMessage(t, ctx, conn, "register_player", RegisterPlayerRequest{Name: name})

	var player Player
	expectMessage(t, ctx, conn, "player_registered", &player)
	assert.Equal(t, name, player.Name)

	return player
}

// setupRoomWithTwoPlayers scripts the lobby up to the point where Alice
// hosts a room that Bob has joined. Both inboxes are drained.
func setupRoomWithTwoPlayers(t *testing.T, ctx context.Context, url string) (connA, connB *websocket.Conn, alice, bob Player, roomCode string) {
	t.Helper()

	connA = dialClient(t, ctx, url)
	alice = registerPlayer(t, ctx, connA, "Alice")

	sendMessage(t, ctx, connA, "create_room", CreateRoomRequest{})
	var created RoomCreatedMessage
	expectMessage(t, ctx, connA, "room_created", &created)
	roomCode = created.Room.Code

	connB = dialClient(t, ctx, url)
	bob = registerPlayer(t, ctx, connB, "Bob")

	sendMessage(t, ctx, connB, "join_room", JoinRoomRequest{RoomCode: roomCode})
	expectMessage(t, ctx, connB, "room_joined", nil)
	expectMessage(t, ctx, connA, "player_joined", nil)

	return connA, connB, alice, bob, roomCode
}

// startTwoPlayerGame readies both players and starts the game, draining
// every lobby and start envelope from both inboxes.
func startTwoPlayerGame(t *testing.T, ctx context.Context, connA, connB *websocket.Conn) {
	t.Helper()

	sendMessage(t, ctx, connA, "toggle_ready", ToggleReadyRequest{})
	expectMessage(t, ctx, connA, "player_ready_changed", nil)
	expectMessage(t, ctx, connB, "player_ready_changed", nil)

	sendMessage(t, ctx, connB, "toggle_ready", ToggleReadyRequest{})
	expectMessage(t, ctx, connB, "player_ready_changed", nil)
	expectMessage(t, ctx, connA, "player_ready_changed", nil)
	expectMessage(t, ctx, connA, "all_players_ready", nil)

	sendMessage(t, ctx, connA, "start_game", StartGameRequest{})
	expectMessage(t, ctx, connA, "game_started", nil)
	expectMessage(t, ctx, connA, "player_cards", nil)
	expectMessage(t, ctx, connA, "turn_changed", nil)
	expectMessage(t, ctx, connB, "game_started", nil)
	expectMessage(t, ctx, connB, "player_cards", nil)
	expectMessage(t, ctx, connB, "turn_changed", nil)
}

// replaceGameState swaps in a crafted state so accusation outcomes are
// deterministic. The dispatch mutex guarantees no handler is mid-flight.
func replaceGameState(s *Server, roomCode string, state *game.State) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	s.store.SetGameState(roomCode, state)
}

// ============================================================================
// TRANSPORT TESTS
// ============================================================================

func TestWebSocketPingPong(t *testing.T) {
	ctx := context.Background()
	_, url, cleanup := setupTestServer()
	defer cleanup()

	conn := dialClient(t, ctx, url)

	sendMessage(t, ctx, conn, "ping", nil)
	expectMessage(t, ctx, conn, "pong", nil)
}

func TestWebSocketInvalidJSON(t *testing.T) {
	ctx := context.Background()
	_, url, cleanup := setupTestServer()
	defer cleanup()

	conn := dialClient(t, ctx, url)

	err := conn.Write(ctx, websocket.MessageText, []byte("junk"))
	assert.NoError(t, err)
	expectError(t, ctx, conn, "INVALID_FORMAT")

	// The connection survives a malformed message.
	sendMessage(t, ctx, conn, "ping", nil)
	expectMessage(t, ctx, conn, "pong", nil)
}

func TestWebSocketUnknownMessageType(t *testing.T) {
	ctx := context.Background()
	_, url, cleanup := setupTestServer()
	defer cleanup()

	conn := dialClient(t, ctx, url)

	sendMessage(t, ctx, conn, "launch_missiles", nil)
	expectError(t, ctx, conn, "UNSUPPORTED_OPERATION")
}

func TestWebSocketRateLimiting(t *testing.T) {
	ctx := context.Background()
	s, url, cleanup := setupTestServer()
	defer cleanup()

	s.rateLimiter = NewRateLimiter(2, time.Second)

	conn := dialClient(t, ctx, url)

	for i := 0; i < 2; i++ {
		sendMessage(t, ctx, conn, "ping", nil)
		expectMessage(t, ctx, conn, "pong", nil)
	}

	sendMessage(t, ctx, conn, "ping", nil)
	expectError(t, ctx, conn, "RATE_LIMITED")
}

func TestWebSocketConnectionRegistration(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, url, cleanup := setupTestServer()
	defer cleanup()

	conn := dialClient(t, ctx, url)

	// The connected envelope has been read, so registration is complete.
	assert.Equal(1, len(s.registry.All()))

	conn.Close(websocket.StatusNormalClosure, "")

	// Close returns before the handler's deferred cleanup runs.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(0, len(s.registry.All()))
}

// ============================================================================
// REGISTRATION TESTS
// ============================================================================

func TestRegisterPlayer(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	_, url, cleanup := setupTestServer()
	defer cleanup()

	conn := dialClient(t, ctx, url)
	player := registerPlayer(t, ctx, conn, "Alice")

	assert.Equal(int64(1), player.ID)
	assert.Empty(player.RoomCode)
	assert.False(player.Host)
}

func TestRegisterPlayerInvalidName(t *testing.T) {
	ctx := context.Background()
	_, url, cleanup := setupTestServer()
	defer cleanup()

	conn := dialClient(t, ctx, url)

	sendMessage(t, ctx, conn, "register_player", RegisterPlayerRequest{Name: "A"})
	expectError(t, ctx, conn, "INVALID_NAME")

	sendMessage(t, ctx, conn, "register_player", RegisterPlayerRequest{Name: strings.Repeat("x", 21)})
	expectError(t, ctx, conn, "INVALID_NAME")
}

func TestRegisterPlayerRetransmission(t *testing.T) {
	ctx := context.Background()
	_, url, cleanup := setupTestServer()
	defer cleanup()

	conn := dialClient(t, ctx, url)
	first := registerPlayer(t, ctx, conn, "Alice")

	// Re-sending register_player returns the same player, not a duplicate.
	sendMessage(t, ctx, conn, "register_player", RegisterPlayerRequest{Name: "Alice"})
	var second Player
	expectMessage(t, ctx, conn, "player_registered", &second)
	assert.Equal(t, first.ID, second.ID)
}

// ============================================================================
// ROOM LIFECYCLE TESTS
// ============================================================================

func TestCreateRoom(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	_, url, cleanup := setupTestServer()
	defer cleanup()

	conn := dialClient(t, ctx, url)
	player := registerPlayer(t, ctx, conn, "Alice")

	sendMessage(t, ctx, conn, "create_room", CreateRoomRequest{})

	var created RoomCreatedMessage
	expectMessage(t, ctx, conn, "room_created", &created)

	assert.Equal(6, len(created.Room.Code))
	assert.Equal(StatusWaiting, created.Room.Status)
	assert.Equal(1, created.Room.PlayersCount)
	assert.Equal(1, len(created.Players))
	assert.Equal(player.ID, created.Players[0].ID)
	assert.True(created.Players[0].Host)
}

func TestCreateRoomWithoutRegistration(t *testing.T) {
	ctx := context.Background()
	_, url, cleanup := setupTestServer()
	defer cleanup()

	conn := dialClient(t, ctx, url)

	sendMessage(t, ctx, conn, "create_room", CreateRoomRequest{})
	expectError(t, ctx, conn, "NOT_REGISTERED")
}

func TestJoinRoom(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	_, url, cleanup := setupTestServer()
	defer cleanup()

	connA := dialClient(t, ctx, url)
	alice := registerPlayer(t, ctx, connA, "Alice")

	sendMessage(t, ctx, connA, "create_room", CreateRoomRequest{})
	var created RoomCreatedMessage
	expectMessage(t, ctx, connA, "room_created", &created)

	connB := dialClient(t, ctx, url)
	bob := registerPlayer(t, ctx, connB, "Bob")

	// Codes are normalized, so lowercase input joins fine.
	sendMessage(t, ctx, connB, "join_room", JoinRoomRequest{RoomCode: strings.ToLower(created.Room.Code)})

	var joined RoomJoinedMessage
	expectMessage(t, ctx, connB, "room_joined", &joined)
	assert.Equal(created.Room.Code, joined.Room.Code)
	assert.Equal(2, joined.Room.PlayersCount)
	assert.Equal(2, len(joined.Players))
	// Join order: the host first.
	assert.Equal(alice.ID, joined.Players[0].ID)
	assert.Equal(bob.ID, joined.Players[1].ID)

	// The host hears about the newcomer but not about their own room.
	var notice PlayerJoinedMessage
	expectMessage(t, ctx, connA, "player_joined", &notice)
	assert.Equal(bob.ID, notice.Player.ID)
	assert.Equal(2, len(notice.Players))
}

func TestJoinRoomNotFound(t *testing.T) {
	ctx := context.Background()
	_, url, cleanup := setupTestServer()
	defer cleanup()

	conn := dialClient(t, ctx, url)
	registerPlayer(t, ctx, conn, "Alice")

	sendMessage(t, ctx, conn, "join_room", JoinRoomRequest{RoomCode: "ZZZZZZ"})
	expectError(t, ctx, conn, "ROOM_NOT_FOUND")

	sendMessage(t, ctx, conn, "join_room", JoinRoomRequest{RoomCode: "bad"})
	expectError(t, ctx, conn, "INVALID_ROOM_CODE")
}

func TestJoinRoomFull(t *testing.T) {
	ctx := context.Background()
	s, url, cleanup := setupTestServer()
	defer cleanup()

	connA := dialClient(t, ctx, url)
	registerPlayer(t, ctx, connA, "Alice")

	sendMessage(t, ctx, connA, "create_room", CreateRoomRequest{})
	var created RoomCreatedMessage
	expectMessage(t, ctx, connA, "room_created", &created)

	// Shrink the room instead of scripting five more joins.
	s.dispatchMu.Lock()
	s.store.mu.Lock()
	s.store.rooms[created.Room.ID].MaxPlayers = 1
	s.store.mu.Unlock()
	s.dispatchMu.Unlock()

	connB := dialClient(t, ctx, url)
	registerPlayer(t, ctx, connB, "Bob")

	sendMessage(t, ctx, connB, "join_room", JoinRoomRequest{RoomCode: created.Room.Code})
	expectError(t, ctx, connB, "ROOM_FULL")
}

func TestLeaveRoomPromotesNewHost(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, url, cleanup := setupTestServer()
	defer cleanup()

	connA, connB, alice, bob, roomCode := setupRoomWithTwoPlayers(t, ctx, url)

	sendMessage(t, ctx, connA, "leave_room", LeaveRoomRequest{})

	// The leaver is unsubscribed before the broadcasts; only Bob hears them.
	var hostChanged HostChangedMessage
	expectMessage(t, ctx, connB, "host_changed", &hostChanged)
	assert.Equal(bob.ID, hostChanged.NewHostID)

	var left PlayerLeftMessage
	expectMessage(t, ctx, connB, "player_left", &left)
	assert.Equal(alice.ID, left.PlayerID)

	// Ping to be sure the leave handler has fully run before inspecting.
	sendMessage(t, ctx, connA, "ping", nil)
	expectMessage(t, ctx, connA, "pong", nil)

	room, ok := s.store.GetRoomByCode(roomCode)
	assert.True(ok)
	assert.Equal(1, room.PlayersCount)

	promoted, _ := s.store.GetPlayer(bob.ID)
	assert.True(promoted.Host)

	leaver, _ := s.store.GetPlayer(alice.ID)
	assert.Empty(leaver.RoomCode)
	assert.False(leaver.Host)
}

func TestDisconnectDetachesFromRoom(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, url, cleanup := setupTestServer()
	defer cleanup()

	connA, connB, alice, bob, roomCode := setupRoomWithTwoPlayers(t, ctx, url)

	// A dropped transport is an implicit leave_room.
	connA.Close(websocket.StatusNormalClosure, "")

	var hostChanged HostChangedMessage
	expectMessage(t, ctx, connB, "host_changed", &hostChanged)
	assert.Equal(bob.ID, hostChanged.NewHostID)

	var left PlayerLeftMessage
	expectMessage(t, ctx, connB, "player_left", &left)
	assert.Equal(alice.ID, left.PlayerID)

	time.Sleep(20 * time.Millisecond)

	room, _ := s.store.GetRoomByCode(roomCode)
	assert.Equal(1, room.PlayersCount)

	// The player record outlives the connection; only the binding is gone.
	_, ok := s.store.GetPlayer(alice.ID)
	assert.True(ok)
}

// ============================================================================
// READY AND START TESTS
// ============================================================================

func TestToggleReadyQuorumSignal(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	_, url, cleanup := setupTestServer()
	defer cleanup()

	connA, connB, alice, bob, _ := setupRoomWithTwoPlayers(t, ctx, url)

	sendMessage(t, ctx, connA, "toggle_ready", ToggleReadyRequest{})

	var changed PlayerReadyChangedMessage
	expectMessage(t, ctx, connA, "player_ready_changed", &changed)
	assert.Equal(alice.ID, changed.PlayerID)
	assert.True(changed.Ready)
	expectMessage(t, ctx, connB, "player_ready_changed", nil)

	sendMessage(t, ctx, connB, "toggle_ready", ToggleReadyRequest{})
	expectMessage(t, ctx, connB, "player_ready_changed", &changed)
	assert.Equal(bob.ID, changed.PlayerID)
	expectMessage(t, ctx, connA, "player_ready_changed", nil)

	// Everyone ready and above the minimum: the host alone gets the signal.
	var quorum AllPlayersReadyMessage
	expectMessage(t, ctx, connA, "all_players_ready", &quorum)
	assert.True(quorum.CanStart)

	// Toggling off broadcasts the change but no quorum signal follows.
	sendMessage(t, ctx, connB, "toggle_ready", ToggleReadyRequest{})
	expectMessage(t, ctx, connB, "player_ready_changed", &changed)
	assert.False(changed.Ready)
	expectMessage(t, ctx, connA, "player_ready_changed", nil)
}

func TestStartGameDealsAndOpensFirstTurn(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, url, cleanup := setupTestServer()
	defer cleanup()

	connA, connB, alice, bob, roomCode := setupRoomWithTwoPlayers(t, ctx, url)

	sendMessage(t, ctx, connA, "toggle_ready", ToggleReadyRequest{})
	expectMessage(t, ctx, connA, "player_ready_changed", nil)
	expectMessage(t, ctx, connB, "player_ready_changed", nil)

	sendMessage(t, ctx, connB, "toggle_ready", ToggleReadyRequest{})
	expectMessage(t, ctx, connB, "player_ready_changed", nil)
	expectMessage(t, ctx, connA, "player_ready_changed", nil)
	expectMessage(t, ctx, connA, "all_players_ready", nil)

	sendMessage(t, ctx, connA, "start_game", StartGameRequest{})

	var started GameStartedMessage
	expectMessage(t, ctx, connA, "game_started", &started)
	assert.Equal(roomCode, started.RoomCode)

	// Hands are private unicasts: 17 cards split 9 and 8 across two hands.
	var handA, handB PlayerCardsMessage
	expectMessage(t, ctx, connA, "player_cards", &handA)
	assert.Equal(9, len(handA.Cards))

	var turn TurnChangedMessage
	expectMessage(t, ctx, connA, "turn_changed", &turn)
	assert.Equal(alice.ID, turn.PlayerID)

	expectMessage(t, ctx, connB, "game_started", nil)
	expectMessage(t, ctx, connB, "player_cards", &handB)
	assert.Equal(8, len(handB.Cards))
	expectMessage(t, ctx, connB, "turn_changed", &turn)
	assert.Equal(alice.ID, turn.PlayerID)

	room, _ := s.store.GetRoomByCode(roomCode)
	assert.Equal(StatusPlaying, room.Status)

	state, ok := s.store.GetGameState(roomCode)
	assert.True(ok)
	assert.Equal([]int64{alice.ID, bob.ID}, state.TurnOrder)
}

func TestStartGameAuthorization(t *testing.T) {
	ctx := context.Background()
	_, url, cleanup := setupTestServer()
	defer cleanup()

	connA, connB, _, _, _ := setupRoomWithTwoPlayers(t, ctx, url)

	// Not the host.
	sendMessage(t, ctx, connB, "start_game", StartGameRequest{})
	expectError(t, ctx, connB, "NOT_HOST")

	// Host, but nobody is ready.
	sendMessage(t, ctx, connA, "start_game", StartGameRequest{})
	expectError(t, ctx, connA, "NOT_ALL_READY")
}

func TestStartGameNotEnoughPlayers(t *testing.T) {
	ctx := context.Background()
	_, url, cleanup := setupTestServer()
	defer cleanup()

	conn := dialClient(t, ctx, url)
	registerPlayer(t, ctx, conn, "Alice")

	sendMessage(t, ctx, conn, "create_room", CreateRoomRequest{})
	expectMessage(t, ctx, conn, "room_created", nil)

	sendMessage(t, ctx, conn, "start_game", StartGameRequest{})
	expectError(t, ctx, conn, "NOT_ENOUGH_PLAYERS")
}

// ============================================================================
// ACCUSATION TESTS
// ============================================================================

func TestMakeAccusationDisproved(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, url, cleanup := setupTestServer()
	defer cleanup()

	connA, connB, alice, bob, roomCode := setupRoomWithTwoPlayers(t, ctx, url)
	startTwoPlayerGame(t, ctx, connA, connB)

	solution := game.Solution{Suspect: "Professor Plum", Weapon: "Wrench", Room: "Lounge"}
	state := &game.State{
		Solution:  solution,
		Catalog:   game.Catalog(),
		TurnOrder: []int64{alice.ID, bob.ID},
		Hands: map[int64][]game.Card{
			alice.ID: {},
			bob.ID: {
				{Type: game.TypeRoom, Value: "Kitchen"},
				{Type: game.TypeSuspect, Value: "Miss Scarlett"},
			},
		},
		Eliminated: make(map[int64]bool),
	}
	replaceGameState(s, roomCode, state)

	sendMessage(t, ctx, connA, "make_accusation", AccusationRequest{
		Suspect: "Miss Scarlett",
		Weapon:  "Rope",
		Room:    "Kitchen",
	})

	var made AccusationMadeMessage
	expectMessage(t, ctx, connA, "accusation_made", &made)
	assert.Equal(alice.ID, made.PlayerID)
	assert.Equal("Miss Scarlett", made.Accusation.Suspect)

	// The accuser learns only who will reveal.
	var revealing CardBeingRevealedMessage
	expectMessage(t, ctx, connA, "card_being_revealed", &revealing)
	assert.Equal(bob.ID, revealing.Revealer)

	// The revealer gets the matching cards, suspect ranked first.
	expectMessage(t, ctx, connB, "accusation_made", nil)
	var reveal RevealCardRequestMessage
	expectMessage(t, ctx, connB, "reveal_card_request", &reveal)
	assert.Equal(alice.ID, reveal.AccuserID)
	assert.Equal([]game.Card{
		{Type: game.TypeSuspect, Value: "Miss Scarlett"},
		{Type: game.TypeRoom, Value: "Kitchen"},
	}, reveal.PossibleCards)
}

func TestMakeAccusationNotDisproved(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, url, cleanup := setupTestServer()
	defer cleanup()

	connA, connB, alice, bob, roomCode := setupRoomWithTwoPlayers(t, ctx, url)
	startTwoPlayerGame(t, ctx, connA, connB)

	solution := game.Solution{Suspect: "Professor Plum", Weapon: "Wrench", Room: "Lounge"}
	state := &game.State{
		Solution:  solution,
		Catalog:   game.Catalog(),
		TurnOrder: []int64{alice.ID, bob.ID},
		Hands: map[int64][]game.Card{
			alice.ID: {},
			bob.ID:   {{Type: game.TypeWeapon, Value: "Rope"}},
		},
		Eliminated: make(map[int64]bool),
	}
	replaceGameState(s, roomCode, state)

	// Accusing the solution: no hand can contradict it.
	sendMessage(t, ctx, connA, "make_accusation", AccusationRequest{
		Suspect: solution.Suspect,
		Weapon:  solution.Weapon,
		Room:    solution.Room,
	})

	expectMessage(t, ctx, connA, "accusation_made", nil)
	var stands AccusationNotDisprovedMessage
	expectMessage(t, ctx, connA, "accusation_not_disproved", &stands)
	assert.Equal(alice.ID, stands.PlayerID)

	expectMessage(t, ctx, connB, "accusation_made", nil)
	expectMessage(t, ctx, connB, "accusation_not_disproved", nil)
}

func TestMakeAccusationOutOfTurn(t *testing.T) {
	ctx := context.Background()
	_, url, cleanup := setupTestServer()
	defer cleanup()

	connA, connB, _, _, _ := setupRoomWithTwoPlayers(t, ctx, url)
	startTwoPlayerGame(t, ctx, connA, connB)

	sendMessage(t, ctx, connB, "make_accusation", AccusationRequest{
		Suspect: "Miss Scarlett",
		Weapon:  "Rope",
		Room:    "Kitchen",
	})
	expectError(t, ctx, connB, "NOT_YOUR_TURN")
}

func TestMakeAccusationBeforeGameStarts(t *testing.T) {
	ctx := context.Background()
	_, url, cleanup := setupTestServer()
	defer cleanup()

	connA, _, _, _, _ := setupRoomWithTwoPlayers(t, ctx, url)

	sendMessage(t, ctx, connA, "make_accusation", AccusationRequest{
		Suspect: "Miss Scarlett",
		Weapon:  "Rope",
		Room:    "Kitchen",
	})
	expectError(t, ctx, connA, "GAME_NOT_STARTED")
}

func TestMakeAccusationMissingFields(t *testing.T) {
	ctx := context.Background()
	_, url, cleanup := setupTestServer()
	defer cleanup()

	connA, connB, _, _, _ := setupRoomWithTwoPlayers(t, ctx, url)
	startTwoPlayerGame(t, ctx, connA, connB)

	sendMessage(t, ctx, connA, "make_accusation", AccusationRequest{Suspect: "Miss Scarlett"})
	expectError(t, ctx, connA, "INVALID_PAYLOAD")
}

func TestFinalAccusationCorrectEndsGame(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, url, cleanup := setupTestServer()
	defer cleanup()

	connA, connB, alice, bob, roomCode := setupRoomWithTwoPlayers(t, ctx, url)
	startTwoPlayerGame(t, ctx, connA, connB)

	solution := game.Solution{Suspect: "Mrs. Peacock", Weapon: "Knife", Room: "Study"}
	state := &game.State{
		Solution:   solution,
		Catalog:    game.Catalog(),
		TurnOrder:  []int64{alice.ID, bob.ID},
		Hands:      map[int64][]game.Card{alice.ID: {}, bob.ID: {}},
		Eliminated: make(map[int64]bool),
	}
	replaceGameState(s, roomCode, state)

	sendMessage(t, ctx, connA, "make_final_accusation", AccusationRequest{
		Suspect: solution.Suspect,
		Weapon:  solution.Weapon,
		Room:    solution.Room,
	})

	var result FinalAccusationResultMessage
	expectMessage(t, ctx, connA, "final_accusation_result", &result)
	assert.Equal(alice.ID, result.PlayerID)
	assert.True(result.Correct)

	// Only now is the solution public.
	var ended GameEndedMessage
	expectMessage(t, ctx, connA, "game_ended", &ended)
	assert.Equal(alice.ID, ended.Winner)
	assert.Equal(solution, ended.Solution)

	expectMessage(t, ctx, connB, "final_accusation_result", nil)
	expectMessage(t, ctx, connB, "game_ended", nil)

	room, _ := s.store.GetRoomByCode(roomCode)
	assert.Equal(StatusEnded, room.Status)

	winner, _ := s.store.GetPlayer(alice.ID)
	assert.Equal(1, winner.Points)

	// The ended room rejects further play.
	sendMessage(t, ctx, connA, "end_turn", EndTurnRequest{})
	expectError(t, ctx, connA, "GAME_ENDED")

	sendMessage(t, ctx, connB, "make_accusation", AccusationRequest{
		Suspect: "Miss Scarlett",
		Weapon:  "Rope",
		Room:    "Kitchen",
	})
	expectError(t, ctx, connB, "GAME_ENDED")
}

func TestFinalAccusationIncorrectEliminates(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, url, cleanup := setupTestServer()
	defer cleanup()

	connA, connB, alice, bob, roomCode := setupRoomWithTwoPlayers(t, ctx, url)
	startTwoPlayerGame(t, ctx, connA, connB)

	solution := game.Solution{Suspect: "Mrs. Peacock", Weapon: "Knife", Room: "Study"}
	state := &game.State{
		Solution:   solution,
		Catalog:    game.Catalog(),
		TurnOrder:  []int64{alice.ID, bob.ID},
		Hands:      map[int64][]game.Card{alice.ID: {}, bob.ID: {}},
		Eliminated: make(map[int64]bool),
	}
	replaceGameState(s, roomCode, state)

	sendMessage(t, ctx, connA, "make_final_accusation", AccusationRequest{
		Suspect: "Miss Scarlett",
		Weapon:  "Knife",
		Room:    "Study",
	})

	var result FinalAccusationResultMessage
	expectMessage(t, ctx, connA, "final_accusation_result", &result)
	assert.Equal(alice.ID, result.PlayerID)
	assert.False(result.Correct)
	expectMessage(t, ctx, connB, "final_accusation_result", nil)

	// The game continues without the eliminated accuser.
	room, _ := s.store.GetRoomByCode(roomCode)
	assert.Equal(StatusPlaying, room.Status)
	assert.True(state.IsEliminated(alice.ID))

	sendMessage(t, ctx, connA, "make_accusation", AccusationRequest{
		Suspect: "Miss Scarlett",
		Weapon:  "Rope",
		Room:    "Kitchen",
	})
	expectError(t, ctx, connA, "ELIMINATED")

	// Their turn slot still rotates normally.
	sendMessage(t, ctx, connA, "end_turn", EndTurnRequest{})
	var turn TurnChangedMessage
	expectMessage(t, ctx, connA, "turn_changed", &turn)
	assert.Equal(bob.ID, turn.PlayerID)
	expectMessage(t, ctx, connB, "turn_changed", nil)
}

func TestEndTurnRotation(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	_, url, cleanup := setupTestServer()
	defer cleanup()

	connA, connB, alice, bob, _ := setupRoomWithTwoPlayers(t, ctx, url)
	startTwoPlayerGame(t, ctx, connA, connB)

	sendMessage(t, ctx, connB, "end_turn", EndTurnRequest{})
	expectError(t, ctx, connB, "NOT_YOUR_TURN")

	sendMessage(t, ctx, connA, "end_turn", EndTurnRequest{})
	var turn TurnChangedMessage
	expectMessage(t, ctx, connA, "turn_changed", &turn)
	assert.Equal(bob.ID, turn.PlayerID)
	expectMessage(t, ctx, connB, "turn_changed", nil)

	// The rotation wraps back to the first player.
	sendMessage(t, ctx, connB, "end_turn", EndTurnRequest{})
	expectMessage(t, ctx, connB, "turn_changed", &turn)
	assert.Equal(alice.ID, turn.PlayerID)
	expectMessage(t, ctx, connA, "turn_changed", nil)
}

// ============================================================================
// BOARD MOVEMENT AND CHAT TESTS
// ============================================================================

func TestChangeRoom(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	_, url, cleanup := setupTestServer()
	defer cleanup()

	connA, connB, alice, _, _ := setupRoomWithTwoPlayers(t, ctx, url)

	sendMessage(t, ctx, connA, "change_room", ChangeRoomRequest{Room: "Library"})

	var moved PlayerChangedRoomMessage
	expectMessage(t, ctx, connA, "player_changed_room", &moved)
	assert.Equal(alice.ID, moved.PlayerID)
	assert.Equal("Library", moved.Room)
	expectMessage(t, ctx, connB, "player_changed_room", nil)
}

func TestChatMessage(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	_, url, cleanup := setupTestServer()
	defer cleanup()

	connA, connB, alice, _, _ := setupRoomWithTwoPlayers(t, ctx, url)

	sendMessage(t, ctx, connA, "chat_message", ChatMessageRequest{
		Text:     "I suspect the professor.",
		PlayerID: alice.ID,
	})

	var chat ChatMessage
	expectMessage(t, ctx, connA, "chat_message", &chat)
	assert.Equal(alice.ID, chat.PlayerID)
	assert.Equal("Alice", chat.PlayerName)
	assert.Equal("I suspect the professor.", chat.Text)
	assert.NotEmpty(chat.Timestamp)

	var sent ChatMessageSentMessage
	expectMessage(t, ctx, connA, "chat_message_sent", &sent)
	assert.True(sent.Success)

	expectMessage(t, ctx, connB, "chat_message", &chat)
	assert.Equal(alice.ID, chat.PlayerID)
}

func TestChatMessageSenderMismatch(t *testing.T) {
	ctx := context.Background()
	_, url, cleanup := setupTestServer()
	defer cleanup()

	connA, _, _, bob, _ := setupRoomWithTwoPlayers(t, ctx, url)

	// Claiming another player's id is rejected.
	sendMessage(t, ctx, connA, "chat_message", ChatMessageRequest{
		Text:     "hello",
		PlayerID: bob.ID,
	})
	expectError(t, ctx, connA, "SENDER_MISMATCH")
}

func TestChatMessageInvalidText(t *testing.T) {
	ctx := context.Background()
	_, url, cleanup := setupTestServer()
	defer cleanup()

	connA, _, alice, _, _ := setupRoomWithTwoPlayers(t, ctx, url)

	sendMessage(t, ctx, connA, "chat_message", ChatMessageRequest{Text: "", PlayerID: alice.ID})
	expectError(t, ctx, connA, "INVALID_TEXT")

	sendMessage(t, ctx, connA, "chat_message", ChatMessageRequest{
		Text:     strings.Repeat("x", 501),
		PlayerID: alice.ID,
	})
	expectError(t, ctx, connA, "INVALID_TEXT")
}

// ============================================================================
// SOLUTION ACCESS TESTS
// ============================================================================

func TestGetSolutionDeniedByDefault(t *testing.T) {
	ctx := context.Background()
	_, url, cleanup := setupTestServer()
	defer cleanup()

	connA, connB, _, _, _ := setupRoomWithTwoPlayers(t, ctx, url)
	startTwoPlayerGame(t, ctx, connA, connB)

	sendMessage(t, ctx, connA, "get_solution", GetSolutionRequest{})
	expectError(t, ctx, connA, "ACCESS_DENIED")
}

func TestGetSolutionWithDebugEnabled(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, url, cleanup := setupTestServer()
	defer cleanup()

	s.debug = true

	connA, connB, _, _, roomCode := setupRoomWithTwoPlayers(t, ctx, url)
	startTwoPlayerGame(t, ctx, connA, connB)

	sendMessage(t, ctx, connA, "get_solution", GetSolutionRequest{})

	var revealed SolutionRevealedMessage
	expectMessage(t, ctx, connA, "solution_revealed", &revealed)

	state, _ := s.store.GetGameState(roomCode)
	assert.Equal(state.Solution, revealed.Solution)
}
