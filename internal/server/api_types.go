package server

import "github.com/Seif4646/MysteryMansion/internal/game"

// ============================================================================
// ERROR RESPONSES
// ============================================================================
type ErrorMessage struct {
	Message string `json:"message"`
}

// ============================================================================
// CONNECTION (connected)
// ============================================================================
type ConnectedMessage struct {
	ClientID string `json:"clientId"`
}

// ============================================================================
// REGISTER PLAYER (register_player / player_registered)
// ============================================================================
type RegisterPlayerRequest struct {
	Name string `json:"name"`
}

// ============================================================================
// CREATE ROOM (create_room / room_created)
// ============================================================================
type CreateRoomRequest struct {
	// No fields - the bound player creates the room
}

type RoomCreatedMessage struct {
	Room    Room     `json:"room"`
	Players []Player `json:"players"`
}

// ============================================================================
// JOIN ROOM (join_room / room_joined, player_joined)
// ============================================================================
type JoinRoomRequest struct {
	RoomCode string `json:"roomCode"`
}

type RoomJoinedMessage struct {
	Room    Room     `json:"room"`
	Players []Player `json:"players"`
}

type PlayerJoinedMessage struct {
	Player  Player   `json:"player"`
	Players []Player `json:"players"`
}

// ============================================================================
// LEAVE ROOM (leave_room / player_left, host_changed)
// ============================================================================
type LeaveRoomRequest struct {
	// No fields - the session identifies the player
}

type PlayerLeftMessage struct {
	PlayerID int64 `json:"playerId"`
}

type HostChangedMessage struct {
	NewHostID int64 `json:"newHostId"`
}

// ============================================================================
// READY (toggle_ready / player_ready_changed, all_players_ready)
// ============================================================================
type ToggleReadyRequest struct {
	// No fields
}

type PlayerReadyChangedMessage struct {
	PlayerID int64 `json:"playerId"`
	Ready    bool  `json:"ready"`
}

type AllPlayersReadyMessage struct {
	CanStart bool `json:"canStart"`
}

// ============================================================================
// START GAME (start_game / game_started, player_cards, turn_changed)
// ============================================================================
type StartGameRequest struct {
	// No fields - host only
}

type GameStartedMessage struct {
	RoomCode string `json:"roomCode"`
}

type PlayerCardsMessage struct {
	Cards []game.Card `json:"cards"`
}

type TurnChangedMessage struct {
	PlayerID int64 `json:"playerId"`
}

// ============================================================================
// ACCUSATIONS (make_accusation / make_final_accusation)
// ============================================================================
type AccusationRequest struct {
	Suspect string `json:"suspect"`
	Weapon  string `json:"weapon"`
	Room    string `json:"room"`
}

type AccusationMadeMessage struct {
	PlayerID   int64           `json:"playerId"`
	Accusation game.Accusation `json:"accusation"`
}

type CardBeingRevealedMessage struct {
	Revealer int64 `json:"revealer"`
}

type RevealCardRequestMessage struct {
	AccuserID     int64       `json:"accuserId"`
	PossibleCards []game.Card `json:"possibleCards"`
}

type AccusationNotDisprovedMessage struct {
	PlayerID   int64           `json:"playerId"`
	Accusation game.Accusation `json:"accusation"`
}

type FinalAccusationResultMessage struct {
	PlayerID   int64           `json:"playerId"`
	Accusation game.Accusation `json:"accusation"`
	Correct    bool            `json:"correct"`
}

type GameEndedMessage struct {
	Winner   int64         `json:"winner"`
	Solution game.Solution `json:"solution"`
}

// ============================================================================
// END TURN (end_turn)
// ============================================================================
type EndTurnRequest struct {
	// No fields
}

// ============================================================================
// MANSION MOVEMENT (change_room / player_changed_room)
// ============================================================================
type ChangeRoomRequest struct {
	Room string `json:"room"`
}

type PlayerChangedRoomMessage struct {
	PlayerID int64  `json:"playerId"`
	Room     string `json:"room"`
}

// ============================================================================
// CHAT (chat_message / chat_message, chat_message_sent)
// ============================================================================
type ChatMessageRequest struct {
	Text       string `json:"text"`
	PlayerID   int64  `json:"playerId"`
	PlayerName string `json:"playerName"`
	Timestamp  string `json:"timestamp"`
}

type ChatMessage struct {
	PlayerID   int64  `json:"playerId"`
	PlayerName string `json:"playerName"`
	Text       string `json:"text"`
	Timestamp  string `json:"timestamp"`
}

type ChatMessageSentMessage struct {
	Success bool `json:"success"`
}

// ============================================================================
// SOLUTION (get_solution / solution_revealed)
// ============================================================================
type GetSolutionRequest struct {
	// No fields - gated by the server debug capability
}

type SolutionRevealedMessage struct {
	Solution game.Solution `json:"solution"`
}

// ============================================================================
// SHUTDOWN (server_shutdown)
// ============================================================================
type ServerShutdownMessage struct {
	Message string `json:"message"`
}
