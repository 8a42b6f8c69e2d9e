package server

import (
	"sort"
	"sync"
	"time"

	"github.com/Seif4646/MysteryMansion/internal/game"
)

type RoomStatus string

const (
	StatusWaiting RoomStatus = "waiting"
	StatusPlaying RoomStatus = "playing"
	StatusEnded   RoomStatus = "ended"
)

const (
	DefaultMaxPlayers = 6
	DefaultMinPlayers = 2
)

// Player is the authoritative record for a registered player. Session is
// the bearer token (the originating connection id) and is never serialized
// toward clients.
type Player struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Session  string `json:"-"`
	RoomCode string `json:"roomCode"`
	Ready    bool   `json:"ready"`
	Host     bool   `json:"host"`
	Points   int    `json:"points"`
}

// Room is the authoritative record for a lobby room. Game holds the opaque
// game-state payload once status is playing; it carries the solution, so it
// is excluded from every client-facing serialization.
type Room struct {
	ID           int64       `json:"id"`
	Code         string      `json:"code"`
	Status       RoomStatus  `json:"status"`
	PlayersCount int         `json:"playersCount"`
	MaxPlayers   int         `json:"maxPlayers"`
	MinPlayers   int         `json:"minPlayers"`
	Game         *game.State `json:"-"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// PlayerPatch is a partial update; nil fields are left untouched. RoomCode
// pointing at an empty string clears the room binding.
type PlayerPatch struct {
	Name     *string
	RoomCode *string
	Ready    *bool
	Host     *bool
}

// RoomPatch is a partial update; nil fields are left untouched.
type RoomPatch struct {
	Status       *RoomStatus
	PlayersCount *int
}

// Store owns every player and room record. All updates are whole-record
// read-merge-write under the store lock; the dispatch mutex in Server keeps
// handler sequences atomic across store, registry and index.
type Store struct {
	players      map[int64]*Player
	rooms        map[int64]*Room
	roomsByCode  map[string]int64
	nextPlayerID int64
	nextRoomID   int64
	mu           sync.RWMutex
}

func NewStore() *Store {
	return &Store{
		players:     make(map[int64]*Player),
		rooms:       make(map[int64]*Room),
		roomsByCode: make(map[string]int64),
	}
}

func (st *Store) CreatePlayer(name, session string) Player {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.nextPlayerID++
	player := &Player{
		ID:      st.nextPlayerID,
		Name:    name,
		Session: session,
	}
	st.players[player.ID] = player

	return *player
}

func (st *Store) GetPlayer(id int64) (Player, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	player, ok := st.players[id]
	if !ok {
		return Player{}, false
	}
	return *player, true
}

func (st *Store) GetPlayerBySession(session string) (Player, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	for _, player := range st.players {
		if player.Session == session {
			return *player, true
		}
	}
	return Player{}, false
}

// GetPlayersInRoom enumerates in ascending id order. Ids are monotonic, so
// this is join order and the order the game engine deals and rotates turns
// in when a game starts.
func (st *Store) GetPlayersInRoom(roomCode string) []Player {
	st.mu.RLock()
	defer st.mu.RUnlock()

	players := make([]Player, 0)
	for _, player := range st.players {
		if player.RoomCode == roomCode && roomCode != "" {
			players = append(players, *player)
		}
	}
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })

	return players
}

func (st *Store) UpdatePlayer(id int64, patch PlayerPatch) (Player, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	player, ok := st.players[id]
	if !ok {
		return Player{}, false
	}

	if patch.Name != nil {
		player.Name = *patch.Name
	}
	if patch.RoomCode != nil {
		player.RoomCode = *patch.RoomCode
	}
	if patch.Ready != nil {
		player.Ready = *patch.Ready
	}
	if patch.Host != nil {
		player.Host = *patch.Host
	}

	return *player, true
}

// AwardPoints increments a player's points counter. This is the only way
// points change; nothing in the lobby flow ever decreases them.
func (st *Store) AwardPoints(id int64, points int) (Player, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	player, ok := st.players[id]
	if !ok || points < 0 {
		return Player{}, false
	}
	player.Points += points

	return *player, true
}

func (st *Store) DeletePlayer(id int64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.players, id)
}

// CreateRoom registers a room under the given code with default limits.
// The caller is responsible for having checked the code is unused.
func (st *Store) CreateRoom(code string) Room {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.nextRoomID++
	now := time.Now()
	room := &Room{
		ID:         st.nextRoomID,
		Code:       code,
		Status:     StatusWaiting,
		MaxPlayers: DefaultMaxPlayers,
		MinPlayers: DefaultMinPlayers,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	st.rooms[room.ID] = room
	st.roomsByCode[code] = room.ID

	return *room
}

func (st *Store) GetRoom(id int64) (Room, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	room, ok := st.rooms[id]
	if !ok {
		return Room{}, false
	}
	return *room, true
}

func (st *Store) GetRoomByCode(code string) (Room, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	id, ok := st.roomsByCode[code]
	if !ok {
		return Room{}, false
	}
	return *st.rooms[id], true
}

func (st *Store) UpdateRoom(id int64, patch RoomPatch) (Room, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	room, ok := st.rooms[id]
	if !ok {
		return Room{}, false
	}

	if patch.Status != nil {
		room.Status = *patch.Status
	}
	if patch.PlayersCount != nil {
		room.PlayersCount = *patch.PlayersCount
	}
	room.UpdatedAt = time.Now()

	return *room, true
}

func (st *Store) DeleteRoom(id int64) {
	st.mu.Lock()
	defer st.mu.Unlock()

	room, ok := st.rooms[id]
	if !ok {
		return
	}
	delete(st.roomsByCode, room.Code)
	delete(st.rooms, id)
}

// SetGameState attaches the game-state payload to a room. Returns false if
// the room code is unknown.
func (st *Store) SetGameState(code string, state *game.State) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	id, ok := st.roomsByCode[code]
	if !ok {
		return false
	}
	st.rooms[id].Game = state
	st.rooms[id].UpdatedAt = time.Now()

	return true
}

// GetGameState returns the room's live game state. The pointer is shared;
// mutation happens only inside dispatch handlers, which are serialized.
func (st *Store) GetGameState(code string) (*game.State, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	id, ok := st.roomsByCode[code]
	if !ok || st.rooms[id].Game == nil {
		return nil, false
	}
	return st.rooms[id].Game, true
}
