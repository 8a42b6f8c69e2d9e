package server

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Seif4646/MysteryMansion/internal/game"
)

// PersistenceManager snapshots the in-memory store into postgres so a
// restarted server can pick its rooms back up. The in-memory store stays
// authoritative; snapshot failures never reach the dispatch path.
type PersistenceManager struct {
	db *sql.DB
}

func NewPersistenceManager(db *sql.DB) *PersistenceManager {
	return &PersistenceManager{db: db}
}

// roomSnapshot carries the game state alongside the room record. Room
// excludes the game payload from its own JSON because that serialization
// also goes to clients; the snapshot wrapper is server-side only.
type roomSnapshot struct {
	Room Room        `json:"room"`
	Game *game.State `json:"game,omitempty"`
}

// playerSnapshot re-attaches the session token the client-facing Player
// serialization hides.
type playerSnapshot struct {
	Player  Player `json:"player"`
	Session string `json:"session"`
}

func (pm *PersistenceManager) SaveRoom(room Room) error {
	data, err := json.Marshal(roomSnapshot{Room: room, Game: room.Game})
	if err != nil {
		return fmt.Errorf("failed to serialize room %s: %w", room.Code, err)
	}

	query := `
		INSERT INTO rooms (code, status, snapshot, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code) DO UPDATE
		SET status = EXCLUDED.status, snapshot = EXCLUDED.snapshot, updated_at = EXCLUDED.updated_at
	`

	_, err = pm.db.Exec(query, room.Code, string(room.Status), data, room.CreatedAt, room.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save room %s: %w", room.Code, err)
	}
	return nil
}

func (pm *PersistenceManager) LoadRoom(code string) (Room, error) {
	var data []byte
	err := pm.db.QueryRow(`SELECT snapshot FROM rooms WHERE code = $1`, code).Scan(&data)
	if err == sql.ErrNoRows {
		return Room{}, fmt.Errorf("room not found: %s", code)
	}
	if err != nil {
		return Room{}, fmt.Errorf("failed to load room %s: %w", code, err)
	}

	var snap roomSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Room{}, fmt.Errorf("failed to deserialize room %s: %w", code, err)
	}
	snap.Room.Game = snap.Game

	return snap.Room, nil
}

// LoadAllActiveRooms returns every room that has not ended, newest first.
func (pm *PersistenceManager) LoadAllActiveRooms() ([]Room, error) {
	rows, err := pm.db.Query(
		`SELECT snapshot FROM rooms WHERE status != $1 ORDER BY updated_at DESC`,
		string(StatusEnded),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query active rooms: %w", err)
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan room row: %w", err)
		}

		var snap roomSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			continue // skip corrupt snapshots, keep restoring the rest
		}
		snap.Room.Game = snap.Game
		rooms = append(rooms, snap.Room)
	}

	return rooms, rows.Err()
}

func (pm *PersistenceManager) DeleteRoom(code string) error {
	if _, err := pm.db.Exec(`DELETE FROM rooms WHERE code = $1`, code); err != nil {
		return fmt.Errorf("failed to delete room %s: %w", code, err)
	}
	// Freed codes become available for new rooms again.
	return pm.SaveRoomCode(code, false)
}

func (pm *PersistenceManager) SavePlayer(player Player) error {
	data, err := json.Marshal(playerSnapshot{Player: player, Session: player.Session})
	if err != nil {
		return fmt.Errorf("failed to serialize player %d: %w", player.ID, err)
	}

	query := `
		INSERT INTO players (id, room_code, snapshot, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET room_code = EXCLUDED.room_code, snapshot = EXCLUDED.snapshot, updated_at = EXCLUDED.updated_at
	`

	_, err = pm.db.Exec(query, player.ID, player.RoomCode, data, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save player %d: %w", player.ID, err)
	}
	return nil
}

func (pm *PersistenceManager) LoadAllPlayers() ([]Player, error) {
	rows, err := pm.db.Query(`SELECT snapshot FROM players`)
	if err != nil {
		return nil, fmt.Errorf("failed to query players: %w", err)
	}
	defer rows.Close()

	var players []Player
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan player row: %w", err)
		}

		var snap playerSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			continue
		}
		snap.Player.Session = snap.Session
		players = append(players, snap.Player)
	}

	return players, rows.Err()
}

func (pm *PersistenceManager) DeletePlayer(id int64) error {
	if _, err := pm.db.Exec(`DELETE FROM players WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete player %d: %w", id, err)
	}
	return nil
}

func (pm *PersistenceManager) SaveRoomCode(code string, inUse bool) error {
	query := `
		INSERT INTO room_codes (code, in_use, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (code) DO UPDATE SET in_use = EXCLUDED.in_use
	`
	if _, err := pm.db.Exec(query, code, inUse, time.Now()); err != nil {
		return fmt.Errorf("failed to save room code %s: %w", code, err)
	}
	return nil
}

func (pm *PersistenceManager) LoadUsedRoomCodes() (map[string]bool, error) {
	rows, err := pm.db.Query(`SELECT code, in_use FROM room_codes`)
	if err != nil {
		return nil, fmt.Errorf("failed to query room codes: %w", err)
	}
	defer rows.Close()

	used := make(map[string]bool)
	for rows.Next() {
		var code string
		var inUse bool
		if err := rows.Scan(&code, &inUse); err != nil {
			return nil, fmt.Errorf("failed to scan room code row: %w", err)
		}
		used[code] = inUse
	}

	return used, rows.Err()
}

// CleanupOldRooms deletes ended rooms whose last update is older than the
// cutoff and frees their codes. Returns the number of rooms removed.
func (pm *PersistenceManager) CleanupOldRooms(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	rows, err := pm.db.Query(
		`SELECT code FROM rooms WHERE status = $1 AND updated_at < $2`,
		string(StatusEnded), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to query old rooms: %w", err)
	}

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan room code: %w", err)
		}
		codes = append(codes, code)
	}
	rows.Close()

	for _, code := range codes {
		if err := pm.DeleteRoom(code); err != nil {
			return 0, err
		}
	}

	return len(codes), nil
}

// SaveAll snapshots every room and player. The store lock is held for the
// duration so a concurrent handler cannot mutate a record mid-marshal.
func (pm *PersistenceManager) SaveAll(st *Store) (int, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	saved := 0
	for _, room := range st.rooms {
		if err := pm.SaveRoom(*room); err != nil {
			return saved, err
		}
		if err := pm.SaveRoomCode(room.Code, true); err != nil {
			return saved, err
		}
		saved++
	}
	for _, player := range st.players {
		if err := pm.SavePlayer(*player); err != nil {
			return saved, err
		}
	}

	return saved, nil
}

// RestoreInto loads persisted rooms and players back into an empty store
// and advances the id counters past everything restored.
func (pm *PersistenceManager) RestoreInto(st *Store) error {
	rooms, err := pm.LoadAllActiveRooms()
	if err != nil {
		return err
	}
	players, err := pm.LoadAllPlayers()
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	for i := range rooms {
		room := rooms[i]
		st.rooms[room.ID] = &room
		st.roomsByCode[room.Code] = room.ID
		if room.ID > st.nextRoomID {
			st.nextRoomID = room.ID
		}
	}
	for i := range players {
		player := players[i]
		st.players[player.ID] = &player
		if player.ID > st.nextPlayerID {
			st.nextPlayerID = player.ID
		}
	}

	return nil
}
