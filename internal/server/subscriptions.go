package server

import "sync"

// RoomIndex maps a room code to the set of connections subscribed to it.
// It exists purely for broadcast fan-out and is independent of the
// player/room records in the store.
type RoomIndex struct {
	members map[string]map[string]struct{}
	mu      sync.RWMutex
}

func NewRoomIndex() *RoomIndex {
	return &RoomIndex{
		members: make(map[string]map[string]struct{}),
	}
}

func (ri *RoomIndex) Subscribe(roomCode, connectionID string) {
	ri.mu.Lock()
	defer ri.mu.Unlock()

	set, ok := ri.members[roomCode]
	if !ok {
		set = make(map[string]struct{})
		ri.members[roomCode] = set
	}
	set[connectionID] = struct{}{}
}

// Unsubscribe removes the connection; when the room's last subscriber
// leaves the entry itself is dropped so the index holds no empty sets.
func (ri *RoomIndex) Unsubscribe(roomCode, connectionID string) {
	ri.mu.Lock()
	defer ri.mu.Unlock()

	set, ok := ri.members[roomCode]
	if !ok {
		return
	}
	delete(set, connectionID)
	if len(set) == 0 {
		delete(ri.members, roomCode)
	}
}

// MembersOf returns the subscribed connection ids. An unknown room code
// yields an empty slice, never an error.
func (ri *RoomIndex) MembersOf(roomCode string) []string {
	ri.mu.RLock()
	defer ri.mu.RUnlock()

	set := ri.members[roomCode]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}
