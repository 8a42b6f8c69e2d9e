package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter caps how many messages a single connection may send per
// sliding window. One chatty client must not starve the dispatch loop for
// the rest of a room.
type RateLimiter struct {
	maxRequests int
	window      time.Duration
	requests    map[string][]time.Time // connectionID → recent message times
	mu          sync.Mutex
}

func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		requests:    make(map[string][]time.Time),
	}
}

// Allow reports whether the connection may send another message now.
func (r *RateLimiter) Allow(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	timestamps := r.requests[connectionID]
	valid := make([]time.Time, 0, len(timestamps))
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= r.maxRequests {
		r.requests[connectionID] = valid
		return false
	}

	r.requests[connectionID] = append(valid, now)
	return true
}

// RemoveConnection drops rate-limit history when a socket closes.
func (r *RateLimiter) RemoveConnection(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requests, connectionID)
}

// ConnectionHealth tracks last-activity times so idle sockets can be found.
type ConnectionHealth struct {
	lastActivity map[string]time.Time
	mu           sync.RWMutex
}

func NewConnectionHealth() *ConnectionHealth {
	return &ConnectionHealth{
		lastActivity: make(map[string]time.Time),
	}
}

func (h *ConnectionHealth) UpdateActivity(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastActivity[connectionID] = time.Now()
}

func (h *ConnectionHealth) IsInactive(connectionID string, timeout time.Duration) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	last, ok := h.lastActivity[connectionID]
	if !ok {
		return false
	}
	return time.Since(last) > timeout
}

func (h *ConnectionHealth) RemoveConnection(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.lastActivity, connectionID)
}

var validMessageTypes = map[string]bool{
	"ping":                  true,
	"register_player":       true,
	"create_room":           true,
	"join_room":             true,
	"leave_room":            true,
	"toggle_ready":          true,
	"start_game":            true,
	"make_accusation":       true,
	"make_final_accusation": true,
	"end_turn":              true,
	"change_room":           true,
	"chat_message":          true,
	"get_solution":          true,
}

// ValidateMessageType rejects unknown types before any handler runs.
func ValidateMessageType(msgType string) error {
	if !validMessageTypes[msgType] {
		return fmt.Errorf("UNSUPPORTED_OPERATION: Unknown message type '%s'", msgType)
	}
	return nil
}
