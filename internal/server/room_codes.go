package server

import (
	"errors"
	"math/rand"
	"strings"
)

// roomCodeAlphabet leaves out 0/O, 1/I and other glyphs players misread
// when typing a code off a friend's screen.
const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const roomCodeLength = 6

// GenerateRoomCode returns a random 6-character code. Uniqueness is the
// caller's job: retry against the store until the code is unused.
func GenerateRoomCode() string {
	code := make([]byte, roomCodeLength)
	for i := range code {
		code[i] = roomCodeAlphabet[rand.Intn(len(roomCodeAlphabet))]
	}
	return string(code)
}

func ValidateRoomCode(code string) error {
	if len(code) != roomCodeLength {
		return errors.New("INVALID_ROOM_CODE: Room code must be exactly 6 characters")
	}

	for _, ch := range code {
		if !strings.ContainsRune(roomCodeAlphabet, ch) {
			return errors.New("INVALID_ROOM_CODE: Room code contains invalid characters")
		}
	}

	return nil
}

func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
