package utils

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// NewID returns a random UUID string for connections, clients and messages.
func NewID() string {
	return uuid.NewString()
}

// NewPeerID returns "{userID}-{suffix}" so one user can join a call from several devices.
// The suffix is the first 5 random bytes of a v4 UUID, hex encoded.
func NewPeerID(userID string) string {
	id := uuid.New()
	return userID + "-" + hex.EncodeToString(id[:5])
}
