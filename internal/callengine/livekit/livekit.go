package livekit

import (
	"context"
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"

	"github.com/themis-pm/collab-relay/internal/callengine"
	"github.com/themis-pm/collab-relay/internal/proto"
)

// DefaultTokenTTL is how long issued join tokens stay valid.
const DefaultTokenTTL = time.Hour

// LiveKitEngine implements callengine.Engine using LiveKit as the media backend.
type LiveKitEngine struct {
	apiKey    string
	apiSecret string
	wsURL     string
	ttl       time.Duration
}

// New creates a new LiveKitEngine.
func New(apiKey, apiSecret, wsURL string) *LiveKitEngine {
	return &LiveKitEngine{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		wsURL:     wsURL,
		ttl:       DefaultTokenTTL,
	}
}

// RoomName maps a call room to its LiveKit room.
// LiveKit creates rooms on demand when the first participant joins.
func RoomName(roomID string) string {
	return "themis-call-" + roomID
}

// JoinInfo signs a room-join grant for peerID.
func (e *LiveKitEngine) JoinInfo(_ context.Context, roomID, peerID, userID string) (*proto.SFUInfo, error) {
	if roomID == "" || peerID == "" {
		return nil, fmt.Errorf("room and peer are required")
	}
	room := RoomName(roomID)

	at := auth.NewAccessToken(e.apiKey, e.apiSecret)
	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     room,
	}
	at.SetVideoGrant(grant).
		SetIdentity(peerID).
		SetName(userID).
		SetValidFor(e.ttl)

	token, err := at.ToJWT()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	return &proto.SFUInfo{
		URL:      e.wsURL,
		Token:    token,
		RoomName: room,
		Identity: peerID,
	}, nil
}

var _ callengine.Engine = (*LiveKitEngine)(nil)
