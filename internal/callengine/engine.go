package callengine

import (
	"context"

	"github.com/themis-pm/collab-relay/internal/proto"
)

// Engine abstracts the media server that calls fall back to when a full P2P mesh is impractical.
type Engine interface {
	// JoinInfo creates join credentials for one peer of a call room.
	JoinInfo(ctx context.Context, roomID, peerID, userID string) (*proto.SFUInfo, error)
}
