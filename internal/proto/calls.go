package proto

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// Call frame types.
const (
	CallTypeOffer              = "offer"
	CallTypeAnswer             = "answer"
	CallTypeICECandidate       = "ice_candidate"
	CallTypeMuteStatus         = "mute_status"
	CallTypeRequestScreenShare = "request_screen_share"
	CallTypeScreenShareStarted = "screen_share_started"
	CallTypeScreenShareStopped = "screen_share_stopped"
	CallTypeRoomInfo           = "room_info"
	CallTypePeerJoined         = "peer_joined"
	CallTypePeerLeft           = "peer_left"
)

// CallInbound is one decoded frame from a call client.
type CallInbound interface {
	callInbound()
}

// Signal is an offer, answer or ICE candidate addressed to one peer.
// Raw keeps the whole frame so the SDP/candidate payload is forwarded untouched.
type Signal struct {
	Kind         string
	TargetPeerID string
	Raw          []byte
}

// MuteStatus reports the sender's local track state.
type MuteStatus struct {
	Audio *bool `json:"audio,omitempty"`
	Video *bool `json:"video,omitempty"`
}

// RequestScreenShare asks the room to start sharing.
type RequestScreenShare struct{}

// ScreenShare is screen_share_started or screen_share_stopped with its payload.
type ScreenShare struct {
	Kind string
	Raw  []byte
}

func (Signal) callInbound()             {}
func (MuteStatus) callInbound()         {}
func (RequestScreenShare) callInbound() {}
func (ScreenShare) callInbound()        {}

// DecodeCall decodes a call frame.
func DecodeCall(data []byte) (CallInbound, error) {
	typ, err := peekType(data)
	if err != nil {
		return nil, err
	}

	switch typ {
	case CallTypeOffer, CallTypeAnswer, CallTypeICECandidate:
		target := gjson.GetBytes(data, "targetPeerId")
		if target.Type != gjson.String || target.Str == "" {
			return nil, fmt.Errorf("%w: targetPeerId is required", ErrMalformed)
		}
		return Signal{Kind: typ, TargetPeerID: target.Str, Raw: data}, nil
	case CallTypeMuteStatus:
		var m MuteStatus
		if err := decodeInto(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case CallTypeRequestScreenShare:
		return RequestScreenShare{}, nil
	case CallTypeScreenShareStarted, CallTypeScreenShareStopped:
		return ScreenShare{Kind: typ, Raw: data}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
}

// Peer identifies one call participant.
type Peer struct {
	PeerID string `json:"peerId"`
	UserID string `json:"userId"`
}

// SFUInfo carries media-server credentials for clients that cannot hold a full mesh.
type SFUInfo struct {
	URL      string `json:"url"`
	Token    string `json:"token"`
	RoomName string `json:"roomName"`
	Identity string `json:"identity"`
}

// RoomInfo is sent to a peer after it joined a call room.
type RoomInfo struct {
	Type   string   `json:"type"`
	RoomID string   `json:"roomId"`
	PeerID string   `json:"peerId"`
	Peers  []Peer   `json:"peers"`
	SFU    *SFUInfo `json:"sfu,omitempty"`
}

// PeerPresence announces peer_joined / peer_left.
type PeerPresence struct {
	Type   string `json:"type"`
	PeerID string `json:"peerId"`
	UserID string `json:"userId"`
}

// MuteStatusEvent is the room-wide echo of a mute_status frame.
type MuteStatusEvent struct {
	Type   string `json:"type"`
	PeerID string `json:"peerId"`
	Audio  *bool  `json:"audio,omitempty"`
	Video  *bool  `json:"video,omitempty"`
}

// PeerEvent is a room-wide event that carries only the sender.
type PeerEvent struct {
	Type   string `json:"type"`
	PeerID string `json:"peerId"`
}
