package proto

import (
	"fmt"
	"time"
)

// Chat message types, shared by inbound and outbound frames where they mirror each other.
const (
	ChatTypeJoin       = "join"
	ChatTypeLeave      = "leave"
	ChatTypeMessage    = "message"
	ChatTypeTyping     = "typing"
	ChatTypeUserJoined = "user_joined"
	ChatTypeUserLeft   = "user_left"
)

// ChatInbound is one decoded frame from a chat client.
type ChatInbound interface {
	chatInbound()
}

// JoinRoom subscribes the connection to a room.
type JoinRoom struct {
	RoomID string `json:"roomId"`
}

// LeaveRoom unsubscribes the connection from a room.
type LeaveRoom struct {
	RoomID string `json:"roomId"`
}

// SendMessage posts a message, optionally with an uploaded attachment.
type SendMessage struct {
	RoomID   string  `json:"roomId"`
	Content  string  `json:"content"`
	FileURL  *string `json:"fileUrl,omitempty"`
	FileType *string `json:"fileType,omitempty"`
	FileSize *int64  `json:"fileSize,omitempty"`
}

// Typing toggles the typing indicator.
type Typing struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

func (JoinRoom) chatInbound()    {}
func (LeaveRoom) chatInbound()   {}
func (SendMessage) chatInbound() {}
func (Typing) chatInbound()      {}

// DecodeChat decodes a chat frame. Frames without a roomId are rejected as malformed.
func DecodeChat(data []byte) (ChatInbound, error) {
	typ, err := peekType(data)
	if err != nil {
		return nil, err
	}

	var msg ChatInbound
	var roomID string
	switch typ {
	case ChatTypeJoin:
		var m JoinRoom
		if err = decodeInto(data, &m); err == nil {
			roomID, msg = m.RoomID, m
		}
	case ChatTypeLeave:
		var m LeaveRoom
		if err = decodeInto(data, &m); err == nil {
			roomID, msg = m.RoomID, m
		}
	case ChatTypeMessage:
		var m SendMessage
		if err = decodeInto(data, &m); err == nil {
			roomID, msg = m.RoomID, m
		}
	case ChatTypeTyping:
		var m Typing
		if err = decodeInto(data, &m); err == nil {
			roomID, msg = m.RoomID, m
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	if err != nil {
		return nil, err
	}
	if roomID == "" {
		return nil, fmt.Errorf("%w: roomId is required", ErrMalformed)
	}
	return msg, nil
}

// UserPresence announces user_joined / user_left in a room.
type UserPresence struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// ChatMessage is a persisted message broadcast to a room.
type ChatMessage struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	FileURL   *string   `json:"fileUrl,omitempty"`
	FileType  *string   `json:"fileType,omitempty"`
	FileSize  *int64    `json:"fileSize,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// TypingEvent relays a typing indicator to the other members of a room.
type TypingEvent struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}
