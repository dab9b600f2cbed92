package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document is the persisted state of a collaboratively edited document.
type Document struct {
	ID        string
	Title     string
	Content   string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChatMessage represents a persisted chat message.
type ChatMessage struct {
	ID        string
	RoomID    string
	UserID    string
	Content   string
	FileURL   *string
	FileType  *string
	FileSize  *int64
	CreatedAt time.Time
}

// CallAction is what a call event records.
type CallAction string

const (
	CallActionJoin  CallAction = "join"
	CallActionLeave CallAction = "leave"
)

// CallEvent is one entry of the call log.
type CallEvent struct {
	ID        int64
	RoomID    string
	UserID    string
	PeerID    string
	Action    CallAction
	CreatedAt time.Time
}

// DocumentStore handles document persistence.
type DocumentStore interface {
	// LoadDocument returns the stored document or ErrNotFound.
	LoadDocument(ctx context.Context, id string) (*Document, error)

	// SaveDocument overwrites content and version of an existing document.
	SaveDocument(ctx context.Context, id, content string, version int64) error
}

// ChatStore handles chat message persistence.
type ChatStore interface {
	// InsertChatMessage persists a message. The caller assigns ID and CreatedAt.
	InsertChatMessage(ctx context.Context, msg *ChatMessage) error

	// ListChatMessages returns up to limit most recent messages of a room, oldest first.
	ListChatMessages(ctx context.Context, roomID string, limit int) ([]*ChatMessage, error)
}

// CallLogStore records call membership events.
type CallLogStore interface {
	// RecordCallEvent appends an event to the call log.
	RecordCallEvent(ctx context.Context, ev *CallEvent) error
}

// Store aggregates all storage interfaces.
type Store interface {
	DocumentStore
	ChatStore
	CallLogStore

	// Close closes the underlying database connection.
	Close() error
}
