package proto

import (
	"encoding/json"
	"fmt"
	"time"
)

// Document frame types.
const (
	DocTypeChange       = "change"
	DocTypeCursor       = "cursor"
	DocTypeSave         = "save"
	DocTypeInit         = "init"
	DocTypeClientJoined = "client_joined"
	DocTypeClientLeft   = "client_left"
	DocTypeSaved        = "saved"
	DocTypeAutoSaved    = "auto_saved"
)

// Edit operation kinds.
const (
	OpInsert  = "insert"
	OpDelete  = "delete"
	OpReplace = "replace"
)

// Operation is one textual edit. Position and Length count UTF-16 code units,
// matching the string indices of browser editors.
type Operation struct {
	Type     string `json:"type"`
	Position int    `json:"position"`
	Length   int    `json:"length,omitempty"`
	Text     string `json:"text,omitempty"`
}

// DocInbound is one decoded frame from a document client.
type DocInbound interface {
	docInbound()
}

// Change carries a batch of operations applied atomically.
type Change struct {
	Operations []Operation `json:"operations"`
}

// Cursor relays the caret position. The position is opaque to the server.
type Cursor struct {
	Position json.RawMessage `json:"position"`
}

// Save asks for an immediate persist.
type Save struct{}

func (Change) docInbound() {}
func (Cursor) docInbound() {}
func (Save) docInbound()   {}

// DecodeDoc decodes a document frame.
func DecodeDoc(data []byte) (DocInbound, error) {
	typ, err := peekType(data)
	if err != nil {
		return nil, err
	}

	switch typ {
	case DocTypeChange:
		var m Change
		if err := decodeInto(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case DocTypeCursor:
		var m Cursor
		if err := decodeInto(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case DocTypeSave:
		return Save{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
}

// DocClient identifies one editor attached to a document.
type DocClient struct {
	ClientID string `json:"clientId"`
	UserID   string `json:"userId"`
}

// DocInit is sent to a client once it has joined a loaded document.
type DocInit struct {
	Type     string      `json:"type"`
	ClientID string      `json:"clientId"`
	Content  string      `json:"content"`
	Version  int64       `json:"version"`
	Clients  []DocClient `json:"clients"`
}

// DocPresence announces client_joined / client_left.
type DocPresence struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
	UserID   string `json:"userId"`
}

// DocChange relays an accepted batch to the other editors.
type DocChange struct {
	Type       string      `json:"type"`
	ClientID   string      `json:"clientId"`
	UserID     string      `json:"userId"`
	Operations []Operation `json:"operations"`
	Version    int64       `json:"version"`
}

// DocCursor relays a caret position.
type DocCursor struct {
	Type     string          `json:"type"`
	ClientID string          `json:"clientId"`
	UserID   string          `json:"userId"`
	Position json.RawMessage `json:"position"`
}

// DocSaved reports a successful saved / auto_saved persist.
type DocSaved struct {
	Type    string    `json:"type"`
	Version int64     `json:"version"`
	SavedAt time.Time `json:"savedAt"`
}
