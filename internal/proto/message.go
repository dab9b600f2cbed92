package proto

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// TypeError is the outbound type of every error frame.
const TypeError = "error"

var (
	// ErrMalformed is returned for frames that are not a JSON object.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownType is returned for frames whose type is missing or unrecognized.
	ErrUnknownType = errors.New("unknown message type")
)

// Error is sent to a single client when one of its actions failed.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewError builds an error frame.
func NewError(msg string) Error {
	return Error{Type: TypeError, Message: msg}
}

// peekType validates the frame and returns its type discriminator.
func peekType(data []byte) (string, error) {
	if !gjson.ValidBytes(data) {
		return "", ErrMalformed
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return "", ErrMalformed
	}
	t := root.Get("type")
	if t.Type != gjson.String || t.Str == "" {
		return "", fmt.Errorf("%w: missing type", ErrUnknownType)
	}
	return t.Str, nil
}

func decodeInto(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// WithField returns the JSON object in raw with key set to value.
// Other fields are kept as-is.
func WithField(raw []byte, key string, value any) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	fields[key] = encoded
	return json.Marshal(fields)
}
