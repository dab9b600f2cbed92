package docs

import (
	"errors"
	"fmt"
	"unicode/utf16"

	"github.com/themis-pm/collab-relay/internal/proto"
)

// ErrInvalidOperation rejects a batch that contains an unusable operation.
var ErrInvalidOperation = errors.New("invalid operation")

// Apply splices ops into content in array order and returns the new content.
// Offsets are UTF-16 code units and are clamped to the buffer; no transformation
// against concurrent edits is done, so the last applied edit wins at an offset.
// A length running past the buffer deletes to the end. An offset that splits a
// surrogate pair leaves the orphaned half, which decodes as U+FFFD.
// On error content is returned unchanged.
func Apply(content string, ops []proto.Operation) (string, error) {
	buf := utf16.Encode([]rune(content))

	for i, op := range ops {
		if op.Position < 0 || op.Length < 0 {
			return content, fmt.Errorf("%w: op %d has negative offset", ErrInvalidOperation, i)
		}

		pos := clamp(op.Position, len(buf))
		switch op.Type {
		case proto.OpInsert:
			buf = splice(buf, pos, pos, op.Text)
		case proto.OpDelete:
			buf = splice(buf, pos, end(pos, op.Length, len(buf)), "")
		case proto.OpReplace:
			buf = splice(buf, pos, end(pos, op.Length, len(buf)), op.Text)
		default:
			return content, fmt.Errorf("%w: op %d has type %q", ErrInvalidOperation, i, op.Type)
		}
	}

	return string(utf16.Decode(buf)), nil
}

func splice(buf []uint16, from, to int, text string) []uint16 {
	ins := utf16.Encode([]rune(text))
	out := make([]uint16, 0, len(buf)-(to-from)+len(ins))
	out = append(out, buf[:from]...)
	out = append(out, ins...)
	return append(out, buf[to:]...)
}

// end returns pos+length capped at size without overflowing.
func end(pos, length, size int) int {
	if length > size-pos {
		return size
	}
	return pos + length
}

func clamp(n, upper int) int {
	if n > upper {
		return upper
	}
	return n
}
