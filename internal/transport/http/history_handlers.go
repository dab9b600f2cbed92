package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/themis-pm/collab-relay/internal/chat"
	"github.com/themis-pm/collab-relay/internal/proto"
)

// HistoryHandlers serves persisted chat history.
type HistoryHandlers struct {
	chat *chat.Relay
	log  *zerolog.Logger
}

// NewHistoryHandlers creates history handlers backed by the chat relay.
func NewHistoryHandlers(relay *chat.Relay, logger *zerolog.Logger) *HistoryHandlers {
	return &HistoryHandlers{chat: relay, log: logger}
}

// HistoryResponse is the body of a history request.
type HistoryResponse struct {
	RoomID   string              `json:"roomId"`
	Messages []proto.ChatMessage `json:"messages"`
}

// ListMessages returns the most recent messages of a room, oldest first.
// GET /api/chat/rooms/:roomId/messages?limit=
func (h *HistoryHandlers) ListMessages(c *gin.Context) {
	roomID := c.Param("roomId")

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}

	msgs, err := h.chat.History(c.Request.Context(), roomID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("room_id", roomID).Msg("failed to load chat history")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, HistoryResponse{RoomID: roomID, Messages: msgs})
}
