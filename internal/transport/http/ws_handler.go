package http

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/themis-pm/collab-relay/internal/auth"
	"github.com/themis-pm/collab-relay/internal/config"
	"github.com/themis-pm/collab-relay/internal/core"
	"github.com/themis-pm/collab-relay/internal/metrics"
	"github.com/themis-pm/collab-relay/internal/utils"
)

const writeTimeout = 10 * time.Second

// errClosedByRelay ends the write loop after a relay asked for the channel to be closed.
var errClosedByRelay = errors.New("closed by relay")

// WSHandler upgrades HTTP connections and bridges them to the relays.
type WSHandler struct {
	relays  Relays
	auth    *auth.Service
	metrics *metrics.Metrics
	cfg     config.WSConfig
	log     *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(relays Relays, authService *auth.Service, m *metrics.Metrics, cfg config.WSConfig, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{relays: relays, auth: authService, metrics: m, cfg: cfg, log: logger}
}

// ServeChat handles GET /ws/chat?userId=.
func (h *WSHandler) ServeChat(c *gin.Context) {
	userID := c.Query("userId")
	conn, ok := h.accept(c, "chat", userID, "userId is required")
	if !ok {
		return
	}

	client := core.NewClient(utils.NewID(), userID, h.cfg.SendBuffer)
	session := h.relays.Chat.Connect(client)
	h.pump(c.Request.Context(), "chat", conn, client, session)
}

// ServeDocs handles GET /ws/docs?docId=&userId=.
func (h *WSHandler) ServeDocs(c *gin.Context) {
	userID, docID := c.Query("userId"), c.Query("docId")
	missing := ""
	switch {
	case docID == "" && userID == "":
		missing = "docId and userId are required"
	case docID == "":
		missing = "docId is required"
	case userID == "":
		missing = "userId is required"
	}
	conn, ok := h.accept(c, "docs", userID, missing)
	if !ok {
		return
	}

	client := core.NewClient(utils.NewID(), userID, h.cfg.SendBuffer)
	session := h.relays.Docs.Join(client, docID)
	h.pump(c.Request.Context(), "docs", conn, client, session)
}

// ServeCalls handles GET /ws/calls/:roomId?userId=. The bare /ws/calls path
// is routed here too so a missing room closes with a policy violation.
func (h *WSHandler) ServeCalls(c *gin.Context) {
	userID, roomID := c.Query("userId"), c.Param("roomId")
	missing := ""
	switch {
	case roomID == "":
		missing = "roomId is required"
	case userID == "":
		missing = "userId is required"
	}
	conn, ok := h.accept(c, "calls", userID, missing)
	if !ok {
		return
	}

	client := core.NewClient(utils.NewPeerID(userID), userID, h.cfg.SendBuffer)
	session := h.relays.Calls.Join(c.Request.Context(), client, roomID)
	h.pump(c.Request.Context(), "calls", conn, client, session)
}

// accept upgrades the request. When missing is non-empty or the token does not
// belong to userID, the channel is closed with a policy violation and ok is false.
func (h *WSHandler) accept(c *gin.Context, relay, userID, missing string) (*websocket.Conn, bool) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Str("relay", relay).Msg("ws accept error")
		return nil, false
	}

	reason := missing
	if reason == "" {
		if err := h.auth.CheckUser(c.Query("token"), userID); err != nil {
			h.log.Debug().Err(err).Str("relay", relay).Str("user_id", userID).Msg("ws token rejected")
			reason = "invalid token"
		}
	}
	if reason != "" {
		h.metrics.Rejected(relay, "entry")
		conn.Close(websocket.StatusPolicyViolation, reason)
		return nil, false
	}

	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}
	return conn, true
}

// pump runs the read and write loops until either ends, then detaches the session.
func (h *WSHandler) pump(ctx context.Context, relay string, conn *websocket.Conn, client *core.Client, session core.Session) {
	log := h.log.With().Str("relay", relay).Str("client_id", client.ID).Str("user_id", client.UserID).Logger()
	log.Debug().Msg("ws connected")

	defer session.Leave()
	defer client.Close(core.CloseNormal, "")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	limiter := newRateLimiter(h.cfg.MessagesPerSecond, h.cfg.MessageBurst)

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, relay, conn, session, limiter, &log)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client, &log)
	}()

	err := <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	switch {
	case errors.Is(err, errClosedByRelay):
		code, msg := client.CloseStatus()
		status, reason = websocket.StatusCode(code), msg
	case err != nil && !errors.Is(err, context.Canceled):
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			log.Warn().Err(err).Msg("ws connection closed with error")
		}
	}

	log.Debug().Int("status", int(status)).Msg("ws disconnected")
	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, relay string, conn *websocket.Conn, session core.Session, limiter *rateLimiter, log *zerolog.Logger) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			log.Debug().Msg("drop binary frame")
			h.metrics.Rejected(relay, "binary")
			continue
		}
		if !limiter.allow() {
			log.Warn().Msg("inbound rate limit exceeded")
			h.metrics.Rejected(relay, "rate_limited")
			continue
		}
		session.Handle(data)
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, log *zerolog.Logger) error {
	write := func(payload []byte) error {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		if err := conn.Write(wctx, websocket.MessageText, payload); err != nil {
			log.Error().Err(err).Msg("write ws frame")
			return err
		}
		return nil
	}

	for {
		select {
		case payload := <-client.Outbound():
			if err := write(payload); err != nil {
				return err
			}
		case <-client.Done():
			// flush what the relay queued before asking to close
			for {
				select {
				case payload := <-client.Outbound():
					if err := write(payload); err != nil {
						return err
					}
				default:
					return errClosedByRelay
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
