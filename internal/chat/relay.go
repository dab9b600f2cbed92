package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/themis-pm/collab-relay/internal/core"
	"github.com/themis-pm/collab-relay/internal/metrics"
	"github.com/themis-pm/collab-relay/internal/proto"
	"github.com/themis-pm/collab-relay/internal/store"
	"github.com/themis-pm/collab-relay/internal/utils"
)

const relayName = "chat"

// DefaultHistoryLimit caps History when no limit is given.
const DefaultHistoryLimit = 50

// Options tunes a Relay.
type Options struct {
	PersistTimeout time.Duration
	HistoryLimit   int
	Metrics        *metrics.Metrics
}

// Relay routes chat traffic between the members of each room.
type Relay struct {
	store   store.ChatStore
	loop    *core.Loop
	metrics *metrics.Metrics
	log     zerolog.Logger

	persistTimeout time.Duration
	historyLimit   int

	rooms map[string]*core.Room
}

// NewRelay creates a chat relay backed by st.
func NewRelay(st store.ChatStore, logger *zerolog.Logger, opts Options) *Relay {
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 10 * time.Second
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	return &Relay{
		store:          st,
		loop:           core.NewLoop(relayName, logger),
		metrics:        opts.Metrics,
		log:            logger.With().Str("relay", relayName).Logger(),
		persistTimeout: opts.PersistTimeout,
		historyLimit:   opts.HistoryLimit,
		rooms:          make(map[string]*core.Room),
	}
}

// Run processes relay work until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	r.loop.Run(ctx)
}

// Conn is one chat connection. It may be a member of any number of rooms.
type Conn struct {
	relay  *Relay
	client *core.Client
	log    zerolog.Logger

	// joined lists room ids in join order; only touched from the loop.
	joined []string
}

// Connect registers a chat connection. It is not in any room until it sends join.
func (r *Relay) Connect(client *core.Client) *Conn {
	r.metrics.ConnectionOpened(relayName)
	return &Conn{
		relay:  r,
		client: client,
		log: r.log.With().
			Str("client_id", client.ID).
			Str("user_id", client.UserID).
			Logger(),
	}
}

// Handle decodes one inbound frame and dispatches it on the loop.
func (c *Conn) Handle(data []byte) {
	msg, err := proto.DecodeChat(data)
	if err != nil {
		c.log.Warn().Err(err).Msg("drop inbound frame")
		c.relay.metrics.Rejected(relayName, "malformed")
		return
	}

	c.relay.loop.Post(func() {
		switch m := msg.(type) {
		case proto.JoinRoom:
			c.relay.metrics.Inbound(relayName, proto.ChatTypeJoin)
			c.relay.join(c, m.RoomID)
		case proto.LeaveRoom:
			c.relay.metrics.Inbound(relayName, proto.ChatTypeLeave)
			c.relay.leave(c, m.RoomID)
		case proto.SendMessage:
			c.relay.metrics.Inbound(relayName, proto.ChatTypeMessage)
			c.relay.message(c, m)
		case proto.Typing:
			c.relay.metrics.Inbound(relayName, proto.ChatTypeTyping)
			c.relay.typing(c, m)
		}
	})
}

// Leave removes the connection from every room it joined.
func (c *Conn) Leave() {
	c.relay.metrics.ConnectionClosed(relayName)
	c.relay.loop.Post(func() {
		for _, roomID := range append([]string(nil), c.joined...) {
			c.relay.leave(c, roomID)
		}
	})
}

func (r *Relay) member(c *Conn, roomID string) (*core.Room, bool) {
	room, ok := r.rooms[roomID]
	if !ok || !room.Has(c.client.ID) {
		return nil, false
	}
	return room, true
}

func (r *Relay) join(c *Conn, roomID string) {
	room, ok := r.rooms[roomID]
	if !ok {
		room = core.NewRoom(roomID)
		r.rooms[roomID] = room
		r.metrics.RoomOpened(relayName)
	}
	if !room.Add(c.client.ID, c.client) {
		return
	}
	c.joined = append(c.joined, roomID)

	c.log.Info().Str("room_id", roomID).Int("members", room.Len()).Msg("joined chat room")
	r.broadcast(room, proto.UserPresence{
		Type:   proto.ChatTypeUserJoined,
		RoomID: roomID,
		UserID: c.client.UserID,
	}, c.client.ID)
}

func (r *Relay) leave(c *Conn, roomID string) {
	room, ok := r.member(c, roomID)
	if !ok {
		return
	}
	room.Remove(c.client.ID)
	for i, id := range c.joined {
		if id == roomID {
			c.joined = append(c.joined[:i], c.joined[i+1:]...)
			break
		}
	}

	c.log.Info().Str("room_id", roomID).Int("members", room.Len()).Msg("left chat room")
	if room.Empty() {
		delete(r.rooms, roomID)
		r.metrics.RoomClosed(relayName)
		return
	}
	r.broadcast(room, proto.UserPresence{
		Type:   proto.ChatTypeUserLeft,
		RoomID: roomID,
		UserID: c.client.UserID,
	}, "")
}

func (r *Relay) message(c *Conn, m proto.SendMessage) {
	if _, ok := r.member(c, m.RoomID); !ok {
		r.metrics.Rejected(relayName, "not_member")
		return
	}
	if m.Content == "" && m.FileURL == nil {
		c.client.SendJSON(proto.NewError("message content is required"))
		return
	}

	rec := &store.ChatMessage{
		ID:        utils.NewID(),
		RoomID:    m.RoomID,
		UserID:    c.client.UserID,
		Content:   m.Content,
		FileURL:   m.FileURL,
		FileType:  m.FileType,
		FileSize:  m.FileSize,
		CreatedAt: time.Now().UTC(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.persistTimeout)
		defer cancel()
		err := r.store.InsertChatMessage(ctx, rec)
		r.loop.Post(func() { r.persisted(c, rec, err) })
	}()
}

func (r *Relay) persisted(c *Conn, rec *store.ChatMessage, err error) {
	if err != nil {
		r.metrics.PersistFailed("insert_chat_message")
		c.log.Error().Err(err).Str("room_id", rec.RoomID).Msg("persist chat message")
		c.client.SendJSON(proto.NewError("failed to send message"))
		return
	}

	room, ok := r.rooms[rec.RoomID]
	if !ok {
		return
	}
	r.broadcast(room, toProto(rec), "")
}

func (r *Relay) typing(c *Conn, m proto.Typing) {
	room, ok := r.member(c, m.RoomID)
	if !ok {
		return
	}
	r.broadcast(room, proto.TypingEvent{
		Type:     proto.ChatTypeTyping,
		RoomID:   m.RoomID,
		UserID:   c.client.UserID,
		IsTyping: m.IsTyping,
	}, c.client.ID)
}

func (r *Relay) broadcast(room *core.Room, v any, except string) {
	payload, err := json.Marshal(v)
	if err != nil {
		r.log.Error().Err(err).Msg("encode outbound frame")
		return
	}
	_, dropped := room.Broadcast(payload, except)
	r.metrics.Dropped(relayName, dropped)
}

// Members returns the connection ids in roomID in join order.
func (r *Relay) Members(ctx context.Context, roomID string) ([]string, error) {
	var keys []string
	err := r.loop.Do(ctx, func() {
		if room, ok := r.rooms[roomID]; ok {
			keys = room.Keys()
		}
	})
	return keys, err
}

// History returns up to limit most recent messages of roomID, oldest first.
func (r *Relay) History(ctx context.Context, roomID string, limit int) ([]proto.ChatMessage, error) {
	if limit <= 0 || limit > r.historyLimit {
		limit = r.historyLimit
	}
	recs, err := r.store.ListChatMessages(ctx, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	out := make([]proto.ChatMessage, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toProto(rec))
	}
	return out, nil
}

func toProto(rec *store.ChatMessage) proto.ChatMessage {
	return proto.ChatMessage{
		Type:      proto.ChatTypeMessage,
		ID:        rec.ID,
		RoomID:    rec.RoomID,
		UserID:    rec.UserID,
		Content:   rec.Content,
		FileURL:   rec.FileURL,
		FileType:  rec.FileType,
		FileSize:  rec.FileSize,
		CreatedAt: rec.CreatedAt,
	}
}
