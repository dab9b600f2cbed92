package calls

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/themis-pm/collab-relay/internal/callengine"
	"github.com/themis-pm/collab-relay/internal/core"
	"github.com/themis-pm/collab-relay/internal/metrics"
	"github.com/themis-pm/collab-relay/internal/proto"
	"github.com/themis-pm/collab-relay/internal/store"
)

const relayName = "calls"

// Options tunes a Relay.
type Options struct {
	PersistTimeout time.Duration
	// Engine, when set, adds SFU credentials to room_info.
	Engine  callengine.Engine
	Metrics *metrics.Metrics
}

// Relay forwards WebRTC signaling between the peers of each call room.
// Media never passes through it.
type Relay struct {
	store   store.CallLogStore
	engine  callengine.Engine
	loop    *core.Loop
	metrics *metrics.Metrics
	log     zerolog.Logger

	persistTimeout time.Duration

	rooms map[string]*core.Room
}

// NewRelay creates a call signaling relay. Join and leave events are logged to st.
func NewRelay(st store.CallLogStore, logger *zerolog.Logger, opts Options) *Relay {
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 10 * time.Second
	}
	return &Relay{
		store:          st,
		engine:         opts.Engine,
		loop:           core.NewLoop(relayName, logger),
		metrics:        opts.Metrics,
		log:            logger.With().Str("relay", relayName).Logger(),
		persistTimeout: opts.PersistTimeout,
		rooms:          make(map[string]*core.Room),
	}
}

// Run processes relay work until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	r.loop.Run(ctx)
}

// Conn is one peer in one call room. The client's ID is its peerId.
type Conn struct {
	relay  *Relay
	client *core.Client
	roomID string
	log    zerolog.Logger
}

// PeerID returns the id other peers address this connection by.
func (c *Conn) PeerID() string {
	return c.client.ID
}

// Join adds client to roomID as a new peer.
func (r *Relay) Join(ctx context.Context, client *core.Client, roomID string) *Conn {
	c := &Conn{
		relay:  r,
		client: client,
		roomID: roomID,
		log: r.log.With().
			Str("room_id", roomID).
			Str("peer_id", client.ID).
			Str("user_id", client.UserID).
			Logger(),
	}
	r.metrics.ConnectionOpened(relayName)

	var sfu *proto.SFUInfo
	if r.engine != nil {
		info, err := r.engine.JoinInfo(ctx, roomID, client.ID, client.UserID)
		if err != nil {
			c.log.Warn().Err(err).Msg("sfu credentials unavailable")
		} else {
			sfu = info
		}
	}

	r.loop.Post(func() { r.join(c, sfu) })
	return c
}

// Handle decodes one inbound frame and dispatches it on the loop.
func (c *Conn) Handle(data []byte) {
	msg, err := proto.DecodeCall(data)
	if err != nil {
		c.log.Warn().Err(err).Msg("drop inbound frame")
		c.relay.metrics.Rejected(relayName, "malformed")
		return
	}

	c.relay.loop.Post(func() {
		room, ok := c.relay.rooms[c.roomID]
		if !ok || !room.Has(c.PeerID()) {
			return
		}
		switch m := msg.(type) {
		case proto.Signal:
			c.relay.metrics.Inbound(relayName, m.Kind)
			c.relay.signal(room, c, m)
		case proto.MuteStatus:
			c.relay.metrics.Inbound(relayName, proto.CallTypeMuteStatus)
			c.relay.broadcast(room, proto.MuteStatusEvent{
				Type:   proto.CallTypeMuteStatus,
				PeerID: c.PeerID(),
				Audio:  m.Audio,
				Video:  m.Video,
			})
		case proto.RequestScreenShare:
			c.relay.metrics.Inbound(relayName, proto.CallTypeRequestScreenShare)
			c.relay.broadcast(room, proto.PeerEvent{Type: proto.CallTypeRequestScreenShare, PeerID: c.PeerID()})
		case proto.ScreenShare:
			c.relay.metrics.Inbound(relayName, m.Kind)
			c.relay.screenShare(room, c, m)
		}
	})
}

// Leave removes the peer from its room.
func (c *Conn) Leave() {
	c.relay.metrics.ConnectionClosed(relayName)
	c.relay.loop.Post(func() { c.relay.leave(c) })
}

func (r *Relay) join(c *Conn, sfu *proto.SFUInfo) {
	room, ok := r.rooms[c.roomID]
	if !ok {
		room = core.NewRoom(c.roomID)
		r.rooms[c.roomID] = room
		r.metrics.RoomOpened(relayName)
	}

	peers := make([]proto.Peer, 0, room.Len())
	for _, id := range room.Keys() {
		member, _ := room.Get(id)
		peers = append(peers, proto.Peer{PeerID: id, UserID: member.UserID})
	}
	if !room.Add(c.PeerID(), c.client) {
		return
	}

	c.client.SendJSON(proto.RoomInfo{
		Type:   proto.CallTypeRoomInfo,
		RoomID: c.roomID,
		PeerID: c.PeerID(),
		Peers:  peers,
		SFU:    sfu,
	})
	r.broadcastExcept(room, proto.PeerPresence{
		Type:   proto.CallTypePeerJoined,
		PeerID: c.PeerID(),
		UserID: c.client.UserID,
	}, c.PeerID())

	c.log.Info().Int("peers", room.Len()).Msg("peer joined call")
	r.record(c, store.CallActionJoin)
}

func (r *Relay) leave(c *Conn) {
	room, ok := r.rooms[c.roomID]
	if !ok {
		return
	}
	if _, ok := room.Remove(c.PeerID()); !ok {
		return
	}

	c.log.Info().Int("peers", room.Len()).Msg("peer left call")
	r.record(c, store.CallActionLeave)

	if room.Empty() {
		delete(r.rooms, c.roomID)
		r.metrics.RoomClosed(relayName)
		return
	}
	r.broadcast(room, proto.PeerPresence{
		Type:   proto.CallTypePeerLeft,
		PeerID: c.PeerID(),
		UserID: c.client.UserID,
	})
}

// signal forwards an offer, answer or candidate to its target only.
func (r *Relay) signal(room *core.Room, c *Conn, m proto.Signal) {
	target, ok := room.Get(m.TargetPeerID)
	if !ok {
		c.log.Debug().Str("target_peer_id", m.TargetPeerID).Str("kind", m.Kind).Msg("signal target not in room")
		return
	}
	payload, err := proto.WithField(m.Raw, "fromPeerId", c.PeerID())
	if err != nil {
		c.log.Warn().Err(err).Msg("rewrite signal")
		return
	}
	if !target.Send(payload) {
		r.metrics.Dropped(relayName, 1)
	}
}

func (r *Relay) screenShare(room *core.Room, c *Conn, m proto.ScreenShare) {
	payload, err := proto.WithField(m.Raw, "peerId", c.PeerID())
	if err != nil {
		c.log.Warn().Err(err).Msg("rewrite screen share event")
		return
	}
	_, dropped := room.Broadcast(payload, "")
	r.metrics.Dropped(relayName, dropped)
}

// record logs a call event without blocking the loop. Failures are only logged.
func (r *Relay) record(c *Conn, action store.CallAction) {
	ev := &store.CallEvent{
		RoomID: c.roomID,
		UserID: c.client.UserID,
		PeerID: c.PeerID(),
		Action: action,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.persistTimeout)
		defer cancel()
		if err := r.store.RecordCallEvent(ctx, ev); err != nil {
			r.metrics.PersistFailed("record_call_event")
			c.log.Warn().Err(err).Str("action", string(action)).Msg("record call event")
		}
	}()
}

func (r *Relay) broadcast(room *core.Room, v any) {
	r.broadcastExcept(room, v, "")
}

func (r *Relay) broadcastExcept(room *core.Room, v any, except string) {
	payload, err := json.Marshal(v)
	if err != nil {
		r.log.Error().Err(err).Msg("encode outbound frame")
		return
	}
	_, dropped := room.Broadcast(payload, except)
	r.metrics.Dropped(relayName, dropped)
}

// Peers returns the peer ids in roomID in join order.
func (r *Relay) Peers(ctx context.Context, roomID string) ([]string, error) {
	var keys []string
	err := r.loop.Do(ctx, func() {
		if room, ok := r.rooms[roomID]; ok {
			keys = room.Keys()
		}
	})
	return keys, err
}
