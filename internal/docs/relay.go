package docs

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/themis-pm/collab-relay/internal/core"
	"github.com/themis-pm/collab-relay/internal/metrics"
	"github.com/themis-pm/collab-relay/internal/proto"
	"github.com/themis-pm/collab-relay/internal/store"
)

const relayName = "docs"

// DefaultAutosaveDelay is the idle period after the last change before an auto-save.
const DefaultAutosaveDelay = 2 * time.Second

// Options tunes a Relay. Zero values pick defaults.
type Options struct {
	AutosaveDelay  time.Duration
	PersistTimeout time.Duration
	Clock          clock.Clock
	Metrics        *metrics.Metrics
}

// Relay keeps one in-memory session per open document and fans edits out to its editors.
type Relay struct {
	store   store.DocumentStore
	loop    *core.Loop
	clock   clock.Clock
	metrics *metrics.Metrics
	log     zerolog.Logger

	autosaveDelay  time.Duration
	persistTimeout time.Duration

	// sessions is only touched from the loop.
	sessions map[string]*session
}

// NewRelay creates a document relay backed by st.
func NewRelay(st store.DocumentStore, logger *zerolog.Logger, opts Options) *Relay {
	if opts.AutosaveDelay <= 0 {
		opts.AutosaveDelay = DefaultAutosaveDelay
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 10 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Relay{
		store:          st,
		loop:           core.NewLoop(relayName, logger),
		clock:          opts.Clock,
		metrics:        opts.Metrics,
		log:            logger.With().Str("relay", relayName).Logger(),
		autosaveDelay:  opts.AutosaveDelay,
		persistTimeout: opts.PersistTimeout,
		sessions:       make(map[string]*session),
	}
}

// Run processes relay work until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	r.loop.Run(ctx)
}

// Conn is one editor attached to one document for the lifetime of its channel.
type Conn struct {
	relay  *Relay
	client *core.Client
	docID  string
	log    zerolog.Logger
}

// Join attaches client to docID. The client's ID doubles as its clientId.
// The document is loaded on first join; the client receives init once it is ready.
func (r *Relay) Join(client *core.Client, docID string) *Conn {
	c := &Conn{
		relay:  r,
		client: client,
		docID:  docID,
		log: r.log.With().
			Str("doc_id", docID).
			Str("client_id", client.ID).
			Str("user_id", client.UserID).
			Logger(),
	}
	r.metrics.ConnectionOpened(relayName)
	r.loop.Post(func() { r.join(c) })
	return c
}

// Handle decodes one inbound frame and dispatches it on the loop.
func (c *Conn) Handle(data []byte) {
	msg, err := proto.DecodeDoc(data)
	if err != nil {
		c.log.Warn().Err(err).Msg("drop inbound frame")
		c.relay.metrics.Rejected(relayName, "malformed")
		return
	}

	c.relay.loop.Post(func() {
		s := c.relay.memberSession(c)
		if s == nil {
			return
		}
		switch m := msg.(type) {
		case proto.Change:
			c.relay.metrics.Inbound(relayName, proto.DocTypeChange)
			c.relay.change(s, c, m.Operations)
		case proto.Cursor:
			c.relay.metrics.Inbound(relayName, proto.DocTypeCursor)
			c.relay.cursor(s, c, m)
		case proto.Save:
			c.relay.metrics.Inbound(relayName, proto.DocTypeSave)
			c.relay.save(s, c)
		}
	})
}

// Leave detaches the connection; the last editor leaving triggers a final save.
func (c *Conn) Leave() {
	c.relay.metrics.ConnectionClosed(relayName)
	c.relay.loop.Post(func() { c.relay.leave(c) })
}

// memberSession returns the active session c belongs to, or nil.
func (r *Relay) memberSession(c *Conn) *session {
	s, ok := r.sessions[c.docID]
	if !ok || s.state != stateActive || !s.members.Has(c.client.ID) {
		return nil
	}
	return s
}

func (r *Relay) join(c *Conn) {
	s, ok := r.sessions[c.docID]
	if !ok {
		s = newSession(c.docID)
		s.pending = append(s.pending, c)
		r.sessions[c.docID] = s
		r.metrics.RoomOpened(relayName)
		r.load(s)
		return
	}

	if s.state == stateActive {
		r.admit(s, c)
		return
	}
	// loading or final save in flight: admitted once it settles
	s.pending = append(s.pending, c)
}

func (r *Relay) load(s *session) {
	id := s.id
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.persistTimeout)
		defer cancel()
		doc, err := r.store.LoadDocument(ctx, id)
		r.loop.Post(func() { r.loaded(s, doc, err) })
	}()
}

func (r *Relay) loaded(s *session, doc *store.Document, err error) {
	pending := s.pending
	s.pending = nil

	if err != nil {
		r.discard(s)
		msg := "failed to load document"
		if errors.Is(err, store.ErrNotFound) {
			msg = "document not found"
			r.log.Info().Str("doc_id", s.id).Msg(msg)
		} else {
			r.metrics.PersistFailed("load_document")
			r.log.Error().Err(err).Str("doc_id", s.id).Msg(msg)
		}
		for _, c := range pending {
			c.client.SendJSON(proto.NewError(msg))
			c.client.Close(core.CloseNormal, msg)
		}
		return
	}

	if !r.live(s) {
		r.turnAway(pending)
		return
	}
	if len(pending) == 0 {
		// every joiner left while loading
		r.discard(s)
		return
	}

	s.content = doc.Content
	s.version = doc.Version
	s.lastModified = doc.UpdatedAt
	s.state = stateActive
	r.log.Debug().Str("doc_id", s.id).Int64("version", s.version).Msg("document loaded")

	for _, c := range pending {
		r.admit(s, c)
	}
}

func (r *Relay) admit(s *session, c *Conn) {
	others := make([]proto.DocClient, 0, s.members.Len())
	for _, id := range s.members.Keys() {
		member, _ := s.members.Get(id)
		others = append(others, proto.DocClient{ClientID: id, UserID: member.UserID})
	}

	if !s.members.Add(c.client.ID, c.client) {
		return
	}

	c.client.SendJSON(proto.DocInit{
		Type:     proto.DocTypeInit,
		ClientID: c.client.ID,
		Content:  s.content,
		Version:  s.version,
		Clients:  others,
	})
	r.broadcast(s, proto.DocPresence{
		Type:     proto.DocTypeClientJoined,
		ClientID: c.client.ID,
		UserID:   c.client.UserID,
	}, c.client.ID)

	c.log.Info().Int("clients", s.members.Len()).Msg("client joined document")
}

func (r *Relay) change(s *session, c *Conn, ops []proto.Operation) {
	if len(ops) == 0 {
		return
	}

	next, err := Apply(s.content, ops)
	if err != nil {
		c.log.Warn().Err(err).Msg("reject change batch")
		c.client.SendJSON(proto.NewError("invalid operations"))
		return
	}

	s.content = next
	s.version++
	s.lastModified = r.clock.Now()
	r.scheduleAutosave(s)

	r.broadcast(s, proto.DocChange{
		Type:       proto.DocTypeChange,
		ClientID:   c.client.ID,
		UserID:     c.client.UserID,
		Operations: ops,
		Version:    s.version,
	}, c.client.ID)
}

func (r *Relay) cursor(s *session, c *Conn, m proto.Cursor) {
	r.broadcast(s, proto.DocCursor{
		Type:     proto.DocTypeCursor,
		ClientID: c.client.ID,
		UserID:   c.client.UserID,
		Position: m.Position,
	}, c.client.ID)
}

// save persists on request. The pending auto-save, if any, stays armed.
func (r *Relay) save(s *session, c *Conn) {
	content, version := s.content, s.version
	r.persist(s.id, content, version, func(err error) {
		if err != nil {
			r.metrics.PersistFailed("save_document")
			c.log.Error().Err(err).Int64("version", version).Msg("explicit save failed")
			c.client.SendJSON(proto.NewError("failed to save document"))
			return
		}
		r.metrics.Saved("explicit")
		r.broadcast(s, proto.DocSaved{Type: proto.DocTypeSaved, Version: version, SavedAt: r.clock.Now()}, "")
	})
}

func (r *Relay) leave(c *Conn) {
	s, ok := r.sessions[c.docID]
	if !ok {
		return
	}
	if s.dropPending(c) {
		return
	}
	if _, ok := s.members.Remove(c.client.ID); !ok {
		return
	}

	c.log.Info().Int("clients", s.members.Len()).Msg("client left document")
	r.broadcast(s, proto.DocPresence{
		Type:     proto.DocTypeClientLeft,
		ClientID: c.client.ID,
		UserID:   c.client.UserID,
	}, "")

	if s.members.Empty() {
		r.finalize(s)
	}
}

// finalize runs the final save of a session whose last editor left.
func (r *Relay) finalize(s *session) {
	r.cancelAutosave(s)
	s.state = stateSaving

	content, version := s.content, s.version
	r.persist(s.id, content, version, func(err error) {
		if err != nil {
			r.metrics.PersistFailed("save_document")
			r.log.Error().Err(err).Str("doc_id", s.id).Int64("version", version).Msg("final save failed")
		} else {
			r.metrics.Saved("final")
			r.log.Debug().Str("doc_id", s.id).Int64("version", version).Msg("document unloaded")
		}

		pending := s.pending
		s.pending = nil
		if !r.live(s) {
			r.turnAway(pending)
			return
		}
		if len(pending) > 0 {
			// someone joined during the save; the buffer is still authoritative
			s.state = stateActive
			for _, c := range pending {
				r.admit(s, c)
			}
			return
		}
		r.discard(s)
	})
}

// persist saves off-loop and runs done back on the loop.
func (r *Relay) persist(docID, content string, version int64, done func(error)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.persistTimeout)
		defer cancel()
		err := r.store.SaveDocument(ctx, docID, content, version)
		r.loop.Post(func() { done(err) })
	}()
}

// live reports whether s is still the registered session for its document.
// Shutdown unregisters sessions whose load or final save is still in flight.
func (r *Relay) live(s *session) bool {
	cur, ok := r.sessions[s.id]
	return ok && cur == s
}

func (r *Relay) turnAway(pending []*Conn) {
	for _, c := range pending {
		c.client.SendJSON(proto.NewError("server shutting down"))
		c.client.Close(core.CloseGoingAway, "server shutting down")
	}
}

func (r *Relay) discard(s *session) {
	if r.live(s) {
		delete(r.sessions, s.id)
		r.metrics.RoomClosed(relayName)
	}
}

func (r *Relay) broadcast(s *session, v any, except string) {
	payload, err := encode(v)
	if err != nil {
		r.log.Error().Err(err).Msg("encode outbound frame")
		return
	}
	_, dropped := s.members.Broadcast(payload, except)
	r.metrics.Dropped(relayName, dropped)
}

// SessionInfo is a read-only snapshot of a live session.
type SessionInfo struct {
	DocID        string
	State        string
	Content      string
	Version      int64
	LastModified time.Time
	Clients      []string
}

// Session returns a snapshot of the session for docID, if one is live.
func (r *Relay) Session(ctx context.Context, docID string) (SessionInfo, bool, error) {
	var (
		info  SessionInfo
		found bool
	)
	err := r.loop.Do(ctx, func() {
		s, ok := r.sessions[docID]
		if !ok {
			return
		}
		found = true
		info = SessionInfo{
			DocID:        s.id,
			State:        s.state.String(),
			Content:      s.content,
			Version:      s.version,
			LastModified: s.lastModified,
			Clients:      s.members.Keys(),
		}
	})
	return info, found, err
}

// Shutdown cancels pending auto-saves and writes every loaded session to the store.
// Sessions are dropped from memory even when their save fails.
func (r *Relay) Shutdown(ctx context.Context) error {
	type snapshot struct {
		id      string
		content string
		version int64
	}

	var snapshots []snapshot
	err := r.loop.Do(ctx, func() {
		for id, s := range r.sessions {
			r.cancelAutosave(s)
			if s.state != stateLoading {
				snapshots = append(snapshots, snapshot{id: id, content: s.content, version: s.version})
			}
			delete(r.sessions, id)
			r.metrics.RoomClosed(relayName)
		}
	})
	if err != nil {
		return err
	}

	var errs []error
	for _, snap := range snapshots {
		if err := r.store.SaveDocument(ctx, snap.id, snap.content, snap.version); err != nil {
			r.metrics.PersistFailed("save_document")
			r.log.Error().Err(err).Str("doc_id", snap.id).Msg("shutdown save failed")
			errs = append(errs, err)
			continue
		}
		r.metrics.Saved("shutdown")
	}
	r.log.Info().Int("sessions", len(snapshots)).Msg("document sessions drained")
	return errors.Join(errs...)
}
