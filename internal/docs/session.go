package docs

import (
	"encoding/json"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/themis-pm/collab-relay/internal/core"
	"github.com/themis-pm/collab-relay/internal/proto"
)

type sessionState int

const (
	stateLoading sessionState = iota
	stateActive
	stateSaving
)

func (s sessionState) String() string {
	switch s {
	case stateLoading:
		return "loading"
	case stateActive:
		return "active"
	case stateSaving:
		return "saving"
	default:
		return "unknown"
	}
}

// session is the in-memory authoritative copy of one open document.
type session struct {
	id           string
	state        sessionState
	content      string
	version      int64
	lastModified time.Time

	members *core.Room
	// pending joiners wait here while the session is loading or saving.
	pending []*Conn

	autosave *pendingSave
	saveSeq  uint64
}

// pendingSave is an armed auto-save. A firing whose seq no longer matches is stale.
type pendingSave struct {
	seq      uint64
	deadline time.Time
	timer    *clock.Timer
}

func newSession(id string) *session {
	return &session{
		id:      id,
		state:   stateLoading,
		members: core.NewRoom(id),
	}
}

func (s *session) dropPending(c *Conn) bool {
	for i, p := range s.pending {
		if p == c {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return true
		}
	}
	return false
}

// scheduleAutosave re-arms the debounce so the save fires one delay after the latest change.
func (r *Relay) scheduleAutosave(s *session) {
	r.cancelAutosave(s)

	s.saveSeq++
	seq := s.saveSeq
	s.autosave = &pendingSave{
		seq:      seq,
		deadline: r.clock.Now().Add(r.autosaveDelay),
		timer: r.clock.AfterFunc(r.autosaveDelay, func() {
			r.loop.Post(func() { r.autosaveDue(s, seq) })
		}),
	}
}

func (r *Relay) cancelAutosave(s *session) {
	if s.autosave == nil {
		return
	}
	s.autosave.timer.Stop()
	s.autosave = nil
}

func (r *Relay) autosaveDue(s *session, seq uint64) {
	if s.autosave == nil || s.autosave.seq != seq {
		return
	}
	s.autosave = nil
	if s.state != stateActive {
		return
	}
	if !r.live(s) {
		return
	}

	content, version := s.content, s.version
	r.persist(s.id, content, version, func(err error) {
		if err != nil {
			r.metrics.PersistFailed("save_document")
			r.log.Error().Err(err).Str("doc_id", s.id).Int64("version", version).Msg("auto-save failed")
			return
		}
		r.metrics.Saved("auto")
		r.broadcast(s, proto.DocSaved{Type: proto.DocTypeAutoSaved, Version: version, SavedAt: r.clock.Now()}, "")
	})
}

func encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
