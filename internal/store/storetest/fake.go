// Package storetest provides an in-memory store.Store with failure injection for relay tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/themis-pm/collab-relay/internal/store"
)

// Save records one SaveDocument call that succeeded.
type Save struct {
	DocID   string
	Content string
	Version int64
}

// Fake implements store.Store in memory.
type Fake struct {
	mu sync.Mutex

	docs     map[string]store.Document
	messages []store.ChatMessage
	events   []store.CallEvent
	saves    []Save
	attempts map[string]int

	loadErr   error
	saveErr   error
	insertErr error
	recordErr error

	loadGate chan struct{}
	saveGate chan struct{}
}

// NewFake returns an empty fake store.
func NewFake() *Fake {
	return &Fake{docs: make(map[string]store.Document), attempts: make(map[string]int)}
}

// PutDocument seeds a document.
func (f *Fake) PutDocument(id, content string, version int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[id] = store.Document{ID: id, Content: content, Version: version, UpdatedAt: time.Now()}
}

// SetLoadErr makes LoadDocument fail with err (nil restores normal behavior).
func (f *Fake) SetLoadErr(err error) { f.set(&f.loadErr, err) }

// SetSaveErr makes SaveDocument fail with err.
func (f *Fake) SetSaveErr(err error) { f.set(&f.saveErr, err) }

// SetInsertErr makes InsertChatMessage fail with err.
func (f *Fake) SetInsertErr(err error) { f.set(&f.insertErr, err) }

// SetRecordErr makes RecordCallEvent fail with err.
func (f *Fake) SetRecordErr(err error) { f.set(&f.recordErr, err) }

func (f *Fake) set(dst *error, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	*dst = err
}

// HoldLoads blocks LoadDocument until the returned release func is called.
func (f *Fake) HoldLoads() (release func()) { return f.hold(&f.loadGate) }

// HoldSaves blocks SaveDocument until the returned release func is called.
func (f *Fake) HoldSaves() (release func()) { return f.hold(&f.saveGate) }

func (f *Fake) hold(dst *chan struct{}) func() {
	gate := make(chan struct{})
	f.mu.Lock()
	*dst = gate
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			*dst = nil
			f.mu.Unlock()
			close(gate)
		})
	}
}

func (f *Fake) wait(ctx context.Context, gate *chan struct{}) error {
	f.mu.Lock()
	g := *gate
	f.mu.Unlock()
	if g == nil {
		return nil
	}
	select {
	case <-g:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fake) LoadDocument(ctx context.Context, id string) (*store.Document, error) {
	if err := f.wait(ctx, &f.loadGate); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	doc, ok := f.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, store.ErrNotFound)
	}
	return &doc, nil
}

func (f *Fake) SaveDocument(ctx context.Context, id, content string, version int64) error {
	if err := f.wait(ctx, &f.saveGate); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[id]++
	if f.saveErr != nil {
		return f.saveErr
	}
	doc, ok := f.docs[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, store.ErrNotFound)
	}
	doc.Content, doc.Version, doc.UpdatedAt = content, version, time.Now()
	f.docs[id] = doc
	f.saves = append(f.saves, Save{DocID: id, Content: content, Version: version})
	return nil
}

func (f *Fake) InsertChatMessage(_ context.Context, msg *store.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.messages = append(f.messages, *msg)
	return nil
}

func (f *Fake) ListChatMessages(_ context.Context, roomID string, limit int) ([]*store.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.ChatMessage
	for i := range f.messages {
		if f.messages[i].RoomID == roomID {
			msg := f.messages[i]
			out = append(out, &msg)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *Fake) RecordCallEvent(_ context.Context, ev *store.CallEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	f.events = append(f.events, *ev)
	return nil
}

func (f *Fake) Close() error { return nil }

// Saves returns every successful save of docID in order.
func (f *Fake) Saves(docID string) []Save {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Save
	for _, s := range f.saves {
		if s.DocID == docID {
			out = append(out, s)
		}
	}
	return out
}

// SaveAttempts counts SaveDocument calls for docID, failed ones included.
func (f *Fake) SaveAttempts(docID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[docID]
}

// Document returns the stored copy of a document.
func (f *Fake) Document(id string) (store.Document, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	return doc, ok
}

// Messages returns all persisted chat messages.
func (f *Fake) Messages() []store.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.ChatMessage(nil), f.messages...)
}

// Events returns all recorded call events.
func (f *Fake) Events() []store.CallEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.CallEvent(nil), f.events...)
}

var _ store.Store = (*Fake)(nil)
