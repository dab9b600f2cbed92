package chat

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/themis-pm/collab-relay/internal/core"
	"github.com/themis-pm/collab-relay/internal/log"
	"github.com/themis-pm/collab-relay/internal/store/storetest"
)

func newTestRelay(t *testing.T) (*Relay, *storetest.Fake) {
	t.Helper()
	st := storetest.NewFake()
	r := NewRelay(st, log.Nop(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	t.Cleanup(cancel)
	return r, st
}

func recv(t *testing.T, c *core.Client) map[string]any {
	t.Helper()
	select {
	case frame := <-c.Outbound():
		var m map[string]any
		require.NoError(t, json.Unmarshal(frame, &m))
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("client %s: timed out waiting for frame", c.ID)
		return nil
	}
}

func assertQuiet(t *testing.T, c *core.Client) {
	t.Helper()
	select {
	case frame := <-c.Outbound():
		t.Fatalf("client %s: unexpected frame %s", c.ID, frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func members(t *testing.T, r *Relay, roomID string) []string {
	t.Helper()
	keys, err := r.Members(context.Background(), roomID)
	require.NoError(t, err)
	return keys
}

func TestJoinAnnouncesOnce(t *testing.T) {
	r, _ := newTestRelay(t)
	a := core.NewClient("a", "alice", 16)
	b := core.NewClient("b", "bob", 16)
	connA := r.Connect(a)
	connB := r.Connect(b)

	connA.Handle([]byte(`{"type":"join","roomId":"general"}`))
	connB.Handle([]byte(`{"type":"join","roomId":"general"}`))

	joined := recv(t, a)
	assert.Equal(t, "user_joined", joined["type"])
	assert.Equal(t, "general", joined["roomId"])
	assert.Equal(t, "bob", joined["userId"])

	connB.Handle([]byte(`{"type":"join","roomId":"general"}`))
	assertQuiet(t, a)
	assertQuiet(t, b)
	assert.Equal(t, []string{"a", "b"}, members(t, r, "general"))
}

func TestMessagePersistedAndBroadcastToAll(t *testing.T) {
	r, st := newTestRelay(t)
	a := core.NewClient("a", "alice", 16)
	b := core.NewClient("b", "bob", 16)
	connA := r.Connect(a)
	connB := r.Connect(b)
	connA.Handle([]byte(`{"type":"join","roomId":"general"}`))
	connB.Handle([]byte(`{"type":"join","roomId":"general"}`))
	recv(t, a)

	connA.Handle([]byte(`{"type":"message","roomId":"general","content":"hello"}`))

	for _, c := range []*core.Client{a, b} {
		msg := recv(t, c)
		assert.Equal(t, "message", msg["type"])
		assert.Equal(t, "hello", msg["content"])
		assert.Equal(t, "alice", msg["userId"])
		assert.NotEmpty(t, msg["id"])
		assert.NotEmpty(t, msg["createdAt"])
	}

	saved := st.Messages()
	require.Len(t, saved, 1)
	assert.Equal(t, "general", saved[0].RoomID)
	assert.Equal(t, "hello", saved[0].Content)
}

func TestMessageWithAttachment(t *testing.T) {
	r, st := newTestRelay(t)
	a := core.NewClient("a", "alice", 16)
	conn := r.Connect(a)
	conn.Handle([]byte(`{"type":"join","roomId":"files"}`))
	conn.Handle([]byte(`{"type":"message","roomId":"files","content":"","fileUrl":"/u/x.png","fileType":"image/png","fileSize":42}`))

	msg := recv(t, a)
	assert.Equal(t, "/u/x.png", msg["fileUrl"])
	assert.EqualValues(t, 42, msg["fileSize"])

	saved := st.Messages()
	require.Len(t, saved, 1)
	require.NotNil(t, saved[0].FileSize)
	assert.EqualValues(t, 42, *saved[0].FileSize)
}

func TestMessageFromNonMemberIgnored(t *testing.T) {
	r, st := newTestRelay(t)
	a := core.NewClient("a", "alice", 16)
	b := core.NewClient("b", "bob", 16)
	connA := r.Connect(a)
	connB := r.Connect(b)
	connA.Handle([]byte(`{"type":"join","roomId":"general"}`))

	connB.Handle([]byte(`{"type":"message","roomId":"general","content":"sneaky"}`))
	connB.Handle([]byte(`{"type":"typing","roomId":"general","isTyping":true}`))

	assertQuiet(t, a)
	assertQuiet(t, b)
	assert.Empty(t, st.Messages())
}

func TestMessagePersistFailureOnlyTellsSender(t *testing.T) {
	r, st := newTestRelay(t)
	st.SetInsertErr(errors.New("db down"))
	a := core.NewClient("a", "alice", 16)
	b := core.NewClient("b", "bob", 16)
	connA := r.Connect(a)
	connB := r.Connect(b)
	connA.Handle([]byte(`{"type":"join","roomId":"general"}`))
	connB.Handle([]byte(`{"type":"join","roomId":"general"}`))
	recv(t, a)

	connA.Handle([]byte(`{"type":"message","roomId":"general","content":"lost"}`))

	errFrame := recv(t, a)
	assert.Equal(t, "error", errFrame["type"])
	assert.Equal(t, "failed to send message", errFrame["message"])
	assertQuiet(t, b)
}

func TestTypingExcludesSender(t *testing.T) {
	r, _ := newTestRelay(t)
	a := core.NewClient("a", "alice", 16)
	b := core.NewClient("b", "bob", 16)
	connA := r.Connect(a)
	connB := r.Connect(b)
	connA.Handle([]byte(`{"type":"join","roomId":"general"}`))
	connB.Handle([]byte(`{"type":"join","roomId":"general"}`))
	recv(t, a)

	connB.Handle([]byte(`{"type":"typing","roomId":"general","isTyping":true}`))
	ev := recv(t, a)
	assert.Equal(t, "typing", ev["type"])
	assert.Equal(t, "bob", ev["userId"])
	assert.Equal(t, true, ev["isTyping"])
	assertQuiet(t, b)
}

func TestLeaveAndDisconnect(t *testing.T) {
	r, _ := newTestRelay(t)
	a := core.NewClient("a", "alice", 16)
	b := core.NewClient("b", "bob", 16)
	connA := r.Connect(a)
	connB := r.Connect(b)
	connA.Handle([]byte(`{"type":"join","roomId":"r1"}`))
	connA.Handle([]byte(`{"type":"join","roomId":"r2"}`))
	connB.Handle([]byte(`{"type":"join","roomId":"r1"}`))
	recv(t, a)

	connB.Handle([]byte(`{"type":"leave","roomId":"r1"}`))
	left := recv(t, a)
	assert.Equal(t, "user_left", left["type"])
	assert.Equal(t, "bob", left["userId"])

	connB.Handle([]byte(`{"type":"join","roomId":"r1"}`))
	recv(t, a)

	connA.Leave()
	left = recv(t, b)
	assert.Equal(t, "user_left", left["type"])
	assert.Equal(t, "r1", left["roomId"])

	assert.Equal(t, []string{"b"}, members(t, r, "r1"))
	assert.Empty(t, members(t, r, "r2"))
}

func TestMalformedFramesDropped(t *testing.T) {
	r, _ := newTestRelay(t)
	a := core.NewClient("a", "alice", 16)
	conn := r.Connect(a)

	conn.Handle([]byte(`not json`))
	conn.Handle([]byte(`{"type":"dance","roomId":"x"}`))
	conn.Handle([]byte(`{"type":"join"}`))
	conn.Handle([]byte(`{"type":"join","roomId":"ok"}`))

	assert.Eventually(t, func() bool {
		keys, _ := r.Members(context.Background(), "ok")
		return len(keys) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestHistoryOldestFirst(t *testing.T) {
	r, _ := newTestRelay(t)
	a := core.NewClient("a", "alice", 16)
	conn := r.Connect(a)
	conn.Handle([]byte(`{"type":"join","roomId":"general"}`))
	conn.Handle([]byte(`{"type":"message","roomId":"general","content":"one"}`))
	recv(t, a)
	conn.Handle([]byte(`{"type":"message","roomId":"general","content":"two"}`))
	recv(t, a)

	msgs, err := r.History(context.Background(), "general", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "two", msgs[1].Content)
	assert.Equal(t, "message", msgs[0].Type)
}
