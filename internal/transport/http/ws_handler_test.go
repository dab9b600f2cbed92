package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/themis-pm/collab-relay/internal/auth"
	"github.com/themis-pm/collab-relay/internal/calls"
	"github.com/themis-pm/collab-relay/internal/chat"
	"github.com/themis-pm/collab-relay/internal/config"
	"github.com/themis-pm/collab-relay/internal/docs"
	"github.com/themis-pm/collab-relay/internal/log"
	"github.com/themis-pm/collab-relay/internal/metrics"
	"github.com/themis-pm/collab-relay/internal/store/storetest"
)

const testSecret = "test-secret"

type testEnv struct {
	server *httptest.Server
	store  *storetest.Fake
	relays Relays
}

func startTestServer(t *testing.T, secret string) *testEnv {
	t.Helper()

	logger := log.Nop()
	st := storetest.NewFake()
	m := metrics.New()

	relays := Relays{
		Chat:  chat.NewRelay(st, logger, chat.Options{Metrics: m}),
		Docs:  docs.NewRelay(st, logger, docs.Options{Metrics: m}),
		Calls: calls.NewRelay(st, logger, calls.Options{Metrics: m}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	go relays.Chat.Run(ctx)
	go relays.Docs.Run(ctx)
	go relays.Calls.Run(ctx)

	var authService *auth.Service
	if secret != "" {
		authService = auth.NewService(&auth.JWTConfig{Secret: []byte(secret), TTL: time.Hour})
	}

	cfg := config.Default()
	cfg.Addr = ":0"
	server := NewServer(relays, authService, m, &cfg, logger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})

	return &testEnv{server: ts, store: st, relays: relays}
}

func (e *testEnv) wsURL(path string) string {
	return strings.Replace(e.server.URL, "http", "ws", 1) + path
}

func dial(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func read(t *testing.T, ctx context.Context, conn *websocket.Conn) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &m))
	return m
}

func readClose(t *testing.T, ctx context.Context, conn *websocket.Conn) (websocket.StatusCode, string) {
	t.Helper()
	for {
		_, _, err := conn.Read(ctx)
		if err == nil {
			continue
		}
		var ce websocket.CloseError
		if !errors.As(err, &ce) {
			t.Fatalf("expected close frame, got %v", err)
		}
		return ce.Code, ce.Reason
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := startTestServer(t, "")

	resp, err := env.server.Client().Get(env.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestMetricsEndpoint(t *testing.T) {
	env := startTestServer(t, "")

	resp, err := env.server.Client().Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestChatRoundTrip(t *testing.T) {
	env := startTestServer(t, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := dial(t, ctx, env.wsURL("/ws/chat?userId=alice"))
	bob := dial(t, ctx, env.wsURL("/ws/chat?userId=bob"))

	require.NoError(t, wsjson.Write(ctx, alice, map[string]any{"type": "join", "roomId": "general"}))
	require.Eventually(t, func() bool {
		members, _ := env.relays.Chat.Members(ctx, "general")
		return len(members) == 1
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, wsjson.Write(ctx, bob, map[string]any{"type": "join", "roomId": "general"}))

	joined := read(t, ctx, alice)
	assert.Equal(t, "user_joined", joined["type"])
	assert.Equal(t, "bob", joined["userId"])

	require.NoError(t, wsjson.Write(ctx, alice, map[string]any{"type": "message", "roomId": "general", "content": "hi there"}))

	for _, conn := range []*websocket.Conn{alice, bob} {
		msg := read(t, ctx, conn)
		assert.Equal(t, "message", msg["type"])
		assert.Equal(t, "hi there", msg["content"])
		assert.Equal(t, "alice", msg["userId"])
	}
	require.Len(t, env.store.Messages(), 1)
}

func TestMissingParamsClosePolicyViolation(t *testing.T) {
	env := startTestServer(t, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cases := map[string]string{
		"/ws/chat":              "userId is required",
		"/ws/docs?userId=alice": "docId is required",
		"/ws/docs?docId=d1":     "userId is required",
		"/ws/calls/r1":          "userId is required",
		"/ws/calls?userId=bob":  "roomId is required",
	}
	for path, want := range cases {
		conn := dial(t, ctx, env.wsURL(path))
		code, reason := readClose(t, ctx, conn)
		assert.Equal(t, websocket.StatusPolicyViolation, code, path)
		assert.Contains(t, reason, want, path)
	}
}

func TestDocsJoinAndChange(t *testing.T) {
	env := startTestServer(t, "")
	env.store.PutDocument("d1", "Doc", 0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a := dial(t, ctx, env.wsURL("/ws/docs?docId=d1&userId=alice"))
	init := read(t, ctx, a)
	assert.Equal(t, "init", init["type"])
	assert.Equal(t, "Doc", init["content"])

	b := dial(t, ctx, env.wsURL("/ws/docs?docId=d1&userId=bob"))
	read(t, ctx, b)
	assert.Equal(t, "client_joined", read(t, ctx, a)["type"])

	require.NoError(t, wsjson.Write(ctx, a, map[string]any{
		"type":       "change",
		"operations": []map[string]any{{"type": "insert", "position": 0, "text": "Hi "}},
	}))
	change := read(t, ctx, b)
	assert.Equal(t, "change", change["type"])
	assert.EqualValues(t, 1, change["version"])
	assert.Equal(t, init["clientId"], change["clientId"])
}

func TestDocsMissingDocumentClosesNormally(t *testing.T) {
	env := startTestServer(t, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, env.wsURL("/ws/docs?docId=ghost&userId=alice"))
	errFrame := read(t, ctx, conn)
	assert.Equal(t, "error", errFrame["type"])
	assert.Equal(t, "document not found", errFrame["message"])

	code, _ := readClose(t, ctx, conn)
	assert.Equal(t, websocket.StatusNormalClosure, code)
}

func TestCallsSignaling(t *testing.T) {
	env := startTestServer(t, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a := dial(t, ctx, env.wsURL("/ws/calls/r1?userId=alice"))
	infoA := read(t, ctx, a)
	assert.Equal(t, "room_info", infoA["type"])
	peerA, _ := infoA["peerId"].(string)
	assert.True(t, strings.HasPrefix(peerA, "alice-"))

	b := dial(t, ctx, env.wsURL("/ws/calls/r1?userId=bob"))
	infoB := read(t, ctx, b)
	peerB, _ := infoB["peerId"].(string)
	assert.Equal(t, peerB, read(t, ctx, a)["peerId"])

	require.NoError(t, wsjson.Write(ctx, b, map[string]any{"type": "offer", "targetPeerId": peerA, "sdp": "v=0"}))
	offer := read(t, ctx, a)
	assert.Equal(t, "offer", offer["type"])
	assert.Equal(t, peerB, offer["fromPeerId"])
	assert.Equal(t, "v=0", offer["sdp"])
}

func TestTokenMustMatchUser(t *testing.T) {
	env := startTestServer(t, testSecret)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token, err := auth.GenerateToken(&auth.JWTConfig{Secret: []byte(testSecret)}, "alice")
	require.NoError(t, err)

	ok := dial(t, ctx, env.wsURL("/ws/chat?userId=alice&token="+token))
	require.NoError(t, wsjson.Write(ctx, ok, map[string]any{"type": "join", "roomId": "r"}))
	require.NoError(t, wsjson.Write(ctx, ok, map[string]any{"type": "message", "roomId": "r", "content": "x"}))
	assert.Equal(t, "message", read(t, ctx, ok)["type"])

	bad := dial(t, ctx, env.wsURL("/ws/chat?userId=mallory&token="+token))
	code, reason := readClose(t, ctx, bad)
	assert.Equal(t, websocket.StatusPolicyViolation, code)
	assert.Contains(t, reason, "invalid token")
}

func TestHistoryEndpoint(t *testing.T) {
	env := startTestServer(t, testSecret)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token, err := auth.GenerateToken(&auth.JWTConfig{Secret: []byte(testSecret)}, "alice")
	require.NoError(t, err)

	conn := dial(t, ctx, env.wsURL("/ws/chat?userId=alice"))
	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{"type": "join", "roomId": "general"}))
	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, wsjson.Write(ctx, conn, map[string]any{"type": "message", "roomId": "general", "content": text}))
		read(t, ctx, conn)
	}

	url := env.server.URL + "/api/chat/rooms/general/messages?limit=2"

	resp, err := env.server.Client().Get(url)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = env.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body HistoryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "general", body.RoomID)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "two", body.Messages[0].Content)
	assert.Equal(t, "three", body.Messages[1].Content)
}

func TestHistoryRejectsBadLimit(t *testing.T) {
	env := startTestServer(t, "")

	resp, err := env.server.Client().Get(env.server.URL + "/api/chat/rooms/general/messages?limit=abc")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
