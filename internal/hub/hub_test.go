package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/clawdbot/gateway/internal/eventlog"
	"github.com/clawdbot/gateway/internal/hubauth"
	"github.com/clawdbot/gateway/internal/noderegistry"
	"github.com/clawdbot/gateway/internal/wire"
)

func setupTestHub(t *testing.T, auth *hubauth.Authenticator) (*httptest.Server, *Hub, func()) {
	t.Helper()
	dir := t.TempDir()
	nodes := noderegistry.NewRegistry()
	h := New(Config{
		Auth:         auth,
		Nodes:        nodes,
		Invoker:      noderegistry.NewRouter(nodes, nil),
		SessionStore: dir + "/sessions.json",
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.ServeWS)
	server := httptest.NewServer(mux)
	return server, h, server.Close
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func dialAndHello(t *testing.T, server *httptest.Server, role, name string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	require.NoError(t, err)

	hello := map[string]any{
		"type":       "hello",
		"role":       role,
		"clientName": name,
	}
	data, _ := json.Marshal(hello)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(reply, &frame))
	require.Equal(t, "hello.ok", frame["type"])
	return conn
}

func TestHelloOkOnConnect(t *testing.T) {
	server, _, cleanup := setupTestHub(t, nil)
	defer cleanup()

	conn := dialAndHello(t, server, "chat-ui", "test-ui")
	defer conn.Close()
}

func TestHelloRejectsMissingRole(t *testing.T) {
	server, _, cleanup := setupTestHub(t, nil)
	defer cleanup()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	require.NoError(t, err)
	defer conn.Close()

	data, _ := json.Marshal(map[string]any{"type": "hello"})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
}

func TestHelloAuthenticationRequired(t *testing.T) {
	auth := hubauth.New(hubauth.Config{Token: "s3cret"})
	server, _, cleanup := setupTestHub(t, auth)
	defer cleanup()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	require.NoError(t, err)
	defer conn.Close()

	data, _ := json.Marshal(map[string]any{"type": "hello", "role": "chat-ui", "token": "wrong"})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
}

func TestNodeListRPC(t *testing.T) {
	server, h, cleanup := setupTestHub(t, nil)
	defer cleanup()

	h.nodes.Attach("node1", "My Node", noderegistry.PlatformLinux, []string{"system.run"}, nil)

	conn := dialAndHello(t, server, "chat-ui", "test-ui")
	defer conn.Close()

	req := map[string]any{"type": "rpc.req", "id": "r1", "method": "node.list", "params": map[string]any{}}
	data, _ := json.Marshal(req)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(reply, &frame))
	require.Equal(t, "rpc.res", frame["type"])
	require.Equal(t, true, frame["ok"])
	payload := frame["payload"].([]any)
	require.Len(t, payload, 1)
}

func TestUnknownRPCMethodErrors(t *testing.T) {
	server, _, cleanup := setupTestHub(t, nil)
	defer cleanup()

	conn := dialAndHello(t, server, "cli", "test-cli")
	defer conn.Close()

	req := map[string]any{"type": "rpc.req", "id": "r1", "method": "bogus.method", "params": map[string]any{}}
	data, _ := json.Marshal(req)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(reply, &frame))
	require.Equal(t, false, frame["ok"])
}

func TestSeqGapTriggersPushSnapshot(t *testing.T) {
	server, _, cleanup := setupTestHub(t, nil)
	defer cleanup()

	conn := dialAndHello(t, server, "chat-ui", "test-ui")
	defer conn.Close()

	data, _ := json.Marshal(map[string]any{"type": "seqGap", "expected": 5, "received": 8})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(reply, &frame))
	require.Equal(t, "push.snapshot", frame["type"])
}

func TestBroadcastEventAssignsIncreasingSeq(t *testing.T) {
	server, h, cleanup := setupTestHub(t, nil)
	defer cleanup()

	conn := dialAndHello(t, server, "chat-ui", "test-ui")
	defer conn.Close()

	h.BroadcastEvent("tick", wire.Null, wire.Null)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(reply, &frame))
	require.Equal(t, "event", frame["type"])
	require.EqualValues(t, 1, frame["seq"])
}

type fakeSubmitter struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeSubmitter) Submit(sessionKey, channel, rawText string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sessionKey+"|"+channel+"|"+rawText)
	return nil
}

func TestChatSendRoutesToOrchestrator(t *testing.T) {
	dir := t.TempDir()
	nodes := noderegistry.NewRegistry()
	sub := &fakeSubmitter{}
	h := New(Config{
		Nodes:        nodes,
		Invoker:      noderegistry.NewRouter(nodes, nil),
		SessionStore: dir + "/sessions.json",
		Orchestrator: sub,
	})
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.ServeWS)
	server := httptest.NewServer(mux)
	defer server.Close()

	conn := dialAndHello(t, server, "chat-ui", "test-ui")
	defer conn.Close()

	req := map[string]any{"type": "rpc.req", "id": "r1", "method": "chat.send", "params": map[string]any{
		"sessionId": "sess-1", "text": "hello", "channel": "chat",
	}}
	data, _ := json.Marshal(req)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(reply, &frame))
	require.Equal(t, "rpc.res", frame["type"])
	require.Equal(t, true, frame["ok"])

	sub.mu.Lock()
	defer sub.mu.Unlock()
	require.Equal(t, []string{"sess-1|chat|hello"}, sub.calls)
}

func TestChatSendWithoutOrchestratorErrors(t *testing.T) {
	server, _, cleanup := setupTestHub(t, nil)
	defer cleanup()

	conn := dialAndHello(t, server, "chat-ui", "test-ui")
	defer conn.Close()

	req := map[string]any{"type": "rpc.req", "id": "r1", "method": "chat.send", "params": map[string]any{
		"sessionId": "sess-1", "text": "hello",
	}}
	data, _ := json.Marshal(req)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(reply, &frame))
	require.Equal(t, false, frame["ok"])
}

func TestBroadcastEventRecordsToEventLog(t *testing.T) {
	dir := t.TempDir()
	elog, err := eventlog.Open(dir + "/events.sqlite")
	require.NoError(t, err)
	defer elog.Close()

	nodes := noderegistry.NewRegistry()
	h := New(Config{
		Nodes:        nodes,
		Invoker:      noderegistry.NewRouter(nodes, nil),
		SessionStore: dir + "/sessions.json",
		EventLog:     elog,
	})
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.ServeWS)
	server := httptest.NewServer(mux)
	defer server.Close()

	conn := dialAndHello(t, server, "chat-ui", "test-ui")
	defer conn.Close()

	h.BroadcastEvent("tick", wire.NewString("hi"), wire.Null)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		seq, err := elog.LatestSeq("test-ui")
		return err == nil && seq == 1
	}, 2*time.Second, 10*time.Millisecond)
}
