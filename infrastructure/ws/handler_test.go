package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"join-code/domain"
	"join-code/importer"
	"join-code/infrastructure/bus"
	"join-code/infrastructure/storage"
	"join-code/runtime"
	"join-code/services"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := slog.Default()
	store := storage.NewMemoryStore("main.py", "")
	registry := runtime.NewRegistry(log, domain.ModeAdvisory, "i1", "main.py", "", 50)
	router := runtime.NewRouter(log, registry, bus.NewMemoryBus(16), "broadcast", "i1")
	arbiter := runtime.NewArbiter(log, registry, router, bus.NewMemoryLocker(), store)
	documents := runtime.NewDocuments(log, registry, router, arbiter, store,
		importer.NewGitImporter(log, t.TempDir(), time.Second, 1024), 1024)
	service := services.NewSessionService(log, store, registry, router, arbiter, documents,
		runtime.NewChat(log, registry, router, store), runtime.NewSuggestionWorkflow(log, registry, router, arbiter, store), 50)

	handler := NewHandler(log, service, Options{
		BufferSize:   16,
		WriteTimeout: time.Second,
		PongTimeout:  5 * time.Second,
		ReadLimit:    1 << 20,
		LeaveTimeout: time.Second,
	})
	server := httptest.NewServer(handler.Routes())
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// expect reads frames until one of msgType arrives.
func expect(t *testing.T, conn *websocket.Conn, msgType domain.MessageType) map[string]any {
	t.Helper()
	req := require.New(t)
	req.NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	for {
		var msg map[string]any
		req.NoError(conn.ReadJSON(&msg))
		if msg["type"] == string(msgType) {
			return msg
		}
	}
}

func TestHandler_Join_From_Path(t *testing.T) {
	req := require.New(t)
	server := newTestServer(t)

	alice := dial(t, server, "/ws/room-1/alice")
	ready := expect(t, alice, domain.TypeReady)
	req.Equal("alice", ready["editor"])
	req.Equal("room-1", ready["doc_id"])

	// An edit reaches the second connection
	bob := dial(t, server, "/ws/room-1/bob")
	expect(t, bob, domain.TypeReady)
	req.NoError(alice.WriteJSON(map[string]any{"type": "code_update", "path": "main.py", "value": "x=1"}))
	sync := expect(t, bob, domain.TypeSync)
	req.Equal("x=1", sync["value"])

	// Errors are returned to the sender only, the connection stays open
	req.NoError(bob.WriteJSON(map[string]any{"type": "code_update", "value": "nope"}))
	reply := expect(t, bob, domain.TypeError)
	req.Equal("permission", reply["kind"])
	req.NoError(bob.WriteJSON(map[string]any{"type": "chat", "message": "still here"}))
	req.Equal("still here", expect(t, alice, domain.TypeChatMessage)["message"])
}

func TestHandler_Join_As_First_Frame(t *testing.T) {
	req := require.New(t)
	server := newTestServer(t)

	conn := dial(t, server, "/ws/room-1")
	req.NoError(conn.WriteJSON(map[string]any{"type": "join", "user": "carol"}))

	ready := expect(t, conn, domain.TypeReady)
	req.Equal([]any{"carol"}, ready["users"])
}

func TestHandler_Anonymous_Join_Defaults_To_Guest(t *testing.T) {
	req := require.New(t)
	server := newTestServer(t)

	conn := dial(t, server, "/ws/room-1")
	req.NoError(conn.WriteJSON(map[string]any{"type": "join"}))

	req.Equal("guest", expect(t, conn, domain.TypeReady)["editor"])
}

func TestHandler_First_Frame_Must_Be_Join(t *testing.T) {
	req := require.New(t)
	server := newTestServer(t)

	conn := dial(t, server, "/ws/room-1")
	req.NoError(conn.WriteJSON(map[string]any{"type": "chat", "message": "hi"}))

	reply := expect(t, conn, domain.TypeError)
	req.Equal("validation", reply["kind"])
	_, _, err := conn.ReadMessage()
	req.True(websocket.IsCloseError(err, websocket.ClosePolicyViolation))
}

func TestHandler_Room_Info(t *testing.T) {
	req := require.New(t)
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/rooms/unknown/info")
	req.NoError(err)
	_ = resp.Body.Close()
	req.Equal(http.StatusNotFound, resp.StatusCode)

	alice := dial(t, server, "/ws/room-1/alice")
	expect(t, alice, domain.TypeReady)

	resp, err = http.Get(server.URL + "/rooms/room-1/info")
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)
	var info services.RoomInfo
	req.NoError(json.NewDecoder(resp.Body).Decode(&info))
	req.Equal("alice", info.Editor)
	req.Equal([]string{"alice"}, info.Users)
	req.Equal(domain.ModeAdvisory, info.Mode)
}

func TestHandler_Leave_On_Disconnect(t *testing.T) {
	req := require.New(t)
	server := newTestServer(t)

	alice := dial(t, server, "/ws/room-1/alice")
	expect(t, alice, domain.TypeReady)
	bob := dial(t, server, "/ws/room-1/bob")
	expect(t, bob, domain.TypeReady)

	req.NoError(alice.Close())

	// The vacated turn is announced before the departure itself
	req.Equal("", expect(t, bob, domain.TypeTurnUpdate)["editor"])
	left := expect(t, bob, domain.TypeUserLeft)
	req.Equal("alice", left["user"])
}

func TestHandler_Healthz(t *testing.T) {
	req := require.New(t)
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/healthz")
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)
}
