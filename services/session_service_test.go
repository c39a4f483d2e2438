package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"join-code/contract"
	"join-code/domain"
	"join-code/errors"
	"join-code/infrastructure/bus"
	"join-code/infrastructure/storage"
	"join-code/mocks"
	"join-code/runtime"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type recorder struct {
	mu     sync.Mutex
	frames []map[string]any
}

func (r *recorder) Send(payload []byte) error {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, m)
	return nil
}

func (r *recorder) last(msgType domain.MessageType) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.frames) - 1; i >= 0; i-- {
		if r.frames[i]["type"] == string(msgType) {
			return r.frames[i]
		}
	}
	return nil
}

// failingChatStore breaks chat persistence only.
type failingChatStore struct {
	contract.Store
}

func (failingChatStore) AppendChatMessage(context.Context, domain.ChatEntry) error {
	return fmt.Errorf("connection reset by peer")
}

func newTestService(t *testing.T, mode domain.TurnMode, store contract.Store) (*SessionService, *mocks.MockImporter) {
	ctrl := gomock.NewController(t)
	importer := mocks.NewMockImporter(ctrl)
	log := slog.Default()
	registry := runtime.NewRegistry(log, mode, "i1", "main.py", "", 50)
	router := runtime.NewRouter(log, registry, bus.NewMemoryBus(16), "broadcast", "i1")
	arbiter := runtime.NewArbiter(log, registry, router, bus.NewMemoryLocker(), store)
	documents := runtime.NewDocuments(log, registry, router, arbiter, store, importer, 1024)
	chat := runtime.NewChat(log, registry, router, store)
	suggestions := runtime.NewSuggestionWorkflow(log, registry, router, arbiter, store)
	return NewSessionService(log, store, registry, router, arbiter, documents, chat, suggestions, 50), importer
}

func TestDecode(t *testing.T) {
	svc, _ := newTestService(t, domain.ModeAdvisory, storage.NewMemoryStore("main.py", ""))

	tests := []struct {
		name  string
		frame string
		want  domain.Command
	}{
		{"join", `{"type":"join","user":"alice"}`, domain.JoinCommand{User: "alice"}},
		{"take turn", `{"type":"take_turn"}`, domain.TurnCommand{Kind: domain.TypeTakeTurn}},
		{"give turn", `{"type":"give_turn","user":"bob"}`, domain.TurnCommand{Kind: domain.TypeGiveTurn, User: "bob"}},
		{"request lock", `{"type":"request_lock"}`, domain.LockCommand{Kind: domain.TypeRequestLock}},
		{"release lock", `{"type":"release_lock"}`, domain.LockCommand{Kind: domain.TypeReleaseLock}},
		{"chat alias", `{"type":"chat","message":"hi"}`, domain.ChatCommand{Message: "hi"}},
		{"chat", `{"type":"chat_message","message":"hi"}`, domain.ChatCommand{Message: "hi"}},
		{"handle", `{"type":"handle_suggestion","suggestion_id":3,"action":"reject"}`,
			domain.HandleSuggestionCommand{SuggestionID: 3, Action: "reject"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			got, err := svc.Decode([]byte(tt.frame))
			req.NoError(err)
			req.Equal(tt.want, got)
		})
	}

	t.Run("code alias with legacy content", func(t *testing.T) {
		req := require.New(t)
		got, err := svc.Decode([]byte(`{"type":"code","content":"x=1"}`))
		req.NoError(err)
		text, ok := got.(domain.CodeUpdateCommand).Text()
		req.True(ok)
		req.Equal("x=1", text)
	})
}

func TestDecode_Rejects(t *testing.T) {
	svc, _ := newTestService(t, domain.ModeAdvisory, storage.NewMemoryStore("main.py", ""))

	for name, frame := range map[string]string{
		"not json":               `{"type":`,
		"missing type":           `{"message":"hi"}`,
		"unknown type":           `{"type":"dance"}`,
		"code update w/o value":  `{"type":"code_update","path":"main.py"}`,
		"empty chat":             `{"type":"chat","message":""}`,
		"bad action":             `{"type":"handle_suggestion","suggestion_id":1,"action":"maybe"}`,
		"inverted line range":    `{"type":"create_suggestion","line_start":5,"line_end":2,"suggested_code":"x"}`,
		"clone without repo url": `{"type":"git_clone","file_path":"a.py"}`,
		"wrong field type":       `{"type":"chat","message":42}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Decode([]byte(frame))
			require.ErrorIs(t, err, errors.ErrValidation)
		})
	}
}

func TestJoin_Announces_Presence_And_Leave(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	svc, _ := newTestService(t, domain.ModeAdvisory, storage.NewMemoryStore("main.py", ""))
	aliceConn := &recorder{}
	alice, err := svc.Join(ctx, "room-1", "alice", aliceConn)
	req.NoError(err)
	req.Equal("alice", aliceConn.last(domain.TypeReady)["editor"])

	// When bob joins, everybody learns the new user list
	bobConn := &recorder{}
	bob, err := svc.Join(ctx, "room-1", "bob", bobConn)
	req.NoError(err)
	joined := aliceConn.last(domain.TypeUserJoined)
	req.Equal("bob", joined["user"])
	req.Equal([]any{"alice", "bob"}, joined["users"])

	// When alice leaves, bob is told and the turn is vacated
	svc.Leave(ctx, alice)
	left := bobConn.last(domain.TypeUserLeft)
	req.Equal("alice", left["user"])
	req.Equal([]any{"bob"}, left["users"])
	req.Equal("", bobConn.last(domain.TypeTurnUpdate)["editor"])

	// Leaving twice is harmless
	svc.Leave(ctx, alice)
	svc.Leave(ctx, bob)
	info, err := svc.RoomInfo(ctx, "room-1")
	req.NoError(err)
	req.Empty(info.Users)
	req.NotNil(info.Users)
}

func TestHandle_Replies_Error_Kind_To_Sender(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		user   string
		frame  string
		kind   string
		reason string
	}{
		{"validation", "alice", `{"type":"dance"}`, "validation", "unknown message type"},
		{"already joined", "alice", `{"type":"join","user":"x"}`, "validation", "already joined"},
		{"permission", "bob", `{"type":"code_update","path":"main.py","value":"x"}`, "permission", "only the current editor"},
		{"wrong mode", "alice", `{"type":"request_lock"}`, "validation", "request_lock"},
		{"not found", "alice", `{"type":"handle_suggestion","suggestion_id":99,"action":"accept"}`, "not_found", "99"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			svc, _ := newTestService(t, domain.ModeAdvisory, storage.NewMemoryStore("main.py", ""))
			conns := map[string]*recorder{"alice": {}, "bob": {}}
			sessions := map[string]*runtime.Session{}
			for _, user := range []string{"alice", "bob"} {
				s, err := svc.Join(ctx, "room-1", user, conns[user])
				req.NoError(err)
				sessions[user] = s
			}

			svc.Handle(ctx, sessions[tt.user], []byte(tt.frame))

			reply := conns[tt.user].last(domain.TypeError)
			req.NotNil(reply)
			req.Equal(tt.kind, reply["kind"])
			req.Contains(reply["message"], tt.reason)
			for user, conn := range conns {
				if user != tt.user {
					req.Nil(conn.last(domain.TypeError))
				}
			}
		})
	}
}

func TestHandle_Masks_Internal_Errors(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	svc, _ := newTestService(t, domain.ModeAdvisory, failingChatStore{Store: storage.NewMemoryStore("main.py", "")})
	conn := &recorder{}
	s, err := svc.Join(ctx, "room-1", "alice", conn)
	req.NoError(err)

	svc.Handle(ctx, s, []byte(`{"type":"chat","message":"hi"}`))

	reply := conn.last(domain.TypeError)
	req.Equal("internal", reply["kind"])
	req.Equal("internal error", reply["message"])
	req.Nil(conn.last(domain.TypeChatMessage))
}

func TestHandle_Routes_Commands(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := storage.NewMemoryStore("main.py", "")
	svc, importer := newTestService(t, domain.ModeAdvisory, store)
	aliceConn, bobConn := &recorder{}, &recorder{}
	alice, err := svc.Join(ctx, "room-1", "alice", aliceConn)
	req.NoError(err)
	bob, err := svc.Join(ctx, "room-1", "bob", bobConn)
	req.NoError(err)

	svc.Handle(ctx, alice, []byte(`{"type":"code","content":"x=1"}`))
	req.Equal("x=1", bobConn.last(domain.TypeSync)["value"])

	svc.Handle(ctx, bob, []byte(`{"type":"create_suggestion","line_start":1,"line_end":1,"suggested_code":"x=2"}`))
	suggestion := aliceConn.last(domain.TypeSuggestion)
	req.NotNil(suggestion)

	svc.Handle(ctx, alice, []byte(fmt.Sprintf(`{"type":"handle_suggestion","suggestion_id":%v,"action":"accept"}`, suggestion["id"])))
	req.Equal("accepted", bobConn.last(domain.TypeSuggestionHandled)["status"])

	importer.EXPECT().Fetch(gomock.Any(), "https://example.com/r.git", "app.py").Return("print()", nil)
	svc.Handle(ctx, alice, []byte(`{"type":"git_clone","repo_url":"https://example.com/r.git","file_path":"app.py","path":"app.py"}`))
	req.Equal("app.py", bobConn.last(domain.TypeSync)["path"])

	svc.Handle(ctx, alice, []byte(`{"type":"give_turn","user":"bob"}`))
	req.Equal("bob", aliceConn.last(domain.TypeTurnUpdate)["editor"])

	svc.Handle(ctx, bob, []byte(`{"type":"file_upload","filename":"b.py","path":"b.py","content":"b=1"}`))
	req.Contains(aliceConn.last(domain.TypeInfo)["message"], "b.py")

	svc.Handle(ctx, bob, []byte(`{"type":"chat_message","message":"done"}`))
	req.Equal("done", aliceConn.last(domain.TypeChatMessage)["message"])

	req.Nil(aliceConn.last(domain.TypeError))
	req.Nil(bobConn.last(domain.TypeError))

	info, err := svc.RoomInfo(ctx, "room-1")
	req.NoError(err)
	req.Equal("bob", info.Editor)
	req.Equal(domain.ModeAdvisory, info.Mode)
	req.Equal([]string{"alice", "bob"}, info.Users)
	req.Equal(int64(1), info.MessageCount)
	req.Equal(int64(1), info.SuggestionCount)
}

func TestHandle_Strict_Locking(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	svc, _ := newTestService(t, domain.ModeStrict, storage.NewMemoryStore("main.py", ""))
	aliceConn, bobConn := &recorder{}, &recorder{}
	alice, err := svc.Join(ctx, "room-1", "alice", aliceConn)
	req.NoError(err)
	bob, err := svc.Join(ctx, "room-1", "bob", bobConn)
	req.NoError(err)

	svc.Handle(ctx, alice, []byte(`{"type":"request_lock"}`))
	svc.Handle(ctx, bob, []byte(`{"type":"request_lock"}`))
	svc.Handle(ctx, bob, []byte(`{"type":"release_lock"}`))

	req.NotNil(aliceConn.last(domain.TypeLockGranted))
	req.Equal("alice", bobConn.last(domain.TypeLockDenied)["holder"])
	req.Equal("permission", bobConn.last(domain.TypeError)["kind"])

	svc.Handle(ctx, alice, []byte(`{"type":"take_turn"}`))
	req.Equal("validation", aliceConn.last(domain.TypeError)["kind"])
}

func TestRoomInfo_Unknown_Room(t *testing.T) {
	svc, _ := newTestService(t, domain.ModeAdvisory, storage.NewMemoryStore("main.py", ""))

	_, err := svc.RoomInfo(context.Background(), "nope")

	require.ErrorIs(t, err, errors.ErrRoomNotFound)
	require.Equal(t, errors.KindNotFound, errors.KindOf(err))
}
